package evaluator

import (
	"time"

	"github.com/okieraised/relay-controller/internal/dispatcher"
)

type ruleState struct {
	known     bool
	condition bool

	lastEvaluated time.Time
	lastTriggered time.Time
	lastCleared   time.Time
	lastFired     time.Time
	fireCount     uint64
	lastSkip      string
	lastSkipAt    time.Time
	lastOutcome   *OutcomeSummary
}

type OutcomeSummary struct {
	DispatchID string    `json:"dispatch_id"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Finished   time.Time `json:"finished"`
}

func summarize(out dispatcher.Outcome) *OutcomeSummary {
	s := &OutcomeSummary{
		DispatchID: out.Request.ID,
		Result:     string(out.Result),
		Attempts:   out.Attempts,
		Finished:   out.Finished,
	}
	if out.Request.Action != nil {
		s.Action = out.Request.Action.String()
	}
	if out.Err != nil {
		s.Error = out.Err.Error()
	}
	return s
}

// RuleStatus is the runtime view of one rule. Condition is nil until the rule
// has been evaluated once.
type RuleStatus struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Source          string          `json:"source"`
	Field           string          `json:"field"`
	Operator        string          `json:"operator"`
	Threshold       string          `json:"threshold"`
	Condition       *bool           `json:"condition"`
	LastEvaluatedAt *time.Time      `json:"last_evaluated_at"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at"`
	LastClearedAt   *time.Time      `json:"last_cleared_at"`
	LastFiredAt     *time.Time      `json:"last_fired_at"`
	FireCount       uint64          `json:"fire_count"`
	LastSkip        string          `json:"last_skip,omitempty"`
	LastSkipAt      *time.Time      `json:"last_skip_at,omitempty"`
	LastOutcome     *OutcomeSummary `json:"last_outcome,omitempty"`
}

// Report is the status of every rule in the published snapshot.
type Report struct {
	Version uint64       `json:"version"`
	Policy  Policy       `json:"policy"`
	Rules   []RuleStatus `json:"rules"`
}

func (e *Evaluator) Status() Report {
	rs := e.rules.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	rep := Report{Version: rs.Version(), Policy: e.cfg.Policy, Rules: make([]RuleStatus, 0, rs.Len())}
	for _, rule := range rs.Rules() {
		rst := RuleStatus{
			ID:        rule.ID,
			Name:      rule.Name,
			Source:    rule.Source,
			Field:     rule.Field,
			Operator:  string(rule.Operator),
			Threshold: rule.Threshold.String(),
		}
		// States of an older version are stale until the next pass resets them.
		if st, ok := e.states[rule.ID]; ok && e.version == rs.Version() {
			if st.known {
				cond := st.condition
				rst.Condition = &cond
			}
			rst.LastEvaluatedAt = timePtr(st.lastEvaluated)
			rst.LastTriggeredAt = timePtr(st.lastTriggered)
			rst.LastClearedAt = timePtr(st.lastCleared)
			rst.LastFiredAt = timePtr(st.lastFired)
			rst.FireCount = st.fireCount
			rst.LastSkip = st.lastSkip
			rst.LastSkipAt = timePtr(st.lastSkipAt)
			rst.LastOutcome = st.lastOutcome
		}
		rep.Rules = append(rep.Rules, rst)
	}
	return rep
}

// RuleStatus returns the status of one rule of the published snapshot.
func (e *Evaluator) RuleStatus(id string) (RuleStatus, bool) {
	for _, st := range e.Status().Rules {
		if st.ID == id {
			return st, true
		}
	}
	return RuleStatus{}, false
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
