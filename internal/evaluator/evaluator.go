// Package evaluator turns telemetry snapshots into rule firings.
//
// A pass reads the published rule snapshot once, so a concurrent reload is
// seen either entirely or not at all. Per-rule runtime state (last condition,
// last firing) belongs to one snapshot version and starts over after a reload.
package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/dispatcher"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"go.uber.org/zap"
)

const (
	EventRuleFired     = "rule_fired"
	EventActionOutcome = "action_outcome"
)

const (
	SkipUnknownSource = "unknown_source"
	SkipMissingField  = "missing_field"
	SkipTypeMismatch  = "type_mismatch"
)

// RuleSource publishes rule snapshots.
type RuleSource interface {
	Snapshot() *rules.Snapshot
}

// Submitter hands actions to the dispatcher without waiting for them.
type Submitter interface {
	Submit(req dispatcher.Request) (dispatcher.Request, error)
}

// Event is published for every firing and for every outcome of a rule action.
type Event struct {
	Type    string          `json:"type"`
	RuleID  string          `json:"rule_id"`
	At      time.Time       `json:"at"`
	Value   string          `json:"value,omitempty"`
	Outcome *OutcomeSummary `json:"outcome,omitempty"`
}

type Listener func(Event)

type Evaluator struct {
	cfg      Config
	rules    RuleSource
	dispatch Submitter
	logger   *log.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.Mutex
	version   uint64
	states    map[string]*ruleState
	listeners []Listener
}

type Option func(*Evaluator)

func WithLogger(l *log.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithListener(fn Listener) Option {
	return func(e *Evaluator) { e.listeners = append(e.listeners, fn) }
}

func New(cfg Config, source RuleSource, submit Submitter, opts ...Option) *Evaluator {
	if cfg.Policy == "" {
		cfg.Policy = PolicyEdgeOrCooldown
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	e := &Evaluator{
		cfg:      cfg,
		rules:    source,
		dispatch: submit,
		now:      time.Now,
		states:   make(map[string]*ruleState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Component("evaluator")
	}
	e.metrics = metrics.Or(e.metrics)
	return e
}

func (e *Evaluator) Policy() Policy { return e.cfg.Policy }

func (e *Evaluator) AddListener(fn Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// PassResult summarizes one evaluation pass.
type PassResult struct {
	Version   uint64
	Evaluated int
	Fired     int
	Skips     []*cerrors.EvaluationSkip
	Duration  time.Duration
}

// EvaluatePass evaluates every rule of the current snapshot against snap,
// source by source and in declared order within a source. Passes are
// serialized; a skipped rule never stops the others.
func (e *Evaluator) EvaluatePass(ctx context.Context, snap telemetry.Snapshot) PassResult {
	begin := time.Now()
	rs := e.rules.Snapshot()

	e.mu.Lock()
	if rs.Version() != e.version {
		e.resetLocked(rs)
	}
	res := PassResult{Version: rs.Version()}
	var events []Event
sources:
	for _, source := range rs.Sources() {
		for _, rule := range rs.ForSource(source) {
			if ctx.Err() != nil {
				break sources
			}
			st := e.stateLocked(rule)
			ev, skip := e.evaluateLocked(rule, st, snap)
			if skip != nil {
				res.Skips = append(res.Skips, skip)
				continue
			}
			res.Evaluated++
			if ev != nil {
				res.Fired++
				events = append(events, *ev)
			}
		}
	}
	listeners := e.listeners
	e.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
	res.Duration = time.Since(begin)
	e.metrics.EvaluationPass.Observe(res.Duration.Seconds())
	return res
}

func (e *Evaluator) evaluateLocked(rule rules.Rule, st *ruleState, snap telemetry.Snapshot) (*Event, *cerrors.EvaluationSkip) {
	now := e.now()
	sample, ok, known := snap.Lookup(rule.Source, rule.Field)
	switch {
	case !known:
		return nil, e.skipLocked(rule, st, SkipUnknownSource, fmt.Sprintf("source %q has not reported", rule.Source))
	case !ok:
		return nil, e.skipLocked(rule, st, SkipMissingField, fmt.Sprintf("source %q has no field %q", rule.Source, rule.Field))
	}
	cond, err := rules.Compare(sample.Value, rule.Operator, rule.Threshold)
	if err != nil {
		return nil, e.skipLocked(rule, st, SkipTypeMismatch, err.Error())
	}

	wasTrue := st.known && st.condition
	st.lastEvaluated = now
	st.lastSkip = ""
	if cond && !wasTrue {
		st.lastTriggered = now
	}
	if !cond && wasTrue {
		st.lastCleared = now
	}
	st.known, st.condition = true, cond

	cooldown := rule.CooldownOr(e.cfg.Cooldown)
	if !e.cfg.Policy.shouldFire(cond, wasTrue, st.lastFired, now, cooldown) {
		return nil, nil
	}
	st.lastFired = now
	st.fireCount++
	e.fireLocked(rule, sample)
	return &Event{Type: EventRuleFired, RuleID: rule.ID, At: now, Value: sample.Value.String()}, nil
}

// fireLocked submits the rule's actions in declared order. A rejected action
// is logged and does not hold back the rest.
func (e *Evaluator) fireLocked(rule rules.Rule, sample telemetry.Sample) {
	e.metrics.RuleFirings.WithLabelValues(rule.ID).Inc()
	e.logger.Info("Rule fired",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.String("value", sample.Value.String()),
		zap.Int("actions", len(rule.Actions)))

	for _, action := range rule.Actions {
		req, err := e.dispatch.Submit(dispatcher.Request{
			Origin:   dispatcher.OriginRule,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Action:   action,
		})
		if err != nil {
			e.logger.Error("Failed to submit rule action",
				zap.String("rule_id", rule.ID),
				zap.String("action", action.String()),
				zap.Error(err))
			continue
		}
		e.logger.Debug("Submitted rule action",
			zap.String("rule_id", rule.ID), zap.String("dispatch_id", req.ID))
	}
}

// skipLocked records a skip. The warning is logged when the reason changes, so
// a silent source does not log on every tick.
func (e *Evaluator) skipLocked(rule rules.Rule, st *ruleState, reason, detail string) *cerrors.EvaluationSkip {
	skip := &cerrors.EvaluationSkip{RuleID: rule.ID, Reason: reason + ": " + detail}
	e.metrics.EvaluationSkips.WithLabelValues(reason).Inc()
	if st.lastSkip != skip.Reason {
		e.logger.Warn("Skipping rule evaluation",
			zap.String("rule_id", rule.ID), zap.String("reason", reason), zap.String("detail", detail))
	}
	st.lastSkip = skip.Reason
	st.lastSkipAt = e.now()
	return skip
}

func (e *Evaluator) resetLocked(rs *rules.Snapshot) {
	if e.version != 0 || len(e.states) > 0 {
		e.logger.Info("Rule snapshot changed, resetting rule state",
			zap.Uint64("from_version", e.version), zap.Uint64("to_version", rs.Version()))
	}
	e.version = rs.Version()
	e.states = make(map[string]*ruleState, rs.Len())
}

func (e *Evaluator) stateLocked(rule rules.Rule) *ruleState {
	st, ok := e.states[rule.ID]
	if !ok {
		st = &ruleState{}
		e.states[rule.ID] = st
	}
	return st
}

// Supervise records the outcome of every rule action until results is closed
// or ctx is done.
func (e *Evaluator) Supervise(ctx context.Context, results <-chan dispatcher.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-results:
			if !ok {
				return
			}
			e.RecordOutcome(out)
		}
	}
}

// RecordOutcome attaches a dispatch outcome to the rule that produced it.
func (e *Evaluator) RecordOutcome(out dispatcher.Outcome) {
	if out.Request.Origin != dispatcher.OriginRule || out.Request.RuleID == "" {
		return
	}
	summary := summarize(out)

	e.mu.Lock()
	if st, ok := e.states[out.Request.RuleID]; ok {
		st.lastOutcome = summary
	}
	listeners := e.listeners
	e.mu.Unlock()

	if out.Result == dispatcher.ResultFailed || out.Result == dispatcher.ResultAbandoned {
		e.logger.Warn("Rule action did not succeed",
			zap.String("rule_id", out.Request.RuleID),
			zap.String("dispatch_id", out.Request.ID),
			zap.String("result", string(out.Result)),
			zap.Error(out.Err))
	}
	ev := Event{Type: EventActionOutcome, RuleID: out.Request.RuleID, At: out.Finished, Outcome: summary}
	for _, fn := range listeners {
		fn(ev)
	}
}
