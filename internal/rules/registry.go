package rules

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"go.uber.org/zap"
)

// Snapshot is an immutable, ordered rule set. It is never modified after publication.
type Snapshot struct {
	version  uint64
	loadedAt time.Time
	rules    []Rule
	sources  []string
	byID     map[string]int
	bySource map[string][]int
	byKey    map[telemetry.Key][]int
}

func newSnapshot(version uint64, loadedAt time.Time, rules []Rule) *Snapshot {
	s := &Snapshot{
		version:  version,
		loadedAt: loadedAt,
		rules:    rules,
		byID:     make(map[string]int, len(rules)),
		bySource: make(map[string][]int),
		byKey:    make(map[telemetry.Key][]int),
	}
	for i, r := range rules {
		s.byID[r.ID] = i
		if _, seen := s.bySource[r.Source]; !seen {
			s.sources = append(s.sources, r.Source)
		}
		s.bySource[r.Source] = append(s.bySource[r.Source], i)
		s.byKey[r.Key()] = append(s.byKey[r.Key()], i)
	}
	return s
}

func (s *Snapshot) Version() uint64     { return s.version }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
func (s *Snapshot) Len() int            { return len(s.rules) }

// Rules returns the rules in declared order. Callers must not modify the slice.
func (s *Snapshot) Rules() []Rule { return s.rules }

func (s *Snapshot) Get(id string) (Rule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[i], true
}

// Sources lists the sources rules read, in order of first declaration.
// Callers must not modify the slice.
func (s *Snapshot) Sources() []string { return s.sources }

// ForSource returns the rules that read any field of source, in declared order.
func (s *Snapshot) ForSource(source string) []Rule {
	return s.pick(s.bySource[source])
}

// ForKey returns the rules that read exactly (source, field), in declared order.
func (s *Snapshot) ForKey(k telemetry.Key) []Rule {
	return s.pick(s.byKey[k])
}

func (s *Snapshot) pick(idx []int) []Rule {
	out := make([]Rule, len(idx))
	for i, j := range idx {
		out[i] = s.rules[j]
	}
	return out
}

// ReloadStatus describes the last reload attempt.
type ReloadStatus struct {
	Version     uint64    `json:"version"`
	RuleCount   int       `json:"rule_count"`
	LoadedAt    time.Time `json:"loaded_at"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Registry publishes rule snapshots. Readers never block; reloads are serialized.
type Registry struct {
	current atomic.Pointer[Snapshot]
	targets TargetCatalog
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	lastAttempt time.Time
	lastErr     error
}

type RegistryOption func(*Registry)

// WithTargets validates io action targets against the relay catalog.
func WithTargets(t TargetCatalog) RegistryOption {
	return func(r *Registry) { r.targets = t }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry starts with an empty snapshot at version 0.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Component("rules")
	}
	r.metrics = metrics.Or(r.metrics)
	r.current.Store(newSnapshot(0, r.now(), nil))
	return r
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload validates specs and publishes them as a new snapshot. On any
// validation failure the current snapshot keeps serving and the error is returned.
func (r *Registry) Reload(specs []Spec) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastAttempt = r.now()
	built, err := Build(specs, r.targets)
	if err != nil {
		r.lastErr = err
		r.metrics.RegistryReloads.WithLabelValues("rejected").Inc()
		r.logger.Error("Rule reload rejected, keeping current rules",
			zap.Uint64("version", r.current.Load().Version()), zap.Error(err))
		return r.current.Load(), err
	}

	next := newSnapshot(r.current.Load().Version()+1, r.lastAttempt, built)
	r.current.Store(next)
	r.lastErr = nil
	r.metrics.RegistryReloads.WithLabelValues("ok").Inc()
	r.metrics.RegistryVersion.Set(float64(next.Version()))
	r.logger.Info("Published rule snapshot",
		zap.Uint64("version", next.Version()), zap.Int("rules", next.Len()))
	return next, nil
}

// SetTargets replaces the io target catalog used by later reloads.
func (r *Registry) SetTargets(t TargetCatalog) {
	r.mu.Lock()
	r.targets = t
	r.mu.Unlock()
}

func (r *Registry) Status() ReloadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.current.Load()
	st := ReloadStatus{
		Version:     snap.Version(),
		RuleCount:   snap.Len(),
		LoadedAt:    snap.LoadedAt(),
		LastAttempt: r.lastAttempt,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// LastError returns the error of the last reload attempt, nil if it succeeded.
func (r *Registry) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
