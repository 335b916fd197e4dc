// Package scheduler drives the evaluation timeline and calendar events.
//
// A producer goroutine emits ticks into a channel with room for one pending
// tick and a single consumer runs the evaluation passes, so passes never
// overlap. A pass that overruns its period leaves the next tick pending; it
// runs as soon as the current pass returns. Calendar events (the daily
// reboot and relay schedules) are checked on their own period.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/dispatcher"
	"github.com/okieraised/relay-controller/internal/evaluator"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/schedule_store"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"github.com/okieraised/relay-controller/internal/utilities"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Evaluator runs one evaluation pass.
type Evaluator interface {
	EvaluatePass(ctx context.Context, snap telemetry.Snapshot) evaluator.PassResult
}

// SnapshotSource returns the latest telemetry.
type SnapshotSource interface {
	Snapshot() telemetry.Snapshot
}

// Relays is the part of the relay controller the schedule check reads.
type Relays interface {
	Configs() []relay.Config
	Status(id string) (relay.Status, error)
}

type Submitter interface {
	Submit(req dispatcher.Request) (dispatcher.Request, error)
}

type Scheduler struct {
	cfg       Config
	telemetry SnapshotSource
	eval      Evaluator
	relays    Relays
	dispatch  Submitter
	store     schedule_store.Store
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	ticks chan time.Time

	mu            sync.Mutex
	rebootEnabled bool
	rebootTime    utilities.ClockTime
	stats         Stats
	running       bool
}

// Stats describes the evaluation timeline.
type Stats struct {
	TickPeriod          time.Duration `json:"tick_period"`
	Passes              uint64        `json:"passes"`
	Overruns            uint64        `json:"overruns"`
	ConsecutiveOverruns int           `json:"consecutive_overruns"`
	LastPassAt          time.Time     `json:"last_pass_at"`
	LastPassDuration    time.Duration `json:"last_pass_duration"`
	LastRebootDate      string        `json:"last_reboot_date,omitempty"`
	NextRebootAt        *time.Time    `json:"next_reboot_at,omitempty"`
}

type Option func(*Scheduler)

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cfg Config, tel SnapshotSource, eval Evaluator, relays Relays, submit Submitter, store schedule_store.Store, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:           cfg,
		telemetry:     tel,
		eval:          eval,
		relays:        relays,
		dispatch:      submit,
		store:         store,
		now:           time.Now,
		ticks:         make(chan time.Time, 1),
		rebootEnabled: cfg.RebootEnabled,
		rebootTime:    cfg.RebootTime,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Component("scheduler")
	}
	s.metrics = metrics.Or(s.metrics)
	if s.store == nil {
		s.store = schedule_store.NewMemoryStore()
	}
	s.stats.TickPeriod = cfg.TickPeriod
	return s
}

// SetDailyReboot changes the daily reboot after a device configuration reload.
func (s *Scheduler) SetDailyReboot(enabled bool, at utilities.ClockTime) {
	s.mu.Lock()
	s.rebootEnabled, s.rebootTime = enabled, at
	s.mu.Unlock()
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Started scheduler",
		zap.Duration("tick_period", s.cfg.TickPeriod),
		zap.Duration("schedule_check_period", s.cfg.ScheduleCheckPeriod))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.produce(gctx)
		return nil
	})
	g.Go(func() error {
		s.consume(gctx)
		return nil
	})
	g.Go(func() error {
		s.calendarLoop(gctx)
		return nil
	})
	err := g.Wait()
	s.logger.Info("Stopped scheduler")
	return err
}

func (s *Scheduler) produce(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			select {
			case s.ticks <- t:
			default:
				// a tick is already pending behind a running pass
			}
		}
	}
}

func (s *Scheduler) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticks:
			s.RunPass(ctx)
		}
	}
}

// RunPass evaluates the latest telemetry once and accounts for overruns.
func (s *Scheduler) RunPass(ctx context.Context) evaluator.PassResult {
	res := s.eval.EvaluatePass(ctx, s.telemetry.Snapshot())
	if missed := s.account(res.Duration); missed != nil {
		s.metrics.TickOverruns.Inc()
		fields := []zap.Field{
			zap.Duration("overrun", missed.Overrun),
			zap.Int("consecutive", missed.Consecutive),
			zap.Uint64("rule_version", res.Version),
		}
		if missed.Consecutive >= s.cfg.OverrunWarnThreshold {
			s.logger.Warn("Evaluation passes keep overrunning their period", append(fields, zap.Error(missed))...)
		} else {
			s.logger.Debug("Evaluation pass overran its period", fields...)
		}
	}
	return res
}

func (s *Scheduler) account(d time.Duration) *cerrors.SchedulerMissedTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Passes++
	s.stats.LastPassAt = s.now()
	s.stats.LastPassDuration = d
	if d <= s.cfg.TickPeriod {
		s.stats.ConsecutiveOverruns = 0
		return nil
	}
	s.stats.Overruns++
	s.stats.ConsecutiveOverruns++
	return &cerrors.SchedulerMissedTick{Overrun: d - s.cfg.TickPeriod, Consecutive: s.stats.ConsecutiveOverruns}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	enabled, at := s.rebootEnabled, s.rebootTime
	s.mu.Unlock()

	if enabled {
		now := s.now()
		next := at.On(now)
		if !next.After(now) {
			next = at.On(now.AddDate(0, 0, 1))
		}
		st.NextRebootAt = &next
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if date, err := s.store.LastFiredDate(ctx, DailyRebootEvent); err == nil {
			st.LastRebootDate = date
		}
		cancel()
	}
	return st
}
