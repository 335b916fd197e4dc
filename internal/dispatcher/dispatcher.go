// Package dispatcher executes rule actions off the evaluation path.
//
// io actions run on one single-worker lane per target relay, so actions for a
// relay apply in submission order and never overlap. Every other action runs on
// a shared pool and is retried with exponential backoff.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/local_cache"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/infrastructure/tracer_client"
	"github.com/okieraised/relay-controller/internal/notify"
	"github.com/okieraised/relay-controller/internal/reboot"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/worker"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RelayCommander is the part of the relay controller used for io actions.
type RelayCommander interface {
	Execute(ctx context.Context, id string, cmd relay.Command) (relay.Status, error)
}

const rebootKey = "system"

type Dispatcher struct {
	cfg     Config
	relays  RelayCommander
	sender  notify.Sender
	reboot  reboot.Trigger
	dedupe  *local_cache.Window
	logger  *log.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	pool    *worker.Pool[Request]
	results chan Outcome

	mu      sync.Mutex
	lanes   map[string]*worker.Pool[Request]
	runCtx  context.Context
	started bool
	closed  bool

	succeeded atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
}

type Option func(*Dispatcher)

func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRebootWindow shares a dedupe window, e.g. one backed by the process-wide cache.
func WithRebootWindow(w *local_cache.Window) Option {
	return func(d *Dispatcher) { d.dedupe = w }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(cfg Config, relays RelayCommander, sender notify.Sender, trigger reboot.Trigger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:    cfg.withDefaults(),
		relays: relays,
		sender: sender,
		reboot: trigger,
		tracer: tracer_client.Tracer("dispatcher"),
		now:    time.Now,
		lanes:  make(map[string]*worker.Pool[Request]),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.Component("dispatcher")
	}
	d.metrics = metrics.Or(d.metrics)
	if d.sender == nil {
		d.sender = notify.NewLogSender(d.logger)
	}
	if d.reboot == nil {
		d.reboot = reboot.NewDryRunTrigger(d.logger)
	}
	if d.dedupe == nil {
		c, err := local_cache.New(local_cache.WithNumCounters(1_000), local_cache.WithMaxCost(100))
		if err != nil {
			return nil, errors.Wrap(err, "create reboot dedupe cache")
		}
		d.dedupe = local_cache.NewWindow(c, "reboot", d.cfg.RebootDedupe)
	}

	d.results = make(chan Outcome, d.cfg.QueueSize)
	d.pool = d.newPool(d.cfg.Workers)
	return d, nil
}

func (d *Dispatcher) newPool(workers int) *worker.Pool[Request] {
	return worker.NewPool(workers, d.cfg.QueueSize, d.process,
		worker.WithAbandonHandler(d.abandon),
		worker.WithQueueGauge[Request](d.metrics.DispatchQueue),
	)
}

// Start launches the workers. Cancelling ctx does not stop in-flight actions;
// use Stop, which drains for the grace period and then abandons the rest.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return worker.ErrPoolAlreadyStarted
	}
	d.runCtx = context.WithoutCancel(ctx)
	if err := d.pool.Start(d.runCtx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Results delivers every terminal outcome. It is closed by Stop. Outcomes are
// dropped, and counted, when nobody keeps up with the channel.
func (d *Dispatcher) Results() <-chan Outcome { return d.results }

// Submit queues an action without waiting for it. Actions of one rule are
// submitted in declared order and do not wait on each other.
func (d *Dispatcher) Submit(req Request) (Request, error) {
	if req.Action == nil {
		return req, cerrors.ErrInvalidCommand.WithMessage("dispatch request has no action")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Enqueued.IsZero() {
		req.Enqueued = d.now()
	}

	d.mu.Lock()
	if d.closed || !d.started {
		d.mu.Unlock()
		return req, cerrors.ErrDispatcherClosed
	}
	target := d.pool
	if io, ok := req.Action.(rules.IoAction); ok {
		lane, err := d.laneLocked(io.Target)
		if err != nil {
			d.mu.Unlock()
			return req, err
		}
		target = lane
	}
	err := target.Submit(req)
	d.mu.Unlock()

	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, worker.ErrQueueFull):
		d.logger.Warn("Dispatch queue full, action rejected",
			zap.String("dispatch_id", req.ID), zap.String("action", req.Action.String()))
		return req, cerrors.ErrDispatchQueueFull.WithCause(err)
	default:
		return req, cerrors.ErrDispatcherClosed.WithCause(err)
	}
}

func (d *Dispatcher) laneLocked(relayID string) (*worker.Pool[Request], error) {
	if lane, ok := d.lanes[relayID]; ok {
		return lane, nil
	}
	lane := d.newPool(1)
	if err := lane.Start(d.runCtx); err != nil {
		return nil, err
	}
	d.lanes[relayID] = lane
	return lane, nil
}

func (d *Dispatcher) process(ctx context.Context, req Request) error {
	ctx, span := d.tracer.Start(ctx, "dispatch."+string(req.Action.Type()),
		trace.WithAttributes(
			attribute.String("dispatch.id", req.ID),
			attribute.String("dispatch.origin", string(req.Origin)),
			attribute.String("rule.id", req.RuleID),
		))
	defer span.End()

	var out Outcome
	switch a := req.Action.(type) {
	case rules.IoAction:
		out = d.runIO(ctx, req, a)
	case rules.EmailAction:
		out = d.runWithRetry(ctx, req, func(cctx context.Context) error {
			return d.sender.Send(cctx, a.Message, a.Recipients)
		})
	case rules.RebootAction:
		out = d.runReboot(ctx, req)
	case rules.LogAction:
		d.logger.Warn(a.Message, zap.String("rule_id", req.RuleID), zap.String("dispatch_id", req.ID))
		out = Outcome{Request: req, Result: ResultSucceeded, Attempts: 1}
	default:
		out = Outcome{Request: req, Result: ResultFailed, Err: fmt.Errorf("unsupported action %T", a)}
	}

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Result))
	}
	d.finish(out)
	if out.Result == ResultFailed || out.Result == ResultAbandoned {
		return out.Err
	}
	return nil
}

// runIO makes one call; the controller already retried the hardware write once.
func (d *Dispatcher) runIO(ctx context.Context, req Request, a rules.IoAction) Outcome {
	d.metrics.ActionAttempts.WithLabelValues(string(rules.ActionIO)).Inc()
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	st, err := d.relays.Execute(cctx, a.Target, relay.Command{Kind: a.State})
	out := Outcome{Request: req, Attempts: 1}
	if st.ID != "" {
		out.Relay = &st
	}
	if err != nil {
		out.Result = ResultFailed
		out.Err = &cerrors.ActionDispatchFailure{
			DispatchID: req.ID, ActionType: string(rules.ActionIO), Attempts: 1, Err: err,
		}
		return out
	}
	out.Result = ResultSucceeded
	return out
}

func (d *Dispatcher) runReboot(ctx context.Context, req Request) Outcome {
	if !d.dedupe.Claim(rebootKey) {
		d.logger.Warn("Skipping reboot, another reboot was requested recently",
			zap.String("dispatch_id", req.ID),
			zap.Duration("retry_after", d.dedupe.Remaining(rebootKey)))
		return Outcome{Request: req, Result: ResultSkipped}
	}
	out := d.runWithRetry(ctx, req, d.reboot.Reboot)
	if out.Result != ResultSucceeded {
		d.dedupe.Release(rebootKey)
	}
	return out
}

// runWithRetry retries transient failures with exponential backoff up to
// MaxAttempts calls. Each call gets its own timeout.
func (d *Dispatcher) runWithRetry(ctx context.Context, req Request, call func(context.Context) error) Outcome {
	actionType := string(req.Action.Type())
	attempts := 0

	op := func() (struct{}, error) {
		attempts++
		d.metrics.ActionAttempts.WithLabelValues(actionType).Inc()
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
		err := call(cctx)
		if err != nil && notify.IsFatal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.InitialBackoff
	exp.MaxInterval = d.cfg.MaxBackoff

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("Action attempt failed, retrying",
				zap.String("dispatch_id", req.ID),
				zap.String("action", actionType),
				zap.Int("attempt", attempts),
				zap.Duration("next_in", next),
				zap.Error(err))
		}),
	)

	out := Outcome{Request: req, Attempts: attempts}
	if err == nil {
		out.Result = ResultSucceeded
		return out
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	failure := &cerrors.ActionDispatchFailure{
		DispatchID: req.ID,
		ActionType: actionType,
		Attempts:   attempts,
		Retryable:  notify.IsRetryable(err),
		Err:        err,
	}
	out.Err = failure
	if ctx.Err() != nil {
		failure.Abandoned = true
		out.Result = ResultAbandoned
		return out
	}
	out.Result = ResultFailed
	return out
}

// abandon reports work that never ran because shutdown ran out of time.
func (d *Dispatcher) abandon(req Request) {
	d.finish(Outcome{
		Request: req,
		Result:  ResultAbandoned,
		Err: &cerrors.ActionDispatchFailure{
			DispatchID: req.ID,
			ActionType: string(req.Action.Type()),
			Retryable:  true,
			Abandoned:  true,
			Err:        context.Canceled,
		},
	})
}

func (d *Dispatcher) finish(out Outcome) {
	out.Finished = d.now()
	actionType := string(out.Request.Action.Type())
	d.metrics.ActionOutcomes.WithLabelValues(actionType, string(out.Result)).Inc()

	fields := []zap.Field{
		zap.String("dispatch_id", out.Request.ID),
		zap.String("rule_id", out.Request.RuleID),
		zap.String("origin", string(out.Request.Origin)),
		zap.String("action", out.Request.Action.String()),
		zap.Int("attempts", out.Attempts),
	}
	switch out.Result {
	case ResultSucceeded:
		d.succeeded.Add(1)
		d.logger.Debug("Action succeeded", fields...)
	case ResultSkipped:
		d.skipped.Add(1)
	case ResultAbandoned:
		d.abandoned.Add(1)
		d.logger.Error("Action abandoned at shutdown", append(fields, zap.Error(out.Err))...)
	default:
		d.failed.Add(1)
		d.logger.Error("Action failed", append(fields, zap.Error(out.Err))...)
	}

	select {
	case d.results <- out:
	default:
		d.dropped.Add(1)
	}
}

// Stop refuses new work, waits up to grace for queued and running actions and
// abandons whatever is left. It closes Results when every worker has exited.
func (d *Dispatcher) Stop(grace time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pools := make([]*worker.Pool[Request], 0, len(d.lanes)+1)
	pools = append(pools, d.pool)
	for _, lane := range d.lanes {
		pools = append(pools, lane)
	}
	d.mu.Unlock()

	if grace <= 0 {
		grace = d.cfg.GracePeriod
	}
	var wg sync.WaitGroup
	var timedOut atomic.Bool
	for _, p := range pools {
		wg.Add(1)
		go func(p *worker.Pool[Request]) {
			defer wg.Done()
			if err := p.Stop(grace); errors.Is(err, worker.ErrStopTimeout) {
				timedOut.Store(true)
			}
		}(p)
	}
	wg.Wait()
	close(d.results)

	if timedOut.Load() {
		d.logger.Warn("Dispatcher stopped with abandoned actions", zap.Int64("abandoned", d.abandoned.Load()))
		return worker.ErrStopTimeout
	}
	return nil
}

type Stats struct {
	Queued    int   `json:"queued"`
	Lanes     int   `json:"lanes"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Abandoned int64 `json:"abandoned"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped_outcomes"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queued := d.pool.Stats().QueueDepth
	for _, lane := range d.lanes {
		queued += lane.Stats().QueueDepth
	}
	lanes := len(d.lanes)
	d.mu.Unlock()

	return Stats{
		Queued:    queued,
		Lanes:     lanes,
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Abandoned: d.abandoned.Load(),
		Skipped:   d.skipped.Load(),
		Dropped:   d.dropped.Load(),
	}
}
