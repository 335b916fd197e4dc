package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Timer is the revocable handle behind a pulse.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f after d.
type TimerFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// StateListener observes every applied state change. It runs outside the relay lock.
type StateListener func(Status)

type pulseHandle struct {
	timer Timer
	gen   uint64
	until time.Time
}

type relay struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	output     bool
	prePulse   State
	pulse      *pulseHandle
	gen        uint64
	fault      error
	faultSince time.Time
	lastChange time.Time
	seq        uint64
}

// Controller owns one state machine per relay and is the only writer to the driver.
// Commands for one relay are serialized by that relay's lock; different relays run in parallel.
type Controller struct {
	relays       map[string]*relay
	driver       Driver
	writeTimeout time.Duration
	timerFunc    TimerFunc
	now          func() time.Time
	logger       *log.Logger
	metrics      *metrics.Metrics

	listenersMu sync.RWMutex
	listeners   []StateListener
}

type Option func(*Controller)

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Controller) { c.writeTimeout = d }
}

func WithTimerFunc(fn TimerFunc) Option {
	return func(c *Controller) { c.timerFunc = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithStateListener(fn StateListener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, fn) }
}

// NewController builds relays in their boot state. No hardware is touched until Start.
func NewController(cfgs []Config, driver Driver, opts ...Option) (*Controller, error) {
	c := &Controller{
		relays:       make(map[string]*relay, len(cfgs)),
		driver:       driver,
		writeTimeout: constants.DefaultHardwareWriteTimeout,
		timerFunc:    afterFunc,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Component("relay")
	}
	c.metrics = metrics.Or(c.metrics)

	verr := &cerrors.ConfigValidationError{}
	for i, cfg := range cfgs {
		if cfg.ID == "" {
			verr.Add(fmt.Sprintf("relays[%d].id", i), "is required")
			continue
		}
		if _, dup := c.relays[cfg.ID]; dup {
			verr.Add(fmt.Sprintf("relays[%d].id", i), "duplicate relay id %q", cfg.ID)
			continue
		}
		if cfg.PulseTime <= 0 {
			cfg.PulseTime = constants.DefaultPulseDuration
		}
		c.relays[cfg.ID] = &relay{
			cfg:        cfg,
			state:      cfg.BootState,
			output:     cfg.BootState == StateOn,
			lastChange: c.now(),
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// AddListener registers a state listener after construction.
func (c *Controller) AddListener(fn StateListener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// Start drives every enabled relay to its boot state. Failures leave the relay faulted.
func (c *Controller) Start(ctx context.Context) {
	for _, id := range c.IDs() {
		r := c.relays[id]
		r.mu.Lock()
		if !r.cfg.Enabled {
			st := c.statusLocked(r)
			r.mu.Unlock()
			c.publish(st)
			continue
		}
		err := c.write(ctx, r, r.cfg.BootState == StateOn)
		if err != nil {
			c.logger.Error(fmt.Sprintf("Failed to apply boot state of relay [%s]: %v", id, err))
		} else {
			r.output = r.cfg.BootState == StateOn
			r.state = r.cfg.BootState
		}
		r.seq++
		st := c.statusLocked(r)
		r.mu.Unlock()
		c.publish(st)
	}
}

func (c *Controller) IDs() []string {
	ids := make([]string, 0, len(c.relays))
	for id := range c.relays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Controller) Has(id string) bool {
	_, ok := c.relays[id]
	return ok
}

func (c *Controller) Config(id string) (Config, error) {
	r, err := c.lookup(id)
	if err != nil {
		return Config{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, nil
}

func (c *Controller) Configs() []Config {
	out := make([]Config, 0, len(c.relays))
	for _, id := range c.IDs() {
		r := c.relays[id]
		r.mu.Lock()
		out = append(out, r.cfg)
		r.mu.Unlock()
	}
	return out
}

func (c *Controller) Status(id string) (Status, error) {
	r, err := c.lookup(id)
	if err != nil {
		return Status{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.statusLocked(r), nil
}

func (c *Controller) List() []Status {
	out := make([]Status, 0, len(c.relays))
	for _, id := range c.IDs() {
		st, _ := c.Status(id)
		out = append(out, st)
	}
	return out
}

// Faulted returns the ids of relays currently carrying the fault overlay.
func (c *Controller) Faulted() []string {
	var out []string
	for _, st := range c.List() {
		if st.Fault {
			out = append(out, st.ID)
		}
	}
	return out
}

func (c *Controller) SetOn(ctx context.Context, id string) (Status, error) {
	return c.Execute(ctx, id, Command{Kind: CommandOn})
}

func (c *Controller) SetOff(ctx context.Context, id string) (Status, error) {
	return c.Execute(ctx, id, Command{Kind: CommandOff})
}

func (c *Controller) Toggle(ctx context.Context, id string) (Status, error) {
	return c.Execute(ctx, id, Command{Kind: CommandToggle})
}

// Pulse flips the output for d, then returns to the state held before the pulse.
// A pulse issued while pulsing restarts the timer with the new duration.
func (c *Controller) Pulse(ctx context.Context, id string, d time.Duration) (Status, error) {
	return c.Execute(ctx, id, Command{Kind: CommandPulse, Duration: d})
}

// Execute applies cmd to relay id under the relay's lock.
func (c *Controller) Execute(ctx context.Context, id string, cmd Command) (Status, error) {
	r, err := c.lookup(id)
	if err != nil {
		return Status{}, err
	}

	r.mu.Lock()
	if !r.cfg.Enabled {
		st := c.statusLocked(r)
		r.mu.Unlock()
		c.countCommand(id, cmd, "disabled")
		return st, cerrors.ErrRelayDisabled.WithMessage("relay %s is disabled", id)
	}

	switch cmd.Kind {
	case CommandOn:
		err = c.setLocked(ctx, r, true)
	case CommandOff:
		err = c.setLocked(ctx, r, false)
	case CommandToggle:
		err = c.setLocked(ctx, r, !r.output)
	case CommandPulse:
		err = c.pulseLocked(ctx, r, cmd.Duration)
	default:
		err = cerrors.ErrInvalidCommand.WithMessage("invalid relay command %q", cmd.Kind)
	}
	r.seq++
	st := c.statusLocked(r)
	r.mu.Unlock()

	if err != nil {
		c.countCommand(id, cmd, "error")
	} else {
		c.countCommand(id, cmd, "ok")
	}
	c.publish(st)
	return st, err
}

func (c *Controller) setLocked(ctx context.Context, r *relay, on bool) error {
	c.cancelPulseLocked(r)
	if r.output == on && r.fault == nil {
		r.state = stateOf(on)
		return nil
	}
	if err := c.write(ctx, r, on); err != nil {
		r.state = stateOf(r.output)
		return err
	}
	r.output = on
	r.state = stateOf(on)
	r.lastChange = c.now()
	return nil
}

func (c *Controller) pulseLocked(ctx context.Context, r *relay, d time.Duration) error {
	if d <= 0 {
		d = r.cfg.PulseTime
	}
	if r.state == StatePulsing {
		c.cancelPulseLocked(r)
		c.armPulseLocked(r, d)
		return nil
	}

	prev := r.state
	c.cancelPulseLocked(r)
	if err := c.write(ctx, r, !r.output); err != nil {
		return err
	}
	r.output = !r.output
	r.prePulse = prev
	r.state = StatePulsing
	r.lastChange = c.now()
	c.armPulseLocked(r, d)
	return nil
}

// cancelPulseLocked invalidates any pending pulse timer. Bumping gen makes a
// timer that already fired and is waiting on the lock a no-op.
func (c *Controller) cancelPulseLocked(r *relay) {
	r.gen++
	if r.pulse != nil {
		r.pulse.timer.Stop()
		r.pulse = nil
	}
}

func (c *Controller) armPulseLocked(r *relay, d time.Duration) {
	gen := r.gen
	h := &pulseHandle{gen: gen, until: c.now().Add(d)}
	h.timer = c.timerFunc(d, func() { c.expirePulse(r, gen) })
	r.pulse = h
}

func (c *Controller) expirePulse(r *relay, gen uint64) {
	r.mu.Lock()
	if r.pulse == nil || r.pulse.gen != gen || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.pulse = nil
	r.gen++

	target := r.prePulse == StateOn
	err := c.write(context.Background(), r, target)
	if err != nil {
		r.state = stateOf(r.output)
		c.logger.Error(fmt.Sprintf("Failed to end pulse on relay [%s]: %v", r.cfg.ID, err))
	} else {
		r.output = target
		r.state = r.prePulse
		r.lastChange = c.now()
	}
	r.seq++
	st := c.statusLocked(r)
	r.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.RelayCommands.WithLabelValues(st.ID, "pulse_return", result).Inc()
	c.publish(st)
}

// write drives the hardware, retrying once. A second failure sets the fault
// overlay; any later successful write clears it.
func (c *Controller) write(ctx context.Context, r *relay, on bool) error {
	id := r.cfg.ID
	energized := on != r.cfg.NormallyClosed
	base := context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		wctx, cancel := context.WithTimeout(base, c.writeTimeout)
		err = c.driver.Write(wctx, id, energized)
		cancel()
		if err == nil {
			c.metrics.RelayWrites.WithLabelValues(id, "ok").Inc()
			if r.fault != nil {
				c.logger.Info(fmt.Sprintf("Relay [%s] recovered from fault", id))
				r.fault = nil
				r.faultSince = time.Time{}
				c.metrics.RelayFault.WithLabelValues(id).Set(0)
			}
			return nil
		}
		c.metrics.RelayWrites.WithLabelValues(id, "error").Inc()
		c.logger.Warn("Relay hardware write failed",
			zap.String("relay_id", id), zap.Int("attempt", attempt), zap.Error(err))
	}

	fault := &cerrors.RelayFault{RelayID: id, Err: err}
	if r.fault == nil {
		r.faultSince = c.now()
	}
	r.fault = fault
	c.metrics.RelayFault.WithLabelValues(id).Set(1)
	return fault
}

func (c *Controller) statusLocked(r *relay) Status {
	st := Status{
		ID:         r.cfg.ID,
		Name:       r.cfg.Name,
		Enabled:    r.cfg.Enabled,
		State:      r.state,
		Output:     r.output,
		Fault:      r.fault != nil,
		LastChange: r.lastChange,
		Seq:        r.seq,
	}
	if r.fault != nil {
		since := r.faultSince
		st.FaultError = r.fault.Error()
		st.FaultSince = &since
	}
	if r.pulse != nil {
		until := r.pulse.until
		ret := r.prePulse
		st.PulseUntil = &until
		st.PulseReturn = &ret
	}
	return st
}

func (c *Controller) publish(st Status) {
	c.metrics.RelayState.WithLabelValues(st.ID).Set(float64(st.State))
	c.listenersMu.RLock()
	listeners := append([]StateListener(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

func (c *Controller) countCommand(id string, cmd Command, result string) {
	c.metrics.RelayCommands.WithLabelValues(id, string(cmd.Kind), result).Inc()
}

func (c *Controller) lookup(id string) (*relay, error) {
	r, ok := c.relays[id]
	if !ok {
		return nil, cerrors.ErrRelayNotFound.WithMessage("relay %s not found", id)
	}
	return r, nil
}

// Reconfigure applies attribute changes (name, pulse time, schedule) to existing relays.
// Relay identity is fixed for the process lifetime, so the id set must match.
func (c *Controller) Reconfigure(cfgs []Config) error {
	verr := &cerrors.ConfigValidationError{}
	seen := make(map[string]struct{}, len(cfgs))
	for i, cfg := range cfgs {
		if _, ok := c.relays[cfg.ID]; !ok {
			verr.Add(fmt.Sprintf("relays[%d].id", i), "relay %q cannot be added without a restart", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
	}
	for id := range c.relays {
		if _, ok := seen[id]; !ok {
			verr.Add("relays", "relay %q cannot be removed without a restart", id)
		}
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	for _, cfg := range cfgs {
		r := c.relays[cfg.ID]
		r.mu.Lock()
		if cfg.Enabled != r.cfg.Enabled || cfg.BootState != r.cfg.BootState || cfg.NormallyClosed != r.cfg.NormallyClosed {
			c.logger.Warn(fmt.Sprintf("Relay [%s]: enabled, boot_state and normally_closed changes apply after restart", cfg.ID))
		}
		r.cfg.Name = cfg.Name
		if cfg.PulseTime > 0 {
			r.cfg.PulseTime = cfg.PulseTime
		}
		r.cfg.Schedule = cfg.Schedule
		r.mu.Unlock()
	}
	return nil
}
