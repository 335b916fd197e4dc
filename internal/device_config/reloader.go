package device_config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"go.uber.org/zap"
)

// RuleRegistry receives the rules of every accepted document.
type RuleRegistry interface {
	Reload(specs []rules.Spec) (*rules.Snapshot, error)
}

// Relays receives relay attribute changes.
type Relays interface {
	IDs() []string
	Reconfigure(cfgs []relay.Config) error
}

// Hook runs after a document was applied, e.g. to update the daily reboot or
// notification defaults.
type Hook func(doc *Document)

// Reloader applies the device document. A document is applied wholesale or
// not at all: it is validated in full, and its relay set must match the
// running relays, before any component sees it.
type Reloader struct {
	loader   *Loader
	registry RuleRegistry
	relays   Relays
	logger   *log.Logger

	mu      sync.Mutex
	hooks   []Hook
	current *Document
}

func NewReloader(loader *Loader, registry RuleRegistry, relays Relays) *Reloader {
	return &Reloader{
		loader:   loader,
		registry: registry,
		relays:   relays,
		logger:   log.Component("device_config"),
	}
}

func (r *Reloader) OnApply(h Hook) {
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// Current returns the last applied document, nil before the first success.
func (r *Reloader) Current() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload loads the document from disk and applies it.
func (r *Reloader) Reload(_ context.Context) (*rules.Snapshot, error) {
	doc, err := r.loader.Load()
	if err != nil {
		r.logger.Error("Device config rejected, keeping current configuration",
			zap.String("path", r.loader.Path()), zap.Error(err))
		return nil, err
	}
	return r.Apply(doc)
}

// Apply publishes an already validated document.
func (r *Reloader) Apply(doc *Document) (*rules.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := sameRelays(r.relays.IDs(), doc.RelayIDs()); err != nil {
		r.logger.Error("Device config rejected, keeping current configuration", zap.Error(err))
		return nil, err
	}
	snap, err := r.registry.Reload(doc.Rules)
	if err != nil {
		return snap, err
	}
	if err := r.relays.Reconfigure(doc.RelayConfigs()); err != nil {
		return snap, err
	}
	r.current = doc
	for _, h := range r.hooks {
		h(doc)
	}
	r.logger.Info("Applied device config",
		zap.Uint64("rule_version", snap.Version()),
		zap.Int("rules", snap.Len()),
		zap.Int("relays", len(doc.Relays)))
	return snap, nil
}

func sameRelays(running, declared []string) error {
	verr := &cerrors.ConfigValidationError{}
	have := make(map[string]struct{}, len(running))
	for _, id := range running {
		have[id] = struct{}{}
	}
	want := make(map[string]struct{}, len(declared))
	for i, id := range declared {
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			verr.Add(fmt.Sprintf("relays[%d].id", i), "relay %q cannot be added without a restart", id)
		}
	}
	var missing []string
	for id := range have {
		if _, ok := want[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		verr.Add("relays", "relay %q cannot be removed without a restart", id)
	}
	return verr.OrNil()
}
