package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Buffer keeps the latest sample per (source, field).
type Buffer struct {
	mu     sync.RWMutex
	latest map[Key]entry
	maxAge time.Duration
	now    func() time.Time
}

type entry struct {
	sample   Sample
	received time.Time
}

type BufferOption func(*Buffer)

// WithMaxAge drops samples received more than d ago from snapshots, so a
// silent source becomes unknown.
func WithMaxAge(d time.Duration) BufferOption {
	return func(b *Buffer) { b.maxAge = d }
}

func WithClock(now func() time.Time) BufferOption {
	return func(b *Buffer) { b.now = now }
}

func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{
		latest: make(map[Key]entry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ingest records s unless a newer reading for the same key is already held.
// Timestamps ahead of the local clock are clamped to it, so a device with a
// skewed clock cannot shadow later readings.
func (b *Buffer) Ingest(s Sample) {
	now := b.now()
	if s.Timestamp.IsZero() || s.Timestamp.After(now) {
		s.Timestamp = now
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.latest[s.Key()]; ok && prev.sample.Timestamp.After(s.Timestamp) {
		return
	}
	b.latest[s.Key()] = entry{sample: s, received: now}
}

// Pump drains src into the buffer until ctx is done or the stream ends.
func (b *Buffer) Pump(ctx context.Context, src Source) error {
	ch, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			b.Ingest(s)
		}
	}
}

// Snapshot returns an immutable copy of the current readings.
func (b *Buffer) Snapshot() Snapshot {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		TakenAt: now,
		samples: make(map[Key]Sample, len(b.latest)),
		sources: make(map[string]struct{}),
	}
	for k, e := range b.latest {
		if b.maxAge > 0 && now.Sub(e.received) > b.maxAge {
			continue
		}
		snap.samples[k] = e.sample
		snap.sources[k.Source] = struct{}{}
	}
	return snap
}

type Snapshot struct {
	TakenAt time.Time
	samples map[Key]Sample
	sources map[string]struct{}
}

// NewSnapshot builds a snapshot from explicit samples.
func NewSnapshot(samples ...Sample) Snapshot {
	snap := Snapshot{
		TakenAt: time.Now(),
		samples: make(map[Key]Sample, len(samples)),
		sources: make(map[string]struct{}),
	}
	for _, s := range samples {
		snap.samples[s.Key()] = s
		snap.sources[s.Source] = struct{}{}
	}
	return snap
}

// Lookup returns the sample for (source, field) and whether the source reported anything at all.
func (s Snapshot) Lookup(source, field string) (Sample, bool, bool) {
	sample, ok := s.samples[Key{Source: source, Field: field}]
	_, known := s.sources[source]
	return sample, ok, known
}

func (s Snapshot) Len() int { return len(s.samples) }

// Samples returns readings sorted by source then field.
func (s Snapshot) Samples() []Sample {
	out := make([]Sample, 0, len(s.samples))
	for _, v := range s.samples {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Field < out[j].Field
	})
	return out
}
