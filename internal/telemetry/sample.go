package telemetry

import (
	"context"
	"errors"
	"time"
)

// Sample is one reading of one field from one source.
type Sample struct {
	Source    string    `json:"source"`
	Field     string    `json:"field"`
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Key identifies the (source, field) pair a sample belongs to.
func (s Sample) Key() Key { return Key{Source: s.Source, Field: s.Field} }

type Key struct {
	Source string
	Field  string
}

func (k Key) String() string { return k.Source + "." + k.Field }

var ErrAlreadySubscribed = errors.New("telemetry source already subscribed")

// Source yields an unbounded, non-restartable stream of samples.
// The returned channel closes when ctx is done or the source stops.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Sample, error)
}
