package telemetry

import (
	"context"
	"sync"
)

// ChannelSource adapts a caller-fed channel into a Source.
type ChannelSource struct {
	mu         sync.Mutex
	in         <-chan Sample
	subscribed bool
}

func NewChannelSource(in <-chan Sample) *ChannelSource {
	return &ChannelSource{in: in}
}

func (c *ChannelSource) Subscribe(ctx context.Context) (<-chan Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, ErrAlreadySubscribed
	}
	c.subscribed = true

	out := make(chan Sample)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-c.in:
				if !ok {
					return
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
