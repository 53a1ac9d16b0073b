// Package lifecycle exposes store events as a lifecycle.Source.
package lifecycle

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/lifecycle"

	"github.com/lignum/dpp/pkg/core"
)

// Subscriber is anything that publishes core events to callbacks;
// *store.Store implements it.
type Subscriber interface {
	Subscribe(fn func(core.Event))
}

// DefaultBuffer is the number of events held while the consumer is busy.
const DefaultBuffer = 256

// Source bridges store callbacks to the generic lifecycle Event channel.
type Source struct {
	in      chan core.Event
	out     chan lifecycle.Event
	dropped atomic.Int64
}

var _ lifecycle.Source = (*Source)(nil)

// NewSource subscribes to sub. Store observers run on the writer's goroutine,
// so events are queued without blocking; when the buffer is full the event is
// dropped and counted.
func NewSource(sub Subscriber, buffer int) *Source {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Source{
		in:  make(chan core.Event, buffer),
		out: make(chan lifecycle.Event),
	}
	sub.Subscribe(func(e core.Event) {
		select {
		case s.in <- e:
		default:
			s.dropped.Add(1)
		}
	})
	return s
}

// Events implements lifecycle.Source. The channel is closed when the context
// given to Start is done.
func (s *Source) Events() <-chan lifecycle.Event {
	return s.out
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *Source) Dropped() int64 {
	return s.dropped.Load()
}

// Start implements lifecycle.Source.
func (s *Source) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-s.in:
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
