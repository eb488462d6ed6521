package stream

import (
	"context"

	"github.com/banshee-data/eventcam/internal/events"
)

// Pump runs g on its own goroutine and delivers its events over a channel
// buffered to size. The channel is closed when the generator closes or ctx
// is done. ctx should be the same token that shuts the source down;
// otherwise the pump goroutine stays blocked in the source until the next
// container arrives.
//
// Once Pump is called the generator belongs to the pump goroutine. Read
// g.Err only after the channel has been closed.
func Pump(ctx context.Context, g *Generator, size int) <-chan events.PolarityEvent {
	if size < 0 {
		size = 0
	}
	out := make(chan events.PolarityEvent, size)
	go func() {
		defer close(out)
		for {
			e, ok := g.Next()
			if !ok {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
