// Package stream turns packet containers delivered by a device connection
// into a flat, forward-only sequence of valid polarity events.
//
// A Generator is bound to one packet source for its whole life. It pulls a
// container, walks its packets in delivery order, keeps only polarity
// packets and only valid events, and emits them in order. The source is
// asked for the next container only when the current one is exhausted;
// that fetch is the single point where the generator blocks and where a
// shutdown is observed.
package stream

import (
	"errors"
	"io"
	"iter"
	"sync/atomic"

	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/events"
)

// PacketSource delivers non-empty packet containers in arrival order.
// *device.Connection implements it. A source signals the end of the stream
// by returning device.ErrShutdown or io.EOF.
type PacketSource interface {
	GetPacket() (*events.PacketContainer, error)
}

// SourceFunc adapts a function to PacketSource.
type SourceFunc func() (*events.PacketContainer, error)

func (f SourceFunc) GetPacket() (*events.PacketContainer, error) { return f() }

// State is the generator lifecycle state.
type State int32

const (
	// Streaming is the initial state.
	Streaming State = iota
	// Closed is terminal. It is reached when the source shuts down or
	// fails.
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "closed"
	}
	return "streaming"
}

// Stats observes the traffic a Generator processes. Implementations must be
// cheap; they are called once per container and once per packet.
type Stats interface {
	AddContainer(packets int)
	AddPacket(t events.SensorType, n int)
	AddEvents(emitted, invalid int)
}

type noopStats struct{}

func (noopStats) AddContainer(int)                 {}
func (noopStats) AddPacket(events.SensorType, int) {}
func (noopStats) AddEvents(int, int)               {}

// Option customises a Generator.
type Option func(*Generator)

// WithStats attaches a statistics observer.
func WithStats(s Stats) Option {
	return func(g *Generator) {
		if s != nil {
			g.stats = s
		}
	}
}

// Generator is a pull iterator over valid polarity events. It is not safe
// for concurrent use by multiple consumers and cannot be restarted.
type Generator struct {
	src   PacketSource
	stats Stats

	container *events.PacketContainer
	nextPkt   int

	cur     []events.PolarityEvent
	idx     int
	emitted int
	invalid int

	state atomic.Int32
	err   error
}

// NewGenerator binds a generator to src.
func NewGenerator(src PacketSource, opts ...Option) *Generator {
	g := &Generator{src: src, stats: noopStats{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns the next valid polarity event. It blocks while the source
// has no data. ok is false once the generator is closed; Err then tells a
// failure apart from a clean shutdown.
func (g *Generator) Next() (evt events.PolarityEvent, ok bool) {
	for {
		if g.State() == Closed {
			return events.PolarityEvent{}, false
		}

		for g.idx < len(g.cur) {
			e := g.cur[g.idx]
			g.idx++
			if !e.Valid {
				g.invalid++
				continue
			}
			g.emitted++
			return e, true
		}
		g.finishPacket()

		if g.container != nil && g.nextPkt < len(g.container.Packets) {
			p := g.container.Packets[g.nextPkt]
			g.nextPkt++
			g.selectPacket(p)
			continue
		}

		// Container exhausted: this is the fetch boundary.
		g.container = nil
		c, err := g.src.GetPacket()
		if err != nil {
			g.close(err)
			continue
		}
		if c == nil {
			continue
		}
		g.container = c
		g.nextPkt = 0
		g.stats.AddContainer(c.Len())
	}
}

// selectPacket makes p the current packet if it carries polarity events.
// Every other variant is skipped.
func (g *Generator) selectPacket(p events.Packet) {
	switch pkt := p.(type) {
	case nil:
	case *events.PolarityPacket:
		if pkt == nil {
			return
		}
		g.stats.AddPacket(events.SensorPolarity, len(pkt.Events))
		g.cur = pkt.Events
		g.idx = 0
	case *events.SpecialPacket:
		if pkt != nil {
			g.stats.AddPacket(events.SensorSpecial, len(pkt.Events))
		}
	case *events.IMU6Packet:
		if pkt != nil {
			g.stats.AddPacket(events.SensorIMU6, len(pkt.Events))
		}
	case *events.IMU9Packet:
		if pkt != nil {
			g.stats.AddPacket(events.SensorIMU9, len(pkt.Events))
		}
	case *events.SpikePacket:
		if pkt != nil {
			g.stats.AddPacket(events.SensorSpike, len(pkt.Events))
		}
	case *events.UnknownPacket:
		if pkt != nil {
			g.stats.AddPacket(pkt.EventType, pkt.Count)
		}
	}
}

func (g *Generator) finishPacket() {
	if g.cur == nil {
		return
	}
	g.stats.AddEvents(g.emitted, g.invalid)
	g.cur = nil
	g.idx = 0
	g.emitted = 0
	g.invalid = 0
}

func (g *Generator) close(err error) {
	if !errors.Is(err, device.ErrShutdown) && !errors.Is(err, io.EOF) {
		g.err = err
	}
	g.container = nil
	g.state.Store(int32(Closed))
}

// State reports the lifecycle state. It may be called from any goroutine.
func (g *Generator) State() State {
	return State(g.state.Load())
}

// Err returns the error that closed the generator, or nil if it is still
// streaming or was closed by a shutdown.
func (g *Generator) Err() error {
	return g.err
}

// All returns the remaining events as a range-over-func sequence. Breaking
// out of the loop leaves the generator usable.
func (g *Generator) All() iter.Seq[events.PolarityEvent] {
	return func(yield func(events.PolarityEvent) bool) {
		for {
			e, ok := g.Next()
			if !ok || !yield(e) {
				return
			}
		}
	}
}

// Take collects up to n events. Fewer are returned if the generator closes
// first.
func (g *Generator) Take(n int) []events.PolarityEvent {
	if n <= 0 {
		return nil
	}
	out := make([]events.PolarityEvent, 0, min(n, 1<<16))
	for len(out) < n {
		e, ok := g.Next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

// Windows yields consecutive batches of n events. The final batch may be
// shorter if the generator closes mid-window; an empty final batch is not
// yielded. Each yielded slice is freshly allocated and owned by the caller.
func (g *Generator) Windows(n int) iter.Seq[[]events.PolarityEvent] {
	return func(yield func([]events.PolarityEvent) bool) {
		if n <= 0 {
			return
		}
		for {
			w := g.Take(n)
			if len(w) > 0 && !yield(w) {
				return
			}
			if len(w) < n {
				return
			}
		}
	}
}
