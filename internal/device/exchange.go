package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/eventcam/internal/events"
)

// HostExchange implements the host side of a Handle for drivers that run
// their own acquisition goroutine: the HostPackets and HostDataExchange
// parameters, the container queue and the shutdown notification.
//
// The producer pushes containers with Deliver and calls Finish when the
// device stops producing. Get then drains what is queued, invokes the
// shutdown handler once and reports no data from then on.
type HostExchange struct {
	queue *ContainerQueue

	mu         sync.Mutex
	maxPacket  uint32
	blocking   bool
	onShutdown func()
	notified   bool
}

// NewHostExchange returns an exchange with the default host configuration.
func NewHostExchange() *HostExchange {
	def := DefaultHostConfig()
	return &HostExchange{
		queue:     NewContainerQueue(int(def.BufferSize)),
		maxPacket: def.MaxPacketSize,
	}
}

// ErrUnsupportedParam is returned by ConfigSet for parameters a driver
// does not implement.
var ErrUnsupportedParam = errors.New("unsupported config parameter")

// ConfigSet applies a host-side parameter. It returns ErrUnsupportedParam
// for device modules, which the caller handles itself.
func (x *HostExchange) ConfigSet(module ConfigModule, param ConfigParam, value uint32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	switch {
	case module == HostPackets && param == MaxContainerPacketSize:
		x.maxPacket = value
	case module == HostPackets && param == MaxContainerInterval:
		// Containers are cut by size only.
	case module == HostDataExchange && param == BufferSize:
		x.queue.SetCapacity(int(value))
	case module == HostDataExchange && param == Blocking:
		x.blocking = value != 0
	case module == HostDataExchange && (param == StartProducers || param == StopProducers):
	default:
		return fmt.Errorf("%w: module %d param %d", ErrUnsupportedParam, module, param)
	}
	return nil
}

// MaxPacketSize is the largest number of events per packet; zero means
// unlimited.
func (x *HostExchange) MaxPacketSize() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return int(x.maxPacket)
}

// Start registers the shutdown handler passed to DataStart.
func (x *HostExchange) Start(onShutdown func()) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.onShutdown = onShutdown
}

// Deliver queues c for Get. It reports whether an older
// container was dropped.
func (x *HostExchange) Deliver(c *events.PacketContainer) bool {
	return x.queue.Push(c)
}

// DeliverWait queues c, waiting while the queue is full.
func (x *HostExchange) DeliverWait(ctx context.Context, c *events.PacketContainer) error {
	return x.queue.PushWait(ctx, c)
}

// DeliverPolarity queues evts as polarity packets of at most MaxPacketSize
// events, one packet per container. It returns the number of containers
// dropped to make room.
func (x *HostExchange) DeliverPolarity(source int16, evts []events.PolarityEvent) int {
	limit := x.MaxPacketSize()
	if limit <= 0 {
		limit = len(evts)
	}
	dropped := 0
	for len(evts) > 0 {
		n := min(limit, len(evts))
		chunk := make([]events.PolarityEvent, n)
		copy(chunk, evts[:n])
		if x.queue.Push(events.NewPacketContainer(&events.PolarityPacket{Source: source, Events: chunk})) {
			dropped++
		}
		evts = evts[n:]
	}
	return dropped
}

// Finish marks the end of acquisition.
func (x *HostExchange) Finish() {
	x.queue.CloseInput()
}

// Get implements Handle.DataGet.
func (x *HostExchange) Get(ctx context.Context) (*events.PacketContainer, error) {
	x.mu.Lock()
	blocking := x.blocking
	x.mu.Unlock()

	c, err := x.queue.Pop(ctx, blocking)
	if !errors.Is(err, io.EOF) {
		return c, err
	}

	x.mu.Lock()
	cb := x.onShutdown
	first := !x.notified
	x.notified = true
	x.mu.Unlock()
	if cb == nil {
		return nil, io.EOF
	}
	if first {
		cb()
	}
	return nil, nil
}

// Dropped returns the number of containers discarded on overflow.
func (x *HostExchange) Dropped() uint64 {
	return x.queue.Dropped()
}
