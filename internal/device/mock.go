package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/eventcam/internal/events"
)

// MockDriver implements Driver for testing. It opens any device listed in
// Devices whose camera, bus and address match the request.
type MockDriver struct {
	mu sync.Mutex

	// Devices are the devices this driver reports as reachable.
	Devices []DeviceInfo

	// Handle, if set, is returned from every successful Open. Otherwise a
	// fresh MockHandle is created per Open.
	Handle *MockHandle

	// OpenError is returned by Open if set.
	OpenError error

	// EnumerateError is returned by Enumerate if set.
	EnumerateError error

	// OpenCalls records all Open calls.
	OpenCalls []Params

	// EnumerateCalls counts Enumerate calls.
	EnumerateCalls int
}

// NewMockDriver creates a MockDriver reporting the given devices.
func NewMockDriver(devices ...DeviceInfo) *MockDriver {
	return &MockDriver{Devices: devices}
}

// Open returns a handle for the first listed device matching p.
func (d *MockDriver) Open(ctx context.Context, p Params) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.OpenCalls = append(d.OpenCalls, p)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	for _, info := range d.Devices {
		if info.Camera != p.Camera {
			continue
		}
		if p.BusID != 0 && info.BusID != p.BusID {
			continue
		}
		if p.DeviceAddress != 0 && info.DeviceAddress != p.DeviceAddress {
			continue
		}
		if d.Handle != nil {
			d.Handle.mu.Lock()
			d.Handle.info = info
			d.Handle.mu.Unlock()
			return d.Handle, nil
		}
		return NewMockHandle(info), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, p)
}

// Enumerate returns Devices.
func (d *MockDriver) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.EnumerateCalls++
	if d.EnumerateError != nil {
		return nil, d.EnumerateError
	}
	out := make([]DeviceInfo, len(d.Devices))
	copy(out, d.Devices)
	return out, nil
}

// ConfigKey addresses one configuration value recorded by MockHandle.
type ConfigKey struct {
	Module ConfigModule
	Param  ConfigParam
}

// MockHandle implements Handle with a scripted queue of containers.
// DataGet blocks on an empty queue once blocking mode is enabled.
type MockHandle struct {
	mu sync.Mutex

	info  DeviceInfo
	queue []*events.PacketContainer
	ready chan struct{}

	onShutdown func()

	// Calls records handle method calls in order.
	Calls []string

	// Config holds every value written through ConfigSet.
	Config map[ConfigKey]uint32

	// Errors returned by the matching method if set.
	DefaultConfigError error
	ConfigSetError     error
	DataStartError     error
	DataGetError       error
	CloseError         error

	// DataGetCalls counts DataGet calls.
	DataGetCalls int

	Started bool
	Stopped bool
	Closed  bool
}

// NewMockHandle creates a MockHandle for the given device.
func NewMockHandle(info DeviceInfo) *MockHandle {
	return &MockHandle{
		info:   info,
		ready:  make(chan struct{}, 1),
		Config: make(map[ConfigKey]uint32),
	}
}

// Push queues containers for DataGet. A nil container is delivered as
// "no data yet".
func (h *MockHandle) Push(containers ...*events.PacketContainer) {
	h.mu.Lock()
	h.queue = append(h.queue, containers...)
	h.mu.Unlock()

	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// Disconnect simulates the device stopping on its own by invoking the
// shutdown callback passed to DataStart.
func (h *MockHandle) Disconnect() {
	h.mu.Lock()
	cb := h.onShutdown
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// CallLog returns a copy of the recorded calls.
func (h *MockHandle) CallLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.Calls))
	copy(out, h.Calls)
	return out
}

// Pending returns the number of queued containers.
func (h *MockHandle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

func (h *MockHandle) Info() DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *MockHandle) SendDefaultConfig() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "SendDefaultConfig")
	return h.DefaultConfigError
}

func (h *MockHandle) ConfigSet(module ConfigModule, param ConfigParam, value uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, fmt.Sprintf("ConfigSet(%d,%d,%d)", module, param, value))
	if h.ConfigSetError != nil {
		return h.ConfigSetError
	}
	h.Config[ConfigKey{module, param}] = value
	return nil
}

func (h *MockHandle) DataStart(onShutdown func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "DataStart")
	if h.DataStartError != nil {
		return h.DataStartError
	}
	h.onShutdown = onShutdown
	h.Started = true
	return nil
}

// DataGet pops the next queued container. With blocking mode off it
// returns nil, nil when the queue is empty.
func (h *MockHandle) DataGet(ctx context.Context) (*events.PacketContainer, error) {
	for {
		h.mu.Lock()
		h.DataGetCalls++
		if h.Closed {
			h.mu.Unlock()
			return nil, errors.New("mock handle closed")
		}
		if h.DataGetError != nil {
			err := h.DataGetError
			h.mu.Unlock()
			return nil, err
		}
		if len(h.queue) > 0 {
			c := h.queue[0]
			h.queue = h.queue[1:]
			h.mu.Unlock()
			return c, nil
		}
		blocking := h.Config[ConfigKey{HostDataExchange, Blocking}] != 0
		h.mu.Unlock()

		if !blocking {
			return nil, nil
		}
		select {
		case <-h.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (h *MockHandle) DataStop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "DataStop")
	h.Stopped = true
	return nil
}

func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "Close")
	h.Closed = true
	return h.CloseError
}
