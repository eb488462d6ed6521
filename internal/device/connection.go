// Package device owns the connection to an event camera: opening the
// exclusive hardware handle, the mandatory startup configuration, blocking
// packet retrieval and cooperative shutdown.
//
// Hardware access goes through the Driver and Handle interfaces so the
// connection can run against libcaer, a serial eDVS, a recording replay or
// the in-memory mock used by tests.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/monitoring"
)

var logf = monitoring.Component("device")

// Option customises Open.
type Option func(*options)

type options struct {
	host HostConfig
}

// WithHostConfig overrides the host-side packet and buffer settings. Zero
// fields keep their defaults.
func WithHostConfig(h HostConfig) Option {
	return func(o *options) {
		if h.MaxPacketSize > 0 {
			o.host.MaxPacketSize = h.MaxPacketSize
		}
		if h.BufferSize > 0 {
			o.host.BufferSize = h.BufferSize
		}
	}
}

// Connection is an opened, configured and streaming device. It is the
// single owner of its Handle; the handle is released by Close.
type Connection struct {
	handle Handle
	info   DeviceInfo

	// ctx is the shutdown token. It is derived from the context passed to
	// Open and cancelled by RequestShutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// getMu is held for the duration of GetPacket so Close can wait for a
	// blocked retrieval to return before releasing the handle.
	getMu     sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open acquires the device identified by camera, busID and deviceAddress
// from the registered drivers and prepares it for streaming. Cancelling ctx
// has the same effect as RequestShutdown.
//
// On failure every registered driver is enumerated, the reachable devices
// are logged and a *DeviceOpenError carrying that listing is returned. No
// other device is tried.
func Open(ctx context.Context, drivers Registry, camera string, busID uint16, deviceAddress uint8, opts ...Option) (*Connection, error) {
	o := options{host: DefaultHostConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	fail := func(err error) error {
		logf("failure with camera %q, bus id %d, device address %d: %v", camera, busID, deviceAddress, err)
		available := Enumerate(ctx, drivers)
		logf("available cameras and configurations:\n%s", FormatDeviceList(available))
		return &DeviceOpenError{
			Camera:        camera,
			BusID:         busID,
			DeviceAddress: deviceAddress,
			Err:           err,
			Available:     available,
		}
	}

	cam, err := ParseCameraType(camera)
	if err != nil {
		return nil, fail(err)
	}
	drv := drivers[cam]
	if drv == nil {
		return nil, fail(fmt.Errorf("%w: no driver registered for %s", ErrDriverUnavailable, cam))
	}

	params := Params{Camera: cam, BusID: busID, DeviceAddress: deviceAddress}
	handle, err := drv.Open(ctx, params)
	if err != nil {
		return nil, fail(err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		handle: handle,
		info:   handle.Info(),
		ctx:    cctx,
		cancel: cancel,
	}
	if err := c.configure(o.host); err != nil {
		cancel()
		if cerr := handle.Close(); cerr != nil {
			logf("failed to release %s after configuration error: %v", params, cerr)
		}
		return nil, fmt.Errorf("failed to configure %s: %w", params, err)
	}

	logf("opened %s (max packet size %d, buffer size %d)", c.info, o.host.MaxPacketSize, o.host.BufferSize)
	return c, nil
}

// configure applies the startup sequence. Blocking mode is switched on
// after DataStart because it is a host-side data exchange setting.
func (c *Connection) configure(host HostConfig) error {
	h := c.handle
	if err := h.SendDefaultConfig(); err != nil {
		return fmt.Errorf("failed to send default config: %w", err)
	}
	if err := h.ConfigSet(HostPackets, MaxContainerPacketSize, host.MaxPacketSize); err != nil {
		return fmt.Errorf("failed to set max container packet size: %w", err)
	}
	if err := h.ConfigSet(HostDataExchange, BufferSize, host.BufferSize); err != nil {
		return fmt.Errorf("failed to set buffer size: %w", err)
	}
	if err := h.DataStart(c.RequestShutdown); err != nil {
		return fmt.Errorf("failed to start data stream: %w", err)
	}
	if err := h.ConfigSet(HostDataExchange, Blocking, 1); err != nil {
		if serr := h.DataStop(); serr != nil {
			logf("failed to stop data stream: %v", serr)
		}
		return fmt.Errorf("failed to enable blocking mode: %w", err)
	}
	return nil
}

// Info describes the opened device.
func (c *Connection) Info() DeviceInfo { return c.info }

// GetPacket blocks until the driver delivers a non-empty container and
// returns it; the caller owns the container from then on. Containers that
// hold no packets are retried. Once shutdown has been requested GetPacket
// returns ErrShutdown.
func (c *Connection) GetPacket() (*events.PacketContainer, error) {
	c.getMu.Lock()
	defer c.getMu.Unlock()

	for {
		if c.ctx.Err() != nil {
			return nil, ErrShutdown
		}
		container, err := c.handle.DataGet(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, ErrShutdown
			}
			return nil, err
		}
		if container.Empty() {
			continue
		}
		return container, nil
	}
}

// RequestShutdown asks the stream to stop. It is safe to call from any
// goroutine, any number of times, and wakes a GetPacket blocked in the
// driver.
func (c *Connection) RequestShutdown() {
	c.cancel()
}

// ShutdownRequested reports whether RequestShutdown has been called or the
// parent context is done.
func (c *Connection) ShutdownRequested() bool {
	return c.ctx.Err() != nil
}

// Done is closed once shutdown has been requested.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close requests shutdown, waits for any in-flight GetPacket to return,
// stops streaming and releases the handle. Only the first call does work.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.RequestShutdown()
		c.getMu.Lock()
		defer c.getMu.Unlock()

		if err := c.handle.DataStop(); err != nil {
			logf("failed to stop data stream for %s: %v", c.info, err)
		}
		if err := c.handle.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close %s: %w", c.info, err)
			return
		}
		logf("closed %s", c.info)
	})
	return c.closeErr
}
