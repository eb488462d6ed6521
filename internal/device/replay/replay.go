// Package replay serves recorded event streams through the device
// interfaces, so the acquisition pipeline can run without a camera.
//
// A recording is either an AEDAT 3.1 file or a packet capture of an AEDAT
// network stream. The end of the recording is reported the way a camera
// reports being unplugged: through the shutdown callback, after every
// queued container has been handed out.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/monitoring"
	"github.com/banshee-data/eventcam/internal/timeutil"
)

var logf = monitoring.Component("replay")

// Driver replays one recording as a camera of a given family.
type Driver struct {
	path    string
	camera  device.CameraType
	udpPort int
	speed   float64
	clock   timeutil.Clock
}

// Option customises a Driver.
type Option func(*Driver)

// WithUDPPort keeps only capture datagrams sent to port.
func WithUDPPort(port int) Option {
	return func(d *Driver) { d.udpPort = port }
}

// WithSpeed paces delivery by the event timestamps: 1 is real time, 2 twice
// as fast. Zero or less replays as fast as the consumer reads.
func WithSpeed(speed float64) Option {
	return func(d *Driver) { d.speed = speed }
}

// WithClock replaces the wall clock used for pacing.
func WithClock(c timeutil.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// NewDriver returns a driver that presents the recording at path as a
// camera of type camera.
func NewDriver(path string, camera device.CameraType, opts ...Option) *Driver {
	d := &Driver{path: path, camera: camera, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) info() device.DeviceInfo {
	return device.DeviceInfo{Camera: d.camera, Path: d.path, Serial: "replay"}
}

// Enumerate lists the recording if it exists.
func (d *Driver) Enumerate(ctx context.Context) ([]device.DeviceInfo, error) {
	if _, err := os.Stat(d.path); err != nil {
		return nil, nil
	}
	return []device.DeviceInfo{d.info()}, nil
}

// Open opens the recording. Bus id and device address are ignored.
func (d *Driver) Open(ctx context.Context, p device.Params) (device.Handle, error) {
	if p.Camera != d.camera {
		return nil, fmt.Errorf("%w: recording %s is replayed as %s, not %s", device.ErrDeviceNotFound, d.path, d.camera, p.Camera)
	}
	src, err := OpenSource(d.path, d.udpPort)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
		}
		return nil, err
	}
	return newHandle(src, d.info(), d.speed, d.clock), nil
}

type handle struct {
	src   Source
	info  device.DeviceInfo
	x     *device.HostExchange
	speed float64
	clock timeutil.Clock

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newHandle(src Source, info device.DeviceInfo, speed float64, clock timeutil.Clock) *handle {
	return &handle{src: src, info: info, x: device.NewHostExchange(), speed: speed, clock: clock}
}

func (h *handle) Info() device.DeviceInfo { return h.info }

// SendDefaultConfig has nothing to configure on a recording.
func (h *handle) SendDefaultConfig() error { return nil }

func (h *handle) ConfigSet(module device.ConfigModule, param device.ConfigParam, value uint32) error {
	return h.x.ConfigSet(module, param, value)
}

func (h *handle) DataStart(onShutdown func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("replay: data stream already started")
	}
	h.started = true
	h.x.Start(onShutdown)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.play(ctx)
	return nil
}

func (h *handle) play(ctx context.Context) {
	defer h.wg.Done()
	defer h.x.Finish()

	p := pacer{speed: h.speed, clock: h.clock}
	n := 0
	for {
		c, err := h.src.Next()
		if errors.Is(err, io.EOF) {
			logf("end of %s after %d containers", h.info.Path, n)
			return
		}
		if err != nil {
			logf("stopping replay of %s: %v", h.info.Path, err)
			return
		}
		if err := p.wait(ctx, c); err != nil {
			return
		}
		if err := h.x.DeliverWait(ctx, c); err != nil {
			return
		}
		n++
	}
}

func (h *handle) DataGet(ctx context.Context) (*events.PacketContainer, error) {
	return h.x.Get(ctx)
}

func (h *handle) DataStop() error {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
	return nil
}

func (h *handle) Close() error {
	if err := h.DataStop(); err != nil {
		return err
	}
	return h.src.Close()
}

// pacer delays containers so their first event timestamps, in
// microseconds, line up with wall-clock time scaled by speed.
type pacer struct {
	speed float64
	clock timeutil.Clock

	started bool
	firstTS uint64
	start   time.Time
}

func (p *pacer) wait(ctx context.Context, c *events.PacketContainer) error {
	if p.speed <= 0 {
		return nil
	}
	ts, ok := firstTimestamp(c)
	if !ok {
		return nil
	}
	if !p.started || ts < p.firstTS {
		p.started, p.firstTS, p.start = true, ts, p.clock.Now()
		return nil
	}

	offset := time.Duration(float64(ts-p.firstTS) * float64(time.Microsecond) / p.speed)
	delay := p.start.Add(offset).Sub(p.clock.Now())
	if delay <= 0 {
		return nil
	}
	select {
	case <-p.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstTimestamp returns the timestamp of the first event in c.
func firstTimestamp(c *events.PacketContainer) (uint64, bool) {
	for _, p := range c.Packets {
		switch p := p.(type) {
		case *events.PolarityPacket:
			if p != nil && len(p.Events) > 0 {
				return p.Events[0].Timestamp, true
			}
		case *events.SpecialPacket:
			if p != nil && len(p.Events) > 0 {
				return p.Events[0].Timestamp, true
			}
		case *events.IMU6Packet:
			if p != nil && len(p.Events) > 0 {
				return p.Events[0].Timestamp, true
			}
		case *events.IMU9Packet:
			if p != nil && len(p.Events) > 0 {
				return p.Events[0].Timestamp, true
			}
		case *events.SpikePacket:
			if p != nil && len(p.Events) > 0 {
				return p.Events[0].Timestamp, true
			}
		case *events.UnknownPacket:
		}
	}
	return 0, false
}
