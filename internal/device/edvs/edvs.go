// Package edvs drives eDVS128 cameras over their USB serial bridge.
//
// The camera is configured with text commands terminated by a newline and
// streams fixed-size binary events once "E+" is sent. A goroutine reads the
// port, decodes events and hands them to the host exchange queue; DataGet
// pops from that queue.
package edvs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/monitoring"
)

var logf = monitoring.Component("edvs")

// Port is the minimal serial port surface the driver needs.
type Port interface {
	io.ReadWriteCloser
}

// timeoutPort is implemented by ports that support read timeouts, which
// lets the reader notice DataStop without the port being closed.
type timeoutPort interface {
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a serial port.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// PortLister lists the serial ports of the host.
type PortLister func() ([]*enumerator.PortDetails, error)

// FTDI vendor id of the USB bridge fitted to eDVS boards.
const ftdiVendorID = "0403"

const readTimeout = 100 * time.Millisecond

// Driver opens eDVS cameras.
type Driver struct {
	path string
	opts PortOptions
	open PortOpener
	list PortLister
}

// Option customises a Driver.
type Option func(*Driver)

// WithPortOpener replaces serial.Open, typically with a fake port in tests.
func WithPortOpener(open PortOpener) Option {
	return func(d *Driver) { d.open = open }
}

// WithPortLister replaces the USB port enumerator.
func WithPortLister(list PortLister) Option {
	return func(d *Driver) { d.list = list }
}

// NewDriver returns a driver for the camera at path. An empty path selects
// the first FTDI USB serial port found.
func NewDriver(path string, opts PortOptions, options ...Option) *Driver {
	d := &Driver{
		path: path,
		opts: opts,
		open: func(path string, mode *serial.Mode) (Port, error) {
			return serial.Open(path, mode)
		},
		list: enumerator.GetDetailedPortsList,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Enumerate lists the FTDI USB serial ports, plus the configured path when
// it is not a USB port.
func (d *Driver) Enumerate(ctx context.Context) ([]device.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var out []device.DeviceInfo
	seenPath := false
	for _, p := range ports {
		if !isCamera(p) {
			continue
		}
		seenPath = seenPath || p.Name == d.path
		out = append(out, device.DeviceInfo{
			Camera: device.EDVS,
			Serial: p.SerialNumber,
			Path:   p.Name,
			Width:  Width,
			Height: Height,
		})
	}
	if d.path != "" && !seenPath {
		out = append(out, device.DeviceInfo{Camera: device.EDVS, Path: d.path, Width: Width, Height: Height})
	}
	return out, nil
}

func isCamera(p *enumerator.PortDetails) bool {
	return p.IsUSB && (strings.EqualFold(p.VID, ftdiVendorID) || strings.Contains(strings.ToUpper(p.Product), "EDVS"))
}

// Open opens the serial port of the camera. Serial cameras have no bus or
// address, so both must be left at zero.
func (d *Driver) Open(ctx context.Context, p device.Params) (device.Handle, error) {
	if p.Camera != device.EDVS {
		return nil, fmt.Errorf("%w: edvs driver cannot open %s", device.ErrDeviceNotFound, p.Camera)
	}
	if p.BusID != 0 || p.DeviceAddress != 0 {
		return nil, fmt.Errorf("%w: serial cameras are addressed by port, bus id and device address must be 0", device.ErrDeviceNotFound)
	}

	path := d.path
	if path == "" {
		found, err := d.Enumerate(ctx)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: no eDVS serial port found", device.ErrDeviceNotFound)
		}
		path = found[0].Path
	}

	mode, err := d.opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := d.open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if tp, ok := port.(timeoutPort); ok {
		if err := tp.SetReadTimeout(readTimeout); err != nil {
			logf("failed to set read timeout on %s: %v", path, err)
		}
	}

	return &handle{
		port: port,
		info: device.DeviceInfo{Camera: device.EDVS, Path: path, Width: Width, Height: Height},
		x:    device.NewHostExchange(),
		stop: make(chan struct{}),
	}, nil
}

type handle struct {
	port Port
	info device.DeviceInfo
	x    *device.HostExchange

	writeMu  sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (h *handle) command(cmd string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := io.WriteString(h.port, cmd+"\n"); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

func (h *handle) Info() device.DeviceInfo { return h.info }

// SendDefaultConfig stops any running stream and selects the event format
// with 32-bit timestamps.
func (h *handle) SendDefaultConfig() error {
	for _, cmd := range []string{"E-", "!E4"} {
		if err := h.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) ConfigSet(module device.ConfigModule, param device.ConfigParam, value uint32) error {
	return h.x.ConfigSet(module, param, value)
}

func (h *handle) DataStart(onShutdown func()) error {
	if h.started {
		return errors.New("edvs: data stream already started")
	}
	h.x.Start(onShutdown)
	if err := h.command("E+"); err != nil {
		return err
	}
	h.started = true
	h.wg.Add(1)
	go h.read()
	return nil
}

// read runs until DataStop, Close or a port error.
func (h *handle) read() {
	defer h.wg.Done()
	defer h.x.Finish()

	var dec Decoder
	buf := make([]byte, 4096)
	var evts []events.PolarityEvent
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		n, err := h.port.Read(buf)
		if n > 0 {
			evts = dec.Feed(evts[:0], buf[:n])
			if dropped := h.x.DeliverPolarity(0, evts); dropped > 0 {
				logf("%s: buffer full, dropped %d containers", h.info.Path, dropped)
			}
		}
		if err != nil {
			select {
			case <-h.stop:
			default:
				logf("%s: read failed, stopping: %v", h.info.Path, err)
			}
			return
		}
		// n == 0 with no error is a read timeout.
	}
}

func (h *handle) DataGet(ctx context.Context) (*events.PacketContainer, error) {
	return h.x.Get(ctx)
}

func (h *handle) DataStop() error {
	if !h.started {
		return nil
	}
	var err error
	h.stopOnce.Do(func() {
		close(h.stop)
		err = h.command("E-")
	})
	return err
}

func (h *handle) Close() error {
	h.stopOnce.Do(func() { close(h.stop) })
	err := h.port.Close()
	h.wg.Wait()
	if h.x.Dropped() > 0 {
		logf("%s: %d containers dropped in total", h.info.Path, h.x.Dropped())
	}
	return err
}
