//go:build libcaer && cgo

package caer

/*
#cgo pkg-config: libcaer
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <libcaer/libcaer.h>
#include <libcaer/devices/device.h>
#include <libcaer/devices/device_discover.h>
#include <libcaer/devices/davis.h>
#include <libcaer/devices/dvxplorer.h>

extern void eventcamShutdownNotify(void *ptr);
extern void eventcamDataNotify(void *ptr);

static bool eventcam_data_start(caerDeviceHandle h, uintptr_t user) {
	return caerDeviceDataStart(h, eventcamDataNotify, NULL, (void *) user, eventcamShutdownNotify, (void *) user);
}

static bool eventcam_close(caerDeviceHandle h) {
	return caerDeviceClose(&h);
}

typedef struct {
	int      type;
	int      bus;
	int      addr;
	char     serial[16];
	int      width;
	int      height;
	int      unavailable;
} eventcam_dev;

static void eventcam_discovery_at(caerDeviceDiscoveryResult r, ssize_t i, eventcam_dev *out) {
	struct caer_device_discovery_result *d = &r[i];
	memset(out, 0, sizeof(*out));
	out->type        = d->deviceType;
	out->unavailable = d->deviceErrorOpen || d->deviceErrorVersion;
	switch (d->deviceType) {
		case CAER_DEVICE_DAVIS:
			out->bus    = d->deviceInfo.davisInfo.deviceUSBBusNumber;
			out->addr   = d->deviceInfo.davisInfo.deviceUSBDeviceAddress;
			out->width  = d->deviceInfo.davisInfo.dvsSizeX;
			out->height = d->deviceInfo.davisInfo.dvsSizeY;
			strncpy(out->serial, d->deviceInfo.davisInfo.deviceSerialNumber, sizeof(out->serial) - 1);
			break;
		case CAER_DEVICE_DVXPLORER:
			out->bus    = d->deviceInfo.dvXplorerInfo.deviceUSBBusNumber;
			out->addr   = d->deviceInfo.dvXplorerInfo.deviceUSBDeviceAddress;
			out->width  = d->deviceInfo.dvXplorerInfo.dvsSizeX;
			out->height = d->deviceInfo.dvXplorerInfo.dvsSizeY;
			strncpy(out->serial, d->deviceInfo.dvXplorerInfo.deviceSerialNumber, sizeof(out->serial) - 1);
			break;
	}
}

static void eventcam_info(caerDeviceHandle h, int type, eventcam_dev *out) {
	memset(out, 0, sizeof(*out));
	out->type = type;
	if (type == CAER_DEVICE_DAVIS) {
		struct caer_davis_info info = caerDavisInfoGet(h);
		out->bus    = info.deviceUSBBusNumber;
		out->addr   = info.deviceUSBDeviceAddress;
		out->width  = info.dvsSizeX;
		out->height = info.dvsSizeY;
		strncpy(out->serial, info.deviceSerialNumber, sizeof(out->serial) - 1);
	} else {
		struct caer_dvx_info info = caerDVXplorerInfoGet(h);
		out->bus    = info.deviceUSBBusNumber;
		out->addr   = info.deviceUSBDeviceAddress;
		out->width  = info.dvsSizeX;
		out->height = info.dvsSizeY;
		strncpy(out->serial, info.deviceSerialNumber, sizeof(out->serial) - 1);
	}
}

static int64_t eventcam_packet_bytes(caerEventPacketHeader p) {
	return CAER_EVENT_PACKET_HEADER_SIZE
		+ (int64_t) caerEventPacketHeaderGetEventCapacity(p) * caerEventPacketHeaderGetEventSize(p);
}
*/
import "C"

import (
	"context"
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/banshee-data/eventcam/internal/aedat"
	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/events"
)

// Available reports whether the binary was built with libcaer support.
const Available = true

// Driver is the libcaer driver.
type Driver struct{}

// New returns the driver.
func New() *Driver { return &Driver{} }

func deviceType(c device.CameraType) (C.uint16_t, bool) {
	switch c {
	case device.DVXplorer:
		return C.CAER_DEVICE_DVXPLORER, true
	case device.DAVIS:
		return C.CAER_DEVICE_DAVIS, true
	}
	return 0, false
}

func cameraType(t C.int) (device.CameraType, bool) {
	switch t {
	case C.CAER_DEVICE_DVXPLORER:
		return device.DVXplorer, true
	case C.CAER_DEVICE_DAVIS:
		return device.DAVIS, true
	}
	return "", false
}

func devInfo(dev *C.eventcam_dev, cam device.CameraType) device.DeviceInfo {
	return device.DeviceInfo{
		Camera:        cam,
		BusID:         uint16(dev.bus),
		DeviceAddress: uint8(dev.addr),
		Serial:        C.GoString(&dev.serial[0]),
		Width:         int(dev.width),
		Height:        int(dev.height),
		Unavailable:   dev.unavailable != 0,
	}
}

// Enumerate runs libcaer discovery and keeps the supported families.
func (d *Driver) Enumerate(ctx context.Context) ([]device.DeviceInfo, error) {
	var results C.caerDeviceDiscoveryResult
	n := C.caerDeviceDiscover(C.CAER_DEVICE_DISCOVER_ALL, &results)
	if n < 0 {
		return nil, fmt.Errorf("libcaer device discovery failed")
	}
	defer C.free(unsafe.Pointer(results))

	var out []device.DeviceInfo
	for i := C.ssize_t(0); i < n; i++ {
		var dev C.eventcam_dev
		C.eventcam_discovery_at(results, i, &dev)
		cam, ok := cameraType(dev._type)
		if !ok {
			continue
		}
		out = append(out, devInfo(&dev, cam))
	}
	return out, nil
}

// Open opens the first device of the requested family on the given bus and
// address; zero matches any.
func (d *Driver) Open(ctx context.Context, p device.Params) (device.Handle, error) {
	typ, ok := deviceType(p.Camera)
	if !ok {
		return nil, fmt.Errorf("%w: libcaer driver does not serve %s", device.ErrDeviceNotFound, p.Camera)
	}
	if p.BusID > 255 {
		return nil, fmt.Errorf("%w: USB bus id %d out of range", device.ErrDeviceNotFound, p.BusID)
	}

	h := C.caerDeviceOpen(deviceID, typ, C.uint8_t(p.BusID), C.uint8_t(p.DeviceAddress), nil)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, p)
	}

	var dev C.eventcam_dev
	C.eventcam_info(h, C.int(typ), &dev)
	hd := &handle{
		h:      h,
		info:   devInfo(&dev, p.Camera),
		data:   newDataWaiter(pollInterval),
	}
	logf("opened %s", hd.info)
	return hd, nil
}

type handle struct {
	h    C.caerDeviceHandle
	info device.DeviceInfo

	mu         sync.Mutex
	blocking   bool
	onShutdown func()
	self       cgo.Handle
	started    bool

	// data is only waited on by the single consumer calling DataGet.
	data *dataWaiter
}

func (h *handle) Info() device.DeviceInfo { return h.info }

func (h *handle) SendDefaultConfig() error {
	if !bool(C.caerDeviceSendDefaultConfig(h.h)) {
		return fmt.Errorf("caerDeviceSendDefaultConfig failed for %s", h.info)
	}
	return nil
}

// ConfigSet forwards to libcaer. The blocking flag is kept on the Go side
// so a blocked DataGet can also wake on context cancellation.
func (h *handle) ConfigSet(module device.ConfigModule, param device.ConfigParam, value uint32) error {
	if module == device.HostDataExchange && param == device.Blocking {
		h.mu.Lock()
		h.blocking = value != 0
		h.mu.Unlock()
		return nil
	}
	if !bool(C.caerDeviceConfigSet(h.h, C.int8_t(module), C.uint8_t(param), C.uint32_t(value))) {
		return fmt.Errorf("caerDeviceConfigSet(%d, %d, %d) failed", module, param, value)
	}
	return nil
}

func (h *handle) DataStart(onShutdown func()) error {
	h.mu.Lock()
	h.onShutdown = onShutdown
	h.self = cgo.NewHandle(h)
	self := h.self
	h.mu.Unlock()

	if !bool(C.eventcam_data_start(h.h, C.uintptr_t(self))) {
		h.mu.Lock()
		h.self = 0
		h.mu.Unlock()
		self.Delete()
		return fmt.Errorf("caerDeviceDataStart failed for %s", h.info)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	return nil
}

func (h *handle) shutdownNotify() {
	h.mu.Lock()
	cb := h.onShutdown
	h.mu.Unlock()
	logf("%s stopped producing data", h.info)
	if cb != nil {
		cb()
	}
}

func (h *handle) dataNotify() { h.data.signal() }

func (h *handle) DataGet(ctx context.Context) (*events.PacketContainer, error) {
	for {
		c := C.caerDeviceDataGet(h.h)
		if c != nil {
			return convert(c)
		}

		h.mu.Lock()
		blocking := h.blocking
		h.mu.Unlock()
		if !blocking {
			return nil, nil
		}
		if err := h.data.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// convert copies a libcaer container into Go memory and frees it. The
// in-memory packet layout is the AEDAT 3.1 one, so the aedat decoders do
// the per-type work.
func convert(c C.caerEventPacketContainer) (*events.PacketContainer, error) {
	defer C.caerEventPacketContainerFree(c)

	n := int(C.caerEventPacketContainerGetEventPacketsNumber(c))
	out := &events.PacketContainer{Packets: make([]events.Packet, 0, n)}
	for i := 0; i < n; i++ {
		p := C.caerEventPacketContainerGetEventPacket(c, C.int32_t(i))
		if p == nil {
			continue
		}
		size := C.eventcam_packet_bytes(p)
		raw := C.GoBytes(unsafe.Pointer(p), C.int(size))
		pkt, _, err := aedat.DecodePacket(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode packet %d: %w", i, err)
		}
		out.Packets = append(out.Packets, pkt)
	}
	return out, nil
}

func (h *handle) DataStop() error {
	h.mu.Lock()
	started := h.started
	h.started = false
	h.mu.Unlock()
	if !started {
		return nil
	}
	if !bool(C.caerDeviceDataStop(h.h)) {
		return fmt.Errorf("caerDeviceDataStop failed for %s", h.info)
	}
	return nil
}

func (h *handle) Close() error {
	ok := bool(C.eventcam_close(h.h))
	h.mu.Lock()
	if h.self != 0 {
		h.self.Delete()
		h.self = 0
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("caerDeviceClose failed for %s", h.info)
	}
	return nil
}
