package device

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCamera is wrapped when the requested camera type is not
	// one of SupportedCameraTypes.
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrDeviceNotFound is returned by drivers when no device matches the
	// requested bus and address.
	ErrDeviceNotFound = errors.New("no matching device")
	// ErrDriverUnavailable is returned by drivers compiled without their
	// native backend.
	ErrDriverUnavailable = errors.New("driver not available in this build")
	// ErrShutdown is returned by GetPacket once shutdown has been requested.
	// It marks the end of the stream, not a failure.
	ErrShutdown = errors.New("device shutdown")
)

// DeviceOpenError is returned when a device cannot be opened. Available
// lists the devices that were reachable at the time of the failure.
type DeviceOpenError struct {
	Camera        string
	BusID         uint16
	DeviceAddress uint8
	Err           error
	Available     []DeviceInfo
}

// Error reports the failure only. The reachable devices are logged once by
// Open and kept in Available.
func (e *DeviceOpenError) Error() string {
	msg := fmt.Sprintf("failed to open camera %q (bus=%d addr=%d): %v", e.Camera, e.BusID, e.DeviceAddress, e.Err)
	if len(e.Available) == 0 {
		return msg + "; no supported devices found"
	}
	return fmt.Sprintf("%s; %d reachable device(s) listed in the log", msg, len(e.Available))
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }
