package device

import (
	"fmt"
	"strings"
)

// CameraType selects a supported sensor family.
type CameraType string

const (
	// DVXplorer is the iniVation DVXplorer family (USB, libcaer).
	DVXplorer CameraType = "dvx"
	// DAVIS is the iniVation DAVIS family (USB, libcaer).
	DAVIS CameraType = "davis"
	// EDVS is the embedded DVS family attached over a serial link.
	EDVS CameraType = "edvs"
)

var supportedCameraTypes = []CameraType{DVXplorer, DAVIS, EDVS}

// SupportedCameraTypes lists every camera family that can be opened.
func SupportedCameraTypes() []CameraType {
	out := make([]CameraType, len(supportedCameraTypes))
	copy(out, supportedCameraTypes)
	return out
}

// ParseCameraType maps a user supplied name onto a CameraType.
func ParseCameraType(name string) (CameraType, error) {
	n := CameraType(strings.ToLower(strings.TrimSpace(name)))
	for _, t := range supportedCameraTypes {
		if n == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q (supported: %s)", ErrUnknownCamera, name, joinCameraTypes(supportedCameraTypes))
}

func joinCameraTypes(types []CameraType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// Params identifies the device to open. A zero BusID or DeviceAddress
// matches the first device of the requested type.
type Params struct {
	Camera        CameraType
	BusID         uint16
	DeviceAddress uint8
}

func (p Params) String() string {
	return fmt.Sprintf("%s bus=%d addr=%d", p.Camera, p.BusID, p.DeviceAddress)
}

// DeviceInfo describes a reachable device.
type DeviceInfo struct {
	Camera        CameraType `json:"camera"`
	BusID         uint16     `json:"bus_id"`
	DeviceAddress uint8      `json:"device_address"`
	Serial        string     `json:"serial,omitempty"`
	// Path is set for devices reached through a named port or file.
	Path   string `json:"path,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Unavailable is set when the device was discovered but cannot be
	// opened (busy, permissions, firmware mismatch).
	Unavailable bool `json:"unavailable,omitempty"`
}

func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%-6s bus=%d addr=%d", d.Camera, d.BusID, d.DeviceAddress)
	if d.Serial != "" {
		s += " serial=" + d.Serial
	}
	if d.Path != "" {
		s += " path=" + d.Path
	}
	if d.Unavailable {
		s += " (unavailable)"
	}
	return s
}
