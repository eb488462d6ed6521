package device

import (
	"context"
	"strings"
)

// Enumerate lists the devices reachable through every registered driver,
// in SupportedCameraTypes order. A driver registered for several families
// is queried once per family; duplicate listings are dropped. Enumeration
// errors are logged and otherwise ignored since the listing is advisory.
func Enumerate(ctx context.Context, drivers Registry) []DeviceInfo {
	type key struct {
		camera CameraType
		bus    uint16
		addr   uint8
		path   string
	}
	seen := make(map[key]bool)
	var out []DeviceInfo

	for _, cam := range supportedCameraTypes {
		drv := drivers[cam]
		if drv == nil {
			continue
		}
		found, err := drv.Enumerate(ctx)
		if err != nil {
			logf("failed to enumerate %s devices: %v", cam, err)
			continue
		}
		for _, d := range found {
			k := key{d.Camera, d.BusID, d.DeviceAddress, d.Path}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, d)
		}
	}
	return out
}

// FormatDeviceList renders a human-readable listing, one device per line.
func FormatDeviceList(devices []DeviceInfo) string {
	if len(devices) == 0 {
		return "  (none)"
	}
	var b strings.Builder
	for i, d := range devices {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("  ")
		b.WriteString(d.String())
	}
	return b.String()
}
