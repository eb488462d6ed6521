// Package caer drives iniVation USB cameras (DVXplorer and DAVIS) through
// libcaer.
//
// The cgo driver is compiled with the libcaer build tag and needs the
// libcaer headers and pkg-config file. Without the tag the package builds
// a stub whose Open reports device.ErrDriverUnavailable, so the rest of the
// service keeps working with the eDVS and replay drivers.
package caer

import (
	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/monitoring"
)

var logf = monitoring.Component("caer")

// deviceID is the source id libcaer stamps on every packet.
const deviceID = 1

// Register adds the driver for every camera family it serves.
func Register(reg device.Registry) {
	d := New()
	reg[device.DVXplorer] = d
	reg[device.DAVIS] = d
}
