//go:build !libcaer || !cgo

package caer

import (
	"context"
	"fmt"

	"github.com/banshee-data/eventcam/internal/device"
)

// Available reports whether the binary was built with libcaer support.
const Available = false

// Driver is the libcaer driver. This build has no libcaer support.
type Driver struct{}

// New returns the driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Open(ctx context.Context, p device.Params) (device.Handle, error) {
	return nil, fmt.Errorf("%w: %s needs a build with -tags libcaer", device.ErrDriverUnavailable, p.Camera)
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.DeviceInfo, error) {
	return nil, nil
}
