package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCameraType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    CameraType
		wantErr bool
	}{
		{"dvx", DVXplorer, false},
		{"DAVIS", DAVIS, false},
		{" edvs ", EDVS, false},
		{"unknown", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCameraType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownCamera)
				assert.Contains(t, err.Error(), "dvx, davis, edvs")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSupportedCameraTypesIsCopy(t *testing.T) {
	t.Parallel()

	types := SupportedCameraTypes()
	types[0] = "mutated"
	assert.Equal(t, DVXplorer, SupportedCameraTypes()[0])
}

func TestEnumerateDeduplicatesSharedDriver(t *testing.T) {
	muteLogs(t)
	shared := NewMockDriver(dvxDevice, davisDevice)
	broken := NewMockDriver()
	broken.EnumerateError = errors.New("permission denied")

	got := Enumerate(context.Background(), Registry{DVXplorer: shared, DAVIS: shared, EDVS: broken})
	assert.Equal(t, []DeviceInfo{dvxDevice, davisDevice}, got)
	assert.Equal(t, 2, shared.EnumerateCalls)
}

func TestFormatDeviceList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "  (none)", FormatDeviceList(nil))
	out := FormatDeviceList([]DeviceInfo{
		dvxDevice,
		{Camera: EDVS, Path: "/dev/ttyUSB0", Unavailable: true},
	})
	assert.Equal(t, "  dvx    bus=2 addr=7 serial=DXA00093\n  edvs   bus=0 addr=0 path=/dev/ttyUSB0 (unavailable)", out)
}
