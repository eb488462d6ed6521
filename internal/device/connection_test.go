package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/monitoring"
)

var (
	dvxDevice   = DeviceInfo{Camera: DVXplorer, BusID: 2, DeviceAddress: 7, Serial: "DXA00093"}
	davisDevice = DeviceInfo{Camera: DAVIS, BusID: 1, DeviceAddress: 4, Serial: "00000412"}
)

func muteLogs(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return &lines
}

func polarityContainer(ts ...uint64) *events.PacketContainer {
	evts := make([]events.PolarityEvent, len(ts))
	for i, t := range ts {
		evts[i] = events.PolarityEvent{Timestamp: t, Valid: true}
	}
	return events.NewPacketContainer(&events.PolarityPacket{Events: evts})
}

func openMock(t *testing.T, ctx context.Context) (*Connection, *MockHandle) {
	t.Helper()
	handle := NewMockHandle(dvxDevice)
	drv := NewMockDriver(dvxDevice)
	drv.Handle = handle
	conn, err := Open(ctx, Registry{DVXplorer: drv}, "dvx", 2, 7)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, handle
}

func TestOpenAppliesStartupSequence(t *testing.T) {
	muteLogs(t)
	handle := NewMockHandle(dvxDevice)
	drv := NewMockDriver(dvxDevice)
	drv.Handle = handle

	conn, err := Open(context.Background(), Registry{DVXplorer: drv}, "dvx", 2, 7,
		WithHostConfig(HostConfig{MaxPacketSize: 1024, BufferSize: 8}))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{
		"SendDefaultConfig",
		"ConfigSet(-3,0,1024)",
		"ConfigSet(-2,0,8)",
		"DataStart",
		"ConfigSet(-2,1,1)",
	}, handle.CallLog())
	assert.Equal(t, dvxDevice, conn.Info())
	require.Len(t, drv.OpenCalls, 1)
	assert.Equal(t, Params{Camera: DVXplorer, BusID: 2, DeviceAddress: 7}, drv.OpenCalls[0])
}

func TestOpenUsesDefaultHostConfig(t *testing.T) {
	muteLogs(t)
	_, handle := openMock(t, context.Background())

	assert.Equal(t, DefaultMaxPacketSize, handle.Config[ConfigKey{HostPackets, MaxContainerPacketSize}])
	assert.Equal(t, DefaultBufferSize, handle.Config[ConfigKey{HostDataExchange, BufferSize}])
}

func TestOpenUnknownCamera(t *testing.T) {
	lines := muteLogs(t)
	dvx := NewMockDriver(dvxDevice)
	davis := NewMockDriver(davisDevice)

	_, err := Open(context.Background(), Registry{DVXplorer: dvx, DAVIS: davis}, "unknown", 1, 1)
	require.Error(t, err)

	var openErr *DeviceOpenError
	require.True(t, errors.As(err, &openErr))
	assert.ErrorIs(t, err, ErrUnknownCamera)
	assert.Equal(t, "unknown", openErr.Camera)
	assert.Equal(t, []DeviceInfo{dvxDevice, davisDevice}, openErr.Available)
	for _, d := range openErr.Available {
		assert.NotEqual(t, CameraType("unknown"), d.Camera)
	}
	assert.NotContains(t, SupportedCameraTypes(), CameraType("unknown"))

	// No driver is asked to open anything; each is asked to enumerate.
	assert.Empty(t, dvx.OpenCalls)
	assert.Equal(t, 1, dvx.EnumerateCalls)
	assert.Equal(t, 1, davis.EnumerateCalls)

	joined := strings.Join(*lines, "\n")
	assert.Contains(t, joined, "available cameras")
	assert.Contains(t, joined, "serial=DXA00093")
}

func TestOpenDeviceNotFound(t *testing.T) {
	muteLogs(t)
	drv := NewMockDriver(dvxDevice)

	_, err := Open(context.Background(), Registry{DVXplorer: drv}, "dvx", 9, 9)
	require.Error(t, err)

	var openErr *DeviceOpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, uint16(9), openErr.BusID)
	assert.Equal(t, uint8(9), openErr.DeviceAddress)
	assert.Equal(t, []DeviceInfo{dvxDevice}, openErr.Available)
	assert.Contains(t, err.Error(), "1 reachable device(s) listed in the log")
	// Exactly one open attempt, no fallback to the listed device.
	assert.Len(t, drv.OpenCalls, 1)
}

func TestOpenFailureListsDevicesOnce(t *testing.T) {
	lines := muteLogs(t)
	drv := NewMockDriver(dvxDevice)

	_, err := Open(context.Background(), Registry{DVXplorer: drv}, "dvx", 9, 9)
	require.Error(t, err)

	joined := strings.Join(*lines, "\n")
	assert.Equal(t, 1, strings.Count(joined, "DXA00093"))
	assert.NotContains(t, err.Error(), "DXA00093")
	assert.NotContains(t, err.Error(), "bus=2 addr=7")
}

func TestOpenMissingDriver(t *testing.T) {
	muteLogs(t)
	_, err := Open(context.Background(), Registry{}, "davis", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriverUnavailable)
	assert.Contains(t, err.Error(), "no supported devices found")
}

func TestOpenConfigurationFailureReleasesHandle(t *testing.T) {
	muteLogs(t)
	handle := NewMockHandle(dvxDevice)
	handle.DataStartError = errors.New("usb stall")
	drv := NewMockDriver(dvxDevice)
	drv.Handle = handle

	_, err := Open(context.Background(), Registry{DVXplorer: drv}, "dvx", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usb stall")
	assert.True(t, handle.Closed)

	var openErr *DeviceOpenError
	assert.False(t, errors.As(err, &openErr), "configuration failures are not open failures")
}

func TestGetPacketSkipsEmptyContainers(t *testing.T) {
	muteLogs(t)
	conn, handle := openMock(t, context.Background())

	handle.Push(nil, events.NewPacketContainer(), events.NewPacketContainer(nil), polarityContainer(10, 11))

	c, err := conn.GetPacket()
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, 0, handle.Pending())
}

func TestGetPacketPropagatesDriverError(t *testing.T) {
	muteLogs(t)
	conn, handle := openMock(t, context.Background())
	handle.DataGetError = errors.New("transfer failed")

	_, err := conn.GetPacket()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown)
}

func TestRequestShutdownWakesBlockedGetPacket(t *testing.T) {
	muteLogs(t)
	conn, _ := openMock(t, context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.GetPacket()
		errCh <- err
	}()

	// Give the goroutine time to block inside DataGet.
	time.Sleep(20 * time.Millisecond)
	conn.RequestShutdown()
	conn.RequestShutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("GetPacket did not return after RequestShutdown")
	}
	assert.True(t, conn.ShutdownRequested())

	_, err := conn.GetPacket()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestParentContextCancelStopsStream(t *testing.T) {
	muteLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	conn, _ := openMock(t, ctx)

	cancel()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not done after parent cancel")
	}
	_, err := conn.GetPacket()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestDriverShutdownCallback(t *testing.T) {
	muteLogs(t)
	conn, handle := openMock(t, context.Background())

	handle.Disconnect()
	_, err := conn.GetPacket()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestCloseReleasesOnce(t *testing.T) {
	muteLogs(t)
	handle := NewMockHandle(dvxDevice)
	drv := NewMockDriver(dvxDevice)
	drv.Handle = handle
	conn, err := Open(context.Background(), Registry{DVXplorer: drv}, "dvx", 0, 0)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	calls := handle.CallLog()
	assert.Equal(t, []string{"DataStop", "Close"}, calls[len(calls)-2:])
	assert.True(t, handle.Closed)
	assert.True(t, conn.ShutdownRequested())
}

func TestCloseWaitsForBlockedGetPacket(t *testing.T) {
	muteLogs(t)
	conn, handle := openMock(t, context.Background())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := conn.GetPacket()
		done <- err
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, conn.Close())
	assert.True(t, handle.Closed)
	assert.ErrorIs(t, <-done, ErrShutdown)
}
