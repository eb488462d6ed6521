package device

import (
	"context"

	"github.com/banshee-data/eventcam/internal/events"
)

// ConfigModule addresses a group of configuration parameters. Host modules
// use the same negative addresses as libcaer so drivers can pass them
// straight through.
type ConfigModule int8

const (
	HostUSB          ConfigModule = -1
	HostDataExchange ConfigModule = -2
	HostPackets      ConfigModule = -3
)

// ConfigParam addresses a parameter inside a ConfigModule.
type ConfigParam uint8

// HostDataExchange parameters.
const (
	BufferSize     ConfigParam = 0
	Blocking       ConfigParam = 1
	StartProducers ConfigParam = 2
	StopProducers  ConfigParam = 3
)

// HostPackets parameters.
const (
	MaxContainerPacketSize ConfigParam = 0
	MaxContainerInterval   ConfigParam = 1
)

// Driver opens and discovers devices of the camera families it serves.
type Driver interface {
	// Open acquires the device matching p. It returns ErrDeviceNotFound
	// (possibly wrapped) when nothing matches.
	Open(ctx context.Context, p Params) (Handle, error)
	// Enumerate lists devices currently reachable through this driver.
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
}

// Handle is an exclusively owned, opened device. Configuration writes must
// happen before DataStart, apart from host-side data exchange settings.
type Handle interface {
	Info() DeviceInfo
	// SendDefaultConfig writes the sensor's default register values. The
	// hardware does not configure itself.
	SendDefaultConfig() error
	ConfigSet(module ConfigModule, param ConfigParam, value uint32) error
	// DataStart enables streaming. onShutdown is called from the driver's
	// delivery path when the device stops on its own (unplugged, end of
	// recording, read failure).
	DataStart(onShutdown func()) error
	// DataGet returns the next packet container. In blocking mode it
	// waits until data is ready or ctx is done; it may return nil when the
	// driver has nothing yet.
	DataGet(ctx context.Context) (*events.PacketContainer, error)
	DataStop() error
	Close() error
}

// Registry maps each camera family to the driver that serves it.
type Registry map[CameraType]Driver

// HostConfig holds the host-side settings applied on every open.
type HostConfig struct {
	// MaxPacketSize bounds the number of events per delivered container.
	MaxPacketSize uint32
	// BufferSize is the number of containers the driver may queue.
	BufferSize uint32
}

// Default host-side settings.
const (
	DefaultMaxPacketSize uint32 = 4096
	DefaultBufferSize    uint32 = 64
)

// DefaultHostConfig returns the settings used when none are given.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxPacketSize: DefaultMaxPacketSize,
		BufferSize:    DefaultBufferSize,
	}
}
