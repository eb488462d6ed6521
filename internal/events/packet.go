package events

import "fmt"

// SensorType identifies the kind of events a packet carries. Values match
// the AEDAT 3.1 event type ids.
type SensorType int16

const (
	SensorSpecial  SensorType = 0
	SensorPolarity SensorType = 1
	SensorFrame    SensorType = 2
	SensorIMU6     SensorType = 3
	SensorIMU9     SensorType = 4
	SensorSpike    SensorType = 12
)

func (t SensorType) String() string {
	switch t {
	case SensorSpecial:
		return "special"
	case SensorPolarity:
		return "polarity"
	case SensorFrame:
		return "frame"
	case SensorIMU6:
		return "imu6"
	case SensorIMU9:
		return "imu9"
	case SensorSpike:
		return "spike"
	default:
		return fmt.Sprintf("type(%d)", int16(t))
	}
}

// Packet is one homogeneous batch of events inside a PacketContainer.
// The set of implementations is closed: PolarityPacket, SpecialPacket,
// IMU6Packet, IMU9Packet, SpikePacket and UnknownPacket.
type Packet interface {
	Type() SensorType
	// Len is the number of events held, valid or not.
	Len() int
	packet()
}

// PolarityPacket carries polarity events in delivery order.
type PolarityPacket struct {
	Source int16
	Events []PolarityEvent
}

func (*PolarityPacket) Type() SensorType { return SensorPolarity }
func (p *PolarityPacket) Len() int       { return len(p.Events) }
func (*PolarityPacket) packet()          {}

// SpecialPacket carries special events.
type SpecialPacket struct {
	Source int16
	Events []SpecialEvent
}

func (*SpecialPacket) Type() SensorType { return SensorSpecial }
func (p *SpecialPacket) Len() int       { return len(p.Events) }
func (*SpecialPacket) packet()          {}

// IMU6Packet carries six-axis inertial samples.
type IMU6Packet struct {
	Source int16
	Events []IMU6Event
}

func (*IMU6Packet) Type() SensorType { return SensorIMU6 }
func (p *IMU6Packet) Len() int       { return len(p.Events) }
func (*IMU6Packet) packet()          {}

// IMU9Packet carries nine-axis inertial samples.
type IMU9Packet struct {
	Source int16
	Events []IMU9Event
}

func (*IMU9Packet) Type() SensorType { return SensorIMU9 }
func (p *IMU9Packet) Len() int       { return len(p.Events) }
func (*IMU9Packet) packet()          {}

// SpikePacket carries neuron spikes.
type SpikePacket struct {
	Source int16
	Events []SpikeEvent
}

func (*SpikePacket) Type() SensorType { return SensorSpike }
func (p *SpikePacket) Len() int       { return len(p.Events) }
func (*SpikePacket) packet()          {}

// UnknownPacket is any packet whose type has no decoder here (frames,
// ear/cochlea, point events). The payload is kept undecoded.
type UnknownPacket struct {
	EventType SensorType
	Source    int16
	Count     int
	Payload   []byte
}

func (p *UnknownPacket) Type() SensorType { return p.EventType }
func (p *UnknownPacket) Len() int         { return p.Count }
func (*UnknownPacket) packet()            {}

// PacketContainer is a batch of packets delivered atomically by a driver.
// Entries may be nil where the driver had no packet for a slot.
type PacketContainer struct {
	Packets []Packet
}

// NewPacketContainer builds a container from the given packets.
func NewPacketContainer(packets ...Packet) *PacketContainer {
	return &PacketContainer{Packets: packets}
}

// Len returns the number of non-nil packets.
func (c *PacketContainer) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, p := range c.Packets {
		if p != nil {
			n++
		}
	}
	return n
}

// Empty reports whether the container holds no packets at all.
func (c *PacketContainer) Empty() bool {
	return c.Len() == 0
}
