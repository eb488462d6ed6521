// Package events holds the sensor event data model shared by the device
// drivers, the event stream and the AEDAT codec.
//
// Packets delivered by a driver are grouped into a PacketContainer. A
// container carries heterogeneous packets; each Packet is one of a closed
// set of variants selected by SensorType. Consumers dispatch with a type
// switch and must name every variant they ignore.
package events

import "fmt"

// PolarityEvent is one sensor-reported brightness change at a pixel.
// Timestamp is in sensor-clock microseconds. Polarity true means the
// brightness increased (ON), false means it decreased (OFF).
type PolarityEvent struct {
	Timestamp uint64
	X         uint16
	Y         uint16
	Valid     bool
	Polarity  bool
}

func (e PolarityEvent) String() string {
	sign := "-"
	if e.Polarity {
		sign = "+"
	}
	return fmt.Sprintf("t=%d x=%d y=%d %s", e.Timestamp, e.X, e.Y, sign)
}

// SpecialEvent marks out-of-band sensor conditions (timestamp resets,
// external triggers, overflow markers).
type SpecialEvent struct {
	Timestamp uint64
	Type      uint8
	Data      uint32
	Valid     bool
}

// IMU6Event is a six-axis inertial sample.
type IMU6Event struct {
	Timestamp   uint64
	Valid       bool
	AccelX      float32
	AccelY      float32
	AccelZ      float32
	Temperature float32
	GyroX       float32
	GyroY       float32
	GyroZ       float32
}

// IMU9Event is a nine-axis inertial sample (IMU6 plus compass).
type IMU9Event struct {
	IMU6Event
	CompX float32
	CompY float32
	CompZ float32
}

// SpikeEvent is a neuron spike reported by a neuromorphic processor.
type SpikeEvent struct {
	Timestamp  uint64
	Valid      bool
	SourceCore uint8
	ChipID     uint8
	NeuronID   uint32
}
