package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketContainerLen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		container *PacketContainer
		wantLen   int
		wantEmpty bool
	}{
		{"nil container", nil, 0, true},
		{"no packets", NewPacketContainer(), 0, true},
		{"only nil packets", NewPacketContainer(nil, nil), 0, true},
		{
			name: "mixed",
			container: NewPacketContainer(
				nil,
				&PolarityPacket{Events: []PolarityEvent{{Timestamp: 1}}},
				&IMU6Packet{},
			),
			wantLen:   2,
			wantEmpty: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLen, tt.container.Len())
			assert.Equal(t, tt.wantEmpty, tt.container.Empty())
		})
	}
}

func TestPacketTypes(t *testing.T) {
	t.Parallel()

	packets := []Packet{
		&PolarityPacket{},
		&SpecialPacket{},
		&IMU6Packet{},
		&IMU9Packet{},
		&SpikePacket{},
		&UnknownPacket{EventType: SensorFrame, Count: 3},
	}
	want := []SensorType{SensorPolarity, SensorSpecial, SensorIMU6, SensorIMU9, SensorSpike, SensorFrame}

	for i, p := range packets {
		assert.Equal(t, want[i], p.Type())
	}
	assert.Equal(t, 3, packets[5].Len())
}

func TestSensorTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "polarity", SensorPolarity.String())
	assert.Equal(t, "spike", SensorSpike.String())
	assert.Equal(t, "type(7)", SensorType(7).String())
}

func TestPolarityEventString(t *testing.T) {
	t.Parallel()

	on := PolarityEvent{Timestamp: 100, X: 5, Y: 1, Valid: true, Polarity: true}
	off := PolarityEvent{Timestamp: 101, X: 6, Y: 2, Valid: true}
	assert.Equal(t, "t=100 x=5 y=1 +", on.String())
	assert.Equal(t, "t=101 x=6 y=2 -", off.String())
}
