package aedat

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventcam/internal/events"
)

// rawPacket builds a packet with n events of the given size. fill writes
// event i into its slot.
func rawPacket(typ events.SensorType, size, overflow int32, n int, fill func(i int, e []byte)) []byte {
	out := make([]byte, HeaderSize+n*int(size))
	for i := 0; i < n; i++ {
		off := HeaderSize + i*int(size)
		fill(i, out[off:off+int(size)])
	}
	Header{
		EventType:       typ,
		EventSource:     1,
		EventSize:       size,
		EventTSOffset:   4,
		EventTSOverflow: overflow,
		EventCapacity:   int32(n),
		EventNumber:     int32(n),
		EventValid:      int32(n),
	}.put(out)
	return out
}

func TestPolarityRoundTrip(t *testing.T) {
	t.Parallel()

	in := []events.PolarityEvent{
		{Timestamp: 100, X: 5, Y: 1, Valid: true, Polarity: true},
		{Timestamp: 101, X: 639, Y: 479, Valid: true, Polarity: false},
		{Timestamp: 102, X: 0, Y: 0, Valid: false, Polarity: true},
	}
	raw, err := EncodePolarityPacket(3, in)
	require.NoError(t, err)
	assert.Len(t, raw, HeaderSize+3*PolaritySize)

	h, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, events.SensorPolarity, h.EventType)
	assert.Equal(t, int32(2), h.EventValid)

	p, n, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	pp, ok := p.(*events.PolarityPacket)
	require.True(t, ok)
	assert.Equal(t, int16(3), pp.Source)
	assert.Equal(t, in, pp.Events)
}

func TestPolarityDataWordLayout(t *testing.T) {
	t.Parallel()

	raw := rawPacket(events.SensorPolarity, PolaritySize, 2, 1, func(_ int, e []byte) {
		// x=10, y=20, polarity on, valid.
		binary.LittleEndian.PutUint32(e, 10<<17|20<<2|1<<1|1)
		binary.LittleEndian.PutUint32(e[4:], 7)
	})
	p, _, err := DecodePacket(raw)
	require.NoError(t, err)

	got := p.(*events.PolarityPacket).Events[0]
	assert.Equal(t, events.PolarityEvent{
		Timestamp: 2<<31 | 7,
		X:         10,
		Y:         20,
		Valid:     true,
		Polarity:  true,
	}, got)
}

func TestEncodePolarityPacketLimits(t *testing.T) {
	t.Parallel()

	_, err := EncodePolarityPacket(0, []events.PolarityEvent{{Timestamp: 1}, {Timestamp: 1 << 31}})
	assert.Error(t, err, "mixed overflow groups")

	_, err = EncodePolarityPacket(0, []events.PolarityEvent{{X: 1 << 15}})
	assert.Error(t, err, "x beyond 15 bits")

	raw, err := EncodePolarityPacket(0, nil)
	require.NoError(t, err)
	p, _, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestDecodeSpecialAndSpike(t *testing.T) {
	t.Parallel()

	special := rawPacket(events.SensorSpecial, SpecialSize, 0, 1, func(_ int, e []byte) {
		binary.LittleEndian.PutUint32(e, 0xABCD<<8|3<<1|1)
		binary.LittleEndian.PutUint32(e[4:], 55)
	})
	p, _, err := DecodePacket(special)
	require.NoError(t, err)
	assert.Equal(t, events.SpecialEvent{Timestamp: 55, Type: 3, Data: 0xABCD, Valid: true},
		p.(*events.SpecialPacket).Events[0])

	spike := rawPacket(events.SensorSpike, SpikeSize, 1, 1, func(_ int, e []byte) {
		binary.LittleEndian.PutUint32(e, 200<<11|2<<6|3<<1|1)
		binary.LittleEndian.PutUint32(e[4:], 9)
	})
	p, _, err = DecodePacket(spike)
	require.NoError(t, err)
	assert.Equal(t, events.SpikeEvent{Timestamp: 1<<31 | 9, Valid: true, SourceCore: 3, ChipID: 2, NeuronID: 200},
		p.(*events.SpikePacket).Events[0])
}

func TestDecodeIMU(t *testing.T) {
	t.Parallel()

	putF := func(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
	fill6 := func(e []byte) {
		binary.LittleEndian.PutUint32(e, 1)
		binary.LittleEndian.PutUint32(e[4:], 1000)
		for i, v := range []float32{0.5, -1, 9.81, 36.6, 1, 2, 3} {
			putF(e[8+4*i:], v)
		}
	}

	p, _, err := DecodePacket(rawPacket(events.SensorIMU6, IMU6Size, 0, 1, func(_ int, e []byte) { fill6(e) }))
	require.NoError(t, err)
	imu := p.(*events.IMU6Packet).Events[0]
	assert.True(t, imu.Valid)
	assert.Equal(t, uint64(1000), imu.Timestamp)
	assert.Equal(t, float32(9.81), imu.AccelZ)
	assert.Equal(t, float32(36.6), imu.Temperature)
	assert.Equal(t, float32(3), imu.GyroZ)

	p, _, err = DecodePacket(rawPacket(events.SensorIMU9, IMU9Size, 0, 1, func(_ int, e []byte) {
		fill6(e)
		putF(e[36:], 4)
		putF(e[40:], 5)
		putF(e[44:], 6)
	}))
	require.NoError(t, err)
	imu9 := p.(*events.IMU9Packet).Events[0]
	assert.Equal(t, float32(-1), imu9.AccelY)
	assert.Equal(t, [3]float32{4, 5, 6}, [3]float32{imu9.CompX, imu9.CompY, imu9.CompZ})
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	raw := rawPacket(events.SensorFrame, 12, 0, 2, func(i int, e []byte) { e[0] = byte(i + 1) })
	p, _, err := DecodePacket(raw)
	require.NoError(t, err)
	u, ok := p.(*events.UnknownPacket)
	require.True(t, ok)
	assert.Equal(t, events.SensorFrame, u.Type())
	assert.Equal(t, 2, u.Len())
	assert.Len(t, u.Payload, 24)
	assert.Equal(t, byte(2), u.Payload[12])
}

func TestDecodeUsesNumberNotCapacity(t *testing.T) {
	t.Parallel()

	raw := rawPacket(events.SensorPolarity, PolaritySize, 0, 4, func(_ int, e []byte) {
		binary.LittleEndian.PutUint32(e, 1)
	})
	binary.LittleEndian.PutUint32(raw[20:], 2)
	binary.LittleEndian.PutUint32(raw[24:], 2)

	p, n, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, 2, p.Len())
}

func TestCorruptHeaders(t *testing.T) {
	t.Parallel()

	good := rawPacket(events.SensorPolarity, PolaritySize, 0, 1, func(_ int, e []byte) {})
	corrupt := func(off int, v uint32) []byte {
		b := append([]byte(nil), good...)
		binary.LittleEndian.PutUint32(b[off:], v)
		return b
	}

	tests := map[string][]byte{
		"short header":      good[:10],
		"zero size":         corrupt(4, 0),
		"ts offset":         corrupt(8, 6),
		"number > capacity": corrupt(20, 2),
		"valid > number":    corrupt(24, 2),
		"negative capacity": corrupt(16, 0xFFFFFFFF),
		"huge payload":      corrupt(16, 1<<30),
		"truncated payload": good[:len(good)-1],
		"imu6 too small":    rawPacket(events.SensorIMU6, 8, 0, 1, func(_ int, e []byte) {}),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodePacket(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptPacket), err.Error())
		})
	}
}

func TestNetworkDatagram(t *testing.T) {
	t.Parallel()

	pkt, err := EncodePolarityPacket(0, []events.PolarityEvent{{Timestamp: 5, X: 1, Y: 2, Valid: true}})
	require.NoError(t, err)

	msg := make([]byte, NetworkHeaderSize)
	NetworkHeader{Magic: NetworkMagic, Sequence: 42, Version: NetworkVersion, Source: 7}.Put(msg)
	msg = append(msg, pkt...)
	msg = append(msg, pkt...)

	h, c, err := DecodeDatagram(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.Sequence)
	assert.Equal(t, int16(7), h.Source)
	assert.Equal(t, 2, c.Len())

	bad := append([]byte(nil), msg...)
	bad[0] ^= 0xFF
	_, _, err = DecodeDatagram(bad)
	assert.ErrorIs(t, err, ErrCorruptPacket)

	_, _, err = DecodeDatagram(msg[:len(msg)-3])
	assert.ErrorIs(t, err, ErrCorruptPacket)
}
