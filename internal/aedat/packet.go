// Package aedat reads and writes AEDAT 3.1 event packets, the layout used
// by iniVation devices on the wire, in recordings and in network streams.
//
// Every packet starts with a 28-byte little-endian header followed by
// capacity × size bytes of fixed-size events. The 31-bit event timestamps
// are extended to 64 bits with the packet's timestamp overflow counter.
package aedat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/eventcam/internal/events"
)

// HeaderSize is the size of an event packet header.
const HeaderSize = 28

// Event sizes in bytes for the decoded types.
const (
	PolaritySize = 8
	SpecialSize  = 8
	SpikeSize    = 8
	IMU6Size     = 36
	IMU9Size     = 48
)

// maxPacketBytes bounds a single packet's payload so a corrupt header
// cannot make the reader allocate gigabytes.
const maxPacketBytes = 64 << 20

// ErrCorruptPacket is returned for packets whose header is inconsistent.
var ErrCorruptPacket = errors.New("aedat: corrupt packet")

// Header is an event packet header.
type Header struct {
	EventType       events.SensorType
	EventSource     int16
	EventSize       int32
	EventTSOffset   int32
	EventTSOverflow int32
	EventCapacity   int32
	EventNumber     int32
	EventValid      int32
}

// ParseHeader decodes a packet header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrCorruptPacket, HeaderSize, len(b))
	}
	h := Header{
		EventType:       events.SensorType(int16(binary.LittleEndian.Uint16(b[0:]))),
		EventSource:     int16(binary.LittleEndian.Uint16(b[2:])),
		EventSize:       int32(binary.LittleEndian.Uint32(b[4:])),
		EventTSOffset:   int32(binary.LittleEndian.Uint32(b[8:])),
		EventTSOverflow: int32(binary.LittleEndian.Uint32(b[12:])),
		EventCapacity:   int32(binary.LittleEndian.Uint32(b[16:])),
		EventNumber:     int32(binary.LittleEndian.Uint32(b[20:])),
		EventValid:      int32(binary.LittleEndian.Uint32(b[24:])),
	}
	return h, h.check()
}

func (h Header) check() error {
	switch {
	case h.EventSize <= 0:
		return fmt.Errorf("%w: event size %d", ErrCorruptPacket, h.EventSize)
	case h.EventCapacity < 0 || h.EventNumber < 0 || h.EventValid < 0:
		return fmt.Errorf("%w: negative counts (capacity %d, number %d, valid %d)", ErrCorruptPacket, h.EventCapacity, h.EventNumber, h.EventValid)
	case h.EventNumber > h.EventCapacity:
		return fmt.Errorf("%w: %d events exceed capacity %d", ErrCorruptPacket, h.EventNumber, h.EventCapacity)
	case h.EventValid > h.EventNumber:
		return fmt.Errorf("%w: %d valid events exceed %d events", ErrCorruptPacket, h.EventValid, h.EventNumber)
	case h.EventTSOffset < 4 || h.EventTSOffset > h.EventSize-4:
		return fmt.Errorf("%w: timestamp offset %d outside event of size %d", ErrCorruptPacket, h.EventTSOffset, h.EventSize)
	case int64(h.EventCapacity)*int64(h.EventSize) > maxPacketBytes:
		return fmt.Errorf("%w: payload of %d×%d bytes too large", ErrCorruptPacket, h.EventCapacity, h.EventSize)
	}
	return nil
}

// PayloadSize is the number of bytes following the header.
func (h Header) PayloadSize() int {
	return int(h.EventCapacity) * int(h.EventSize)
}

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], uint16(h.EventType))
	binary.LittleEndian.PutUint16(b[2:], uint16(h.EventSource))
	binary.LittleEndian.PutUint32(b[4:], uint32(h.EventSize))
	binary.LittleEndian.PutUint32(b[8:], uint32(h.EventTSOffset))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.EventTSOverflow))
	binary.LittleEndian.PutUint32(b[16:], uint32(h.EventCapacity))
	binary.LittleEndian.PutUint32(b[20:], uint32(h.EventNumber))
	binary.LittleEndian.PutUint32(b[24:], uint32(h.EventValid))
}

// timestamp64 extends a 31-bit event timestamp with the packet overflow.
func timestamp64(overflow int32, ts int32) uint64 {
	return uint64(uint32(overflow))<<31 | uint64(uint32(ts)&0x7FFFFFFF)
}

// DecodePacket decodes one packet (header and payload) from b. It returns
// the packet and the number of bytes consumed. Types without a decoder are
// returned as *events.UnknownPacket with the raw payload.
func DecodePacket(b []byte) (events.Packet, int, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, 0, err
	}
	total := HeaderSize + h.PayloadSize()
	if len(b) < total {
		return nil, 0, fmt.Errorf("%w: %s packet needs %d bytes, got %d", ErrCorruptPacket, h.EventType, total, len(b))
	}
	p, err := decodePayload(h, b[HeaderSize:total])
	if err != nil {
		return nil, 0, err
	}
	return p, total, nil
}

func decodePayload(h Header, payload []byte) (events.Packet, error) {
	n := int(h.EventNumber)
	size := int(h.EventSize)
	need := func(want int) error {
		if size < want {
			return fmt.Errorf("%w: %s event size %d, want at least %d", ErrCorruptPacket, h.EventType, size, want)
		}
		return nil
	}

	switch h.EventType {
	case events.SensorPolarity:
		if err := need(PolaritySize); err != nil {
			return nil, err
		}
		p := &events.PolarityPacket{Source: h.EventSource, Events: make([]events.PolarityEvent, n)}
		for i := range p.Events {
			p.Events[i] = decodePolarity(h, payload[i*size:])
		}
		return p, nil

	case events.SensorSpecial:
		if err := need(SpecialSize); err != nil {
			return nil, err
		}
		p := &events.SpecialPacket{Source: h.EventSource, Events: make([]events.SpecialEvent, n)}
		for i := range p.Events {
			e := payload[i*size:]
			data := binary.LittleEndian.Uint32(e)
			p.Events[i] = events.SpecialEvent{
				Timestamp: timestamp64(h.EventTSOverflow, int32(binary.LittleEndian.Uint32(e[h.EventTSOffset:]))),
				Valid:     data&0x01 != 0,
				Type:      uint8((data >> 1) & 0x7F),
				Data:      data >> 8,
			}
		}
		return p, nil

	case events.SensorIMU6:
		if err := need(IMU6Size); err != nil {
			return nil, err
		}
		p := &events.IMU6Packet{Source: h.EventSource, Events: make([]events.IMU6Event, n)}
		for i := range p.Events {
			p.Events[i] = decodeIMU6(h, payload[i*size:])
		}
		return p, nil

	case events.SensorIMU9:
		if err := need(IMU9Size); err != nil {
			return nil, err
		}
		p := &events.IMU9Packet{Source: h.EventSource, Events: make([]events.IMU9Event, n)}
		for i := range p.Events {
			e := payload[i*size:]
			p.Events[i] = events.IMU9Event{
				IMU6Event: decodeIMU6(h, e),
				CompX:     f32(e[36:]),
				CompY:     f32(e[40:]),
				CompZ:     f32(e[44:]),
			}
		}
		return p, nil

	case events.SensorSpike:
		if err := need(SpikeSize); err != nil {
			return nil, err
		}
		p := &events.SpikePacket{Source: h.EventSource, Events: make([]events.SpikeEvent, n)}
		for i := range p.Events {
			e := payload[i*size:]
			data := binary.LittleEndian.Uint32(e)
			p.Events[i] = events.SpikeEvent{
				Timestamp:  timestamp64(h.EventTSOverflow, int32(binary.LittleEndian.Uint32(e[h.EventTSOffset:]))),
				Valid:      data&0x01 != 0,
				SourceCore: uint8((data >> 1) & 0x1F),
				ChipID:     uint8((data >> 6) & 0x1F),
				NeuronID:   data >> 11,
			}
		}
		return p, nil

	default:
		raw := make([]byte, n*size)
		copy(raw, payload)
		return &events.UnknownPacket{
			EventType: h.EventType,
			Source:    h.EventSource,
			Count:     n,
			Payload:   raw,
		}, nil
	}
}

// Polarity event data word layout.
const (
	polarityValidBit = 0
	polarityBit      = 1
	polarityYShift   = 2
	polarityXShift   = 17
	coordMask        = 0x7FFF
)

func decodePolarity(h Header, e []byte) events.PolarityEvent {
	data := binary.LittleEndian.Uint32(e)
	ts := int32(binary.LittleEndian.Uint32(e[h.EventTSOffset:]))
	return events.PolarityEvent{
		Timestamp: timestamp64(h.EventTSOverflow, ts),
		X:         uint16((data >> polarityXShift) & coordMask),
		Y:         uint16((data >> polarityYShift) & coordMask),
		Valid:     (data>>polarityValidBit)&0x01 != 0,
		Polarity:  (data>>polarityBit)&0x01 != 0,
	}
}

func decodeIMU6(h Header, e []byte) events.IMU6Event {
	info := binary.LittleEndian.Uint32(e)
	return events.IMU6Event{
		Timestamp:   timestamp64(h.EventTSOverflow, int32(binary.LittleEndian.Uint32(e[h.EventTSOffset:]))),
		Valid:       info&0x01 != 0,
		AccelX:      f32(e[8:]),
		AccelY:      f32(e[12:]),
		AccelZ:      f32(e[16:]),
		Temperature: f32(e[20:]),
		GyroX:       f32(e[24:]),
		GyroY:       f32(e[28:]),
		GyroZ:       f32(e[32:]),
	}
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// EncodePolarityPacket encodes polarity events as one packet. All events
// must share the same timestamp overflow (bits 31 and up of Timestamp) and
// have coordinates below 2^15.
func EncodePolarityPacket(source int16, evts []events.PolarityEvent) ([]byte, error) {
	var overflow uint64
	if len(evts) > 0 {
		overflow = evts[0].Timestamp >> 31
	}
	if overflow > math.MaxInt32 {
		return nil, fmt.Errorf("aedat: timestamp %d beyond the representable range", evts[0].Timestamp)
	}

	valid := 0
	out := make([]byte, HeaderSize+len(evts)*PolaritySize)
	for i, e := range evts {
		if e.Timestamp>>31 != overflow {
			return nil, fmt.Errorf("aedat: event %d timestamp %d crosses overflow %d", i, e.Timestamp, overflow)
		}
		if e.X > coordMask || e.Y > coordMask {
			return nil, fmt.Errorf("aedat: event %d coordinates (%d,%d) exceed 15 bits", i, e.X, e.Y)
		}
		data := uint32(e.X)<<polarityXShift | uint32(e.Y)<<polarityYShift
		if e.Polarity {
			data |= 1 << polarityBit
		}
		if e.Valid {
			data |= 1 << polarityValidBit
			valid++
		}
		off := HeaderSize + i*PolaritySize
		binary.LittleEndian.PutUint32(out[off:], data)
		binary.LittleEndian.PutUint32(out[off+4:], uint32(e.Timestamp&0x7FFFFFFF))
	}

	Header{
		EventType:       events.SensorPolarity,
		EventSource:     source,
		EventSize:       PolaritySize,
		EventTSOffset:   4,
		EventTSOverflow: int32(overflow),
		EventCapacity:   int32(len(evts)),
		EventNumber:     int32(len(evts)),
		EventValid:      int32(valid),
	}.put(out)
	return out, nil
}
