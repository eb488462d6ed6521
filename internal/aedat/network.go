package aedat

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/eventcam/internal/events"
)

// Network stream framing.
const (
	NetworkHeaderSize = 20
	NetworkMagic      = 0x1D378BC90B9A6658
	NetworkVersion    = 0x01
)

// NetworkHeader prefixes every datagram of an AEDAT network stream.
type NetworkHeader struct {
	Magic    int64
	Sequence int64
	Version  int8
	Format   int8
	Source   int16
}

// ParseNetworkHeader decodes and checks a network stream header.
func ParseNetworkHeader(b []byte) (NetworkHeader, error) {
	if len(b) < NetworkHeaderSize {
		return NetworkHeader{}, fmt.Errorf("%w: network header needs %d bytes, got %d", ErrCorruptPacket, NetworkHeaderSize, len(b))
	}
	h := NetworkHeader{
		Magic:    int64(binary.LittleEndian.Uint64(b[0:])),
		Sequence: int64(binary.LittleEndian.Uint64(b[8:])),
		Version:  int8(b[16]),
		Format:   int8(b[17]),
		Source:   int16(binary.LittleEndian.Uint16(b[18:])),
	}
	if uint64(h.Magic) != NetworkMagic {
		return h, fmt.Errorf("%w: network magic %#x", ErrCorruptPacket, uint64(h.Magic))
	}
	if h.Version != NetworkVersion {
		return h, fmt.Errorf("%w: network stream version %d", ErrCorruptPacket, h.Version)
	}
	return h, nil
}

// Put encodes h into the first NetworkHeaderSize bytes of b.
func (h NetworkHeader) Put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], uint64(h.Magic))
	binary.LittleEndian.PutUint64(b[8:], uint64(h.Sequence))
	b[16] = byte(h.Version)
	b[17] = byte(h.Format)
	binary.LittleEndian.PutUint16(b[18:], uint16(h.Source))
}

// DecodeDatagram decodes one network stream message: the header followed
// by zero or more complete packets.
func DecodeDatagram(b []byte) (NetworkHeader, *events.PacketContainer, error) {
	h, err := ParseNetworkHeader(b)
	if err != nil {
		return h, nil, err
	}
	c := &events.PacketContainer{}
	rest := b[NetworkHeaderSize:]
	for len(rest) > 0 {
		p, n, err := DecodePacket(rest)
		if err != nil {
			return h, nil, fmt.Errorf("datagram %d: %w", h.Sequence, err)
		}
		c.Packets = append(c.Packets, p)
		rest = rest[n:]
	}
	return h, c, nil
}
