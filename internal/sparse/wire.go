package sparse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout (little-endian):
//
//	0   4  magic "SPEV"
//	4   2  version (1)
//	6   2  reserved, zero
//	8   8  N
//	16  24N indices, row-major 3×N int64
//	... N   values, int8
const (
	wireMagic      = "SPEV"
	wireVersion    = 1
	wireHeaderSize = 16
)

// ErrBadWireFormat is returned when decoding data that is not a batch.
var ErrBadWireFormat = errors.New("sparse: bad wire format")

// WireSize returns the encoded size of a batch with n entries.
func WireSize(n int) int {
	return wireHeaderSize + 8*Rows*n + n
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Batch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(WireSize(b.Len()))
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the wire form of b to w.
func (b *Batch) WriteTo(w io.Writer) (int64, error) {
	n := b.Len()
	out := make([]byte, WireSize(n))
	copy(out[0:4], wireMagic)
	binary.LittleEndian.PutUint16(out[4:6], wireVersion)
	binary.LittleEndian.PutUint64(out[8:16], uint64(n))

	off := wireHeaderSize
	for i := 0; i < Rows*n; i++ {
		binary.LittleEndian.PutUint64(out[off:], uint64(b.indices[i]))
		off += 8
	}
	for i := 0; i < n; i++ {
		out[off+i] = byte(b.values[i])
	}

	written, err := w.Write(out)
	return int64(written), err
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The receiver must
// be a fresh Batch; batches are otherwise never mutated.
func (b *Batch) UnmarshalBinary(data []byte) error {
	if len(data) < wireHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadWireFormat, len(data))
	}
	if string(data[0:4]) != wireMagic {
		return fmt.Errorf("%w: magic %q", ErrBadWireFormat, data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != wireVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadWireFormat, v)
	}
	if r := binary.LittleEndian.Uint16(data[6:8]); r != 0 {
		return fmt.Errorf("%w: reserved bytes set (%#04x)", ErrBadWireFormat, r)
	}
	n64 := binary.LittleEndian.Uint64(data[8:16])
	maxN := uint64(len(data)-wireHeaderSize) / (8*Rows + 1)
	if n64 > maxN {
		return fmt.Errorf("%w: %d entries do not fit in %d bytes", ErrBadWireFormat, n64, len(data))
	}
	n := int(n64)
	if len(data) != WireSize(n) {
		return fmt.Errorf("%w: %d bytes for %d entries, want %d", ErrBadWireFormat, len(data), n, WireSize(n))
	}

	indices := make([]int64, Rows*n)
	off := wireHeaderSize
	for i := range indices {
		indices[i] = int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
	}
	values := make([]int8, n)
	for i := range values {
		values[i] = int8(data[off+i])
	}

	decoded, err := FromArrays(indices, values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadWireFormat, err)
	}
	*b = *decoded
	return nil
}

// ReadBatch reads one batch in wire form from r. The body is buffered as
// it arrives, so a header claiming more entries than r holds fails without
// allocating for the claimed size.
func ReadBatch(r io.Reader) (*Batch, error) {
	header := make([]byte, wireHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(header[8:16])
	const maxEntries = 1 << 32
	if n > maxEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrBadWireFormat, n)
	}

	var buf bytes.Buffer
	buf.Write(header)
	body := int64(WireSize(int(n))) - wireHeaderSize
	if _, err := io.CopyN(&buf, r, body); err != nil {
		return nil, fmt.Errorf("%w: failed to read batch body of %d entries: %v", ErrBadWireFormat, n, err)
	}
	b := new(Batch)
	if err := b.UnmarshalBinary(buf.Bytes()); err != nil {
		return nil, err
	}
	return b, nil
}
