// Package sparse encodes batches of polarity events as sparse coordinate
// (COO) tensors: a 3×N int64 index matrix with rows [timestamp, x, y] and a
// length-N int8 value vector holding +1 for ON and -1 for OFF events.
//
// Entries are never sorted, filtered or coalesced. Two events at the same
// (t, x, y) remain two entries.
package sparse

import (
	"fmt"
)

// Index rows.
const (
	RowTimestamp = 0
	RowX         = 1
	RowY         = 2

	// Rows is the number of index rows.
	Rows = 3
)

// Polarity values.
const (
	On  int8 = 1
	Off int8 = -1
)

// Batch is an immutable sparse event tensor. It owns its storage; nothing
// returned by its accessors aliases it.
type Batch struct {
	// indices is row-major 3×n: [t0..tn-1, x0..xn-1, y0..yn-1].
	indices []int64
	values  []int8
}

// Len returns N, the number of entries.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.values)
}

// Shape returns the index matrix shape (3, N).
func (b *Batch) Shape() (rows, cols int) {
	return Rows, b.Len()
}

// Row returns a copy of index row r (RowTimestamp, RowX or RowY).
func (b *Batch) Row(r int) []int64 {
	if r < 0 || r >= Rows {
		panic(fmt.Sprintf("sparse: row %d out of range [0,%d)", r, Rows))
	}
	n := b.Len()
	out := make([]int64, n)
	if n > 0 {
		copy(out, b.indices[r*n:(r+1)*n])
	}
	return out
}

// Indices returns a copy of the 3×N index matrix in row-major order.
func (b *Batch) Indices() []int64 {
	out := make([]int64, Rows*b.Len())
	if b != nil {
		copy(out, b.indices)
	}
	return out
}

// Values returns a copy of the value vector.
func (b *Batch) Values() []int8 {
	out := make([]int8, b.Len())
	if b != nil {
		copy(out, b.values)
	}
	return out
}

// At returns entry i as (timestamp, x, y, value).
func (b *Batch) At(i int) (t, x, y int64, v int8) {
	n := b.Len()
	return b.indices[i], b.indices[n+i], b.indices[2*n+i], b.values[i]
}

// TimeRange returns the smallest and largest timestamp in the batch. ok is
// false for an empty batch. Timestamps are not assumed to be sorted.
func (b *Batch) TimeRange() (first, last int64, ok bool) {
	n := b.Len()
	if n == 0 {
		return 0, 0, false
	}
	first, last = b.indices[0], b.indices[0]
	for _, t := range b.indices[1:n] {
		if t < first {
			first = t
		}
		if t > last {
			last = t
		}
	}
	return first, last, true
}

// FromArrays builds a Batch from a row-major 3×N index matrix and N values.
// The inputs are copied. Unlike Encode, malformed input is reported as an
// error since it usually comes from outside the process.
func FromArrays(indices []int64, values []int8) (*Batch, error) {
	n := len(values)
	if len(indices) != Rows*n {
		return nil, fmt.Errorf("sparse: index matrix has %d entries, want %d for %d values", len(indices), Rows*n, n)
	}
	for i, v := range values {
		if v != On && v != Off {
			return nil, fmt.Errorf("sparse: value %d at position %d is not -1 or +1", v, i)
		}
	}
	b := &Batch{
		indices: make([]int64, len(indices)),
		values:  make([]int8, n),
	}
	copy(b.indices, indices)
	copy(b.values, values)
	return b, nil
}
