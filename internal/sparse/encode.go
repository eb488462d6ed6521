package sparse

import (
	"fmt"

	"github.com/banshee-data/eventcam/internal/events"
)

// Encode converts an ordered batch of polarity events into a Batch. Entry i
// of the result is events[i]: no sorting, validity filtering or
// deduplication takes place. An empty input yields an empty (3, 0) batch.
//
// Encode has no shared state and may be called concurrently on independent
// inputs.
func Encode(evts []events.PolarityEvent) *Batch {
	n := len(evts)
	indices := make([]int64, Rows*n)
	values := make([]int8, n)

	ts := indices[:n]
	xs := indices[n : 2*n]
	ys := indices[2*n:]
	for i, e := range evts {
		ts[i] = int64(e.Timestamp)
		xs[i] = int64(e.X)
		ys[i] = int64(e.Y)
		if e.Polarity {
			values[i] = On
		} else {
			values[i] = Off
		}
	}

	b := &Batch{indices: indices, values: values}
	b.mustBeWellFormed()
	return b
}

// EncodeSeq encodes events pulled from next until it reports false. It is
// the streaming counterpart of Encode for callers that do not hold a slice.
func EncodeSeq(next func() (events.PolarityEvent, bool)) *Batch {
	var evts []events.PolarityEvent
	for {
		e, ok := next()
		if !ok {
			break
		}
		evts = append(evts, e)
	}
	return Encode(evts)
}

// mustBeWellFormed panics if the internal bookkeeping is inconsistent.
func (b *Batch) mustBeWellFormed() {
	n := len(b.values)
	if len(b.indices) != Rows*n {
		panic(fmt.Sprintf("sparse: index storage has %d entries for %d values", len(b.indices), n))
	}
	for i, v := range b.values {
		if v != On && v != Off {
			panic(fmt.Sprintf("sparse: value %d at position %d", v, i))
		}
	}
}
