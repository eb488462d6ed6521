package sparse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventcam/internal/events"
)

func ev(ts uint64, x, y uint16, pol bool) events.PolarityEvent {
	return events.PolarityEvent{Timestamp: ts, X: x, Y: y, Valid: true, Polarity: pol}
}

func TestEncodeExample(t *testing.T) {
	t.Parallel()

	b := Encode([]events.PolarityEvent{
		ev(100, 5, 1, true),
		ev(101, 6, 2, false),
		ev(102, 7, 3, true),
	})

	rows, cols := b.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, []int64{100, 101, 102}, b.Row(RowTimestamp))
	assert.Equal(t, []int64{5, 6, 7}, b.Row(RowX))
	assert.Equal(t, []int64{1, 2, 3}, b.Row(RowY))
	assert.Equal(t, []int8{1, -1, 1}, b.Values())
	assert.Equal(t, []int64{100, 101, 102, 5, 6, 7, 1, 2, 3}, b.Indices())
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range [][]events.PolarityEvent{nil, {}} {
		b := Encode(in)
		rows, cols := b.Shape()
		assert.Equal(t, 3, rows)
		assert.Equal(t, 0, cols)
		assert.Empty(t, b.Values())
		assert.Empty(t, b.Indices())
		assert.Empty(t, b.Row(RowY))
		_, _, ok := b.TimeRange()
		assert.False(t, ok)
	}
}

func TestEncodeKeepsDuplicateCoordinates(t *testing.T) {
	t.Parallel()

	b := Encode([]events.PolarityEvent{
		ev(50, 9, 9, true),
		ev(50, 9, 9, false),
	})

	require.Equal(t, 2, b.Len())
	t0, x0, y0, v0 := b.At(0)
	t1, x1, y1, v1 := b.At(1)
	assert.Equal(t, [3]int64{t0, x0, y0}, [3]int64{t1, x1, y1})
	assert.ElementsMatch(t, []int8{On, Off}, []int8{v0, v1})
}

func TestEncodeDoesNotFilterInvalidEvents(t *testing.T) {
	t.Parallel()

	b := Encode([]events.PolarityEvent{{Timestamp: 1, Valid: false, Polarity: true}})
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []int8{On}, b.Values())
}

func TestEncodeMatchesInputPositionally(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	evts := make([]events.PolarityEvent, 5000)
	for i := range evts {
		// Small coordinate space and jittered timestamps force duplicates
		// and out-of-order entries.
		evts[i] = ev(uint64(rng.Intn(100)), uint16(rng.Intn(4)), uint16(rng.Intn(4)), rng.Intn(2) == 1)
	}

	b := Encode(evts)
	require.Equal(t, len(evts), b.Len())
	for i, e := range evts {
		ts, x, y, v := b.At(i)
		want := Off
		if e.Polarity {
			want = On
		}
		if ts != int64(e.Timestamp) || x != int64(e.X) || y != int64(e.Y) || v != want {
			t.Fatalf("entry %d = (%d,%d,%d,%d), want %v", i, ts, x, y, v, e)
		}
	}
}

func TestEncodeLargeTimestamps(t *testing.T) {
	t.Parallel()

	b := Encode([]events.PolarityEvent{ev(1<<40, 65535, 65535, false)})
	ts, x, y, v := b.At(0)
	assert.Equal(t, int64(1<<40), ts)
	assert.Equal(t, int64(65535), x)
	assert.Equal(t, int64(65535), y)
	assert.Equal(t, Off, v)
}

func TestBatchOwnsItsStorage(t *testing.T) {
	t.Parallel()

	in := []events.PolarityEvent{ev(1, 2, 3, true)}
	b := Encode(in)

	// Reuse the input buffer the way a driver reuses packet memory.
	in[0] = ev(9, 9, 9, false)
	vals := b.Values()
	vals[0] = 0
	row := b.Row(RowX)
	row[0] = 42
	idx := b.Indices()
	idx[0] = 42

	ts, x, y, v := b.At(0)
	assert.Equal(t, [4]int64{1, 2, 3, 1}, [4]int64{ts, x, y, int64(v)})
}

func TestEncodeConcurrent(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			evts := make([]events.PolarityEvent, 100)
			for i := range evts {
				evts[i] = ev(uint64(w*1000+i), uint16(w), uint16(i), i%2 == 0)
			}
			b := Encode(evts)
			assert.Equal(t, int64(w*1000+99), b.Row(RowTimestamp)[99])
		}(w)
	}
	wg.Wait()
}

func TestEncodeSeq(t *testing.T) {
	t.Parallel()

	evts := []events.PolarityEvent{ev(1, 1, 1, true), ev(2, 2, 2, false)}
	i := 0
	b := EncodeSeq(func() (events.PolarityEvent, bool) {
		if i == len(evts) {
			return events.PolarityEvent{}, false
		}
		i++
		return evts[i-1], true
	})
	if diff := cmp.Diff(Encode(evts).Indices(), b.Indices()); diff != "" {
		t.Errorf("indices mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeRange(t *testing.T) {
	t.Parallel()

	b := Encode([]events.PolarityEvent{ev(30, 0, 0, true), ev(10, 0, 0, true), ev(20, 0, 0, true)})
	first, last, ok := b.TimeRange()
	require.True(t, ok)
	assert.Equal(t, int64(10), first)
	assert.Equal(t, int64(30), last)
}

func TestRowOutOfRangePanics(t *testing.T) {
	t.Parallel()

	b := Encode(nil)
	assert.Panics(t, func() { b.Row(3) })
	assert.Panics(t, func() { b.Row(-1) })
}

func TestMalformedBatchPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		(&Batch{indices: make([]int64, 2), values: []int8{1}}).mustBeWellFormed()
	})
	assert.Panics(t, func() {
		(&Batch{indices: make([]int64, 3), values: []int8{0}}).mustBeWellFormed()
	})
}

func TestFromArrays(t *testing.T) {
	t.Parallel()

	b, err := FromArrays([]int64{1, 2, 3, 4, 5, 6}, []int8{-1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, b.Row(RowX))

	_, err = FromArrays([]int64{1, 2}, []int8{1})
	assert.Error(t, err)

	_, err = FromArrays([]int64{1, 2, 3}, []int8{2})
	assert.Error(t, err)
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()

	orig := Encode([]events.PolarityEvent{
		ev(100, 5, 1, true),
		ev(101, 6, 2, false),
		ev(1<<35, 7, 3, true),
	})
	data, err := orig.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, WireSize(3))
	assert.Equal(t, "SPEV", string(data[:4]))

	var decoded Batch
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, orig.Indices(), decoded.Indices())
	assert.Equal(t, orig.Values(), decoded.Values())

	// Two batches back to back on a stream.
	var buf bytes.Buffer
	_, err = orig.WriteTo(&buf)
	require.NoError(t, err)
	_, err = Encode(nil).WriteTo(&buf)
	require.NoError(t, err)

	first, err := ReadBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Len())
	second, err := ReadBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Len())
}

func TestWireRejectsMalformedData(t *testing.T) {
	t.Parallel()

	good, err := Encode([]events.PolarityEvent{ev(1, 1, 1, true)}).MarshalBinary()
	require.NoError(t, err)

	badValue := append([]byte(nil), good...)
	badValue[len(badValue)-1] = 3

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "NOPE")

	badReserved := append([]byte(nil), good...)
	badReserved[6] = 1

	tests := map[string][]byte{
		"short":     good[:8],
		"magic":     badMagic,
		"truncated": good[:len(good)-1],
		"value":     badValue,
		"reserved":  badReserved,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var b Batch
			err := b.UnmarshalBinary(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadWireFormat))
		})
	}
}

// Not parallel: the allocation check reads process-wide counters.
func TestReadBatchHeaderClaimingHugeBody(t *testing.T) {
	header := make([]byte, 16)
	copy(header, "SPEV")
	binary.LittleEndian.PutUint16(header[4:6], 1)
	binary.LittleEndian.PutUint64(header[8:16], 1<<30)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadBatch(bytes.NewReader(header))
	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadWireFormat)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))

	_, err = ReadBatch(bytes.NewReader(header[:10]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
