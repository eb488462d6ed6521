package edvs

import "github.com/banshee-data/eventcam/internal/events"

// Sensor geometry of the eDVS128.
const (
	Width  = 128
	Height = 128
)

// eventSize is the length of one event in the "!E4" stream format:
//
//	1yyyyyyy pxxxxxxx tttttttt tttttttt tttttttt tttttttt
//
// with a big-endian 32-bit microsecond timestamp. A cleared p bit is an ON
// event.
const eventSize = 6

// Decoder turns the raw byte stream into polarity events. It keeps partial
// events across Feed calls, resynchronises on bytes that cannot start an
// event and extends the 32-bit device timestamps to 64 bits.
type Decoder struct {
	pending [eventSize]byte
	have    int

	lastTS  uint32
	epoch   uint64
	started bool

	// Skipped counts bytes discarded while looking for an event start.
	Skipped int
}

// Feed decodes b and appends the complete events to dst.
func (d *Decoder) Feed(dst []events.PolarityEvent, b []byte) []events.PolarityEvent {
	for _, c := range b {
		if d.have == 0 && c&0x80 == 0 {
			d.Skipped++
			continue
		}
		d.pending[d.have] = c
		d.have++
		if d.have < eventSize {
			continue
		}
		d.have = 0
		dst = append(dst, d.event())
	}
	return dst
}

func (d *Decoder) event() events.PolarityEvent {
	p := d.pending
	ts := uint32(p[2])<<24 | uint32(p[3])<<16 | uint32(p[4])<<8 | uint32(p[5])
	if d.started && ts < d.lastTS {
		d.epoch += 1 << 32
	}
	d.started = true
	d.lastTS = ts

	return events.PolarityEvent{
		Timestamp: d.epoch | uint64(ts),
		X:         uint16(p[1] & 0x7F),
		Y:         uint16(p[0] & 0x7F),
		Valid:     true,
		Polarity:  p[1]&0x80 == 0,
	}
}
