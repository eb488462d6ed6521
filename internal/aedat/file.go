package aedat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/eventcam/internal/events"
)

// File header markers.
const (
	VersionLine   = "#!AER-DAT3.1"
	EndHeaderLine = "#!END-HEADER"
)

// maxHeaderLines bounds the text header so a non-AEDAT file fails fast.
const maxHeaderLines = 4096

// ErrNotAEDAT is returned when a file does not start with an AEDAT 3.x
// version line.
var ErrNotAEDAT = errors.New("aedat: not an AEDAT 3.x file")

// Reader reads event packets from an AEDAT 3.1 stream.
type Reader struct {
	r      *bufio.Reader
	header []string
	buf    []byte
}

// NewReader parses the text header of r and returns a Reader positioned on
// the first packet.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	rd := &Reader{r: br}

	first, err := readHeaderLine(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAEDAT, err)
	}
	if !strings.HasPrefix(first, "#!AER-DAT3") {
		return nil, fmt.Errorf("%w: version line %q", ErrNotAEDAT, first)
	}
	rd.header = append(rd.header, first)

	for len(rd.header) < maxHeaderLines {
		line, err := readHeaderLine(br)
		if err != nil {
			return nil, fmt.Errorf("aedat: unterminated header: %w", err)
		}
		rd.header = append(rd.header, line)
		if line == EndHeaderLine {
			return rd, nil
		}
		if !strings.HasPrefix(line, "#") {
			return nil, fmt.Errorf("aedat: header line %q does not start with '#'", line)
		}
	}
	return nil, fmt.Errorf("aedat: header longer than %d lines", maxHeaderLines)
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Header returns the text header lines, including the version and end
// markers.
func (r *Reader) Header() []string {
	out := make([]string, len(r.header))
	copy(out, r.header)
	return out
}

// ReadPacket returns the next packet, or io.EOF after the last one. A
// packet cut short by the end of the stream is reported as
// io.ErrUnexpectedEOF.
func (r *Reader) ReadPacket() (events.Packet, error) {
	if cap(r.buf) < HeaderSize {
		r.buf = make([]byte, HeaderSize, 1<<16)
	}
	head := r.buf[:HeaderSize]
	if _, err := io.ReadFull(r.r, head); err != nil {
		return nil, err
	}
	h, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}

	total := HeaderSize + h.PayloadSize()
	if cap(r.buf) < total {
		grown := make([]byte, total)
		copy(grown, head)
		r.buf = grown
	}
	r.buf = r.buf[:total]
	if _, err := io.ReadFull(r.r, r.buf[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	// Decoders copy out of the buffer, so it can be reused.
	p, _, err := DecodePacket(r.buf)
	return p, err
}

// Recording holds the events of a file split by sensor type. Invalid events
// are not included.
type Recording struct {
	Header   []string
	Polarity []events.PolarityEvent
	Spike    []events.SpikeEvent
	IMU6     []events.IMU6Event
	IMU9     []events.IMU9Event
}

// Load reads a whole AEDAT 3.1 file.
func Load(path string) (*Recording, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	rec, err := ReadRecording(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rec, nil
}

// ReadRecording reads every packet from r and collects valid events by
// type. Packet types outside the four collected ones are skipped.
func ReadRecording(r io.Reader) (*Recording, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	rec := &Recording{Header: rd.Header()}

	for {
		p, err := rd.ReadPacket()
		if errors.Is(err, io.EOF) {
			return rec, nil
		}
		if err != nil {
			return nil, err
		}
		switch pkt := p.(type) {
		case *events.PolarityPacket:
			for _, e := range pkt.Events {
				if e.Valid {
					rec.Polarity = append(rec.Polarity, e)
				}
			}
		case *events.SpikePacket:
			for _, e := range pkt.Events {
				if e.Valid {
					rec.Spike = append(rec.Spike, e)
				}
			}
		case *events.IMU6Packet:
			for _, e := range pkt.Events {
				if e.Valid {
					rec.IMU6 = append(rec.IMU6, e)
				}
			}
		case *events.IMU9Packet:
			for _, e := range pkt.Events {
				if e.Valid {
					rec.IMU9 = append(rec.IMU9, e)
				}
			}
		case *events.SpecialPacket, *events.UnknownPacket:
		}
	}
}

// Writer writes an AEDAT 3.1 stream.
type Writer struct {
	w           io.Writer
	wroteHeader bool
	extra       []string
	source      int16
}

// NewWriter returns a Writer that emits the version line, any extra header
// lines (each must start with '#') and the end marker before the first
// packet.
func NewWriter(w io.Writer, source int16, extraHeader ...string) *Writer {
	return &Writer{w: w, extra: extraHeader, source: source}
}

func (w *Writer) writeHeader() error {
	if w.wroteHeader {
		return nil
	}
	var b strings.Builder
	b.WriteString(VersionLine + "\r\n")
	for _, line := range w.extra {
		if !strings.HasPrefix(line, "#") {
			line = "#" + line
		}
		b.WriteString(line + "\r\n")
	}
	b.WriteString(EndHeaderLine + "\r\n")
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return err
	}
	w.wroteHeader = true
	return nil
}

// WritePolarity writes evts as one or more polarity packets, starting a new
// packet whenever the timestamp overflow changes.
func (w *Writer) WritePolarity(evts []events.PolarityEvent) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	start := 0
	for i := 1; i <= len(evts); i++ {
		if i < len(evts) && evts[i].Timestamp>>31 == evts[start].Timestamp>>31 {
			continue
		}
		if err := w.WriteRaw(evts[start:i]); err != nil {
			return err
		}
		start = i
	}
	return nil
}

// WriteRaw writes evts as a single polarity packet.
func (w *Writer) WriteRaw(evts []events.PolarityEvent) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	pkt, err := EncodePolarityPacket(w.source, evts)
	if err != nil {
		return err
	}
	_, err = w.w.Write(pkt)
	return err
}

// Flush writes the header if nothing has been written yet, so an empty
// recording is still a valid file.
func (w *Writer) Flush() error {
	return w.writeHeader()
}
