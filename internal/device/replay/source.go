package replay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/eventcam/internal/aedat"
	"github.com/banshee-data/eventcam/internal/events"
)

// Source yields the containers of a recording in order and io.EOF at the
// end.
type Source interface {
	Next() (*events.PacketContainer, error)
	Close() error
}

// OpenSource opens path as an AEDAT 3.1 file, or as a packet capture of an
// AEDAT network stream when the file starts with a pcap or pcapng magic
// number. udpPort filters the capture; zero accepts every UDP datagram.
func OpenSource(path string, udpPort int) (Source, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	br := bufio.NewReaderSize(f, 1<<16)
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var src Source
	switch {
	case isPcap(magic):
		src, err = newPcapSource(f, br, udpPort, false)
	case bytes.Equal(magic, pcapngMagic):
		src, err = newPcapSource(f, br, udpPort, true)
	default:
		src, err = newFileSource(f, br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return src, nil
}

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

func isPcap(m []byte) bool {
	if len(m) < 4 {
		return false
	}
	for _, magic := range [][]byte{
		{0xD4, 0xC3, 0xB2, 0xA1}, {0xA1, 0xB2, 0xC3, 0xD4},
		{0x4D, 0x3C, 0xB2, 0xA1}, {0xA1, 0xB2, 0x3C, 0x4D},
	} {
		if bytes.Equal(m, magic) {
			return true
		}
	}
	return false
}

// fileSource replays an AEDAT file, one packet per container.
type fileSource struct {
	c io.Closer
	r *aedat.Reader
}

func newFileSource(c io.Closer, r io.Reader) (*fileSource, error) {
	rd, err := aedat.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &fileSource{c: c, r: rd}, nil
}

func (s *fileSource) Next() (*events.PacketContainer, error) {
	p, err := s.r.ReadPacket()
	if err != nil {
		return nil, err
	}
	return events.NewPacketContainer(p), nil
}

func (s *fileSource) Close() error { return s.c.Close() }

// packetDataSource is the part of pcapgo.Reader and pcapgo.NgReader used
// here.
type packetDataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// pcapSource replays the UDP datagrams of a capture, one datagram per
// container.
type pcapSource struct {
	c       io.Closer
	r       packetDataSource
	udpPort int

	lastSeq  int64
	haveSeq  bool
	gaps     int
	skipped  int
	received int
}

func newPcapSource(c io.Closer, r io.Reader, udpPort int, ng bool) (*pcapSource, error) {
	var (
		pr  packetDataSource
		err error
	)
	if ng {
		pr, err = pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(r)
	}
	if err != nil {
		return nil, err
	}
	return &pcapSource{c: c, r: pr, udpPort: udpPort}, nil
}

func (s *pcapSource) Next() (*events.PacketContainer, error) {
	for {
		data, _, err := s.r.ReadPacketData()
		if err != nil {
			return nil, err
		}
		pkt := gopacket.NewPacket(data, s.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if s.udpPort != 0 && int(udp.DstPort) != s.udpPort {
			continue
		}

		h, c, err := aedat.DecodeDatagram(udp.Payload)
		if err != nil {
			s.skipped++
			logf("skipping datagram: %v", err)
			continue
		}
		s.received++
		if s.haveSeq && h.Sequence != s.lastSeq+1 {
			s.gaps++
			logf("sequence gap: %d after %d", h.Sequence, s.lastSeq)
		}
		s.lastSeq, s.haveSeq = h.Sequence, true
		return c, nil
	}
}

func (s *pcapSource) Close() error {
	if s.skipped > 0 || s.gaps > 0 {
		logf("capture replay: %d datagrams, %d skipped, %d sequence gaps", s.received, s.skipped, s.gaps)
	}
	return s.c.Close()
}
