package edvs

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"go.bug.st/serial"
)

// MockPort is an in-memory Port. Reads block until data is added, the port
// is closed or EndOfStream is called.
type MockPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer
	eof bool

	// ReadError is returned after EndOfStream once the buffered input is
	// consumed.
	ReadError error
	// Closed reports whether Close was called.
	Closed bool
	// Mode is the mode the port was opened with by MockOpener.
	Mode *serial.Mode
}

// NewMockPort returns an empty MockPort.
func NewMockPort() *MockPort {
	p := &MockPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// MockOpener returns a PortOpener that hands out port and records the path.
func MockOpener(port *MockPort, opened *string) PortOpener {
	return func(path string, mode *serial.Mode) (Port, error) {
		port.mu.Lock()
		defer port.mu.Unlock()
		if opened != nil {
			*opened = path
		}
		port.Mode = mode
		return port, nil
	}
}

// AddReadData makes data available to Read.
func (p *MockPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.cond.Broadcast()
}

// EndOfStream makes Read fail with err, or io.EOF when err is nil, once
// the buffered input is consumed.
func (p *MockPort) EndOfStream(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = io.EOF
	}
	p.eof = true
	p.ReadError = err
	p.cond.Broadcast()
}

// Written returns everything written to the port.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.eof && !p.Closed {
		p.cond.Wait()
	}
	if p.in.Len() > 0 {
		return p.in.Read(b)
	}
	if p.Closed {
		return 0, errors.New("port closed")
	}
	return 0, p.ReadError
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errors.New("port closed")
	}
	return p.out.Write(b)
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}
