package cm11

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

var errFakeClosed = errors.New("fake port closed")

// fakePort is a scripted serial port. Each Write is recorded and handed to
// respond, which may queue bytes for subsequent reads. Reads with nothing
// queued return (0, nil) after the read timeout, like go.bug.st/serial.
type fakePort struct {
	mu          sync.Mutex
	writes      [][]byte
	rx          []byte
	respond     func(p *fakePort, data []byte)
	ri          bool
	closed      bool
	readTimeout time.Duration
}

func newFakePort(respond func(p *fakePort, data []byte)) *fakePort {
	return &fakePort{respond: respond, readTimeout: 20 * time.Millisecond}
}

// echoGateway answers like healthy hardware: checksum for every
// transmission, ready after every acknowledgement.
func echoGateway(p *fakePort, data []byte) {
	switch {
	case len(data) == 1 && data[0] == x10.Ack:
		p.rx = append(p.rx, x10.Ready)
	case len(data) == 1 && data[0] == x10.DataReadyAck:
	default:
		p.rx = append(p.rx, x10.Checksum(data))
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()
	if timeout > 50*time.Millisecond {
		timeout = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, errFakeClosed
		}
		if len(p.rx) > 0 {
			n := copy(b, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errFakeClosed
	}
	data := append([]byte(nil), b...)
	p.writes = append(p.writes, data)
	if p.respond != nil {
		p.respond(p, data)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &serial.ModemStatusBits{RI: p.ri}, nil
}

// queue makes bytes available to read, as if the gateway sent them.
func (p *fakePort) queue(b ...byte) {
	p.mu.Lock()
	p.rx = append(p.rx, b...)
	p.mu.Unlock()
}

func (p *fakePort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener hands out ports from a list, then fails.
type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	err   error
	calls int
	modes []*serial.Mode
}

func (o *fakeOpener) Open(_ string, mode *serial.Mode) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.modes = append(o.modes, mode)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func (o *fakeOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// recordingSink records status transitions.
type recordingSink struct {
	mu           sync.Mutex
	connected    int
	disconnected []string
}

func (s *recordingSink) OnConnected() {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
}

func (s *recordingSink) OnDisconnected(reason string) {
	s.mu.Lock()
	s.disconnected = append(s.disconnected, reason)
	s.mu.Unlock()
}

func (s *recordingSink) counts() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, append([]string(nil), s.disconnected...)
}

func testTiming() timing {
	return timing{
		readTimeout:       20 * time.Millisecond,
		reconnectInterval: 10 * time.Millisecond,
		pollTimeout:       2 * time.Millisecond,
		pollIdle:          time.Millisecond,
		ringWait:          time.Millisecond,
	}
}

// newTestGateway creates a gateway with shortened timing that opens the
// given fake ports in order.
func newTestGateway(ports ...*fakePort) (*Gateway, *fakeOpener) {
	opener := &fakeOpener{ports: ports}
	g, err := New(Config{PortName: "/dev/ttyTEST", MonitoredHouse: 'A', Opener: opener.Open})
	if err != nil {
		panic(err)
	}
	g.timing = testTiming()
	g.now = func() time.Time { return time.Date(2023, time.December, 31, 13, 45, 30, 0, time.UTC) }
	return g, opener
}
