package cm11

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Protocol timing and limits.
const (
	// ReadTimeout bounds every blocking read from the gateway.
	ReadTimeout = 4 * time.Second

	// ReconnectInterval is the fixed delay between connection attempts.
	ReconnectInterval = 5 * time.Second

	// MaxRetries is the number of attempts per transmission.
	MaxRetries = 5

	// pollTimeout is how long the receive loop waits for an unsolicited byte
	// while holding the transport lock.
	pollTimeout = 50 * time.Millisecond

	// pollIdle is the gap between receive polls, leaving room for senders.
	pollIdle = 10 * time.Millisecond

	// ringWait is the pause before rechecking when the ring indicator is
	// asserted but no byte has arrived yet.
	ringWait = 20 * time.Millisecond

	// maxRingWaits bounds the ring-indicator rechecks per poll.
	maxRingWaits = 10

	// eventQueueSize is the buffer between the receive loop and listeners.
	eventQueueSize = 64
)

// timing holds the tunable durations. Production code always uses
// defaultTiming; tests shorten them.
type timing struct {
	readTimeout       time.Duration
	reconnectInterval time.Duration
	pollTimeout       time.Duration
	pollIdle          time.Duration
	ringWait          time.Duration
}

func defaultTiming() timing {
	return timing{
		readTimeout:       ReadTimeout,
		reconnectInterval: ReconnectInterval,
		pollTimeout:       pollTimeout,
		pollIdle:          pollIdle,
		ringWait:          ringWait,
	}
}

// Config holds gateway configuration.
type Config struct {
	// PortName is the serial device, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string

	// MonitoredHouse is the house letter reported to the gateway in the
	// clock-set frame. Default: 'A'.
	MonitoredHouse byte

	// Opener opens the port. Default: OpenSerial.
	Opener Opener
}

// Stats holds operational statistics.
type Stats struct {
	CommandsTx      uint64 // Functions fully sent (address + function)
	TransmissionsTx uint64 // Acknowledged transmissions, including clock sets
	ChecksumRetries uint64 // Checksum mismatches that caused a resend
	EventsRx        uint64 // Inbound events decoded
	EventsDropped   uint64 // Events dropped due to full dispatch queue
	UploadsRx       uint64 // Inbound buffers read
	ClockSets       uint64 // Clock-set requests answered
	FilterFails     uint64 // Filter-fail notifications
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful connections after the first
	QueueDepth      int
	QueueDropped    uint64 // Schedule calls rejected by a full queue
	LastActivity    time.Time
	Connected       bool
}

// Gateway drives one CM11 serial gateway.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Every conversation with the hardware runs under portMu.
//   - Listeners run on a dedicated dispatcher goroutine.
type Gateway struct {
	cfg    Config
	opener Opener
	timing timing
	now    func() time.Time

	// portMu serialises conversations with the hardware.
	portMu sync.Mutex

	// stateMu guards port and connected.
	stateMu   sync.RWMutex
	port      Port
	connected bool

	// connectMu serialises Connect.
	connectMu sync.Mutex

	parser    *x10.FrameParser
	listeners *x10.ListenerRegistry
	queue     *CommandQueue
	events    chan x10.Event

	status   StatusSink
	statusMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// Shutdown coordination
	done      *closeOnce
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup

	// callbacks counts listener, device update and status sink calls in
	// progress on gateway goroutines.
	callbacks atomic.Int32

	// Statistics
	commandsTx      atomic.Uint64
	transmissionsTx atomic.Uint64
	checksumRetries atomic.Uint64
	eventsRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	uploadsRx       atomic.Uint64
	clockSets       atomic.Uint64
	filterFails     atomic.Uint64
	errorsTotal     atomic.Uint64
	connectsTotal   atomic.Uint64
	queueDropped    atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates a gateway. It does not open the port; call Start or Connect.
//
// Parameters:
//   - cfg: Gateway configuration
//
// Returns:
//   - *Gateway: Gateway with its event dispatcher running
//   - error: If the port name or monitored house is invalid
func New(cfg Config) (*Gateway, error) {
	if cfg.PortName == "" {
		return nil, fmt.Errorf("%w: port name is required", ErrPortConfiguration)
	}
	if cfg.MonitoredHouse == 0 {
		cfg.MonitoredHouse = 'A'
	}
	house, err := x10.ParseHouse(string(cfg.MonitoredHouse))
	if err != nil {
		return nil, fmt.Errorf("monitored house: %w", err)
	}
	cfg.MonitoredHouse = house

	opener := cfg.Opener
	if opener == nil {
		opener = OpenSerial
	}

	g := &Gateway{
		cfg:       cfg,
		opener:    opener,
		timing:    defaultTiming(),
		now:       time.Now,
		parser:    x10.NewFrameParser(),
		listeners: x10.NewListenerRegistry(),
		queue:     NewCommandQueue(QueueCapacity),
		events:    make(chan x10.Event, eventQueueSize),
		done:      newCloseOnce(),
		cancel:    func() {},
	}

	g.wg.Add(1)
	go g.dispatchLoop()

	return g, nil
}

// Start launches the command worker and the connection supervisor. The
// goroutines stop when ctx is cancelled or Disconnect is called. Calling
// Start more than once has no effect.
func (g *Gateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.stateMu.Lock()
		defer g.stateMu.Unlock()
		if g.isClosed() {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		g.cancel = cancel

		g.wg.Add(2)
		go g.workerLoop(ctx)
		go g.superviseLoop(ctx)
	})
}

// Connect opens the serial port if it is not already open.
//
// On failure the status sink is told why and false is returned; the
// supervisor or the worker will try again after ReconnectInterval.
//
// Returns:
//   - bool: true if the gateway is connected on return
func (g *Gateway) Connect() bool {
	if g.isClosed() {
		return false
	}

	g.connectMu.Lock()
	defer g.connectMu.Unlock()

	if g.IsConnected() {
		return true
	}

	port, err := g.replacePort()
	if errors.Is(err, ErrClosed) {
		return false
	}
	if err != nil {
		g.errorsTotal.Add(1)
		g.logError("gateway connect failed", err, "port", g.cfg.PortName)
		g.notifyDisconnected(disconnectReason(err))
		return false
	}

	go g.receiveLoop(port)

	if g.connectsTotal.Add(1) > 1 {
		g.logInfo("gateway reconnected", "port", g.cfg.PortName)
	} else {
		g.logInfo("gateway connected", "port", g.cfg.PortName)
	}
	g.lastActivity.Store(g.now().Unix())
	g.notifyConnected()
	return true
}

// replacePort closes any stale port and opens a fresh one. On success the
// receive loop's WaitGroup slot is already reserved.
func (g *Gateway) replacePort() (Port, error) {
	// Wait for any conversation still running on a stale port.
	g.portMu.Lock()
	defer g.portMu.Unlock()

	g.stateMu.Lock()
	stale := g.port
	g.port = nil
	g.stateMu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}

	port, err := g.open()
	if err != nil {
		return nil, err
	}

	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	if g.isClosed() {
		_ = port.Close()
		return nil, ErrClosed
	}
	g.port = port
	g.connected = true
	g.wg.Add(1)
	return port, nil
}

// open opens and configures the port.
func (g *Gateway) open() (Port, error) {
	port, err := g.opener(g.cfg.PortName, gatewayMode())
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if err := port.SetReadTimeout(g.timing.readTimeout); err != nil {
		_ = port.Close()
		return nil, classifyOpenError(err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		g.logWarn("reset input buffer failed", "error", err)
	}
	return port, nil
}

// Disconnect stops the worker, supervisor, receive loop and dispatcher and
// closes the port. Safe to call multiple times.
//
// Disconnect waits for those goroutines to exit, except when a listener,
// device update or status callback is running: such a callback may be the
// caller, and its goroutine exits on its own once the callback returns.
func (g *Gateway) Disconnect() {
	g.stateMu.Lock()
	if g.isClosed() {
		g.stateMu.Unlock()
		return
	}
	g.done.Close()
	cancel := g.cancel
	port := g.port
	wasConnected := g.connected
	g.port = nil
	g.connected = false
	g.stateMu.Unlock()

	cancel()

	// Closing the port unblocks a read in progress under portMu.
	if port != nil {
		if err := port.Close(); err != nil {
			g.logDebug("close port", "error", err)
		}
	}

	if g.callbacks.Load() == 0 {
		g.wg.Wait()
	}

	if wasConnected {
		g.notifyDisconnected("gateway stopped")
	}
	g.logInfo("gateway disconnected", "port", g.cfg.PortName)
}

// markDisconnected closes port and reports reason, but only if port is
// still the current one.
func (g *Gateway) markDisconnected(port Port, reason string) {
	g.stateMu.Lock()
	if port == nil {
		port = g.port
	}
	if port == nil || g.port != port {
		g.stateMu.Unlock()
		return
	}
	g.port = nil
	g.connected = false
	closed := g.isClosed()
	g.stateMu.Unlock()

	_ = port.Close()

	if closed {
		return
	}
	g.logWarn("gateway connection lost", "reason", reason)
	g.notifyDisconnected(reason)
}

// superviseLoop reconnects while disconnected so inbound traffic resumes
// without waiting for an outbound command.
func (g *Gateway) superviseLoop(ctx context.Context) {
	defer g.wg.Done()

	for {
		if !g.IsConnected() {
			g.Connect()
		}
		if !g.sleep(ctx, g.timing.reconnectInterval) {
			return
		}
	}
}

// sleep waits for d and reports false if the gateway is stopping.
func (g *Gateway) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-g.done.Done():
		return false
	case <-t.C:
		return true
	}
}

// currentPort returns the open port or nil.
func (g *Gateway) currentPort() Port {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.port
}

func (g *Gateway) isClosed() bool {
	select {
	case <-g.done.Done():
		return true
	default:
		return false
	}
}

// IsConnected reports whether the port is open.
func (g *Gateway) IsConnected() bool {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.connected
}

// AddInboundListener registers a listener for decoded powerline events.
func (g *Gateway) AddInboundListener(l x10.EventListener) {
	g.listeners.Add(l)
}

// SetStatusSink sets the receiver of connection transitions.
func (g *Gateway) SetStatusSink(s StatusSink) {
	g.statusMu.Lock()
	g.status = s
	g.statusMu.Unlock()
}

// SetLogger sets the logger for the gateway, its parser and listeners.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()

	g.portMu.Lock()
	g.parser.SetLogger(logger)
	g.portMu.Unlock()
	g.listeners.SetLogger(logger)
}

// Stats returns current operational statistics.
func (g *Gateway) Stats() Stats {
	reconnects := g.connectsTotal.Load()
	if reconnects > 0 {
		reconnects--
	}
	return Stats{
		CommandsTx:      g.commandsTx.Load(),
		TransmissionsTx: g.transmissionsTx.Load(),
		ChecksumRetries: g.checksumRetries.Load(),
		EventsRx:        g.eventsRx.Load(),
		EventsDropped:   g.eventsDropped.Load(),
		UploadsRx:       g.uploadsRx.Load(),
		ClockSets:       g.clockSets.Load(),
		FilterFails:     g.filterFails.Load(),
		ErrorsTotal:     g.errorsTotal.Load(),
		ReconnectsTotal: reconnects,
		QueueDepth:      g.queue.Len(),
		QueueDropped:    g.queueDropped.Load(),
		LastActivity:    time.Unix(g.lastActivity.Load(), 0),
		Connected:       g.IsConnected(),
	}
}

func (g *Gateway) notifyConnected() {
	g.statusMu.RLock()
	s := g.status
	g.statusMu.RUnlock()
	if s != nil {
		g.callback(s.OnConnected)
	}
}

func (g *Gateway) notifyDisconnected(reason string) {
	g.statusMu.RLock()
	s := g.status
	g.statusMu.RUnlock()
	if s != nil {
		g.callback(func() { s.OnDisconnected(reason) })
	}
}

// callback runs caller-supplied code, counting it so that Disconnect
// called from inside it does not wait on its own goroutine.
func (g *Gateway) callback(fn func()) {
	g.callbacks.Add(1)
	defer g.callbacks.Add(-1)
	fn()
}

func (g *Gateway) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if l := g.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if l := g.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	if l := g.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (g *Gateway) logError(msg string, err error, keysAndValues ...any) {
	if l := g.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
