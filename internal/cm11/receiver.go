package cm11

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Upload framing limits.
const (
	// maxUploadLen is the largest valid length byte: mask plus eight data bytes.
	maxUploadLen = 1 + x10.MaxPayload

	// maxNoiseBytes bounds how many implausible length bytes are skipped
	// before the upload is abandoned.
	maxNoiseBytes = 16
)

// receiveLoop watches port for unsolicited bytes until the port fails or
// the gateway stops.
func (g *Gateway) receiveLoop(port Port) {
	defer g.wg.Done()

	for {
		if g.isClosed() {
			return
		}

		g.portMu.Lock()
		if g.currentPort() != port {
			g.portMu.Unlock()
			return
		}
		err := g.poll(port)
		g.portMu.Unlock()

		if err != nil {
			if g.isClosed() {
				return
			}
			g.errorsTotal.Add(1)
			g.logError("gateway receive failed", err)
			g.markDisconnected(port, err.Error())
			return
		}

		select {
		case <-g.done.Done():
			return
		case <-time.After(g.timing.pollIdle):
		}
	}
}

// poll drains every byte the gateway has sent and dispatches each one. If
// nothing is waiting but the ring indicator is up, it waits briefly and
// looks again. The caller must hold portMu.
func (g *Gateway) poll(port Port) error {
	if err := port.SetReadTimeout(g.timing.pollTimeout); err != nil {
		return fmt.Errorf("%w: set poll timeout: %w", ErrTransport, err)
	}

	ringWaits := 0
	for {
		b, err := readByte(port)
		if errors.Is(err, ErrReadTimeout) {
			if ringWaits < maxRingWaits && g.ringAsserted(port) {
				ringWaits++
				time.Sleep(g.timing.ringWait)
				continue
			}
			break
		}
		if err != nil {
			return err
		}

		// Sub-protocols need the full read timeout.
		if err := port.SetReadTimeout(g.timing.readTimeout); err != nil {
			return fmt.Errorf("%w: set read timeout: %w", ErrTransport, err)
		}
		if err := g.handleRequest(port, b); err != nil {
			if errors.Is(err, ErrTransport) {
				return err
			}
			g.errorsTotal.Add(1)
			g.logError("gateway request failed", err, "request", fmt.Sprintf("0x%02X", b))
		}
		if err := port.SetReadTimeout(g.timing.pollTimeout); err != nil {
			return fmt.Errorf("%w: set poll timeout: %w", ErrTransport, err)
		}
	}

	if err := port.SetReadTimeout(g.timing.readTimeout); err != nil {
		return fmt.Errorf("%w: set read timeout: %w", ErrTransport, err)
	}
	return nil
}

// ringAsserted reports whether the ring indicator line is up.
func (g *Gateway) ringAsserted(port Port) bool {
	bits, err := port.GetModemStatusBits()
	if err != nil || bits == nil {
		return false
	}
	return bits.RI
}

// handleRequest serves one byte the gateway sent on its own initiative.
// The caller must hold portMu.
func (g *Gateway) handleRequest(port Port, b byte) error {
	g.lastActivity.Store(g.now().Unix())

	switch b {
	case x10.ClockRequest:
		return g.sendClock(port)

	case x10.DataReady:
		return g.readUpload(port)

	case x10.FilterFail:
		g.filterFails.Add(1)
		if err := writeBytes(port, []byte{x10.DataReadyAck}); err != nil {
			return err
		}
		g.logWarn("gateway reported filter fail, powerline interface protection tripped")
		return nil

	default:
		g.logDebug("unexpected byte from gateway", "byte", fmt.Sprintf("0x%02X", b))
		return nil
	}
}

// sendClock answers a clock-set request.
func (g *Gateway) sendClock(port Port) error {
	frame := x10.EncodeClockSet(g.now(), g.cfg.MonitoredHouse)
	if err := g.sendTransmission(port, frame[:], false); err != nil {
		return fmt.Errorf("clock set: %w", err)
	}
	g.clockSets.Add(1)
	g.logInfo("gateway clock set")
	return nil
}

// readUpload acknowledges a data-ready poll and reads the inbound buffer:
// a length byte, a mask byte, then length-1 data bytes.
func (g *Gateway) readUpload(port Port) error {
	if err := writeBytes(port, []byte{x10.DataReadyAck}); err != nil {
		return err
	}

	length, err := readByte(port)
	if err != nil {
		return err
	}
	// The gateway may repeat its poll before the length arrives.
	for noise := 0; length == x10.DataReady || int(length) > maxUploadLen; noise++ {
		if noise >= maxNoiseBytes {
			g.logWarn("gateway upload discarded, no plausible length byte")
			return nil
		}
		if length, err = readByte(port); err != nil {
			return err
		}
	}
	if length == 0 {
		g.logWarn("gateway upload buffer overrun", "length", 0)
		return nil
	}

	mask, err := readByte(port)
	if err != nil {
		return err
	}
	length--
	if length == 0 {
		g.logWarn("gateway upload buffer overrun", "mask", fmt.Sprintf("0x%02X", mask))
		return nil
	}

	payload := make([]byte, length)
	for i := range payload {
		if payload[i], err = readByte(port); err != nil {
			return err
		}
	}
	g.uploadsRx.Add(1)

	events := g.parser.Parse(mask, payload)
	g.logDebug("gateway upload",
		"mask", fmt.Sprintf("0x%02X", mask),
		"payload", fmt.Sprintf("% X", payload),
		"events", len(events),
	)
	for _, e := range events {
		g.publish(e)
	}
	return nil
}

// publish queues an event for the dispatcher, dropping it if the queue is
// full.
func (g *Gateway) publish(e x10.Event) {
	g.eventsRx.Add(1)
	select {
	case g.events <- e:
	default:
		g.eventsDropped.Add(1)
		g.logWarn("event queue full, dropping event",
			"function", e.Function.String(),
			"addresses", x10.FormatAddresses(e.Addresses),
		)
	}
}

// dispatchLoop delivers events to listeners, in order, outside the
// transport lock.
func (g *Gateway) dispatchLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done.Done():
			return
		case e := <-g.events:
			if g.isClosed() {
				return
			}
			g.callback(func() { g.listeners.Notify(e) })
		}
	}
}
