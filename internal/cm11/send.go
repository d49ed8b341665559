package cm11

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Ensure Gateway implements Transmitter.
var _ Transmitter = (*Gateway)(nil)

// SendFunction sends fn to a single address and waits for the gateway to
// acknowledge both transmissions.
//
// The address is validated before the port is touched, so a malformed
// address fails fast with x10.ErrInvalidAddress.
//
// Parameters:
//   - address: House/unit address (e.g., "A1")
//   - fn: Function to send
//   - dims: Dim steps 0-22 for Dim/Bright, 0 otherwise
//
// Returns:
//   - error: nil once the gateway acknowledged the function transmission
func (g *Gateway) SendFunction(address string, fn x10.Function, dims int) error {
	addr, err := x10.ParseAddress(address)
	if err != nil {
		return err
	}
	addrTx, err := x10.EncodeAddress(addr)
	if err != nil {
		return err
	}
	fnTx, err := x10.EncodeFunction(addr.House, fn, dims)
	if err != nil {
		return err
	}

	return g.send(addr.String(), addrTx[:], fnTx[:])
}

// SendHouseFunction sends a function to a whole house code without a
// preceding address transmission. It is meant for the house-wide functions
// (AllUnitsOff, AllLightsOn, AllLightsOff).
func (g *Gateway) SendHouseFunction(house string, fn x10.Function) error {
	h, err := x10.ParseHouse(house)
	if err != nil {
		return err
	}
	fnTx, err := x10.EncodeFunction(h, fn, 0)
	if err != nil {
		return err
	}

	return g.send(string(h), fnTx[:])
}

// send runs each transmission in order under the transport lock.
func (g *Gateway) send(target string, transmissions ...[]byte) error {
	if g.isClosed() {
		return ErrClosed
	}
	if !g.Connect() {
		return ErrNotConnected
	}

	g.portMu.Lock()
	defer g.portMu.Unlock()

	port := g.currentPort()
	if port == nil {
		return ErrNotConnected
	}

	for _, tx := range transmissions {
		if err := g.sendTransmission(port, tx, true); err != nil {
			g.errorsTotal.Add(1)
			if errors.Is(err, ErrTransport) {
				g.markDisconnected(port, err.Error())
			}
			return fmt.Errorf("send to %s: %w", target, err)
		}
	}

	g.commandsTx.Add(1)
	g.logDebug("x10 function sent", "target", target)
	return nil
}

// sendTransmission writes data and completes the checksum handshake.
//
// The gateway answers with the checksum of data. On a mismatch the byte may
// be one of the gateway's own requests; if handleRequests is set those are
// served inline before resending. After MaxRetries mismatches the
// transmission fails with ErrMaxRetriesExceeded. A wrong "ready" byte after
// the acknowledgement is only logged; no byte at all is a transport error.
//
// The caller must hold portMu.
func (g *Gateway) sendTransmission(port Port, data []byte, handleRequests bool) error {
	want := x10.Checksum(data)

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := writeBytes(port, data); err != nil {
			return err
		}

		got, err := readByte(port)
		if err != nil {
			return err
		}

		if got == want {
			return g.completeTransmission(port)
		}

		g.checksumRetries.Add(1)
		g.logDebug("checksum mismatch",
			"attempt", attempt,
			"want", fmt.Sprintf("0x%02X", want),
			"got", fmt.Sprintf("0x%02X", got),
		)

		if handleRequests && x10.IsRequest(got) {
			if err := g.handleRequest(port, got); err != nil && errors.Is(err, ErrTransport) {
				return err
			}
		}
	}

	return fmt.Errorf("%w: %d attempts", ErrMaxRetriesExceeded, MaxRetries)
}

// completeTransmission acknowledges a matching checksum and reads the ready
// byte. The read is bounded by the port timeout like every other read.
func (g *Gateway) completeTransmission(port Port) error {
	if err := writeBytes(port, []byte{x10.Ack}); err != nil {
		return err
	}
	g.transmissionsTx.Add(1)
	g.lastActivity.Store(g.now().Unix())

	ready, err := readByte(port)
	switch {
	case err != nil:
		return fmt.Errorf("waiting for ready: %w", err)
	case ready != x10.Ready:
		g.logWarn("unexpected response after acknowledgement",
			"want", fmt.Sprintf("0x%02X", x10.Ready),
			"got", fmt.Sprintf("0x%02X", ready),
		)
	}
	return nil
}

// readByte reads one byte within the port's read timeout.
func readByte(port Port) (byte, error) {
	var buf [1]byte
	n, err := port.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: read: %w", ErrTransport, err)
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}
	return buf[0], nil
}

// writeBytes writes all of data.
func writeBytes(port Port, data []byte) error {
	n, err := port.Write(data)
	if err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrTransport, n, len(data))
	}
	return nil
}
