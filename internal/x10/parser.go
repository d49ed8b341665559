package x10

import "time"

// MaxPayload is the largest inbound payload the gateway uploads, not
// counting the mask byte.
const MaxPayload = 8

// Event is one decoded piece of powerline traffic.
type Event struct {
	// Addresses the function applies to. Never empty.
	Addresses []Address

	// Function received.
	Function Function

	// Dims is the scaled 1-22 step count for Dim and Bright, 0 otherwise.
	Dims int

	// Timestamp when the event was decoded.
	Timestamp time.Time
}

// FrameParser decodes inbound gateway buffers into events.
//
// The parser remembers the addresses of the last address-bearing event so
// that a function arriving in a later buffer (or a Dim/Bright, which never
// carries addresses of its own) can be attributed.
//
// Thread Safety: not safe for concurrent use.
type FrameParser struct {
	lastAddresses []Address
	logger        Logger
	now           func() time.Time
}

// NewFrameParser creates a parser with no remembered addresses.
func NewFrameParser() *FrameParser {
	return &FrameParser{
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger used to report dropped functions.
func (p *FrameParser) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Parse decodes one inbound buffer.
//
// Bit i of mask (LSB first) classifies payload[i]: 0 for an address byte,
// 1 for a function byte. Events are returned in the order their function
// bytes appear. Functions without a usable address, house-wide functions
// and a Dim/Bright missing its delta byte are logged and skipped.
//
// Parameters:
//   - mask: Address/function mask byte
//   - payload: Data bytes following the mask
//
// Returns:
//   - []Event: Decoded events, possibly empty
func (p *FrameParser) Parse(mask byte, payload []byte) []Event {
	var (
		events  []Event
		pending []Address
	)

	for i := 0; i < len(payload); i++ {
		b := payload[i]

		if (mask>>uint(i))&0x01 == 0 {
			pending = append(pending, DecodeAddressByte(b))
			continue
		}

		fn := Function(b & nibbleMask)

		switch {
		case fn.TakesDims():
			if i+1 >= len(payload) {
				p.logger.Warn("x10: dim/bright without delta byte", "function", fn.String())
				continue
			}
			i++
			raw := payload[i]

			if len(pending) > 0 {
				p.lastAddresses = pending
				pending = nil
			}
			if len(p.lastAddresses) == 0 {
				p.logger.Debug("x10: dropping function with no known address", "function", fn.String())
				continue
			}
			events = append(events, p.event(p.lastAddresses, fn, ScaleDimDelta(raw)))

		case fn.IsHouseWide():
			p.logger.Debug("x10: ignoring house-wide function", "function", fn.String(),
				"house", string(houseByNibble[b>>4]))

		default:
			addrs := pending
			if len(addrs) == 0 {
				addrs = p.lastAddresses
			}
			if len(addrs) == 0 {
				p.logger.Debug("x10: dropping function with no known address", "function", fn.String())
				continue
			}
			events = append(events, p.event(addrs, fn, 0))
			p.lastAddresses = addrs
			pending = nil
		}
	}

	if len(pending) > 0 {
		p.lastAddresses = pending
	}

	return events
}

// LastAddresses returns a copy of the remembered addresses.
func (p *FrameParser) LastAddresses() []Address {
	if len(p.lastAddresses) == 0 {
		return nil
	}
	out := make([]Address, len(p.lastAddresses))
	copy(out, p.lastAddresses)
	return out
}

// Reset forgets the remembered addresses.
func (p *FrameParser) Reset() {
	p.lastAddresses = nil
}

func (p *FrameParser) event(addrs []Address, fn Function, dims int) Event {
	cp := make([]Address, len(addrs))
	copy(cp, addrs)
	return Event{
		Addresses: cp,
		Function:  fn,
		Dims:      dims,
		Timestamp: p.now(),
	}
}
