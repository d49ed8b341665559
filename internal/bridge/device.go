package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// pendingCommand is the function a device still has to push to the hardware.
type pendingCommand struct {
	cmd      CommandMessage
	function x10.Function
	dims     int
}

// resultFunc is told how a pending command ended. err is nil on success.
type resultFunc func(d *Device, p *pendingCommand, err error)

// Device is one configured X10 module. It implements cm11.Device: the bridge
// stores the requested function on the device and schedules it; the gateway
// worker later calls UpdateHardware to transmit it.
//
// Only the latest request is kept. A request that replaces one not yet
// transmitted reports the older one as superseded.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	id      string
	name    string
	kind    string
	address x10.Address

	mu      sync.Mutex
	pending *pendingCommand
	sending *pendingCommand

	onResult resultFunc
}

var _ cm11.Device = (*Device)(nil)

// NewDevice builds a device from its configuration entry.
func NewDevice(cfg config.DeviceConfig) (*Device, error) {
	addr, err := x10.ParseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.ID, err)
	}
	kind := cfg.Type
	if kind == "" {
		kind = config.DeviceTypeAppliance
	}
	return &Device{
		id:      cfg.ID,
		name:    cfg.Name,
		kind:    kind,
		address: addr,
	}, nil
}

// ID returns the configured device identifier.
func (d *Device) ID() string { return d.id }

// Address returns the device's X10 address.
func (d *Device) Address() x10.Address { return d.address }

// Type returns the module type (appliance, lamp or dimmer).
func (d *Device) Type() string { return d.kind }

// Dimmable reports whether the module accepts dim and bright.
func (d *Device) Dimmable() bool {
	return d.kind == config.DeviceTypeLamp || d.kind == config.DeviceTypeDimmer
}

// HasPending reports whether a command is waiting for transmission.
func (d *Device) HasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// setPending stores p as the next command. A replaced command that is not
// being transmitted right now is reported as superseded.
func (d *Device) setPending(p *pendingCommand) {
	d.mu.Lock()
	old := d.pending
	d.pending = p
	inFlight := old != nil && old == d.sending
	d.mu.Unlock()

	if old != nil && !inFlight {
		d.report(old, ErrSuperseded)
	}
}

// clearPending drops p if it is still the pending command.
func (d *Device) clearPending(p *pendingCommand) {
	d.mu.Lock()
	if d.pending == p {
		d.pending = nil
	}
	d.mu.Unlock()
}

// UpdateHardware transmits the pending command, if any.
//
// Transport failures are returned without clearing the command so the
// gateway worker can retry it after reconnecting. Invalid requests and a
// closed gateway end the command.
func (d *Device) UpdateHardware(tx cm11.Transmitter) error {
	d.mu.Lock()
	p := d.pending
	d.sending = p
	d.mu.Unlock()
	if p == nil {
		return nil
	}

	err := tx.SendFunction(d.address.String(), p.function, p.dims)

	d.mu.Lock()
	d.sending = nil
	replaced := d.pending != p
	if !replaced && (err == nil || isFinal(err)) {
		d.pending = nil
	}
	d.mu.Unlock()

	switch {
	case err == nil || isFinal(err):
		d.report(p, err)
	case replaced:
		// The retry will carry the newer command.
		d.report(p, ErrSuperseded)
	}
	return err
}

func (d *Device) report(p *pendingCommand, err error) {
	if d.onResult != nil {
		d.onResult(d, p, err)
	}
}

// isFinal reports errors after which a command will never be retried.
func isFinal(err error) bool {
	return errors.Is(err, x10.ErrInvalidAddress) ||
		errors.Is(err, x10.ErrInvalidHouse) ||
		errors.Is(err, x10.ErrInvalidFunction) ||
		errors.Is(err, x10.ErrInvalidDims) ||
		errors.Is(err, cm11.ErrClosed)
}
