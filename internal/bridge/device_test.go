package bridge

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.DeviceConfig
		wantType     string
		wantDimmable bool
	}{
		{"default appliance", config.DeviceConfig{ID: "fan", Address: "d4"}, config.DeviceTypeAppliance, false},
		{"lamp", config.DeviceConfig{ID: "l", Type: config.DeviceTypeLamp, Address: "D4"}, config.DeviceTypeLamp, true},
		{"dimmer", config.DeviceConfig{ID: "d", Type: config.DeviceTypeDimmer, Address: "D4"}, config.DeviceTypeDimmer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDevice(tt.cfg)
			if err != nil {
				t.Fatalf("NewDevice() error: %v", err)
			}
			if d.Type() != tt.wantType || d.Dimmable() != tt.wantDimmable {
				t.Errorf("type=%s dimmable=%v, want %s %v", d.Type(), d.Dimmable(), tt.wantType, tt.wantDimmable)
			}
			if d.Address().String() != "D4" {
				t.Errorf("Address() = %s, want D4", d.Address())
			}
			if d.HasPending() {
				t.Error("new device has a pending command")
			}
		})
	}

	if _, err := NewDevice(config.DeviceConfig{ID: "bad", Address: "D17"}); !errors.Is(err, x10.ErrInvalidAddress) {
		t.Errorf("NewDevice(D17) error = %v, want ErrInvalidAddress", err)
	}
}

func TestDevice_UpdateHardwareWithoutPending(t *testing.T) {
	d, _ := NewDevice(config.DeviceConfig{ID: "fan", Address: "A1"})
	tx := &mockTransmitter{}

	if err := d.UpdateHardware(tx); err != nil {
		t.Errorf("UpdateHardware() error: %v", err)
	}
	if len(tx.Sends()) != 0 {
		t.Error("sent without a pending command")
	}
}

func TestDevice_ResultsReported(t *testing.T) {
	d, _ := NewDevice(config.DeviceConfig{ID: "fan", Address: "A1"})

	var results []error
	d.onResult = func(_ *Device, _ *pendingCommand, err error) {
		results = append(results, err)
	}

	first := &pendingCommand{function: x10.On}
	second := &pendingCommand{function: x10.Off}
	d.setPending(first)
	d.setPending(second)

	if len(results) != 1 || !errors.Is(results[0], ErrSuperseded) {
		t.Fatalf("results = %v, want one ErrSuperseded", results)
	}

	if err := d.UpdateHardware(&mockTransmitter{}); err != nil {
		t.Fatalf("UpdateHardware() error: %v", err)
	}
	if len(results) != 2 || results[1] != nil {
		t.Errorf("results = %v, want success", results)
	}
	if d.HasPending() {
		t.Error("command still pending after success")
	}

	// clearPending only drops the command it was given.
	d.setPending(first)
	d.clearPending(second)
	if !d.HasPending() {
		t.Error("clearPending dropped a different command")
	}
	d.clearPending(first)
	if d.HasPending() {
		t.Error("clearPending kept its command")
	}
}
