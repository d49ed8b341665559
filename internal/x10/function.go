package x10

import (
	"fmt"
	"strings"
)

// Function is a 4-bit X10 function code.
type Function byte

// Function codes as transmitted in the low nibble of a function byte.
const (
	AllUnitsOff   Function = 0x0
	AllLightsOn   Function = 0x1
	On            Function = 0x2
	Off           Function = 0x3
	Dim           Function = 0x4
	Bright        Function = 0x5
	AllLightsOff  Function = 0x6
	Extended      Function = 0x7
	HailRequest   Function = 0x8
	HailAck       Function = 0x9
	PresetDim1    Function = 0xA
	PresetDim2    Function = 0xB
	ExtendedData  Function = 0xC
	StatusOn      Function = 0xD
	StatusOff     Function = 0xE
	StatusRequest Function = 0xF
)

var functionNames = [16]string{
	"all_units_off",
	"all_lights_on",
	"on",
	"off",
	"dim",
	"bright",
	"all_lights_off",
	"extended",
	"hail_request",
	"hail_ack",
	"preset_dim_1",
	"preset_dim_2",
	"extended_data",
	"status_on",
	"status_off",
	"status_request",
}

// String returns the snake_case name of the function, e.g. "all_lights_on".
func (f Function) String() string {
	if f > StatusRequest {
		return fmt.Sprintf("function(0x%02X)", byte(f))
	}
	return functionNames[f]
}

// IsValid reports whether f fits in a nibble.
func (f Function) IsValid() bool {
	return f <= StatusRequest
}

// TakesDims reports whether the function carries a dim step count.
func (f Function) TakesDims() bool {
	return f == Dim || f == Bright
}

// IsHouseWide reports whether the function addresses a whole house code
// rather than previously selected units.
func (f Function) IsHouseWide() bool {
	return f == AllUnitsOff || f == AllLightsOn || f == AllLightsOff
}

// ParseFunction looks up a function by name. Names are case-insensitive and
// accept either '_' or '-' as separator ("all-lights-on", "ALL_LIGHTS_ON").
func ParseFunction(name string) (Function, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for i, fn := range functionNames {
		if fn == n {
			return Function(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFunction, name)
}
