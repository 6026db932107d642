package device

import (
	"fmt"

	"github.com/ardnew/carrierfw/device/hal"
)

// Limits of the fixed-size tables.
const (
	// MaxEndpointsPerAlternate is the maximum number of endpoints in one
	// alternate setting.
	MaxEndpointsPerAlternate = 4

	// MaxAlternateSettings is the maximum number of alternate settings per
	// interface.
	MaxAlternateSettings = 4

	// MaxInterfacesPerConfiguration is the maximum number of interfaces per configuration.
	MaxInterfacesPerConfiguration = 8

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxStrings is the maximum number of regular string descriptors per
	// device. The Microsoft OS string at index 0xEE is stored separately.
	MaxStrings = 8
)

// Speed is the connection speed the controller negotiated.
type Speed = hal.Speed

// Connection speeds.
const (
	SpeedLow  = hal.SpeedLow
	SpeedFull = hal.SpeedFull
	SpeedHigh = hal.SpeedHigh
)

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // Device is attached but not powered
	StatePowered    State = 1 // Device is powered
	StateDefault    State = 2 // Device has been reset, using default address
	StateAddress    State = 3 // Device has been assigned a unique address
	StateConfigured State = 4 // Device is configured and operational
)

// State represents USB device state.
type State uint8

var stateNames = [...]string{
	StateAttached:   "Attached",
	StatePowered:    "Powered",
	StateDefault:    "Default",
	StateAddress:    "Address",
	StateConfigured: "Configured",
}

// String returns a human-readable state description.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("Unknown State (%d)", s)
}

// Addressed reports whether the host has assigned an address, i.e. the
// device is in the address or configured state.
func (s State) Addressed() bool {
	return s == StateAddress || s == StateConfigured
}
