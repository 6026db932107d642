package iobuf

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/proto"
)

// Errors returned by the backends.
var (
	// ErrNotSupported indicates the board revision lacks the feature.
	ErrNotSupported = errors.New("iobuf: not supported")

	// ErrPort indicates an invalid port mask for the operation.
	ErrPort = errors.New("iobuf: invalid port")

	// ErrLimit indicates a voltage outside the regulator range or above the
	// port limit.
	ErrLimit = errors.New("iobuf: voltage out of range")

	// ErrComm indicates the sense or regulator chip did not respond.
	ErrComm = errors.New("iobuf: bus error")
)

// Regulator output range. Zero turns the port off.
const (
	MinVoltage = 1650 * physic.MilliVolt
	MaxVoltage = 5000 * physic.MilliVolt
)

// Board is the wiring of the power stage to the controller.
type Board struct {
	// Bus carries the regulator DACs, the sense chips and the pull resistor
	// expanders of both ports.
	Bus i2c.Bus

	// OE enables the level shifting I/O buffers, active high. May be nil.
	OE gpio.PinOut
}

// Backend is the per-revision voltage regulation and sensing capability of
// the board. It is selected once at boot.
type Backend interface {
	// Name identifies the sense chip family.
	Name() string

	// Init brings up the regulators and sense chips with the persisted
	// per-port limits.
	Init(limits [2]physic.ElectricPotential) error

	// Voltage returns the regulator setpoint of a single port.
	Voltage(port proto.Port) (physic.ElectricPotential, error)
	// SetVoltage sets the regulator setpoint of every port in mask.
	SetVoltage(mask proto.Port, v physic.ElectricPotential) error
	// VoltageLimit returns the limit of a single port.
	VoltageLimit(port proto.Port) (physic.ElectricPotential, error)
	// SetVoltageLimit sets the limit of every port in mask.
	SetVoltageLimit(mask proto.Port, v physic.ElectricPotential) error
	// MeasureVoltage samples the output of a single port.
	MeasureVoltage(port proto.Port) (physic.ElectricPotential, error)

	// AlertThresholds returns the alert window of a single port.
	AlertThresholds(port proto.Port) (low, high physic.ElectricPotential, err error)
	// SetAlertThresholds sets the alert window of every port in mask.
	SetAlertThresholds(mask proto.Port, low, high physic.ElectricPotential) error

	// PollAlert returns the ports that raised an alert. It is called by the
	// alert handler while the alert line is asserted.
	PollAlert() (proto.Port, error)
	// AlertStatus returns the ports that raised an alert since the last
	// clearing status read.
	AlertStatus(clear bool) (proto.Port, error)
	// ClearAlert clears the alert source of the ports in mask, releasing the
	// alert line.
	ClearAlert(mask proto.Port) error
	// ReleasesAlertOnPoll reports whether PollAlert alone releases the alert
	// line, making ClearAlert unnecessary in the alert handler.
	ReleasesAlertOnPoll() bool

	// Pull returns the pull resistor enable and level masks of a port.
	Pull(selector proto.Port) (enable, level uint8, err error)
	// SetPull sets the pull resistor enable and level masks of a port.
	SetPull(selector proto.Port, enable, level uint8) error

	// Enable turns the level shifting I/O buffers on or off.
	Enable(on bool) error
}

// Select returns the backend fitted to boards of revision rev. It is a pure
// function of the revision: C2 and later sense with INA233 power monitors,
// earlier boards with ADC081C converters, and pull resistors exist from C0.
func Select(rev proto.Revision, board Board) Backend {
	if rev >= proto.RevisionC2 {
		return NewINA233(board)
	}
	return NewADC081C(board, rev >= proto.RevisionC0)
}

// MilliVolts converts a potential to the millivolt count used on the wire.
func MilliVolts(v physic.ElectricPotential) uint16 {
	mv := v / physic.MilliVolt
	switch {
	case mv < 0:
		return 0
	case mv > 0xFFFF:
		return 0xFFFF
	}
	return uint16(mv)
}

// FromMilliVolts converts a wire millivolt count to a potential.
func FromMilliVolts(mv uint16) physic.ElectricPotential {
	return physic.ElectricPotential(mv) * physic.MilliVolt
}

// ports returns the port indices of mask, or ErrPort when mask is empty or
// names ports the board lacks.
func ports(mask proto.Port) ([]int, error) {
	if mask == 0 || mask&^proto.PortAll != 0 {
		return nil, fmt.Errorf("%w: mask 0x%02X", ErrPort, uint8(mask))
	}
	var idx []int
	for i := 0; i < NumPorts; i++ {
		if mask&(1<<i) != 0 {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// single returns the index of a single-port mask.
func single(port proto.Port) (int, error) {
	i := port.Index()
	if i < 0 {
		return 0, fmt.Errorf("%w: mask 0x%02X", ErrPort, uint8(port))
	}
	return i, nil
}
