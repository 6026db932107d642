package iobuf

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// The ADC081C samples the port through a 1:2 divider against a 3.3 V
// reference with 8 bits of resolution. Results and limits sit in bits 11:4
// of a big-endian word.
const (
	adc081cLSB       = 6600 * physic.MilliVolt / 256
	adc081cFullScale = 0xFF
)

// ADC081C registers.
const (
	adcConversion  = 0x00
	adcAlertStatus = 0x01
	adcConfig      = 0x02
	adcLowLimit    = 0x03
	adcHighLimit   = 0x04
)

// Alert status bits; writing a one clears the bit.
const (
	adcUnderRange = 1 << 0
	adcOverRange  = 1 << 1
	adcStatusMask = adcUnderRange | adcOverRange
)

// Configuration register bits.
const (
	adcAlertPin  = 1 << 2
	adcAlertFlag = 1 << 3
	adcAlertHold = 1 << 4
	adcCycle32   = 1 << 5
)

// adcAlertFlagBit marks an active alert in a conversion result.
const adcAlertFlagBit = 0x8000

func adcWord(v physic.ElectricPotential) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(code(v, adc081cLSB, adc081cFullScale))<<4)
}

func adcVoltage(b []byte) physic.ElectricPotential {
	return physic.ElectricPotential(binary.BigEndian.Uint16(b)>>4&adc081cFullScale) * adc081cLSB
}

// ADC081C is the backend of revisions up to C1. Each port has an ADC081C
// converter whose alert output is released as soon as its status is read.
type ADC081C struct {
	regulator
	adc [NumPorts]i2c.Dev
}

var _ Backend = (*ADC081C)(nil)

// NewADC081C returns the backend for board. Pull resistors are only present
// from revision C0.
func NewADC081C(board Board, pulls bool) *ADC081C {
	a := &ADC081C{}
	a.wire(board, pulls)
	for i := range a.adc {
		a.adc[i] = i2c.Dev{Bus: board.Bus, Addr: proto.I2CAddrADC081C + uint16(i)}
	}
	return a
}

// Name implements Backend.
func (a *ADC081C) Name() string { return "ADC081C" }

// Init implements Backend. Setup failures are not reported; the converters
// power up in a usable state.
func (a *ADC081C) Init(limits [2]physic.ElectricPotential) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initLocked(limits); err != nil {
		pkg.LogWarn(pkg.ComponentIOBuf, "regulator setup failed", "error", err)
	}
	cfg := byte(adcCycle32 | adcAlertHold | adcAlertFlag | adcAlertPin)
	for i := range a.adc {
		if err := tx(&a.adc[i], []byte{adcConfig, cfg}, nil); err != nil {
			pkg.LogWarn(pkg.ComponentIOBuf, "converter setup failed", "port", i, "error", err)
		}
	}
	return nil
}

// MeasureVoltage implements Backend.
func (a *ADC081C) MeasureVoltage(port proto.Port) (physic.ElectricPotential, error) {
	i, err := single(port)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var buf [2]byte
	if err := tx(&a.adc[i], []byte{adcConversion}, buf[:]); err != nil {
		return 0, err
	}
	return adcVoltage(buf[:]), nil
}

// AlertThresholds implements Backend.
func (a *ADC081C) AlertThresholds(port proto.Port) (low, high physic.ElectricPotential, err error) {
	i, err := single(port)
	if err != nil {
		return 0, 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var lo, hi [2]byte
	if err := tx(&a.adc[i], []byte{adcLowLimit}, lo[:]); err != nil {
		return 0, 0, err
	}
	if err := tx(&a.adc[i], []byte{adcHighLimit}, hi[:]); err != nil {
		return 0, 0, err
	}
	return adcVoltage(lo[:]), adcVoltage(hi[:]), nil
}

// SetAlertThresholds implements Backend.
func (a *ADC081C) SetAlertThresholds(mask proto.Port, low, high physic.ElectricPotential) error {
	idx, err := window(mask, low, high)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, i := range idx {
		if err := tx(&a.adc[i], append([]byte{adcLowLimit}, adcWord(low)...), nil); err != nil {
			return err
		}
		if err := tx(&a.adc[i], append([]byte{adcHighLimit}, adcWord(high)...), nil); err != nil {
			return err
		}
	}
	return nil
}

// status reads the alert status of every port. Reading releases the alert
// line; the bits stay latched.
func (a *ADC081C) status() (proto.Port, [NumPorts]byte, error) {
	var (
		mask proto.Port
		bits [NumPorts]byte
	)
	for i := range a.adc {
		if err := tx(&a.adc[i], []byte{adcAlertStatus}, bits[i:i+1]); err != nil {
			return 0, bits, fmt.Errorf("port %s: %w", proto.Port(1<<i), err)
		}
		if bits[i]&adcStatusMask != 0 {
			mask |= 1 << i
		}
	}
	return mask, bits, nil
}

// PollAlert implements Backend.
func (a *ADC081C) PollAlert() (proto.Port, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mask, _, err := a.status()
	return mask, err
}

// AlertStatus implements Backend.
func (a *ADC081C) AlertStatus(clear bool) (proto.Port, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mask, bits, err := a.status()
	if err != nil || !clear {
		return mask, err
	}
	for i, b := range bits {
		if b&adcStatusMask == 0 {
			continue
		}
		if err := tx(&a.adc[i], []byte{adcAlertStatus, b & adcStatusMask}, nil); err != nil {
			return mask, err
		}
	}
	return mask, nil
}

// ClearAlert implements Backend.
func (a *ADC081C) ClearAlert(mask proto.Port) error {
	if mask == 0 {
		return nil
	}
	idx, err := ports(mask)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, i := range idx {
		if err := tx(&a.adc[i], []byte{adcAlertStatus, adcStatusMask}, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReleasesAlertOnPoll implements Backend.
func (a *ADC081C) ReleasesAlertOnPoll() bool { return true }
