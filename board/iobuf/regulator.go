package iobuf

import (
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// The DAC101C085 word carries the power-down mode in bits 13:12 and the code
// in bits 11:2. Any power-down mode switches the port regulator off.
const (
	dacLSB       = 10 * physic.MilliVolt
	dacFullScale = 0x3FF
	dacPowerDown = 0x1000
	dacModeMask  = 0x3000
)

func dacWord(v physic.ElectricPotential) uint16 {
	if v <= 0 {
		return dacPowerDown
	}
	return uint16(code(v, dacLSB, dacFullScale)) << 2
}

func dacVoltage(w uint16) physic.ElectricPotential {
	if w&dacModeMask != 0 {
		return 0
	}
	return physic.ElectricPotential(w>>2&dacFullScale) * dacLSB
}

// TCA9534 registers. A pin configured as an output drives its pull resistor;
// all pins power up as inputs.
const (
	tcaOutput = 0x01
	tcaConfig = 0x03
)

// regulator is the part of a backend shared by every revision: the DAC
// driven LDOs, their limits, the pull resistor expanders and the buffer
// enable.
type regulator struct {
	mu     sync.Mutex
	dac    [NumPorts]i2c.Dev
	pull   [NumPorts]i2c.Dev
	oe     gpio.PinOut
	limits [NumPorts]physic.ElectricPotential
	pulls  bool
}

func (r *regulator) wire(board Board, pulls bool) {
	r.oe = board.OE
	r.pulls = pulls
	for i := range NumPorts {
		r.limits[i] = MaxVoltage
		r.dac[i] = i2c.Dev{Bus: board.Bus, Addr: proto.I2CAddrDAC + uint16(i)}
		r.pull[i] = i2c.Dev{Bus: board.Bus, Addr: proto.I2CAddrPull + uint16(i)}
	}
}

// tx runs one bus transaction. A chip that does not answer is reported as
// ErrComm.
func tx(d *i2c.Dev, w, r []byte) error {
	if err := d.Tx(w, r); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrComm, d, err)
	}
	return nil
}

// initLocked switches both ports off with the buffers disabled.
func (r *regulator) initLocked(limits [NumPorts]physic.ElectricPotential) error {
	for i, v := range limits {
		// An unprogrammed limit does not restrict the port.
		if v <= 0 || v > MaxVoltage {
			v = MaxVoltage
		}
		r.limits[i] = v
	}
	for i := range r.dac {
		if err := r.writeDAC(i, 0); err != nil {
			return err
		}
	}
	return r.enableLocked(false)
}

func (r *regulator) writeDAC(i int, v physic.ElectricPotential) error {
	return tx(&r.dac[i], binary.BigEndian.AppendUint16(nil, dacWord(v)), nil)
}

func (r *regulator) readDAC(i int) (physic.ElectricPotential, error) {
	var buf [2]byte
	if err := tx(&r.dac[i], nil, buf[:]); err != nil {
		return 0, err
	}
	return dacVoltage(binary.BigEndian.Uint16(buf[:])), nil
}

func (r *regulator) Voltage(port proto.Port) (physic.ElectricPotential, error) {
	i, err := single(port)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readDAC(i)
}

func (r *regulator) SetVoltage(mask proto.Port, v physic.ElectricPotential) error {
	idx, err := ports(mask)
	if err != nil {
		return err
	}
	if v != 0 && (v < MinVoltage || v > MaxVoltage) {
		return fmt.Errorf("%w: %v", ErrLimit, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range idx {
		if v > r.limits[i] {
			return fmt.Errorf("%w: %v above port %s limit %v",
				ErrLimit, v, proto.Port(1<<i), r.limits[i])
		}
	}
	for _, i := range idx {
		if err := r.writeDAC(i, v); err != nil {
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentIOBuf, "voltage set", "ports", mask.String(), "voltage", v)
	return nil
}

func (r *regulator) VoltageLimit(port proto.Port) (physic.ElectricPotential, error) {
	i, err := single(port)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limits[i], nil
}

func (r *regulator) SetVoltageLimit(mask proto.Port, v physic.ElectricPotential) error {
	idx, err := ports(mask)
	if err != nil {
		return err
	}
	if v < 0 || v > MaxVoltage {
		return fmt.Errorf("%w: %v", ErrLimit, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range idx {
		r.limits[i] = v
		// A port above its new limit is turned off.
		cur, err := r.readDAC(i)
		if err != nil {
			return err
		}
		if cur > v {
			if err := r.writeDAC(i, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// window validates an alert window and returns the ports of mask.
func window(mask proto.Port, low, high physic.ElectricPotential) ([]int, error) {
	idx, err := ports(mask)
	if err != nil {
		return nil, err
	}
	if low < 0 || low > high {
		return nil, fmt.Errorf("%w: window %v..%v", ErrLimit, low, high)
	}
	return idx, nil
}

func (r *regulator) Pull(selector proto.Port) (enable, level uint8, err error) {
	if !r.pulls {
		return 0, 0, ErrNotSupported
	}
	i, err := single(selector)
	if err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var cfg, out [1]byte
	if err := tx(&r.pull[i], []byte{tcaConfig}, cfg[:]); err != nil {
		return 0, 0, err
	}
	if err := tx(&r.pull[i], []byte{tcaOutput}, out[:]); err != nil {
		return 0, 0, err
	}
	return ^cfg[0], out[0], nil
}

func (r *regulator) SetPull(selector proto.Port, enable, level uint8) error {
	if !r.pulls {
		return ErrNotSupported
	}
	i, err := single(selector)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Level before direction.
	if err := tx(&r.pull[i], []byte{tcaOutput, level}, nil); err != nil {
		return err
	}
	return tx(&r.pull[i], []byte{tcaConfig, ^enable}, nil)
}

func (r *regulator) Enable(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enableLocked(on)
}

func (r *regulator) enableLocked(on bool) error {
	if r.oe == nil {
		return nil
	}
	return r.oe.Out(gpio.Level(on))
}

// code converts v to a converter code of the given resolution, clamped to
// full scale.
func code(v, lsb physic.ElectricPotential, fullScale int64) int64 {
	raw := int64(v / lsb)
	switch {
	case raw < 0:
		raw = 0
	case raw > fullScale:
		raw = fullScale
	}
	return raw
}
