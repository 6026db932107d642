package iobuf

import (
	"encoding/binary"
	"errors"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// NumPorts is the number of I/O ports on the board.
const NumPorts = 2

// ErrNACK is returned by the simulated bus when no chip acknowledges.
var ErrNACK = errors.New("iobuf: no acknowledge")

// Bank simulates the port power stage on its own I2C bus. Each port has a
// regulator DAC, an ADC081C converter, an INA233 power monitor and a TCA9534
// pull resistor expander; the buffer enable and the shared open-drain ~ALERT
// line are GPIO pins. It implements i2c.Bus.
//
// Both sense chip families answer, and a chip only drives the alert line once
// its alert output has been enabled. A sense chip latches its status when the
// port output leaves its window. A driving INA233 also cuts its port
// regulator, as the board wires its alert into the regulator enable.
type Bank struct {
	mu       sync.Mutex
	ports    [NumPorts]portState
	commFail bool
	alert    gpio.PinIO
	oe       *gpiotest.Pin
}

type portState struct {
	dac      uint16
	override *physic.ElectricPotential
	adc      adcState
	mon      monState
	pullCfg  uint8
	pullOut  uint8
	pullPtr  byte
}

type adcState struct {
	ptr     byte
	config  uint8
	status  uint8
	low     uint16
	high    uint16
	driving bool
}

type monState struct {
	mask    uint8
	status  uint8
	uv      uint16
	ov      uint16
	driving bool
}

// NewBank returns a power stage in its power-on state: both ports off, the
// buffers disabled and the alert line released.
func NewBank() *Bank {
	b := &Bank{
		alert: &gpiotest.Pin{N: "ALERT", L: gpio.High},
		oe:    &gpiotest.Pin{N: "OE", L: gpio.Low},
	}
	for i := range b.ports {
		p := &b.ports[i]
		p.dac = dacPowerDown
		p.adc.high = adc081cFullScale << 4
		p.mon.ov = ina233FullScale
		p.mon.mask = 0xFF
		p.pullCfg = 0xFF
	}
	return b
}

// Board returns the wiring of the simulated power stage.
func (b *Bank) Board() Board {
	return Board{Bus: b, OE: b.oe}
}

// AlertLine returns the ~ALERT line, active low.
func (b *Bank) AlertLine() gpio.PinIn {
	return b.alert
}

// String implements i2c.Bus.
func (b *Bank) String() string {
	return "iobuf-sim"
}

// SetSpeed implements i2c.Bus.
func (b *Bank) SetSpeed(physic.Frequency) error {
	return nil
}

// Tx implements i2c.Bus.
func (b *Bank) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commFail {
		return ErrNACK
	}
	switch {
	case addr-proto.I2CAddrDAC < NumPorts:
		return b.dacTx(int(addr-proto.I2CAddrDAC), w, r)
	case addr-proto.I2CAddrADC081C < NumPorts:
		return b.adcTx(int(addr-proto.I2CAddrADC081C), w, r)
	case addr-proto.I2CAddrINA233 < NumPorts:
		return b.monTx(int(addr-proto.I2CAddrINA233), w, r)
	case addr-proto.I2CAddrPull < NumPorts:
		return b.pullTx(int(addr-proto.I2CAddrPull), w, r)
	}
	return ErrNACK
}

func (b *Bank) dacTx(i int, w, r []byte) error {
	p := &b.ports[i]
	switch len(w) {
	case 0:
	case 2:
		p.dac = binary.BigEndian.Uint16(w) & 0x3FFF
		p.override = nil
		b.evaluate(i)
	default:
		return ErrNACK
	}
	if len(r) >= 2 {
		binary.BigEndian.PutUint16(r, p.dac)
	}
	return nil
}

func (b *Bank) adcTx(i int, w, r []byte) error {
	a := &b.ports[i].adc
	if len(w) > 0 {
		a.ptr = w[0]
	}
	if data := w[min(len(w), 1):]; len(data) > 0 {
		switch {
		case a.ptr == adcAlertStatus:
			a.status &^= data[0]
			a.driving = false
			b.updateLine()
		case a.ptr == adcConfig:
			a.config = data[0]
		case (a.ptr == adcLowLimit || a.ptr == adcHighLimit) && len(data) == 2:
			v := binary.BigEndian.Uint16(data) & (adc081cFullScale << 4)
			if a.ptr == adcLowLimit {
				a.low = v
			} else {
				a.high = v
			}
			b.evaluate(i)
		default:
			return ErrNACK
		}
	}
	if len(r) == 0 {
		return nil
	}
	switch a.ptr {
	case adcConversion:
		word := uint16(code(b.sensed(i), adc081cLSB, adc081cFullScale)) << 4
		if a.status != 0 && a.config&adcAlertFlag != 0 {
			word |= adcAlertFlagBit
		}
		putWord(r, word, binary.BigEndian)
	case adcAlertStatus:
		r[0] = a.status
		a.driving = false
		b.updateLine()
	case adcConfig:
		r[0] = a.config
	case adcLowLimit:
		putWord(r, a.low, binary.BigEndian)
	case adcHighLimit:
		putWord(r, a.high, binary.BigEndian)
	default:
		return ErrNACK
	}
	return nil
}

func (b *Bank) monTx(i int, w, r []byte) error {
	if len(w) == 0 {
		return ErrNACK
	}
	m := &b.ports[i].mon
	cmd, data := w[0], w[1:]
	switch cmd {
	case inaClearFaults:
		m.status = 0
		m.driving = false
		b.updateLine()
	case inaVinOVWarn, inaVinUVWarn:
		reg := &m.ov
		if cmd == inaVinUVWarn {
			reg = &m.uv
		}
		if len(data) >= 2 {
			*reg = binary.LittleEndian.Uint16(data) & ina233FullScale
			b.evaluate(i)
		}
		putWord(r, *reg, binary.LittleEndian)
	case inaStatusInput:
		if len(data) > 0 {
			m.status &^= data[0]
			if m.status&^m.mask == 0 {
				m.driving = false
				b.updateLine()
			}
		}
		if len(r) > 0 {
			r[0] = m.status
		}
	case inaReadVin:
		putWord(r, uint16(code(b.sensed(i), ina233LSB, ina233FullScale)), binary.LittleEndian)
	case inaAlertMask:
		if len(data) > 0 {
			m.mask = data[0]
		}
		if len(r) > 0 {
			r[0] = m.mask
		}
	default:
		return ErrNACK
	}
	return nil
}

func (b *Bank) pullTx(i int, w, r []byte) error {
	p := &b.ports[i]
	if len(w) > 0 {
		p.pullPtr = w[0]
	}
	var reg *uint8
	switch p.pullPtr {
	case tcaOutput:
		reg = &p.pullOut
	case tcaConfig:
		reg = &p.pullCfg
	default:
		return ErrNACK
	}
	if len(w) > 1 {
		*reg = w[1]
	}
	if len(r) > 0 {
		r[0] = *reg
	}
	return nil
}

func putWord(r []byte, v uint16, order binary.ByteOrder) {
	if len(r) >= 2 {
		order.PutUint16(r, v)
	}
}

// Inject forces the sensed output of a port, as a short or an external supply
// back-driving the port would, and evaluates the alert windows.
func (b *Bank) Inject(port int, v physic.ElectricPotential) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port].override = &v
	b.evaluate(port)
}

// FailComms makes every chip of the power stage stop responding.
func (b *Bank) FailComms(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commFail = fail
}

// Enabled reports whether the I/O buffers are on.
func (b *Bank) Enabled() bool {
	return b.oe.Read() == gpio.High
}

// Setpoint returns the regulator output of a port.
func (b *Bank) Setpoint(port int) physic.ElectricPotential {
	b.mu.Lock()
	defer b.mu.Unlock()
	return dacVoltage(b.ports[port].dac)
}

// Alerted reports whether either sense chip of a port latched an alert.
func (b *Bank) Alerted(port int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &b.ports[port]
	return p.adc.status != 0 || p.mon.status != 0
}

func (b *Bank) sensed(port int) physic.ElectricPotential {
	p := &b.ports[port]
	if p.override != nil {
		return *p.override
	}
	return dacVoltage(p.dac)
}

// evaluate latches the status of the sense chips of a powered port whose
// output left their window.
func (b *Bank) evaluate(port int) {
	p := &b.ports[port]
	if p.override == nil && dacVoltage(p.dac) == 0 {
		return
	}
	v := b.sensed(port)

	var adc uint8
	switch c := code(v, adc081cLSB, adc081cFullScale); {
	case c < int64(p.adc.low>>4):
		adc = adcUnderRange
	case c > int64(p.adc.high>>4):
		adc = adcOverRange
	}
	if adc != 0 {
		p.adc.status |= adc
		if p.adc.config&adcAlertPin != 0 {
			p.adc.driving = true
		}
	}

	var mon uint8
	switch c := code(v, ina233LSB, ina233FullScale); {
	case c < int64(p.mon.uv):
		mon = inaUVWarn
	case c > int64(p.mon.ov):
		mon = inaOVWarn
	}
	if mon != 0 {
		p.mon.status |= mon
		if mon&^p.mon.mask != 0 {
			p.mon.driving = true
			p.dac = dacPowerDown
		}
	}
	b.updateLine()
}

func (b *Bank) updateLine() {
	level := gpio.High
	for i := range b.ports {
		if b.ports[i].adc.driving || b.ports[i].mon.driving {
			level = gpio.Low
		}
	}
	if err := b.alert.Out(level); err != nil {
		pkg.LogWarn(pkg.ComponentIOBuf, "alert line write failed", "error", err)
	}
}
