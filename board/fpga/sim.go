package fpga

import (
	"bytes"
	"errors"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/carrierfw/proto"
)

// Preamble is the synchronization word that starts every iCE40 bitstream.
var Preamble = []byte{0x7E, 0xAA, 0x99, 0x7E}

var errSimNACK = errors.New("fpga-sim: no acknowledge")

// Sim simulates an iCE40 with a register file.
//
// The bitstream is accepted once it contains the preamble and is followed by
// the wakeup clocks. The register file answers on the FPGA I2C address only
// while a design is running; multibyte registers read least significant byte
// first and are written most significant byte first, taking effect at the end
// of the transaction.
type Sim struct {
	mu         sync.Mutex
	image      []byte
	configured bool
	reject     bool
	widths     []int
	values     []uint64
	inits      []uint64

	creset *simReset
	cdone  *gpiotest.Pin
}

// NewSim returns a simulated FPGA whose design exposes the pipe reset
// register at address 0.
func NewSim() *Sim {
	s := &Sim{
		cdone: &gpiotest.Pin{N: "CDONE", L: gpio.Low},
	}
	s.creset = &simReset{Pin: &gpiotest.Pin{N: "CRESET", L: gpio.High}, sim: s}
	s.AddRegister(1, 0)
	return s
}

// AddRegister appends a register of width bytes to the register file and
// returns its address.
func (s *Sim) AddRegister(width int, init uint64) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widths = append(s.widths, width)
	s.values = append(s.values, init)
	s.inits = append(s.inits, init)
	return uint8(len(s.widths) - 1)
}

// Register returns the current value of a register.
func (s *Sim) Register(addr uint8) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) >= len(s.values) {
		return 0
	}
	return s.values[addr]
}

// SetRegister sets a register as the design would.
func (s *Sim) SetRegister(addr uint8, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) < len(s.values) {
		s.values[addr] = v & widthMask(s.widths[addr])
	}
}

// Image returns a copy of the bitstream received since the last reset.
func (s *Sim) Image() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.image)
}

// Configured reports whether a design is running.
func (s *Sim) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// RejectBitstreams makes every subsequent configuration attempt fail, as with
// a corrupt image.
func (s *Sim) RejectBitstreams(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// CRESET returns the configuration reset pin.
func (s *Sim) CRESET() gpio.PinOut { return s.creset }

// CDONE returns the configuration done pin.
func (s *Sim) CDONE() gpio.PinIn { return s.cdone }

// SPI returns the configuration port.
func (s *Sim) SPI() spi.Conn { return simSPI{s} }

// Registers returns the register file bus.
func (s *Sim) Registers() *RegisterBus { return &RegisterBus{s} }

func (s *Sim) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = s.image[:0]
	s.configured = false
	copy(s.values, s.inits)
	_ = s.cdone.Out(gpio.Low)
}

func (s *Sim) shift(w []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w) >= 7 && len(bytes.Trim(w, "\x00")) == 0 &&
		!s.reject && bytes.Contains(s.image, Preamble) {
		s.configured = true
		_ = s.cdone.Out(gpio.High)
		return
	}
	s.image = append(s.image, w...)
}

// simReset observes CRESET; driving it low clears the configuration.
type simReset struct {
	*gpiotest.Pin
	sim *Sim
}

func (p *simReset) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	if l == gpio.Low {
		p.sim.reset()
	}
	return nil
}

type simSPI struct{ s *Sim }

func (c simSPI) String() string { return "fpga-sim-spi" }

func (c simSPI) Duplex() conn.Duplex { return conn.Full }

func (c simSPI) Tx(w, r []byte) error {
	c.s.shift(w)
	for i := range r {
		r[i] = 0xFF
	}
	return nil
}

func (c simSPI) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBus is the I2C side of the simulated register file. It implements
// i2c.Bus.
type RegisterBus struct{ s *Sim }

func (b *RegisterBus) String() string { return "fpga-sim-i2c" }

func (b *RegisterBus) SetSpeed(physic.Frequency) error { return nil }

func (b *RegisterBus) Tx(addr uint16, w, r []byte) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr != proto.I2CAddrFPGA || !s.configured || len(w) == 0 {
		return errSimNACK
	}
	reg := int(w[0])
	if reg >= len(s.values) {
		return errSimNACK
	}

	data := s.values[reg]
	if len(w) > 1 {
		for _, v := range w[1:] {
			data = data<<8 | uint64(v)
		}
		s.values[reg] = data & widthMask(s.widths[reg])
	}
	for i := range r {
		r[i] = byte(data)
		data >>= 8
	}
	return nil
}

func widthMask(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*width) - 1
}
