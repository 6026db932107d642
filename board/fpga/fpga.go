package fpga

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// Errors returned by the FPGA driver.
var (
	// ErrNotConfigured indicates CDONE did not rise after the bitstream was
	// loaded, or a register access was attempted with no design loaded.
	ErrNotConfigured = errors.New("fpga: not configured")

	// ErrRegister indicates the register file did not acknowledge an access.
	ErrRegister = errors.New("fpga: register access failed")
)

// RegPipeReset is the register address of the FIFO pipe reset bits, one per
// pipe. A set bit holds the pipe in reset.
const RegPipeReset = 0x00

// Config is the FPGA configuration and register boundary used by the
// firmware.
type Config interface {
	// Reset clears the FPGA configuration and prepares it to receive a new
	// bitstream.
	Reset() error
	// Load feeds the next bitstream chunk.
	Load(chunk []byte) error
	// Start finishes configuration and reports whether the design is running.
	Start() error
	// Ready reports whether a design is running.
	Ready() bool

	// SelectRegister addresses a register of the loaded design.
	SelectRegister(addr uint8) error
	// ReadRegister reads len(buf) bytes from the selected register.
	ReadRegister(buf []byte) error
	// WriteRegister writes data to the selected register.
	WriteRegister(data []byte) error

	// PipeReset sets then clears bits of the pipe reset register. With no
	// design loaded it does nothing.
	PipeReset(set, clr uint8) error
}

// Timing of the configuration sequence.
const (
	resetPulse  = 1 * time.Microsecond
	resetSettle = 1200 * time.Microsecond

	// At least 49 clocks are needed after the last bitstream byte.
	wakeupBytes = 13
)

// ICE40 configures a Lattice iCE40 in SPI peripheral mode and accesses the
// register file of the loaded design over I2C.
type ICE40 struct {
	mu     sync.Mutex
	spi    spi.Conn
	creset gpio.PinOut
	cdone  gpio.PinIn
	regs   i2c.Dev
	reg    uint8
	loaded int
}

var _ Config = (*ICE40)(nil)

// NewICE40 returns a driver using conn for the bitstream, creset and cdone
// for the configuration handshake, and bus for the register file.
func NewICE40(conn spi.Conn, creset gpio.PinOut, cdone gpio.PinIn, bus i2c.Bus) *ICE40 {
	return &ICE40{
		spi:    conn,
		creset: creset,
		cdone:  cdone,
		regs:   i2c.Dev{Bus: bus, Addr: proto.I2CAddrFPGA},
	}
}

// Reset pulses CRESET and waits for configuration memory to clear.
func (f *ICE40) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.creset.Out(gpio.Low); err != nil {
		return fmt.Errorf("fpga: assert creset: %w", err)
	}
	time.Sleep(resetPulse)
	if err := f.creset.Out(gpio.High); err != nil {
		return fmt.Errorf("fpga: release creset: %w", err)
	}
	time.Sleep(resetSettle)

	f.loaded = 0
	pkg.LogDebug(pkg.ComponentFPGA, "reset")
	return nil
}

// Load shifts chunk into the configuration port.
func (f *ICE40) Load(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.spi.Tx(chunk, nil); err != nil {
		return fmt.Errorf("fpga: load: %w", err)
	}
	f.loaded += len(chunk)
	return nil
}

// Start clocks out the wakeup sequence and checks CDONE.
func (f *ICE40) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var clocks [wakeupBytes]byte
	if err := f.spi.Tx(clocks[:], nil); err != nil {
		return fmt.Errorf("fpga: start: %w", err)
	}
	if f.cdone.Read() != gpio.High {
		pkg.LogWarn(pkg.ComponentFPGA, "cdone low after load", "bytes", f.loaded)
		return ErrNotConfigured
	}
	pkg.LogInfo(pkg.ComponentFPGA, "configured", "bytes", f.loaded)
	return nil
}

// Ready reports the CDONE level.
func (f *ICE40) Ready() bool {
	return f.cdone.Read() == gpio.High
}

// SelectRegister addresses a register with an address-only write.
func (f *ICE40) SelectRegister(addr uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectLocked(addr)
}

func (f *ICE40) selectLocked(addr uint8) error {
	if f.cdone.Read() != gpio.High {
		return ErrNotConfigured
	}
	if err := f.regs.Tx([]byte{addr}, nil); err != nil {
		return fmt.Errorf("%w: select 0x%02X: %v", ErrRegister, addr, err)
	}
	f.reg = addr
	return nil
}

// ReadRegister reads the selected register, least significant byte first.
func (f *ICE40) ReadRegister(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked(buf)
}

func (f *ICE40) readLocked(buf []byte) error {
	if err := f.regs.Tx([]byte{f.reg}, buf); err != nil {
		return fmt.Errorf("%w: read 0x%02X: %v", ErrRegister, f.reg, err)
	}
	return nil
}

// WriteRegister writes the selected register, most significant byte first.
func (f *ICE40) WriteRegister(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(data)
}

func (f *ICE40) writeLocked(data []byte) error {
	w := make([]byte, 0, 1+len(data))
	w = append(w, f.reg)
	w = append(w, data...)
	if err := f.regs.Tx(w, nil); err != nil {
		return fmt.Errorf("%w: write 0x%02X: %v", ErrRegister, f.reg, err)
	}
	return nil
}

// PipeReset updates the pipe reset register with a read-modify-write.
func (f *ICE40) PipeReset(set, clr uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cdone.Read() != gpio.High {
		return nil
	}
	if err := f.selectLocked(RegPipeReset); err != nil {
		return err
	}
	var v [1]byte
	if err := f.readLocked(v[:]); err != nil {
		return err
	}
	v[0] = v[0]&^clr | set
	if err := f.writeLocked(v[:]); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentFPGA, "pipe reset", "set", set, "clr", clr, "value", v[0])
	return nil
}
