package eeprom

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/pkg"
)

// Bus speed used for every transaction.
const Speed = 400 * physic.KiloHertz

// DefaultWriteTimeout bounds the internal write cycle of one page.
const DefaultWriteTimeout = 5 * time.Millisecond

// PollInterval is the pause between acknowledge polls of a write cycle.
const PollInterval = 50 * time.Microsecond

// Errors returned by the driver.
var (
	// ErrNACK indicates the chip did not acknowledge its address or data.
	ErrNACK = errors.New("eeprom: no acknowledge")

	// ErrTimeout indicates a page write did not complete in time.
	ErrTimeout = errors.New("eeprom: write cycle timeout")

	// ErrRange indicates an access outside the chip.
	ErrRange = errors.New("eeprom: address out of range")
)

// EEPROM drives 24-series I2C memories with double-byte addressing.
//
// Several chips may share one bus; every call names the 7-bit chip address.
type EEPROM struct {
	bus   i2c.Bus
	clock clockwork.Clock
}

// New returns a driver for the memories on bus.
func New(bus i2c.Bus) (*EEPROM, error) {
	if err := bus.SetSpeed(Speed); err != nil {
		return nil, fmt.Errorf("eeprom: set speed: %w", err)
	}
	return &EEPROM{bus: bus, clock: clockwork.NewRealClock()}, nil
}

// SetClock replaces the clock pacing write cycle polls.
func (e *EEPROM) SetClock(clock clockwork.Clock) {
	e.clock = clock
}

// String returns the underlying bus name.
func (e *EEPROM) String() string {
	return e.bus.String()
}

// Read fills buf starting at addr of the chip. Like the chip's own address
// counter, a read running past 0xFFFF continues at 0.
func (e *EEPROM) Read(chip, addr uint16, buf []byte) error {
	for len(buf) > 0 {
		n := min(len(buf), 0x10000-int(addr))
		w := [2]byte{byte(addr >> 8), byte(addr)}
		if err := e.bus.Tx(chip, w[:], buf[:n]); err != nil {
			pkg.LogDebug(pkg.ComponentEEPROM, "read failed",
				"chip", chip, "addr", addr, "len", n, "error", err)
			return fmt.Errorf("read 0x%02X@0x%04X: %w", chip, addr, asNACK(err))
		}
		addr += uint16(n)
		buf = buf[n:]
	}
	return nil
}

// Write stores data starting at addr of the chip.
//
// Writes are split so that no page write crosses a pageSize boundary. After
// each page the chip is polled until it acknowledges again or timeout
// elapses. A pageSize below 2 writes one byte at a time. Data past 0xFFFF
// is written from address 0.
func (e *EEPROM) Write(chip, addr uint16, data []byte, pageSize int, timeout time.Duration) error {
	if pageSize < 1 {
		pageSize = 1
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	var frame []byte
	for len(data) > 0 {
		n := pageSize - int(addr)%pageSize
		if n > len(data) {
			n = len(data)
		}

		frame = append(frame[:0], byte(addr>>8), byte(addr))
		frame = append(frame, data[:n]...)
		if err := e.bus.Tx(chip, frame, nil); err != nil {
			pkg.LogDebug(pkg.ComponentEEPROM, "page write failed",
				"chip", chip, "addr", addr, "len", n, "error", err)
			return fmt.Errorf("write 0x%02X@0x%04X: %w", chip, addr, asNACK(err))
		}
		if err := e.waitReady(chip, addr, timeout); err != nil {
			return err
		}

		addr += uint16(n)
		data = data[n:]
	}
	return nil
}

// waitReady polls the chip with an address-only write until it acknowledges.
func (e *EEPROM) waitReady(chip, addr uint16, timeout time.Duration) error {
	w := [2]byte{byte(addr >> 8), byte(addr)}
	deadline := e.clock.Now().Add(timeout)
	for {
		if err := e.bus.Tx(chip, w[:], nil); err == nil {
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			pkg.LogWarn(pkg.ComponentEEPROM, "write cycle timeout",
				"chip", chip, "addr", addr, "timeout", timeout)
			return fmt.Errorf("write 0x%02X@0x%04X: %w", chip, addr, ErrTimeout)
		}
		e.clock.Sleep(PollInterval)
	}
}

func asNACK(err error) error {
	if errors.Is(err, ErrNACK) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNACK, err)
}
