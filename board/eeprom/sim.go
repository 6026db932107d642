package eeprom

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/marcinbor85/gohex"
	"periph.io/x/conn/v3/physic"
)

// DefaultWriteCycles is the number of polls a simulated chip stays busy after
// a page write.
const DefaultWriteCycles = 2

// Sim is an in-memory I2C bus populated with simulated EEPROM chips. It
// implements i2c.Bus.
//
// A chip may answer on several consecutive addresses; the address offset
// selects a 64 KiB bank, as on 1 Mbit parts that take the top address bit
// from the device address.
type Sim struct {
	mu          sync.Mutex
	chips       map[uint16]*simChip
	speed       physic.Frequency
	writeCycles int
}

type simChip struct {
	base     uint16
	span     int
	pageSize int
	mem      []byte
	ptr      uint16
	busy     int
	readOnly bool
	detached bool
}

// NewSim returns an empty bus.
func NewSim() *Sim {
	return &Sim{
		chips:       make(map[uint16]*simChip),
		writeCycles: DefaultWriteCycles,
	}
}

// AddChip attaches an erased chip of size bytes answering on span addresses
// starting at addr.
func (s *Sim) AddChip(addr uint16, size, pageSize, span int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if span < 1 {
		span = 1
	}
	c := &simChip{
		base:     addr,
		span:     span,
		pageSize: pageSize,
		mem:      bytes.Repeat([]byte{0xFF}, size),
	}
	for i := 0; i < span; i++ {
		s.chips[addr+uint16(i)] = c
	}
}

// SetWriteCycles sets how many polls a chip NACKs after a page write.
func (s *Sim) SetWriteCycles(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCycles = n
}

// SetReadOnly makes the chip at addr NACK data writes.
func (s *Sim) SetReadOnly(addr uint16, ro bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chips[addr]; ok {
		c.readOnly = ro
	}
}

// Detach makes the chip at addr stop answering entirely.
func (s *Sim) Detach(addr uint16, detached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chips[addr]; ok {
		c.detached = detached
	}
}

// Speed returns the last bus speed set.
func (s *Sim) Speed() physic.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// String implements i2c.Bus.
func (s *Sim) String() string {
	return "eeprom-sim"
}

// SetSpeed implements i2c.Bus.
func (s *Sim) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = f
	return nil
}

// Tx implements i2c.Bus.
func (s *Sim) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chips[addr]
	if !ok || c.detached {
		return ErrNACK
	}
	if c.busy > 0 {
		c.busy--
		return ErrNACK
	}
	bank := int(addr-c.base) << 16

	if len(w) == 1 {
		return ErrNACK
	}
	if len(w) >= 2 {
		c.ptr = uint16(w[0])<<8 | uint16(w[1])
		if data := w[2:]; len(data) > 0 {
			if c.readOnly {
				return ErrNACK
			}
			// Writes wrap within the page, as on real parts.
			page := int(c.ptr) &^ (c.pageSize - 1)
			off := int(c.ptr) - page
			for _, b := range data {
				c.mem[(bank+page+off)%len(c.mem)] = b
				off = (off + 1) % c.pageSize
			}
			c.busy = s.writeCycles
		}
	}
	for i := range r {
		r[i] = c.mem[(bank+int(c.ptr))%len(c.mem)]
		c.ptr++
	}
	return nil
}

// Bytes returns a copy of the whole memory of the chip at addr.
func (s *Sim) Bytes(addr uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chips[addr]
	if !ok {
		return nil
	}
	return bytes.Clone(c.mem)
}

// Load copies data into the chip at addr starting at offset, bypassing the
// bus.
func (s *Sim) Load(addr uint16, offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chips[addr]
	if !ok {
		return fmt.Errorf("load 0x%02X: %w", addr, ErrNACK)
	}
	if offset < 0 || offset+len(data) > len(c.mem) {
		return fmt.Errorf("load 0x%02X@0x%X+%d: %w", addr, offset, len(data), ErrRange)
	}
	copy(c.mem[offset:], data)
	return nil
}

// LoadIntelHex programs the chip at addr from an Intel HEX image whose
// addresses are chip offsets.
func (s *Sim) LoadIntelHex(addr uint16, r io.Reader) error {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return fmt.Errorf("parse intel hex: %w", err)
	}
	for _, seg := range mem.GetDataSegments() {
		if err := s.Load(addr, int(seg.Address), seg.Data); err != nil {
			return err
		}
	}
	return nil
}

// DumpIntelHex writes the programmed part of the chip at addr as Intel HEX.
// Trailing erased bytes are omitted.
func (s *Sim) DumpIntelHex(addr uint16, w io.Writer) error {
	data := s.Bytes(addr)
	if data == nil {
		return fmt.Errorf("dump 0x%02X: %w", addr, ErrNACK)
	}
	end := len(data)
	for end > 0 && data[end-1] == 0xFF {
		end--
	}
	mem := gohex.NewMemory()
	if end > 0 {
		if err := mem.AddBinary(0, data[:end]); err != nil {
			return err
		}
	}
	return mem.DumpIntelHex(w, 16)
}
