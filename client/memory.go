package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// MaxTransfer bounds the data stage of a single EEPROM request. It is the
// size of the tail window, so a split transfer never straddles it.
const MaxTransfer = proto.TailWindowSize

// Size of the on-board memory areas, indexed by selector.
const (
	iceBankSize = 0x10000

	// MaxStoredBitstream is the largest bitstream StoreBitstream accepts.
	MaxStoredBitstream = 2*iceBankSize + proto.TailWindowSize
)

func checkRange(addr uint16, n int) error {
	if int(addr)+n > 0x10000 {
		return fmt.Errorf("%w: 0x%04X+0x%X leaves the address space", pkg.ErrInvalidParameter, addr, n)
	}
	return nil
}

// ReadMemory reads len(buf) bytes at addr of the memory named by selector.
func (c *Client) ReadMemory(ctx context.Context, selector, addr uint16, buf []byte) error {
	if err := checkRange(addr, len(buf)); err != nil {
		return err
	}
	for len(buf) > 0 {
		n := min(len(buf), MaxTransfer)
		data, err := c.inExact(ctx, proto.RequestEEPROM, addr, selector, n)
		if err != nil {
			return fmt.Errorf("read memory %d at 0x%04X: %w", selector, addr, err)
		}
		copy(buf, data)
		buf = buf[n:]
		addr += uint16(n)
	}
	return nil
}

// WriteMemory writes data at addr of the memory named by selector. A failed
// write stalls the request.
func (c *Client) WriteMemory(ctx context.Context, selector, addr uint16, data []byte) error {
	if err := checkRange(addr, len(data)); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), MaxTransfer)
		if err := c.out(ctx, proto.RequestEEPROM, addr, selector, data[:n]); err != nil {
			return fmt.Errorf("write memory %d at 0x%04X: %w", selector, addr, err)
		}
		data = data[n:]
		addr += uint16(n)
	}
	return nil
}

// boardMemory presents the memories of a remote board as config.Memory.
type boardMemory struct {
	ctx context.Context
	c   *Client
}

func selectorOf(chip uint16) (uint16, error) {
	switch chip {
	case proto.I2CAddrFX2Memory:
		return proto.SelectorFX2Memory, nil
	case proto.I2CAddrICEMemory:
		return proto.SelectorICEMemoryLo, nil
	case proto.I2CAddrICEMemory + 1:
		return proto.SelectorICEMemoryHi, nil
	}
	return 0, fmt.Errorf("%w: memory 0x%02X", pkg.ErrInvalidParameter, chip)
}

func (m boardMemory) Read(chip, addr uint16, buf []byte) error {
	sel, err := selectorOf(chip)
	if err != nil {
		return err
	}
	return m.c.ReadMemory(m.ctx, sel, addr, buf)
}

// Write ignores the page size and timeout; the firmware knows both.
func (m boardMemory) Write(chip, addr uint16, data []byte, pageSize int, timeout time.Duration) error {
	sel, err := selectorOf(chip)
	if err != nil {
		return err
	}
	return m.c.WriteMemory(m.ctx, sel, addr, data)
}

var _ config.Memory = boardMemory{}

// Record reads the configuration record and the load marker from the
// on-board memory. The record of an unprogrammed board is whatever the
// memory holds.
func (c *Client) Record(ctx context.Context) (config.Record, byte, error) {
	mem := boardMemory{ctx, c}
	var rec config.Record

	var marker [1]byte
	if err := mem.Read(proto.I2CAddrFX2Memory, config.MarkerOffset, marker[:]); err != nil {
		return rec, 0, fmt.Errorf("read marker: %w", err)
	}
	var buf [config.RecordSize]byte
	if err := mem.Read(proto.I2CAddrFX2Memory, config.RecordOffset, buf[:]); err != nil {
		return rec, 0, fmt.Errorf("read record: %w", err)
	}
	if err := config.ParseRecord(buf[:], &rec); err != nil {
		return rec, 0, err
	}
	return rec, marker[0], nil
}

// Provision programs the boot header and rec into the on-board memory. The
// board adopts the record on its next boot.
func (c *Client) Provision(ctx context.Context, rec config.Record) error {
	store := config.New(boardMemory{ctx, c}, config.Defaults())
	if err := store.Provision(config.MarkerFactory, rec); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentClient, "board provisioned",
		"revision", rec.Revision.String(), "serial", rec.SerialString())
	return nil
}

// StoreBitstream writes image to the FPGA memory and records its size and
// id, so the firmware loads it on boot. The first 128 KiB go to the FPGA
// memory and the rest to the tail window of the on-board memory.
func (c *Client) StoreBitstream(ctx context.Context, image []byte, id [proto.BitstreamIDSize]byte) error {
	if len(image) > MaxStoredBitstream {
		return fmt.Errorf("%w: bitstream of %d bytes exceeds %d", pkg.ErrInvalidParameter, len(image), MaxStoredBitstream)
	}

	lo := min(len(image), iceBankSize)
	hi := min(len(image), 2*iceBankSize)
	parts := []struct {
		selector uint16
		data     []byte
	}{
		{proto.SelectorICEMemoryLo, image[:lo]},
		{proto.SelectorICEMemoryHi, image[lo:hi]},
		{proto.SelectorICEMemoryTail, image[hi:]},
	}
	for _, p := range parts {
		if len(p.data) == 0 {
			continue
		}
		if err := c.WriteMemory(ctx, p.selector, 0, p.data); err != nil {
			return fmt.Errorf("store bitstream: %w", err)
		}
	}

	rec, _, err := c.Record(ctx)
	if err != nil {
		return fmt.Errorf("store bitstream: %w", err)
	}
	rec.BitstreamSize = uint32(len(image))
	rec.BitstreamID = id
	if err := config.New(boardMemory{ctx, c}, rec).Persist(); err != nil {
		return fmt.Errorf("store bitstream: %w", err)
	}
	pkg.LogInfo(pkg.ComponentClient, "bitstream stored", "size", len(image), "id", fmt.Sprintf("%x", id))
	return nil
}
