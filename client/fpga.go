package client

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// BitstreamChunk is the size of the FPGA_CFG requests LoadBitstream issues.
const BitstreamChunk = 1024

// LoadBitstream configures the FPGA with image and records id as the tag of
// the running design.
func (c *Client) LoadBitstream(ctx context.Context, image []byte, id [proto.BitstreamIDSize]byte) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: empty bitstream", pkg.ErrInvalidParameter)
	}
	if len(image) > BitstreamChunk*0x10000 {
		return fmt.Errorf("%w: bitstream of %d bytes", pkg.ErrInvalidParameter, len(image))
	}

	for idx := 0; len(image) > 0; idx++ {
		n := min(len(image), BitstreamChunk)
		if err := c.out(ctx, proto.RequestFPGAConfig, 0, uint16(idx), image[:n]); err != nil {
			return fmt.Errorf("load bitstream chunk %d: %w", idx, err)
		}
		image = image[n:]
	}
	if err := c.out(ctx, proto.RequestBitstreamID, 0, 0, id[:]); err != nil {
		return fmt.Errorf("start bitstream: %w", err)
	}

	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status&proto.StatusError != 0 || status&proto.StatusFPGAReady == 0 {
		return fmt.Errorf("load bitstream: %w (status %v)", ErrDevice, status)
	}
	pkg.LogInfo(pkg.ComponentClient, "bitstream loaded", "id", fmt.Sprintf("%x", id))
	return nil
}

// BitstreamID returns the tag of the running design, all zeroes if none.
func (c *Client) BitstreamID(ctx context.Context) ([proto.BitstreamIDSize]byte, error) {
	var id [proto.BitstreamIDSize]byte
	data, err := c.inExact(ctx, proto.RequestBitstreamID, 0, 0, proto.BitstreamIDSize)
	if err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func checkWidth(width int) error {
	if width < 1 || width > 8 {
		return fmt.Errorf("%w: register width %d", pkg.ErrInvalidParameter, width)
	}
	return nil
}

// ReadRegister reads a register of width bytes of the running design.
func (c *Client) ReadRegister(ctx context.Context, addr uint8, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	data, err := c.inExact(ctx, proto.RequestRegister, uint16(addr), 0, width)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteRegister writes v to a register of width bytes of the running design.
func (c *Client) WriteRegister(ctx context.Context, addr uint8, width int, v uint64) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return c.outChecked(ctx, "write register", proto.RequestRegister, uint16(addr), 0, buf[8-width:])
}
