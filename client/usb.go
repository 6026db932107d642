package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// DefaultControlTimeout bounds each control transfer over USB. Loading a
// bitstream chunk or writing a memory page takes a few milliseconds.
const DefaultControlTimeout = 5 * time.Second

// USB is a Transport over libusb.
type USB struct {
	ctx *gousb.Context
	dev *gousb.Device
}

// OpenUSB opens a carrier board. With an empty serial the first board found
// is used.
func OpenUSB(serial string) (*USB, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(proto.VendorID) && desc.Product == gousb.ID(proto.ProductID)
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("open usb devices: %w", err)
	}

	var found *gousb.Device
	for _, d := range devs {
		if found != nil {
			d.Close()
			continue
		}
		if serial != "" {
			s, err := d.SerialNumber()
			if err != nil || s != serial {
				d.Close()
				continue
			}
		}
		found = d
	}
	if found == nil {
		ctx.Close()
		if serial != "" {
			return nil, fmt.Errorf("board %s: %w", serial, pkg.ErrNoDevice)
		}
		return nil, pkg.ErrNoDevice
	}

	found.ControlTimeout = DefaultControlTimeout
	pkg.LogInfo(pkg.ComponentClient, "board opened", "device", found.String())
	return &USB{ctx: ctx, dev: found}, nil
}

// SetTimeout changes the timeout of each control transfer.
func (u *USB) SetTimeout(d time.Duration) {
	u.dev.ControlTimeout = d
}

// Serial returns the serial number string of the board.
func (u *USB) Serial() (string, error) {
	return u.dev.SerialNumber()
}

// Control runs one control transfer. The transfer itself cannot be
// cancelled once submitted; ctx is checked before it starts.
func (u *USB) Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := u.dev.Control(requestType, request, value, index, data)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, gousb.ErrorPipe):
		return n, ErrStalled
	case errors.Is(err, gousb.ErrorTimeout):
		return n, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
	case errors.Is(err, gousb.ErrorNoDevice):
		return n, fmt.Errorf("%w: %v", pkg.ErrNoDevice, err)
	}
	return n, err
}

// Close releases the device and the libusb context.
func (u *USB) Close() error {
	err := u.dev.Close()
	if cerr := u.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Transport = (*USB)(nil)
