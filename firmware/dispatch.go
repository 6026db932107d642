package firmware

import (
	"context"
	"fmt"

	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// direction restricts a route to IN requests, OUT requests or both.
type direction uint8

const (
	dirIn direction = 1 << iota
	dirOut

	dirBoth = dirIn | dirOut
)

func (d direction) matches(in bool) bool {
	if in {
		return d&dirIn != 0
	}
	return d&dirOut != 0
}

// route is one entry of the vendor request table.
type route struct {
	name    string
	request uint8
	dir     direction
	// match is the precondition on value, index and length. Nil accepts
	// every request.
	match func(req *device.SetupPacket) bool
	// handle completes the request. A returned error stalls EP0.
	handle func(ctx context.Context, req *device.SetupPacket) error
}

// lengthIs returns a precondition accepting requests of exactly n bytes.
func lengthIs(n uint16) func(*device.SetupPacket) bool {
	return func(req *device.SetupPacket) bool { return req.Length == n }
}

// errNoRoute is returned for vendor requests no route accepts.
var errNoRoute = fmt.Errorf("%w: no route", pkg.ErrInvalidRequest)

// handlePendingSetup dispatches the snapshotted SETUP packet. The pending
// flag is cleared as soon as the request is classified, before any data is
// moved, so the next SETUP can be received while this one completes.
func (f *Firmware) handlePendingSetup(ctx context.Context) {
	req := f.setup

	err := f.dispatch(ctx, &req)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	pkg.LogDebug(pkg.ComponentDispatch, "request stalled",
		"request", req.String(),
		"error", err)
	if err := f.board.HAL.StallEP0(); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "stall failed", "error", err)
	}
}

func (f *Firmware) dispatch(ctx context.Context, req *device.SetupPacket) error {
	if req.RequestType != proto.RequestTypeVendorIn && req.RequestType != proto.RequestTypeVendorOut {
		f.pending.Store(false)
		return fmt.Errorf("%w: request type 0x%02X", pkg.ErrInvalidRequest, req.RequestType)
	}

	in := req.IsDeviceToHost()
	for i := range f.routes {
		r := &f.routes[i]
		if r.request != req.Request || !r.dir.matches(in) {
			continue
		}
		if r.match != nil && !r.match(req) {
			continue
		}
		f.pending.Store(false)
		pkg.LogDebug(pkg.ComponentDispatch, "vendor request",
			"route", r.name,
			"value", req.Value,
			"index", req.Index,
			"length", req.Length)
		return r.handle(ctx, req)
	}

	f.pending.Store(false)
	return errNoRoute
}

// reply sends data in the data stage of an IN request.
func (f *Firmware) reply(ctx context.Context, req *device.SetupPacket, data []byte) error {
	return device.SendControlIn(ctx, f.board.HAL, data, req.Length)
}

// receive reads the whole data stage of an OUT request into buf. The status
// stage is left to the caller.
func (f *Firmware) receive(ctx context.Context, buf []byte) ([]byte, error) {
	n, err := device.ReceiveControlOut(ctx, f.board.HAL, buf)
	if err != nil {
		return nil, err
	}
	if n < len(buf) {
		return nil, fmt.Errorf("%w: data stage %d of %d bytes", pkg.ErrProtocol, n, len(buf))
	}
	return buf[:n], nil
}

// ack completes the status stage of an OUT request.
func (f *Firmware) ack() error {
	return f.board.HAL.AckEP0()
}
