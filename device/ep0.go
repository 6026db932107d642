package device

import (
	"context"
	"runtime"

	"github.com/ardnew/carrierfw/device/hal"
)

// WaitEP0 blocks until the EP0 buffer is free or ctx is done.
func WaitEP0(ctx context.Context, h hal.DeviceHAL) error {
	for h.EP0Busy() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// SendControlIn returns data to the host in the data stage of an IN control
// transfer of length bytes. data is sent in EP0-sized packets; a zero-length
// packet terminates a reply that is shorter than length and ends on a packet
// boundary.
func SendControlIn(ctx context.Context, h hal.DeviceHAL, data []byte, length uint16) error {
	if len(data) > int(length) {
		data = data[:length]
	}
	short := len(data) < int(length)

	for {
		if err := WaitEP0(ctx, h); err != nil {
			return err
		}
		n := copy(h.EP0Buffer(), data)
		if err := h.SendEP0(n); err != nil {
			return err
		}
		data = data[n:]
		if len(data) == 0 && (n < hal.EP0Size || !short) {
			return nil
		}
	}
}

// ReceiveControlOut reads the data stage of an OUT control transfer into buf.
// It stops after len(buf) bytes or on a short packet and returns the number
// of bytes read.
func ReceiveControlOut(ctx context.Context, h hal.DeviceHAL, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if err := h.ReceiveEP0(); err != nil {
			return total, err
		}
		if err := WaitEP0(ctx, h); err != nil {
			return total, err
		}
		count := h.EP0Count()
		total += copy(buf[total:], h.EP0Buffer()[:count])
		if count < hal.EP0Size {
			break
		}
	}
	return total, nil
}
