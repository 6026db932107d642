// Package fifo connects a [client.Client] to a carrier simulated with
// [github.com/ardnew/carrierfw/device/hal/fifo].
//
// [Open] watches the bus directory for a device subdirectory, waits for the
// device to signal its connection and opens the control pipes:
//
//	t, err := fifo.Open(ctx, "/tmp/usb-bus")
//	if err != nil {
//	    return err
//	}
//	c := client.New(t)
//	defer c.Close()
//
// Only control transfers are carried. The message framing is the one
// documented by the device side.
package fifo
