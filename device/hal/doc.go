// Package hal defines the interface between the device stack and the USB
// controller of the carrier.
//
// The controller handles the bulk pipes on its own: their FIFOs are wired to
// the FPGA and the firmware never sees the data. What is left for software is
// the control endpoint and a few housekeeping operations:
//
//   - Initialization, attach and detach
//   - SETUP reception and the EP0 buffer with its BUSY bit
//   - Stall and status-stage acknowledge
//   - Endpoint FIFO configuration and reset
//   - Connection state and speed
//
// # EP0 Buffer Model
//
// A control transfer with a data stage is moved 64 bytes at a time through
// the EP0 buffer. For an IN transfer the firmware waits for BUSY to clear,
// fills [DeviceHAL.EP0Buffer] and calls [DeviceHAL.SendEP0]. For an OUT
// transfer it calls [DeviceHAL.ReceiveEP0], waits for BUSY to clear and reads
// [DeviceHAL.EP0Count] bytes from the buffer:
//
//	for h.EP0Busy() {
//	    runtime.Gosched()
//	}
//	n := copy(h.EP0Buffer(), chunk)
//	if err := h.SendEP0(n); err != nil {
//	    return err
//	}
//
// A FIFO-based HAL for simulation is available in
// [github.com/ardnew/carrierfw/device/hal/fifo].
package hal
