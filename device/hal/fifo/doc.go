// Package fifo implements a FIFO-based HAL for the device stack using named
// pipes.
//
// This HAL is intended for simulation. It lets the carrier firmware run as a
// normal process while a host tool talks to it through the filesystem, with
// no USB hardware involved.
//
// # Architecture
//
// Each device instance creates a unique subdirectory under a shared bus
// directory:
//
//	/tmp/usb-bus/                    # Bus directory (shared with host)
//	└── device-{uuid}/               # Device subdirectory (unique per device)
//	    ├── connection               # Connection signaling (device → host)
//	    ├── host_to_device           # SETUP, OUT data and resets from host
//	    └── device_to_host           # IN data, ACK and STALL to host
//
// Bulk pipes are not simulated: on the real board their FIFOs are serviced
// by the FPGA, so the HAL only records endpoint configuration and FIFO
// resets.
//
// # Messages
//
// Every message is framed as [type, len_lo, len_hi, payload...]. A control
// transfer starts with a SETUP message carrying [address, setup(8)]. The OUT
// data stage follows as DATA messages of at most 64 bytes. The device answers
// with DATA messages for an IN data stage, and with ACK or STALL. An IN
// transfer ends with a short packet or when wLength bytes were sent.
//
// # Hot-Plugging Support
//
// The device signals connection and disconnection via the connection FIFO:
//   - 0x01: Device connected and ready
//   - 0x00: Device disconnecting
//
// # Usage
//
//	h := fifo.New("/tmp/usb-bus")
//	board.HAL = h
//	fw, err := firmware.New(board, firmware.Options{})
//	if err != nil {
//	    return err
//	}
//	if err := fw.Boot(ctx); err != nil {
//	    return err
//	}
//	fmt.Printf("Device directory: %s\n", h.DeviceDir())
//	return fw.Run(ctx)
//
// The host side lives in [github.com/ardnew/carrierfw/client/fifo].
package fifo
