// Package firmware is the control firmware of the FPGA carrier board.
//
// The firmware answers the vendor requests of the host software, keeps the
// board configuration, loads the FPGA and supervises the I/O port supplies.
//
// # Structure
//
// Work is split between interrupt sources and a main loop:
//
//   - the USB control loop ([device.Stack]) hands every non-standard SETUP
//     packet to [Firmware.HandleSetup], which records it and rings the main
//     loop;
//   - the alert watcher samples the ~ALERT line and, when it is asserted,
//     disarms itself and flags the alert;
//   - endpoint activity lights the ACT LED and starts its turn-off timer.
//
// The main loop ([Firmware.Run]) handles the pending SETUP request, then a
// pending alert, then updates the FX2 LED. Every bus transaction happens
// there.
//
// # Vendor requests
//
// Requests are matched against a route table on request code, direction and
// a precondition on wValue, wIndex and wLength. Requests no route accepts,
// and requests whose type is not vendor-to-device, stall EP0.
//
// Failures that can be reported before the data stage stall the request.
// Failures of OUT requests after the data was accepted latch the error bit of
// the status byte instead; reading the status clears it.
//
// # Alerts
//
// A sense chip alert switches the affected ports off permanently, latches the
// alert bit and lights the ERR LED. The host clears the alert bit with the
// poll alert request.
//
// # Example
//
//	fw, err := firmware.New(firmware.Board{
//	    HAL:       usb,
//	    Memory:    mem,
//	    FPGA:      ice40,
//	    Power:     iobuf.Board{Bus: powerBus, OE: oe},
//	    AlertLine: alert,
//	}, firmware.Options{})
//	if err != nil {
//	    return err
//	}
//	if err := fw.Boot(ctx); err != nil {
//	    return err
//	}
//	return fw.Run(ctx)
package firmware
