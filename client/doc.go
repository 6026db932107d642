// Package client talks to the carrier firmware from the host.
//
// A [Client] issues the vendor control requests of the firmware over a
// [Transport]. [OpenUSB] provides a transport over libusb through gousb;
// package [github.com/ardnew/carrierfw/client/fifo] provides one for the
// simulated board.
//
// OUT requests that fail after their data stage do not stall: the firmware
// latches the error bit of the status byte instead. Methods issuing such
// requests read the status afterwards and return [ErrDevice] when the bit
// is set.
//
// # Usage
//
//	t, err := client.OpenUSB("")
//	if err != nil {
//	    return err
//	}
//	c := client.New(t)
//	defer c.Close()
//
//	if err := c.SetIOVoltage(ctx, proto.PortA, 3300*physic.MilliVolt); err != nil {
//	    return err
//	}
package client
