// Package iobuf models the I/O port power stage of the carrier board: the
// adjustable regulators feeding each port, their per-port limits, the sense
// chips that measure the outputs and raise the shared ~ALERT line, the pull
// resistors and the I/O buffer enable.
//
// Two sense chip families were fitted over the board revisions. [Select]
// picks the matching [Backend] once at boot:
//
//	backend := iobuf.Select(rev, iobuf.Board{Bus: bus, OE: oe})
//	if err := backend.Init(limits); err != nil {
//	    // report through the status byte
//	}
//
// The families differ in how an alert is acknowledged. An [ADC081C] releases
// the alert line when its status is polled. An [INA233] cuts the regulator in
// hardware and holds the line until [Backend.ClearAlert], so the port must be
// switched off in firmware first.
//
// Both backends are register drivers over a periph.io i2c.Bus: a DAC101C085
// per port sets the regulator, a TCA9534 per port drives the pull resistors
// and the sense chips answer at their own addresses.
//
// [Bank] is the simulated power stage, an i2c.Bus populated with every chip.
// Its alert line is a periph.io GPIO pin and faults are injected per port.
package iobuf
