// Package eeprom drives the 24-series I2C EEPROMs of the carrier board.
//
// The board carries two memories behind one I2C bus: the on-board memory
// holding the USB controller boot image and the configuration record, and
// the configuration memory holding the FPGA bitstream. Both use double-byte
// addressing. The larger one answers on two device addresses, each selecting
// one 64 KiB half.
//
// Writes are split at page boundaries and each page write is followed by
// acknowledge polling, bounded by a timeout:
//
//	mem, err := eeprom.New(bus)
//	if err != nil {
//	    return err
//	}
//	err = mem.Write(0x51, 0x0010, data, 64, eeprom.DefaultWriteTimeout)
//
// [Sim] is an in-memory bus with simulated chips, used by the board
// simulator and by tests. It can be programmed from, and dumped to, Intel HEX.
package eeprom
