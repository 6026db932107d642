// Package fpga drives the FPGA of the carrier board.
//
// Configuration follows the iCE40 SPI peripheral sequence: pulse CRESET,
// shift the bitstream in, clock out the wakeup sequence and check CDONE.
// Once a design runs, its register file is reachable over I2C at
// [proto.I2CAddrFPGA]. Register 0 of every design holds the pipe reset bits
// used by the USB FIFO interfaces.
//
// [Config] is the boundary the firmware programs against. [ICE40] is the
// hardware driver built on periph.io SPI, GPIO and I2C connections, and
// [Sim] provides those connections for a simulated device.
package fpga
