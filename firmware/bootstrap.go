package firmware

import (
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// bootChunk is the read size of the boot-time bitstream load.
const bootChunk = 128

// bootstrap loads the bitstream stored in the configuration memory, if the
// record declares one. The image starts at address 0 of the first
// configuration memory chip and continues across its 64 KiB banks; an image
// larger than the configuration memory ends in the tail window of the
// on-board memory.
func (f *Firmware) bootstrap() {
	length := f.store.BitstreamSize()
	if length == 0 {
		return
	}

	f.leds.drive(LEDActivity, true)
	defer f.leds.drive(LEDActivity, false)

	pkg.LogInfo(pkg.ComponentBoot, "loading stored bitstream", "size", length)

	if err := f.board.FPGA.Reset(); err != nil {
		pkg.LogWarn(pkg.ComponentBoot, "fpga reset failed", "error", err)
	}

	chip := uint16(proto.I2CAddrICEMemory)
	addr := uint16(0)
	for length > 0 {
		n := uint32(bootChunk)
		if length < n {
			n = length
		}
		chunk := f.scratch[:n]
		if err := f.board.Memory.Read(chip, addr, chunk); err != nil {
			pkg.LogError(pkg.ComponentBoot, "bitstream read failed",
				"chip", chip, "addr", addr, "error", err)
			f.status.latch(proto.StatusError)
			return
		}
		if err := f.board.FPGA.Load(chunk); err != nil {
			pkg.LogWarn(pkg.ComponentBoot, "bitstream load failed", "error", err)
		}

		length -= n
		addr += uint16(n)
		if addr == 0 {
			chip++
			if chip == proto.I2CAddrICEMemory+2 {
				chip = proto.I2CAddrFX2Memory
				addr = proto.TailWindowOffset
			}
		}
	}

	if err := f.board.FPGA.Start(); err != nil {
		pkg.LogError(pkg.ComponentBoot, "stored bitstream did not start", "error", err)
		f.status.latch(proto.StatusError)
		return
	}
	pkg.LogInfo(pkg.ComponentBoot, "stored bitstream started")
}
