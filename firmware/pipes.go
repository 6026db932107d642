package firmware

import (
	"fmt"

	"github.com/ardnew/carrierfw/pkg"
)

// numPipes is the number of FIFO pipes between USB and the FPGA.
const numPipes = 4

// Configuration values.
const (
	ConfigFourPipes = 1
	ConfigTwoPipes  = 2
)

// pipeEndpoints are the endpoint addresses of pipes 0 to 3.
var pipeEndpoints = [numPipes]uint8{0x02, 0x04, 0x86, 0x88}

// configPipes returns the pipes used by a configuration.
func configPipes(value uint8) []int {
	switch value {
	case ConfigFourPipes:
		return []int{0, 1, 2, 3}
	case ConfigTwoPipes:
		return []int{0, 2}
	}
	return nil
}

// interfacePipe returns the pipe behind an interface of a configuration.
func interfacePipe(value, number uint8) (int, bool) {
	pipes := configPipes(value)
	if int(number) >= len(pipes) {
		return 0, false
	}
	return pipes[number], true
}

// SetConfiguration implements device.ConfigurationHook. Every interface
// returns to its disabled alternate setting, every pipe is held in reset in
// the FPGA and all endpoint FIFOs are flushed, whatever the new
// configuration uses.
func (f *Firmware) SetConfiguration(value uint8) error {
	if value > ConfigTwoPipes {
		return fmt.Errorf("%w: configuration %d", pkg.ErrInvalidRequest, value)
	}

	f.pipeMu.Lock()
	defer f.pipeMu.Unlock()

	f.configValue = value
	f.altSetting = [numPipes]uint8{}

	if err := f.board.FPGA.PipeReset(0x0F, 0); err != nil {
		pkg.LogWarn(pkg.ComponentFirmware, "pipe reset failed", "error", err)
	}
	for _, ep := range pipeEndpoints {
		if err := f.board.HAL.ResetFIFO(ep); err != nil {
			pkg.LogWarn(pkg.ComponentFirmware, "fifo reset failed",
				"endpoint", ep, "error", err)
		}
	}

	pkg.LogDebug(pkg.ComponentFirmware, "configuration set", "value", value)
	return nil
}

// SetInterface implements device.ConfigurationHook. The pipe of the
// interface is put in reset and its FIFO flushed; alternate setting 1
// releases the reset again.
func (f *Firmware) SetInterface(number, alt uint8) error {
	f.pipeMu.Lock()
	defer f.pipeMu.Unlock()

	pipe, ok := interfacePipe(f.configValue, number)
	if !ok {
		return fmt.Errorf("%w: interface %d in configuration %d",
			pkg.ErrInvalidRequest, number, f.configValue)
	}
	mask := uint8(1) << pipe

	if err := f.board.FPGA.PipeReset(mask, 0); err != nil {
		return fmt.Errorf("pipe %d reset: %w", pipe, err)
	}
	if err := f.board.HAL.ResetFIFO(pipeEndpoints[pipe]); err != nil {
		return fmt.Errorf("pipe %d fifo reset: %w", pipe, err)
	}
	if alt == 1 {
		if err := f.board.FPGA.PipeReset(0, mask); err != nil {
			return fmt.Errorf("pipe %d release: %w", pipe, err)
		}
	}

	f.altSetting[number] = alt
	pkg.LogDebug(pkg.ComponentFirmware, "interface set", "interface", number, "alt", alt)
	return nil
}

// Interface returns the alternate setting of an interface.
func (f *Firmware) Interface(number uint8) uint8 {
	f.pipeMu.Lock()
	defer f.pipeMu.Unlock()
	if int(number) >= numPipes {
		return 0
	}
	return f.altSetting[number]
}
