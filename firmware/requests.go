package firmware

import (
	"context"
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/board/iobuf"
	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// Write page sizes of the memories.
const (
	fx2PageSize    = config.PageSize
	icePageSize    = 256
	legacyPageSize = 1
)

// requestRoutes returns the vendor request table. The first matching route
// wins.
func (f *Firmware) requestRoutes() []route {
	return []route{
		{
			name:    "page-size",
			request: proto.RequestPageSize,
			dir:     dirOut,
			handle:  f.handlePageSize,
		},
		{
			name:    "eeprom",
			request: proto.RequestEEPROM,
			dir:     dirBoth,
			handle:  f.handleEEPROM,
		},
		{
			name:    "cypress-eeprom",
			request: proto.RequestCypressEEPROM,
			dir:     dirBoth,
			handle:  f.handleEEPROM,
		},
		{
			name:    "register",
			request: proto.RequestRegister,
			dir:     dirBoth,
			match: func(req *device.SetupPacket) bool {
				return req.Length >= 1 && req.Length <= proto.EP0Size
			},
			handle: f.handleRegister,
		},
		{
			name:    "status",
			request: proto.RequestStatus,
			dir:     dirIn,
			match:   lengthIs(1),
			handle:  f.handleStatus,
		},
		{
			name:    "fpga-config",
			request: proto.RequestFPGAConfig,
			dir:     dirOut,
			handle:  f.handleFPGAConfig,
		},
		{
			name:    "bitstream-id",
			request: proto.RequestBitstreamID,
			dir:     dirBoth,
			match:   lengthIs(proto.BitstreamIDSize),
			handle:  f.handleBitstreamID,
		},
		{
			name:    "io-voltage",
			request: proto.RequestIOVoltage,
			dir:     dirBoth,
			match:   lengthIs(2),
			handle:  f.handleIOVoltage,
		},
		{
			name:    "sense-voltage",
			request: proto.RequestSenseVoltage,
			dir:     dirIn,
			match:   lengthIs(2),
			handle:  f.handleSenseVoltage,
		},
		{
			name:    "alert-voltage",
			request: proto.RequestAlertVoltage,
			dir:     dirBoth,
			match:   lengthIs(4),
			handle:  f.handleAlertVoltage,
		},
		{
			name:    "poll-alert",
			request: proto.RequestPollAlert,
			dir:     dirIn,
			match:   lengthIs(1),
			handle:  f.handlePollAlert,
		},
		{
			name:    "iobuf-enable",
			request: proto.RequestIOBufferEnable,
			dir:     dirOut,
			match:   lengthIs(0),
			handle:  f.handleIOBufferEnable,
		},
		{
			name:    "voltage-limit",
			request: proto.RequestVoltageLimit,
			dir:     dirBoth,
			match:   lengthIs(2),
			handle:  f.handleVoltageLimit,
		},
		{
			name:    "pull",
			request: proto.RequestPull,
			dir:     dirBoth,
			match:   lengthIs(2),
			handle:  f.handlePull,
		},
		{
			name:    "test-leds",
			request: proto.RequestTestLEDs,
			dir:     dirOut,
			match:   lengthIs(0),
			handle:  f.handleTestLEDs,
		},
		{
			name:    "api-level",
			request: proto.RequestAPILevel,
			dir:     dirIn,
			match:   lengthIs(1),
			handle:  f.handleAPILevel,
		},
		{
			name:    "ms-descriptor",
			request: proto.RequestMicrosoftOSDesc,
			dir:     dirIn,
			match: func(req *device.SetupPacket) bool {
				return req.Index == proto.MicrosoftCompatIDIndex ||
					req.Index == proto.MicrosoftPropertiesIndex
			},
			handle: f.handleMicrosoftDescriptor,
		},
	}
}

// handlePageSize accepts the libfx2 page size request. The page sizes of
// every memory are known, so the value is ignored.
func (f *Firmware) handlePageSize(ctx context.Context, req *device.SetupPacket) error {
	return f.ack()
}

// eepromTarget is the memory a chunked EEPROM request addresses.
type eepromTarget struct {
	chip     uint16
	addr     uint16
	pageSize int
}

// resolveEEPROM maps the selector of an EEPROM request to a chip.
func resolveEEPROM(req *device.SetupPacket) (eepromTarget, error) {
	addr := req.Value
	if req.Request == proto.RequestCypressEEPROM {
		return eepromTarget{proto.I2CAddrFX2Memory, addr, legacyPageSize}, nil
	}

	switch req.Index {
	case proto.SelectorFX2Memory:
		return eepromTarget{proto.I2CAddrFX2Memory, addr, fx2PageSize}, nil
	case proto.SelectorICEMemoryLo:
		return eepromTarget{proto.I2CAddrICEMemory, addr, icePageSize}, nil
	case proto.SelectorICEMemoryHi:
		// Same chip; the top half answers on the next address.
		return eepromTarget{proto.I2CAddrICEMemory + 1, addr, icePageSize}, nil
	case proto.SelectorICEMemoryTail:
		// The tail of oversized bitstreams lives in the last 4 KiB of the
		// on-board memory. Accesses must not leave that window or they
		// would reach the configuration record.
		end := int(addr) + int(req.Length)
		if addr <= proto.TailWindowSize && req.Length <= proto.TailWindowSize && end <= proto.TailWindowSize {
			return eepromTarget{proto.I2CAddrFX2Memory, addr + proto.TailWindowOffset, fx2PageSize}, nil
		}
		return eepromTarget{}, fmt.Errorf("%w: tail window 0x%04X+0x%04X", pkg.ErrInvalidParameter, addr, req.Length)
	}
	return eepromTarget{}, fmt.Errorf("%w: memory selector %d", pkg.ErrInvalidParameter, req.Index)
}

// handleEEPROM moves data between the host and a memory in EP0-sized
// chunks, one bus transaction per chunk. A failing chunk abandons the rest.
func (f *Firmware) handleEEPROM(ctx context.Context, req *device.SetupPacket) error {
	t, err := resolveEEPROM(req)
	if err != nil {
		return err
	}

	in := req.IsDeviceToHost()
	h := f.board.HAL
	addr := t.addr
	remaining := int(req.Length)
	if in && remaining == 0 {
		return f.reply(ctx, req, nil)
	}

	for remaining > 0 {
		n := min(remaining, proto.EP0Size)

		if in {
			if err := device.WaitEP0(ctx, h); err != nil {
				return err
			}
			if err := f.board.Memory.Read(t.chip, addr, h.EP0Buffer()[:n]); err != nil {
				return err
			}
			if err := h.SendEP0(n); err != nil {
				return err
			}
		} else {
			data, err := f.receive(ctx, f.scratch[:n])
			if err != nil {
				return err
			}
			if err := f.board.Memory.Write(t.chip, addr, data, t.pageSize, config.WriteTimeout); err != nil {
				return err
			}
		}

		remaining -= n
		addr += uint16(n)
	}

	if in {
		return nil
	}
	return f.ack()
}

// handleRegister reads or writes a register of the running design.
func (f *Firmware) handleRegister(ctx context.Context, req *device.SetupPacket) error {
	if err := f.board.FPGA.SelectRegister(uint8(req.Value)); err != nil {
		return err
	}

	buf := f.scratch[:req.Length]
	if req.IsDeviceToHost() {
		if err := f.board.FPGA.ReadRegister(buf); err != nil {
			return err
		}
		return f.reply(ctx, req, buf)
	}

	data, err := f.receive(ctx, buf)
	if err != nil {
		return err
	}
	if err := f.board.FPGA.WriteRegister(data); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "register write failed",
			"register", req.Value, "error", err)
		f.status.latch(proto.StatusError)
	}
	return f.ack()
}

func (f *Firmware) fpgaReady() proto.Status {
	if f.board.FPGA.Ready() {
		return proto.StatusFPGAReady
	}
	return 0
}

// handleStatus reports the status byte. Reading it clears a latched error;
// the alert bit stays until the alert is polled.
func (f *Firmware) handleStatus(ctx context.Context, req *device.SetupPacket) error {
	status := f.status.get() | f.fpgaReady()
	if err := f.reply(ctx, req, []byte{byte(status)}); err != nil {
		return err
	}
	f.status.clearIfSet(proto.StatusError)
	return nil
}

// handleFPGAConfig loads one bitstream chunk. Chunks are numbered by wIndex;
// index 0 restarts configuration and only the successor of the last
// accepted index continues it. Any other chunk is received and discarded.
func (f *Firmware) handleFPGAConfig(ctx context.Context, req *device.SetupPacket) error {
	idx := req.Index
	load := idx == 0 || idx == f.bitstreamIdx+1

	if !load {
		pkg.LogDebug(pkg.ComponentDispatch, "bitstream chunk out of sequence",
			"index", idx, "last", f.bitstreamIdx)
	} else if idx == 0 {
		f.store.ClearBitstreamID()
		if err := f.board.FPGA.Reset(); err != nil {
			pkg.LogWarn(pkg.ComponentDispatch, "fpga reset failed", "error", err)
			f.status.latch(proto.StatusError)
		}
	}

	for remaining := int(req.Length); remaining > 0; {
		n := min(remaining, proto.EP0Size)
		chunk, err := f.receive(ctx, f.scratch[:n])
		if err != nil {
			return err
		}
		if load {
			if err := f.board.FPGA.Load(chunk); err != nil {
				pkg.LogWarn(pkg.ComponentDispatch, "bitstream load failed",
					"index", idx, "error", err)
				f.status.latch(proto.StatusError)
			}
		}
		remaining -= n
	}

	if load {
		f.bitstreamIdx = idx
	}
	return f.ack()
}

// handleBitstreamID reports the tag of the running bitstream, or finishes
// configuration and records the tag of the bitstream just loaded.
func (f *Firmware) handleBitstreamID(ctx context.Context, req *device.SetupPacket) error {
	if req.IsDeviceToHost() {
		id := f.store.BitstreamID()
		return f.reply(ctx, req, id[:])
	}

	if err := f.board.FPGA.Start(); err != nil {
		return err
	}
	data, err := f.receive(ctx, f.scratch[:proto.BitstreamIDSize])
	if err != nil {
		return err
	}
	var id [proto.BitstreamIDSize]byte
	copy(id[:], data)
	f.store.SetBitstreamID(id)
	pkg.LogInfo(pkg.ComponentDispatch, "bitstream started", "id", fmt.Sprintf("%x", id))
	return f.ack()
}

// replyMilliVolts sends v as a little-endian millivolt count.
func (f *Firmware) replyMilliVolts(ctx context.Context, req *device.SetupPacket, v physic.ElectricPotential) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], iobuf.MilliVolts(v))
	return f.reply(ctx, req, buf[:])
}

// receiveMilliVolts reads a little-endian millivolt count.
func (f *Firmware) receiveMilliVolts(ctx context.Context) (uint16, error) {
	data, err := f.receive(ctx, f.scratch[:2])
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// setFailed latches the error bit for a failed OUT request. The transfer
// itself completes; the host sees the failure in the status byte.
func (f *Firmware) setFailed(what string, req *device.SetupPacket, err error) {
	pkg.LogWarn(pkg.ComponentDispatch, what+" failed",
		"ports", proto.Port(req.Index).String(),
		"error", err)
	f.status.latch(proto.StatusError)
}

func (f *Firmware) handleIOVoltage(ctx context.Context, req *device.SetupPacket) error {
	mask := proto.Port(req.Index)
	if req.IsDeviceToHost() {
		v, err := f.backend.Voltage(mask)
		if err != nil {
			return err
		}
		return f.replyMilliVolts(ctx, req, v)
	}

	mv, err := f.receiveMilliVolts(ctx)
	if err != nil {
		return err
	}
	if err := f.backend.SetVoltage(mask, iobuf.FromMilliVolts(mv)); err != nil {
		f.setFailed("set voltage", req, err)
	}
	return f.ack()
}

func (f *Firmware) handleSenseVoltage(ctx context.Context, req *device.SetupPacket) error {
	v, err := f.backend.MeasureVoltage(proto.Port(req.Index))
	if err != nil {
		return err
	}
	return f.replyMilliVolts(ctx, req, v)
}

func (f *Firmware) handleAlertVoltage(ctx context.Context, req *device.SetupPacket) error {
	mask := proto.Port(req.Index)
	if req.IsDeviceToHost() {
		low, high, err := f.backend.AlertThresholds(mask)
		if err != nil {
			return err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint16(buf[0:2], iobuf.MilliVolts(low))
		binary.LittleEndian.PutUint16(buf[2:4], iobuf.MilliVolts(high))
		return f.reply(ctx, req, buf[:])
	}

	data, err := f.receive(ctx, f.scratch[:4])
	if err != nil {
		return err
	}
	low := iobuf.FromMilliVolts(binary.LittleEndian.Uint16(data[0:2]))
	high := iobuf.FromMilliVolts(binary.LittleEndian.Uint16(data[2:4]))
	if err := f.backend.SetAlertThresholds(mask, low, high); err != nil {
		f.setFailed("set alert thresholds", req, err)
	}
	return f.ack()
}

// handlePollAlert reports and clears the ports that raised an alert. Success
// also clears the alert status bit.
func (f *Firmware) handlePollAlert(ctx context.Context, req *device.SetupPacket) error {
	mask, err := f.backend.AlertStatus(true)
	if err != nil {
		return err
	}
	if err := f.reply(ctx, req, []byte{byte(mask)}); err != nil {
		return err
	}
	f.status.clearIfSet(proto.StatusAlert)
	return nil
}

func (f *Firmware) handleIOBufferEnable(ctx context.Context, req *device.SetupPacket) error {
	if err := f.backend.Enable(req.Value != 0); err != nil {
		f.setFailed("enable buffers", req, err)
	}
	return f.ack()
}

// handleVoltageLimit reads or sets the limit of the ports in wIndex. A limit
// accepted by the regulators is persisted; a failed write to memory only
// latches the error bit.
func (f *Firmware) handleVoltageLimit(ctx context.Context, req *device.SetupPacket) error {
	mask := proto.Port(req.Index)
	if req.IsDeviceToHost() {
		v, err := f.backend.VoltageLimit(mask)
		if err != nil {
			return err
		}
		return f.replyMilliVolts(ctx, req, v)
	}

	mv, err := f.receiveMilliVolts(ctx)
	if err != nil {
		return err
	}
	if err := f.backend.SetVoltageLimit(mask, iobuf.FromMilliVolts(mv)); err != nil {
		f.setFailed("set voltage limit", req, err)
		return f.ack()
	}
	f.store.SetVoltageLimit(mask, mv)
	if err := f.store.PersistVoltageLimit(); err != nil {
		f.setFailed("persist voltage limit", req, err)
	}
	return f.ack()
}

func (f *Firmware) handlePull(ctx context.Context, req *device.SetupPacket) error {
	selector := proto.Port(req.Index)
	if req.IsDeviceToHost() {
		enable, level, err := f.backend.Pull(selector)
		if err != nil {
			return err
		}
		return f.reply(ctx, req, []byte{enable, level})
	}

	data, err := f.receive(ctx, f.scratch[:2])
	if err != nil {
		return err
	}
	if err := f.backend.SetPull(selector, data[0], data[1]); err != nil {
		f.setFailed("set pull", req, err)
	}
	return f.ack()
}

// handleTestLEDs enters LED test mode; only a reset leaves it.
func (f *Firmware) handleTestLEDs(ctx context.Context, req *device.SetupPacket) error {
	f.leds.testPattern(uint8(req.Index & 0x0F))
	return f.ack()
}

func (f *Firmware) handleAPILevel(ctx context.Context, req *device.SetupPacket) error {
	return f.reply(ctx, req, []byte{proto.APILevel})
}

func (f *Firmware) handleMicrosoftDescriptor(ctx context.Context, req *device.SetupPacket) error {
	var buf [device.MicrosoftCompatIDHeader + device.MicrosoftCompatFunction]byte
	var n int
	if req.Index == proto.MicrosoftCompatIDIndex {
		n = device.MicrosoftCompatIDTo(buf[:], device.CompatFunction{
			FirstInterface: 0,
			CompatibleID:   "WINUSB",
		})
	} else {
		n = device.MicrosoftPropertiesTo(buf[:])
	}
	return f.reply(ctx, req, buf[:n])
}
