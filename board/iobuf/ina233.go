package iobuf

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// INA233 bus voltage resolution. Readings and limits are little-endian
// PMBus words.
const (
	ina233LSB       = 1250 * physic.MicroVolt
	ina233FullScale = 0x7FFF
)

// PMBus commands.
const (
	inaClearFaults = 0x03
	inaVinOVWarn   = 0x57
	inaVinUVWarn   = 0x58
	inaStatusInput = 0x7C
	inaReadVin     = 0x88
	inaAlertMask   = 0xD2
)

// STATUS_INPUT bits. MFR_ALERT_MASK masks the same bits.
const (
	inaOVWarn = 1 << 6
	inaUVWarn = 1 << 5
)

func inaWord(v physic.ElectricPotential) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(code(v, ina233LSB, ina233FullScale)))
}

func inaVoltage(b []byte) physic.ElectricPotential {
	return physic.ElectricPotential(binary.LittleEndian.Uint16(b)&ina233FullScale) * ina233LSB
}

// INA233 is the backend of revisions C2 and later. Each port has an INA233
// power monitor whose alert also cuts the port regulator in hardware. The
// alert line stays asserted until the monitor is cleared explicitly.
type INA233 struct {
	regulator
	mon   [NumPorts]i2c.Dev
	cache proto.Port
}

var _ Backend = (*INA233)(nil)

// NewINA233 returns the backend for board.
func NewINA233(board Board) *INA233 {
	n := &INA233{}
	n.wire(board, true)
	for i := range n.mon {
		n.mon[i] = i2c.Dev{Bus: board.Bus, Addr: proto.I2CAddrINA233 + uint16(i)}
	}
	return n
}

// Name implements Backend.
func (n *INA233) Name() string { return "INA233" }

// Init implements Backend. Only the input voltage warnings raise the alert.
func (n *INA233) Init(limits [2]physic.ElectricPotential) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cache = 0
	err := n.initLocked(limits)
	for i := range n.mon {
		if err != nil {
			break
		}
		if err = tx(&n.mon[i], []byte{inaAlertMask, ^byte(inaOVWarn | inaUVWarn)}, nil); err != nil {
			break
		}
		err = tx(&n.mon[i], []byte{inaClearFaults}, nil)
	}
	if err != nil {
		pkg.LogError(pkg.ComponentIOBuf, "power monitor setup failed", "error", err)
		return fmt.Errorf("ina233 init: %w", err)
	}
	return nil
}

// MeasureVoltage implements Backend.
func (n *INA233) MeasureVoltage(port proto.Port) (physic.ElectricPotential, error) {
	i, err := single(port)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var buf [2]byte
	if err := tx(&n.mon[i], []byte{inaReadVin}, buf[:]); err != nil {
		return 0, err
	}
	return inaVoltage(buf[:]), nil
}

// AlertThresholds implements Backend.
func (n *INA233) AlertThresholds(port proto.Port) (low, high physic.ElectricPotential, err error) {
	i, err := single(port)
	if err != nil {
		return 0, 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var uv, ov [2]byte
	if err := tx(&n.mon[i], []byte{inaVinUVWarn}, uv[:]); err != nil {
		return 0, 0, err
	}
	if err := tx(&n.mon[i], []byte{inaVinOVWarn}, ov[:]); err != nil {
		return 0, 0, err
	}
	return inaVoltage(uv[:]), inaVoltage(ov[:]), nil
}

// SetAlertThresholds implements Backend.
func (n *INA233) SetAlertThresholds(mask proto.Port, low, high physic.ElectricPotential) error {
	idx, err := window(mask, low, high)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, i := range idx {
		if err := tx(&n.mon[i], append([]byte{inaVinUVWarn}, inaWord(low)...), nil); err != nil {
			return err
		}
		if err := tx(&n.mon[i], append([]byte{inaVinOVWarn}, inaWord(high)...), nil); err != nil {
			return err
		}
	}
	return nil
}

// PollAlert implements Backend. The result is added to the alert cache; the
// alert line is left asserted.
func (n *INA233) PollAlert() (proto.Port, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var mask proto.Port
	for i := range n.mon {
		var st [1]byte
		if err := tx(&n.mon[i], []byte{inaStatusInput}, st[:]); err != nil {
			return 0, err
		}
		if st[0]&(inaOVWarn|inaUVWarn) != 0 {
			mask |= 1 << i
		}
	}
	n.cache |= mask
	return mask, nil
}

// AlertStatus implements Backend. It reports the alert cache and never
// touches the bus.
func (n *INA233) AlertStatus(clear bool) (proto.Port, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mask := n.cache
	if clear {
		n.cache = 0
	}
	return mask, nil
}

// ClearAlert implements Backend.
func (n *INA233) ClearAlert(mask proto.Port) error {
	if mask == 0 {
		return nil
	}
	idx, err := ports(mask)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, i := range idx {
		if err := tx(&n.mon[i], []byte{inaClearFaults}, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReleasesAlertOnPoll implements Backend.
func (n *INA233) ReleasesAlertOnPoll() bool { return false }
