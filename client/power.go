package client

import (
	"context"
	"encoding/binary"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/board/iobuf"
	"github.com/ardnew/carrierfw/proto"
)

func (c *Client) milliVolts(ctx context.Context, request uint8, port proto.Port) (physic.ElectricPotential, error) {
	data, err := c.inExact(ctx, request, 0, uint16(port), 2)
	if err != nil {
		return 0, err
	}
	return iobuf.FromMilliVolts(binary.LittleEndian.Uint16(data)), nil
}

func le16(v physic.ElectricPotential) []byte {
	return binary.LittleEndian.AppendUint16(nil, iobuf.MilliVolts(v))
}

// IOVoltage returns the supply setpoint of a port.
func (c *Client) IOVoltage(ctx context.Context, port proto.Port) (physic.ElectricPotential, error) {
	return c.milliVolts(ctx, proto.RequestIOVoltage, port)
}

// SetIOVoltage sets the supply of every port in mask. 0 turns the supply off.
func (c *Client) SetIOVoltage(ctx context.Context, mask proto.Port, v physic.ElectricPotential) error {
	return c.outChecked(ctx, "set voltage", proto.RequestIOVoltage, 0, uint16(mask), le16(v))
}

// SenseVoltage measures the voltage on the sense pin of a port.
func (c *Client) SenseVoltage(ctx context.Context, port proto.Port) (physic.ElectricPotential, error) {
	return c.milliVolts(ctx, proto.RequestSenseVoltage, port)
}

// AlertVoltage returns the alert window of a port.
func (c *Client) AlertVoltage(ctx context.Context, port proto.Port) (low, high physic.ElectricPotential, err error) {
	data, err := c.inExact(ctx, proto.RequestAlertVoltage, 0, uint16(port), 4)
	if err != nil {
		return 0, 0, err
	}
	low = iobuf.FromMilliVolts(binary.LittleEndian.Uint16(data[0:2]))
	high = iobuf.FromMilliVolts(binary.LittleEndian.Uint16(data[2:4]))
	return low, high, nil
}

// SetAlertVoltage sets the alert window of every port in mask. A port whose
// sensed voltage leaves the window is turned off.
func (c *Client) SetAlertVoltage(ctx context.Context, mask proto.Port, low, high physic.ElectricPotential) error {
	data := append(le16(low), le16(high)...)
	return c.outChecked(ctx, "set alert voltage", proto.RequestAlertVoltage, 0, uint16(mask), data)
}

// PollAlert returns and clears the ports that raised an alert.
func (c *Client) PollAlert(ctx context.Context) (proto.Port, error) {
	data, err := c.inExact(ctx, proto.RequestPollAlert, 0, 0, 1)
	if err != nil {
		return 0, err
	}
	return proto.Port(data[0]), nil
}

// EnableIOBuffers enables or disables the I/O level shifters.
func (c *Client) EnableIOBuffers(ctx context.Context, on bool) error {
	var v uint16
	if on {
		v = 1
	}
	return c.outChecked(ctx, "enable buffers", proto.RequestIOBufferEnable, v, 0, nil)
}

// VoltageLimit returns the supply limit of a port.
func (c *Client) VoltageLimit(ctx context.Context, port proto.Port) (physic.ElectricPotential, error) {
	return c.milliVolts(ctx, proto.RequestVoltageLimit, port)
}

// SetVoltageLimit sets and persists the supply limit of every port in mask.
func (c *Client) SetVoltageLimit(ctx context.Context, mask proto.Port, v physic.ElectricPotential) error {
	return c.outChecked(ctx, "set voltage limit", proto.RequestVoltageLimit, 0, uint16(mask), le16(v))
}

// Pull returns the pull resistor enable and level masks of a port.
func (c *Client) Pull(ctx context.Context, port proto.Port) (enable, level uint8, err error) {
	data, err := c.inExact(ctx, proto.RequestPull, 0, uint16(port), 2)
	if err != nil {
		return 0, 0, err
	}
	return data[0], data[1], nil
}

// SetPull sets the pull resistors of a port: a set bit in enable connects
// the resistor of that pin, pulling it to the matching bit of level.
func (c *Client) SetPull(ctx context.Context, port proto.Port, enable, level uint8) error {
	return c.outChecked(ctx, "set pull", proto.RequestPull, 0, uint16(port), []byte{enable, level})
}
