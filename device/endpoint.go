package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
)

// Transfer types, the low bits of bmAttributes.
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

const endpointDirIn = 0x80

var transferTypeNames = [4]string{"control", "isochronous", "bulk", "interrupt"}

// Endpoint is a data endpoint of an alternate setting.
type Endpoint struct {
	Address       uint8 // bit 7 set for IN
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8

	mu      sync.Mutex
	stalled bool
}

// NewBulkEndpoint returns a bulk endpoint.
func NewBulkEndpoint(address uint8, maxPacketSize uint16) *Endpoint {
	return &Endpoint{
		Address:       address,
		Attributes:    EndpointTypeBulk,
		MaxPacketSize: maxPacketSize,
	}
}

// Number returns the endpoint number without the direction bit.
func (e *Endpoint) Number() uint8 { return e.Address & 0x0F }

// IsIn reports whether the endpoint sends to the host.
func (e *Endpoint) IsIn() bool { return e.Address&endpointDirIn != 0 }

func (e *Endpoint) TransferType() uint8 { return e.Attributes & 0x03 }

// String formats the endpoint as e.g. "EP6 IN bulk/512".
func (e *Endpoint) String() string {
	dir := "OUT"
	if e.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("EP%d %s %s/%d", e.Number(), dir,
		transferTypeNames[e.TransferType()], e.MaxPacketSize)
}

// SetStall sets or clears ENDPOINT_HALT.
func (e *Endpoint) SetStall(stalled bool) {
	e.mu.Lock()
	e.stalled = stalled
	e.mu.Unlock()
	pkg.LogDebug(pkg.ComponentDevice, "endpoint halt",
		"endpoint", e.String(), "halted", stalled)
}

func (e *Endpoint) IsStalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stalled
}

// Descriptor returns the endpoint descriptor.
func (e *Endpoint) Descriptor() *EndpointDescriptor {
	return &EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

// Config returns the FIFO configuration the controller needs for this
// endpoint.
func (e *Endpoint) Config() hal.EndpointConfig {
	return hal.EndpointConfig{
		Address:       e.Address,
		Attributes:    e.Attributes,
		MaxPacketSize: e.MaxPacketSize,
		Interval:      e.Interval,
	}
}
