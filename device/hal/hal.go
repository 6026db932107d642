package hal

import (
	"context"
	"encoding/binary"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes an endpoint FIFO the controller must set up when a
// configuration is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket is the 8-byte SETUP data as latched by the controller.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket. The fields are
// little endian on the wire. Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	_, err := binary.Decode(data[:SetupPacketSize], binary.LittleEndian, out)
	return err == nil
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	n, err := binary.Encode(buf, binary.LittleEndian, s)
	if err != nil {
		return 0
	}
	return n
}

// EP0Size is the size of the control endpoint buffer.
const EP0Size = 64

// DeviceHAL defines the Hardware Abstraction Layer interface for the USB
// controller of the carrier.
//
// The control endpoint follows the buffer model of the controller: a single
// 64-byte EP0 buffer and a BUSY bit. Firmware fills the buffer and arms an IN
// packet with SendEP0, or arms an OUT packet with ReceiveEP0 and reads the
// buffer once BUSY clears. Only one control transfer is in flight at a time.
//
// Bulk pipes are serviced by the FPGA directly and never reach the firmware;
// the HAL only configures and resets their FIFOs.
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	// After Start returns, the device should be visible to the host.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// SetAddress sets the device address in hardware.
	// Called after the host assigns an address during enumeration.
	SetAddress(address uint8) error

	// ConfigureEndpoints configures the endpoint FIFOs for the active
	// configuration. Pass nil or an empty slice to unconfigure all endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ResetFIFO discards the contents of an endpoint FIFO and resets its
	// data toggle.
	ResetFIFO(address uint8) error

	// Control Endpoint (EP0) Operations

	// ReadSetup reads a SETUP packet from EP0.
	// Blocks until a SETUP packet is available or the context is cancelled.
	// The caller provides the output buffer to avoid allocation.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// EP0Buffer returns the EP0 buffer. Its contents may only be touched
	// while EP0Busy reports false.
	EP0Buffer() []byte

	// EP0Busy reports whether an armed EP0 packet is still in flight.
	EP0Busy() bool

	// SendEP0 arms an IN packet of the first n bytes of the EP0 buffer.
	SendEP0(n int) error

	// ReceiveEP0 arms the EP0 buffer for one OUT packet.
	ReceiveEP0() error

	// EP0Count returns the length of the last OUT packet received.
	EP0Count() int

	// StallEP0 stalls the control endpoint to indicate an error.
	StallEP0() error

	// AckEP0 completes the status stage of a control transfer.
	AckEP0() error

	// Connection State

	// IsConnected returns true if the device is connected to a host.
	IsConnected() bool

	// GetSpeed returns the negotiated USB connection speed.
	GetSpeed() Speed

	// WaitConnect blocks until the device connects to a host or the context is cancelled.
	WaitConnect(ctx context.Context) error

	// WaitDisconnect blocks until the device disconnects or the context is cancelled.
	WaitDisconnect(ctx context.Context) error
}

// ActivityNotifier is implemented by controllers that report bus activity
// on the bulk endpoints.
type ActivityNotifier interface {
	// OnActivity registers fn to be called on every packet seen on a data
	// endpoint. fn runs in interrupt context and must not block.
	OnActivity(fn func())
}
