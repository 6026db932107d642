package device

import (
	"fmt"

	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
	FeatureTestMode           = 0x02 // Test mode
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// Request type of the vendor requests the carrier answers.
const (
	RequestTypeVendorDeviceIn  = RequestDirectionDeviceToHost | RequestTypeVendor | RequestRecipientDevice
	RequestTypeVendorDeviceOut = RequestDirectionHostToDevice | RequestTypeVendor | RequestRecipientDevice
)

// SetupPacket is a SETUP packet as seen by the request handlers. It has the
// layout of the packet the controller latches, so the stack converts one
// into the other without copying fields.
type SetupPacket hal.SetupPacket

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = hal.SetupPacketSize

// ParseSetupPacket parses a setup packet from 8 bytes into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if !hal.ParseSetupPacket(data, (*hal.SetupPacket)(out)) {
		return pkg.ErrSetupPacketTooShort
	}
	return nil
}

// MarshalTo serializes the setup packet to buf. Returns 0 if buf is too
// small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	return (*hal.SetupPacket)(s).MarshalTo(buf)
}

// IsDeviceToHost reports whether the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// Type returns the request type bits (standard, class or vendor).
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard reports whether this is a chapter 9 request.
func (s *SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// IsVendorDevice reports whether this is a vendor request addressed to the
// device, the only kind of non-standard request the carrier answers.
func (s *SetupPacket) IsVendorDevice() bool {
	return s.RequestType&^RequestTypeDirectionMask == RequestTypeVendorDeviceOut
}

// Recipient returns the request recipient.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// DescriptorType returns the descriptor type from the wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex returns the descriptor index from the wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// InterfaceNumber returns the interface number from wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index)
}

// EndpointAddress returns the endpoint address from wIndex.
func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index)
}

var (
	setupTypeNames      = [4]string{"Standard", "Class", "Vendor", "Reserved"}
	setupRecipientNames = [4]string{"Device", "Interface", "Endpoint", "Other"}
)

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	recipient := "Reserved"
	if r := s.Recipient(); int(r) < len(setupRecipientNames) {
		recipient = setupRecipientNames[r]
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, setupTypeNames[s.Type()>>5], recipient, s.Request, s.Value, s.Index, s.Length)
}

// The setup constructors below build the requests a host sends while
// enumerating the carrier. The simulator host and the tests use them.

// GetDescriptorSetup returns a GET_DESCRIPTOR request.
func GetDescriptorSetup(descType, descIndex uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Length:      length,
	}
}

// SetAddressSetup returns a SET_ADDRESS request.
func SetAddressSetup(address uint8) SetupPacket {
	return SetupPacket{Request: RequestSetAddress, Value: uint16(address)}
}

// SetConfigurationSetup returns a SET_CONFIGURATION request.
func SetConfigurationSetup(value uint8) SetupPacket {
	return SetupPacket{Request: RequestSetConfiguration, Value: uint16(value)}
}

// GetConfigurationSetup returns a GET_CONFIGURATION request.
func GetConfigurationSetup() SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// SetInterfaceSetup returns a SET_INTERFACE request.
func SetInterfaceSetup(iface, alt uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}
}

// GetInterfaceSetup returns a GET_INTERFACE request.
func GetInterfaceSetup(iface uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(iface),
		Length:      1,
	}
}

// VendorSetup returns a vendor request to the device.
func VendorSetup(in bool, request uint8, value, index, length uint16) SetupPacket {
	s := SetupPacket{
		RequestType: RequestTypeVendorDeviceOut,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
	if in {
		s.RequestType = RequestTypeVendorDeviceIn
	}
	return s
}
