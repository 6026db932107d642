package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/carrierfw/pkg"
)

// Descriptor types, USB 2.0 table 9-5.
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeDeviceQualifier  = 0x06
	DescriptorTypeOtherSpeedConfig = 0x07
)

const (
	ClassPerInterface = 0x00
	ClassVendor       = 0xFF
)

// Descriptor sizes on the wire.
const (
	DeviceDescriptorSize          = 18
	ConfigurationDescriptorSize   = 9
	InterfaceDescriptorSize       = 9
	EndpointDescriptorSize        = 7
	DeviceQualifierDescriptorSize = 10
)

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the only language the carrier publishes.
const LangIDUSEnglish = 0x0409

// The descriptor structs below mirror their wire layout field for field, so
// they are encoded and decoded whole with encoding/binary.

// DeviceDescriptor is the standard device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// ConfigurationDescriptor is the header of a configuration's descriptor set.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16 // header plus all interface and endpoint descriptors
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2mA units
}

// InterfaceDescriptor describes one alternate setting of an interface.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // excluding EP0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// DeviceQualifierDescriptor describes the device at the speed it is not
// currently operating at. Length, type and the reserved byte are implied.
type DeviceQualifierDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
}

// encodeDescriptor writes v into the first size bytes of buf. It returns 0
// when buf is too short.
func encodeDescriptor(buf []byte, size int, v any) int {
	if len(buf) < size {
		return 0
	}
	n, err := binary.Encode(buf[:size], binary.LittleEndian, v)
	if err != nil {
		return 0
	}
	return n
}

func decodeDescriptor(data []byte, size int, descType uint8, out any) error {
	if len(data) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != descType {
		return pkg.ErrDescriptorTypeMismatch
	}
	_, err := binary.Decode(data[:size], binary.LittleEndian, out)
	return err
}

// MarshalTo writes the descriptor to buf and returns its length, or 0 when
// buf is too short. Length and type are always written as their fixed
// values.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	wire := *d
	wire.Length, wire.DescriptorType = DeviceDescriptorSize, DescriptorTypeDevice
	return encodeDescriptor(buf, DeviceDescriptorSize, &wire)
}

// ParseDeviceDescriptor decodes a device descriptor into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	return decodeDescriptor(data, DeviceDescriptorSize, DescriptorTypeDevice, out)
}

// MarshalTo writes the configuration header to buf. See
// DeviceDescriptor.MarshalTo.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	wire := *c
	wire.Length, wire.DescriptorType = ConfigurationDescriptorSize, DescriptorTypeConfiguration
	return encodeDescriptor(buf, ConfigurationDescriptorSize, &wire)
}

// ParseConfigurationDescriptor decodes a configuration header into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	return decodeDescriptor(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration, out)
}

func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	wire := *i
	wire.Length, wire.DescriptorType = InterfaceDescriptorSize, DescriptorTypeInterface
	return encodeDescriptor(buf, InterfaceDescriptorSize, &wire)
}

func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	wire := *e
	wire.Length, wire.DescriptorType = EndpointDescriptorSize, DescriptorTypeEndpoint
	return encodeDescriptor(buf, EndpointDescriptorSize, &wire)
}

func (q *DeviceQualifierDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceQualifierDescriptorSize {
		return 0
	}
	buf[0] = DeviceQualifierDescriptorSize
	buf[1] = DescriptorTypeDeviceQualifier
	buf[DeviceQualifierDescriptorSize-1] = 0
	if encodeDescriptor(buf[2:], DeviceQualifierDescriptorSize-3, q) == 0 {
		return 0
	}
	return DeviceQualifierDescriptorSize
}

// maxStringUnits is the number of UTF-16 code units that fit a string
// descriptor, whose length is a single byte.
const maxStringUnits = (255 - 2) / 2

// StringDescriptorTo encodes s as a UTF-16LE string descriptor into buf and
// returns its length. Strings too long for one descriptor are truncated. It
// returns 0 when buf is too short.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if len(units) > maxStringUnits {
		units = units[:maxStringUnits]
	}
	return putUnits(buf, units)
}

// LanguageDescriptorTo encodes the string 0 language table into buf.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	return putUnits(buf, langIDs)
}

func putUnits(buf []byte, units []uint16) int {
	length := 2 + 2*len(units)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return length
}
