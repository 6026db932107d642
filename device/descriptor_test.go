package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/carrierfw/pkg"
)

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	desc := &DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassPerInterface,
		MaxPacketSize0:    64,
		VendorID:          0x20B7,
		ProductID:         0x9DB1,
		DeviceVersion:     0x0043,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 2,
	}

	var buf [DeviceDescriptorSize]byte
	if n := desc.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}
	want := []byte{
		18, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
		0xB7, 0x20, 0xB1, 0x9D, 0x43, 0x00, 1, 2, 3, 2,
	}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MarshalTo() mismatch (-want +got):\n%s", diff)
	}

	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	parsed.Length, parsed.DescriptorType = 0, 0
	if diff := cmp.Diff(*desc, parsed); diff != "" {
		t.Errorf("ParseDeviceDescriptor() mismatch (-want +got):\n%s", diff)
	}

	if n := desc.MarshalTo(buf[:10]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	wrongType := make([]byte, DeviceDescriptorSize)
	wrongType[0] = DeviceDescriptorSize
	wrongType[1] = DescriptorTypeConfiguration

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", make([]byte, 10), pkg.ErrDescriptorTooShort},
		{"wrong type", wrongType, pkg.ErrDescriptorTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parsed DeviceDescriptor
			if err := ParseDeviceDescriptor(tt.data, &parsed); !errors.Is(err, tt.want) {
				t.Errorf("ParseDeviceDescriptor() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfigurationDescriptor_RoundTrip(t *testing.T) {
	original := &ConfigurationDescriptor{
		TotalLength:        0x005B,
		NumInterfaces:      4,
		ConfigurationValue: 1,
		Attributes:         ConfigAttrBusPowered,
		MaxPower:           250,
	}

	var buf [ConfigurationDescriptorSize]byte
	if n := original.MarshalTo(buf[:]); n != ConfigurationDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, ConfigurationDescriptorSize)
	}

	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if parsed.TotalLength != original.TotalLength {
		t.Errorf("TotalLength = %d, want %d", parsed.TotalLength, original.TotalLength)
	}
	if parsed.MaxPower != 250 {
		t.Errorf("MaxPower = %d, want 250", parsed.MaxPower)
	}
	if err := ParseConfigurationDescriptor(buf[:5], &parsed); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("ParseConfigurationDescriptor(short) error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
}

func TestInterfaceDescriptor_MarshalTo(t *testing.T) {
	desc := &InterfaceDescriptor{
		InterfaceNumber:   1,
		AlternateSetting:  1,
		NumEndpoints:      1,
		InterfaceClass:    ClassVendor,
		InterfaceSubClass: 0xFF,
		InterfaceProtocol: 0xFF,
	}

	var buf [InterfaceDescriptorSize]byte
	desc.MarshalTo(buf[:])
	want := []byte{9, 0x04, 1, 1, 1, 0xFF, 0xFF, 0xFF, 0}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MarshalTo() mismatch (-want +got):\n%s", diff)
	}
}

func TestEndpointDescriptor_MarshalTo(t *testing.T) {
	desc := &EndpointDescriptor{
		EndpointAddress: 0x86,
		Attributes:      EndpointTypeBulk,
		MaxPacketSize:   512,
	}

	var buf [EndpointDescriptorSize]byte
	desc.MarshalTo(buf[:])
	want := []byte{7, 0x05, 0x86, 0x02, 0x00, 0x02, 0}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MarshalTo() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceQualifierDescriptor_MarshalTo(t *testing.T) {
	q := &DeviceQualifierDescriptor{
		USBVersion:     0x0200,
		MaxPacketSize0: 64,
	}

	var buf [DeviceQualifierDescriptorSize]byte
	if n := q.MarshalTo(buf[:]); n != DeviceQualifierDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceQualifierDescriptorSize)
	}
	want := []byte{10, 0x06, 0x00, 0x02, 0, 0, 0, 64, 0, 0}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MarshalTo() mismatch (-want +got):\n%s", diff)
	}
	if n := q.MarshalTo(buf[:9]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestStringDescriptorTo(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want []byte
	}{
		{"empty", "", []byte{2, 0x03}},
		{"ascii", "AB", []byte{6, 0x03, 'A', 0, 'B', 0}},
		{"utf16", "é", []byte{4, 0x03, 0xE9, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [16]byte
			n := StringDescriptorTo(buf[:], tt.s)
			if diff := cmp.Diff(tt.want, buf[:n]); diff != "" {
				t.Errorf("StringDescriptorTo(%q) mismatch (-want +got):\n%s", tt.s, diff)
			}
		})
	}
}

func TestStringDescriptorTo_MaxLength(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	var buf [512]byte
	n := StringDescriptorTo(buf[:], string(long))
	if n != 254 {
		t.Errorf("StringDescriptorTo() = %d, want 254", n)
	}
	if buf[0] != 254 {
		t.Errorf("bLength = %d, want 254", buf[0])
	}
	if n := StringDescriptorTo(buf[:3], "AB"); n != 0 {
		t.Errorf("StringDescriptorTo(short) = %d, want 0", n)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	var buf [4]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	want := []byte{4, 0x03, 0x09, 0x04}
	if diff := cmp.Diff(want, buf[:n]); diff != "" {
		t.Errorf("LanguageDescriptorTo() mismatch (-want +got):\n%s", diff)
	}
}
