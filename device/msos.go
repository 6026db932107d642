package device

import "encoding/binary"

// Microsoft OS 1.0 descriptors let Windows bind a driver to a vendor
// interface without an INF file. The host reads string 0xEE, learns the
// vendor request code from it and then fetches the extended descriptors
// with that request.

// MicrosoftOSStringIndex is the string index of the Microsoft OS string.
const MicrosoftOSStringIndex = 0xEE

// Extended descriptor selectors carried in wIndex.
const (
	MicrosoftCompatIDIndex   = 0x0004
	MicrosoftPropertiesIndex = 0x0005
)

// Descriptor sizes.
const (
	MicrosoftOSStringSize      = 18
	MicrosoftCompatIDHeader    = 16
	MicrosoftCompatFunction    = 24
	MicrosoftPropertiesHeader  = 10
	microsoftDescriptorVersion = 0x0100
)

var microsoftSignature = [7]byte{'M', 'S', 'F', 'T', '1', '0', '0'}

// MicrosoftOSStringTo writes the Microsoft OS string descriptor announcing
// vendorCode to buf. Returns the number of bytes written, or 0 if buf is too
// small.
func MicrosoftOSStringTo(buf []byte, vendorCode uint8) int {
	if len(buf) < MicrosoftOSStringSize {
		return 0
	}
	buf[0] = MicrosoftOSStringSize
	buf[1] = DescriptorTypeString
	for i, c := range microsoftSignature {
		binary.LittleEndian.PutUint16(buf[2+i*2:], uint16(c))
	}
	buf[16] = vendorCode
	buf[17] = 0 // bPad
	return MicrosoftOSStringSize
}

// CompatFunction is one function section of the extended compat ID
// descriptor.
type CompatFunction struct {
	FirstInterface  uint8
	CompatibleID    string // at most 8 characters, e.g. "WINUSB"
	SubCompatibleID string // at most 8 characters
}

// MicrosoftCompatIDTo writes the extended compat ID descriptor listing fns to
// buf. Returns the number of bytes written, or 0 if buf is too small.
func MicrosoftCompatIDTo(buf []byte, fns ...CompatFunction) int {
	length := MicrosoftCompatIDHeader + len(fns)*MicrosoftCompatFunction
	if len(buf) < length {
		return 0
	}
	clear(buf[:length])
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint16(buf[4:6], microsoftDescriptorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], MicrosoftCompatIDIndex)
	buf[8] = uint8(len(fns))

	for i, fn := range fns {
		f := buf[MicrosoftCompatIDHeader+i*MicrosoftCompatFunction:]
		f[0] = fn.FirstInterface
		f[1] = 0x01 // bReserved1
		copy(f[2:10], fn.CompatibleID)
		copy(f[10:18], fn.SubCompatibleID)
	}
	return length
}

// MicrosoftPropertiesTo writes an extended properties descriptor with no
// custom properties to buf. Returns the number of bytes written, or 0 if buf
// is too small.
func MicrosoftPropertiesTo(buf []byte) int {
	if len(buf) < MicrosoftPropertiesHeader {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], MicrosoftPropertiesHeader)
	binary.LittleEndian.PutUint16(buf[4:6], microsoftDescriptorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], MicrosoftPropertiesIndex)
	binary.LittleEndian.PutUint16(buf[8:10], 0) // wCount
	return MicrosoftPropertiesHeader
}
