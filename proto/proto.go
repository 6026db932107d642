package proto

import (
	"fmt"
	"strings"
)

// USB identities.
const (
	VendorID  = 0x20B7 // Qi Hardware
	ProductID = 0x9DB1 // carrier board

	// Presented while the configuration record is not programmed, so that
	// factory tooling sees a bare FX2.
	UnprogrammedVendorID  = 0x04B4 // Cypress
	UnprogrammedProductID = 0x8613 // FX2
)

// APILevel is the vendor protocol revision reported in the high byte of
// bcdDevice and by RequestAPILevel.
const APILevel = 0x04

// Vendor request codes.
const (
	RequestAPILevel        = 0x0F
	RequestEEPROM          = 0x10
	RequestFPGAConfig      = 0x11
	RequestStatus          = 0x12
	RequestRegister        = 0x13
	RequestIOVoltage       = 0x14
	RequestSenseVoltage    = 0x15
	RequestAlertVoltage    = 0x16
	RequestPollAlert       = 0x17
	RequestBitstreamID     = 0x18
	RequestIOBufferEnable  = 0x19
	RequestVoltageLimit    = 0x1A
	RequestPull            = 0x1B
	RequestTestLEDs        = 0x1C
	RequestCypressEEPROM   = 0xA9
	RequestPageSize        = 0xB0
	RequestMicrosoftOSDesc = 0xC0
)

// Microsoft OS 1.0 descriptor selectors carried in wIndex of
// RequestMicrosoftOSDesc.
const (
	MicrosoftCompatIDIndex   = 0x0004
	MicrosoftPropertiesIndex = 0x0005
)

// Request types accepted by the vendor dispatcher.
const (
	RequestTypeVendorIn  = 0xC0 // device-to-host, vendor, device
	RequestTypeVendorOut = 0x40 // host-to-device, vendor, device
)

// Status is the device status byte returned by RequestStatus.
type Status uint8

// Status bits.
const (
	StatusError     Status = 1 << 0 // latched, cleared by the status read
	StatusFPGAReady Status = 1 << 1 // computed on every read
	StatusAlert     Status = 1 << 2 // latched, cleared by a successful alert poll
)

// String returns the set status bits in a compact form.
func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var out string
	add := func(name string) {
		if out != "" {
			out += "|"
		}
		out += name
	}
	if s&StatusError != 0 {
		add("error")
	}
	if s&StatusFPGAReady != 0 {
		add("fpga-ready")
	}
	if s&StatusAlert != 0 {
		add("alert")
	}
	if rest := s &^ (StatusError | StatusFPGAReady | StatusAlert); rest != 0 {
		add(fmt.Sprintf("0x%02X", uint8(rest)))
	}
	return out
}

// Revision is the hardware revision byte: major in the high nibble (1 = A),
// minor in the low nibble.
type Revision uint8

// Hardware revisions.
const (
	RevisionNA Revision = 0x00
	RevisionA  Revision = 0x10
	RevisionB  Revision = 0x20
	RevisionC0 Revision = 0x30
	RevisionC1 Revision = 0x31
	RevisionC2 Revision = 0x32
	RevisionC3 Revision = 0x33
)

// Valid reports whether r is one of the known revisions.
func (r Revision) Valid() bool {
	switch r {
	case RevisionA, RevisionB, RevisionC0, RevisionC1, RevisionC2, RevisionC3:
		return true
	}
	return false
}

// Letter returns the major revision letter ('A' for 0x1X).
func (r Revision) Letter() byte {
	return 'A' + byte(r>>4) - 1
}

// Digit returns the minor revision digit.
func (r Revision) Digit() byte {
	return '0' + byte(r&0x0F)
}

// String returns the revision as printed on the board, e.g. "C3".
func (r Revision) String() string {
	if r == RevisionNA {
		return "NA"
	}
	return string([]byte{r.Letter(), r.Digit()})
}

// ParseRevision parses a revision as printed on the board, e.g. "C3".
func ParseRevision(s string) (Revision, error) {
	for _, r := range []Revision{RevisionA, RevisionB, RevisionC0, RevisionC1, RevisionC2, RevisionC3} {
		if strings.EqualFold(r.String(), s) {
			return r, nil
		}
	}
	return RevisionNA, fmt.Errorf("unknown revision %q", s)
}

// Configuration record field sizes.
const (
	SerialSize       = 16
	BitstreamIDSize  = 16
	ManufacturerSize = 22
)

// I2C addresses of the on-board memories.
const (
	I2CAddrFX2Memory = 0x51 // 32 KiB, 64-byte pages
	I2CAddrICEMemory = 0x52 // 128 KiB across 0x52 and 0x53, 256-byte pages
	I2CAddrFPGA      = 0x08 // register file of the configured FPGA
)

// I2C addresses of the port A power stage chips. Port B answers at the next
// address of each.
const (
	I2CAddrDAC     = 0x0C // DAC101C085 setting the port regulator
	I2CAddrINA233  = 0x40 // power monitor, revisions C2 and later
	I2CAddrADC081C = 0x54 // converter, revisions up to C1
	I2CAddrPull    = 0x20 // TCA9534 driving the pull resistors, C0 and later
)

// EEPROM selectors carried in wIndex of RequestEEPROM.
const (
	SelectorFX2Memory     = 0
	SelectorICEMemoryLo   = 1
	SelectorICEMemoryHi   = 2
	SelectorICEMemoryTail = 3
)

// The tail window of oversized bitstreams lives at the end of the on-board
// memory.
const (
	TailWindowSize   = 0x1000
	TailWindowOffset = 0x7000
)

// EP0Size is the control endpoint buffer size and the chunk size of every
// chunked control transfer.
const EP0Size = 64

// Port is a mask of I/O ports.
type Port uint8

// I/O ports.
const (
	PortA Port = 1 << 0
	PortB Port = 1 << 1

	PortAll = PortA | PortB
)

// Index returns the zero-based port number of a single-port mask, or -1.
func (p Port) Index() int {
	switch p {
	case PortA:
		return 0
	case PortB:
		return 1
	}
	return -1
}

// String returns the port letters in the mask.
func (p Port) String() string {
	var out []byte
	if p&PortA != 0 {
		out = append(out, 'A')
	}
	if p&PortB != 0 {
		out = append(out, 'B')
	}
	if len(out) == 0 {
		return "-"
	}
	return string(out)
}

// ParsePort parses a port mask written as letters, e.g. "A" or "AB".
func ParsePort(s string) (Port, error) {
	var p Port
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'A':
			p |= PortA
		case 'B':
			p |= PortB
		default:
			return 0, fmt.Errorf("unknown port %q", s)
		}
	}
	if p == 0 {
		return 0, fmt.Errorf("empty port")
	}
	return p, nil
}
