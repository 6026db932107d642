package config

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/ardnew/carrierfw/proto"
)

// RecordSize is the encoded size of a Record.
const RecordSize = 64

// Flags bits.
const (
	// FlagModifiedDesign marks a board built from a modified design; the
	// product string then does not carry the original name.
	FlagModifiedDesign uint8 = 1 << 0
)

// DefaultSerial is reported by boards without a valid record.
var DefaultSerial = [proto.SerialSize]byte{
	'9', '9', '9', '9', '9', '9', '9', '9',
	'9', '9', '9', '9', '9', '9', '9', '9',
}

// ErrRecordTooShort indicates the encoded record is truncated.
var ErrRecordTooShort = errors.New("config: record too short")

// Record is the persisted board configuration. Field order and sizes are
// the on-memory layout, little endian.
type Record struct {
	Revision      proto.Revision
	Serial        [proto.SerialSize]byte
	BitstreamSize uint32
	BitstreamID   [proto.BitstreamIDSize]byte
	VoltageLimit  [2]uint16
	Manufacturer  [proto.ManufacturerSize]byte
	Flags         uint8
}

// voltageLimitOffset is the offset of VoltageLimit within the encoded record.
const voltageLimitOffset = 1 + proto.SerialSize + 4 + proto.BitstreamIDSize

// Defaults returns the record of an unprogrammed board.
func Defaults() Record {
	return Record{
		Revision: proto.RevisionNA,
		Serial:   DefaultSerial,
	}
}

// ParseRecord decodes a record from data.
func ParseRecord(data []byte, out *Record) error {
	if len(data) < RecordSize {
		return ErrRecordTooShort
	}
	_, err := binary.Decode(data[:RecordSize], binary.LittleEndian, out)
	return err
}

// MarshalTo serializes the record to buf.
// Returns the number of bytes written (RecordSize if buf is large enough).
func (r *Record) MarshalTo(buf []byte) int {
	if len(buf) < RecordSize {
		return 0
	}
	n, err := binary.Encode(buf, binary.LittleEndian, r)
	if err != nil {
		return 0
	}
	return n
}

// SerialString returns the serial number as text.
func (r *Record) SerialString() string {
	return string(r.Serial[:])
}

// ManufacturerString returns the manufacturer override, or "" if none is
// programmed.
func (r *Record) ManufacturerString() string {
	if r.Manufacturer[0] == 0 {
		return ""
	}
	s := r.Manufacturer[:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// SetManufacturer stores a manufacturer override, truncated to fit.
func (r *Record) SetManufacturer(s string) {
	r.Manufacturer = [proto.ManufacturerSize]byte{}
	copy(r.Manufacturer[:], s)
}

// ModifiedDesign reports whether FlagModifiedDesign is set.
func (r *Record) ModifiedDesign() bool {
	return r.Flags&FlagModifiedDesign != 0
}
