package config

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// Layout of the on-board memory.
const (
	// MarkerOffset is the boot loader load marker.
	MarkerOffset = 0
	// HeaderSize is the boot header plus the reserved bytes before the record.
	HeaderSize = 8 + 4
	// RecordOffset is the address of the record.
	RecordOffset = HeaderSize

	// PageSize is the write page of the on-board memory.
	PageSize = 64
	// WriteTimeout bounds each page write.
	WriteTimeout = 5 * time.Millisecond
)

// Load markers.
const (
	MarkerErased   = 0xFF // memory never programmed
	MarkerFirmware = 0xC2 // boot loader loaded firmware and record together
	MarkerFactory  = 0xC0 // identity only; the record must be read explicitly
)

// Source tells where the active record came from.
type Source int

// Record sources.
const (
	SourceDefaults Source = iota
	SourceResident
	SourceMemory
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceDefaults:
		return "defaults"
	case SourceResident:
		return "resident"
	case SourceMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Memory is the persistent storage the record lives in.
type Memory interface {
	Read(chip, addr uint16, buf []byte) error
	Write(chip, addr uint16, data []byte, pageSize int, timeout time.Duration) error
}

// Store owns the configuration record. All reads and updates of the record
// go through it.
type Store struct {
	mu  sync.Mutex
	mem Memory
	rec Record
}

// New returns a store backed by mem. resident is the record already in RAM
// when the boot loader loaded the firmware together with its configuration.
func New(mem Memory, resident Record) *Store {
	return &Store{mem: mem, rec: resident}
}

// Load selects the active record according to the load marker. A missing,
// erased or unreadable record is replaced by Defaults, so the board never
// exposes an uninitialized identity.
func (s *Store) Load() Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.load()
	if err != nil {
		pkg.LogWarn(pkg.ComponentConfig, "configuration unavailable, using defaults", "error", err)
	}
	if src == SourceDefaults {
		s.rec.Revision = proto.RevisionNA
		s.rec.Serial = DefaultSerial
		s.rec.BitstreamSize = 0
	}
	pkg.LogInfo(pkg.ComponentConfig, "configuration loaded",
		"source", src.String(), "revision", s.rec.Revision.String(), "serial", s.rec.SerialString())
	return src
}

func (s *Store) load() (Source, error) {
	var marker [1]byte
	if err := s.mem.Read(proto.I2CAddrFX2Memory, MarkerOffset, marker[:]); err != nil {
		return SourceDefaults, fmt.Errorf("read marker: %w", err)
	}
	switch marker[0] {
	case MarkerFirmware:
		return SourceResident, nil
	case MarkerFactory:
		var buf [RecordSize]byte
		if err := s.mem.Read(proto.I2CAddrFX2Memory, RecordOffset, buf[:]); err != nil {
			return SourceDefaults, fmt.Errorf("read record: %w", err)
		}
		if err := ParseRecord(buf[:], &s.rec); err != nil {
			return SourceDefaults, err
		}
		return SourceMemory, nil
	case MarkerErased:
		return SourceDefaults, nil
	default:
		return SourceDefaults, fmt.Errorf("unknown load marker 0x%02X", marker[0])
	}
}

// Record returns a copy of the active record.
func (s *Store) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Revision returns the board revision.
func (s *Store) Revision() proto.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Revision
}

// BitstreamSize returns the size of the stored bitstream, 0 if none.
func (s *Store) BitstreamSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.BitstreamSize
}

// BitstreamID returns the tag of the running bitstream.
func (s *Store) BitstreamID() [proto.BitstreamIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.BitstreamID
}

// SetBitstreamID records the tag of the running bitstream. It is not
// persisted.
func (s *Store) SetBitstreamID(id [proto.BitstreamIDSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.BitstreamID = id
}

// ClearBitstreamID forgets the tag of the running bitstream.
func (s *Store) ClearBitstreamID() {
	s.SetBitstreamID([proto.BitstreamIDSize]byte{})
}

// VoltageLimit returns the stored limit of a single port in millivolts.
func (s *Store) VoltageLimit(port proto.Port) (uint16, bool) {
	i := port.Index()
	if i < 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.VoltageLimit[i], true
}

// VoltageLimits returns the stored limits of both ports in millivolts.
func (s *Store) VoltageLimits() [2]uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.VoltageLimit
}

// SetVoltageLimit updates the stored limit of every port in mask. It is not
// persisted until PersistVoltageLimit.
func (s *Store) SetVoltageLimit(mask proto.Port, mv uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rec.VoltageLimit {
		if mask&(1<<i) != 0 {
			s.rec.VoltageLimit[i] = mv
		}
	}
}

// PersistVoltageLimit writes the limits field of the record to memory.
func (s *Store) PersistVoltageLimit() error {
	s.mu.Lock()
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], s.rec.VoltageLimit[0])
	binary.LittleEndian.PutUint16(buf[2:4], s.rec.VoltageLimit[1])
	s.mu.Unlock()

	addr := uint16(RecordOffset + voltageLimitOffset)
	if err := s.mem.Write(proto.I2CAddrFX2Memory, addr, buf[:], PageSize, WriteTimeout); err != nil {
		return fmt.Errorf("persist voltage limit: %w", err)
	}
	return nil
}

// Persist writes the whole record to memory. The load marker is not changed.
func (s *Store) Persist() error {
	s.mu.Lock()
	var buf [RecordSize]byte
	s.rec.MarshalTo(buf[:])
	s.mu.Unlock()

	if err := s.mem.Write(proto.I2CAddrFX2Memory, RecordOffset, buf[:], PageSize, WriteTimeout); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	return nil
}

// Provision programs a factory image: a boot header carrying marker and the
// USB identity, followed by rec. The store adopts rec.
func (s *Store) Provision(marker byte, rec Record) error {
	var hdr [HeaderSize]byte
	hdr[0] = marker
	binary.LittleEndian.PutUint16(hdr[1:3], proto.VendorID)
	binary.LittleEndian.PutUint16(hdr[3:5], proto.ProductID)
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(proto.APILevel)<<8|uint16(rec.Revision))
	if err := s.mem.Write(proto.I2CAddrFX2Memory, MarkerOffset, hdr[:], PageSize, WriteTimeout); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
	return s.Persist()
}
