package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/carrierfw/board/eeprom"
	"github.com/ardnew/carrierfw/proto"
)

func newTestMemory(t *testing.T) (*eeprom.EEPROM, *eeprom.Sim) {
	t.Helper()
	sim := eeprom.NewSim()
	sim.AddChip(proto.I2CAddrFX2Memory, 32*1024, 64, 1)
	mem, err := eeprom.New(sim)
	if err != nil {
		t.Fatalf("eeprom.New() error = %v", err)
	}
	return mem, sim
}

func testRecord() Record {
	rec := Record{
		Revision:      proto.RevisionC3,
		Serial:        [16]byte{'2', '0', '2', '4', '0', '1', '0', '1', 'T', '1', '2', '3', '4', '5', '6', '7'},
		BitstreamSize: 0x20000,
		VoltageLimit:  [2]uint16{3300, 5000},
		Flags:         FlagModifiedDesign,
	}
	rec.SetManufacturer("Example Labs")
	return rec
}

func TestRecord_Layout(t *testing.T) {
	rec := testRecord()
	var buf [RecordSize]byte
	if n := rec.MarshalTo(buf[:]); n != RecordSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, RecordSize)
	}
	if buf[0] != byte(proto.RevisionC3) {
		t.Errorf("revision byte = 0x%02X, want 0x33", buf[0])
	}
	if got := buf[17:21]; !cmp.Equal(got, []byte{0x00, 0x00, 0x02, 0x00}) {
		t.Errorf("bitstream size bytes = % X, want 00 00 02 00", got)
	}
	if got := buf[voltageLimitOffset : voltageLimitOffset+4]; !cmp.Equal(got, []byte{0xE4, 0x0C, 0x88, 0x13}) {
		t.Errorf("voltage limit bytes = % X, want E4 0C 88 13", got)
	}
	if buf[RecordSize-1] != FlagModifiedDesign {
		t.Errorf("flags byte = 0x%02X, want 0x01", buf[RecordSize-1])
	}

	var back Record
	if err := ParseRecord(buf[:], &back); err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	if diff := cmp.Diff(rec, back); diff != "" {
		t.Errorf("ParseRecord() mismatch (-want +got):\n%s", diff)
	}

	if n := rec.MarshalTo(buf[:10]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
	if err := ParseRecord(buf[:10], &back); !errors.Is(err, ErrRecordTooShort) {
		t.Errorf("ParseRecord(short) error = %v, want %v", err, ErrRecordTooShort)
	}
}

func TestRecord_Strings(t *testing.T) {
	rec := testRecord()
	if got := rec.ManufacturerString(); got != "Example Labs" {
		t.Errorf("ManufacturerString() = %q, want %q", got, "Example Labs")
	}
	if !rec.ModifiedDesign() {
		t.Error("ModifiedDesign() = false, want true")
	}
	empty := Defaults()
	if got := empty.ManufacturerString(); got != "" {
		t.Errorf("ManufacturerString() = %q, want empty", got)
	}
	if got := empty.SerialString(); got != "9999999999999999" {
		t.Errorf("SerialString() = %q, want placeholder", got)
	}
}

func TestStore_Load(t *testing.T) {
	resident := testRecord()
	resident.Serial = [16]byte{'R', 'E', 'S', 'I', 'D', 'E', 'N', 'T', '0', '0', '0', '0', '0', '0', '0', '0'}

	tests := []struct {
		name     string
		marker   byte
		withRec  bool
		wantSrc  Source
		wantRev  proto.Revision
		wantSer  string
		wantBits uint32
	}{
		{"erased", MarkerErased, false, SourceDefaults, proto.RevisionNA, "9999999999999999", 0},
		{"firmware load", MarkerFirmware, false, SourceResident, proto.RevisionC3, "RESIDENT00000000", 0x20000},
		{"factory load", MarkerFactory, true, SourceMemory, proto.RevisionC3, "20240101T1234567", 0x20000},
		{"garbage marker", 0x5A, true, SourceDefaults, proto.RevisionNA, "9999999999999999", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, sim := newTestMemory(t)
			if tt.withRec {
				var buf [RecordSize]byte
				rec := testRecord()
				rec.MarshalTo(buf[:])
				_ = sim.Load(proto.I2CAddrFX2Memory, RecordOffset, buf[:])
			}
			_ = sim.Load(proto.I2CAddrFX2Memory, MarkerOffset, []byte{tt.marker})

			s := New(mem, resident)
			if got := s.Load(); got != tt.wantSrc {
				t.Errorf("Load() = %v, want %v", got, tt.wantSrc)
			}
			if got := s.Revision(); got != tt.wantRev {
				t.Errorf("Revision() = %v, want %v", got, tt.wantRev)
			}
			rec := s.Record()
			if got := rec.SerialString(); got != tt.wantSer {
				t.Errorf("serial = %q, want %q", got, tt.wantSer)
			}
			if got := s.BitstreamSize(); got != tt.wantBits {
				t.Errorf("BitstreamSize() = %d, want %d", got, tt.wantBits)
			}
		})
	}
}

func TestStore_LoadReadFailure(t *testing.T) {
	mem, sim := newTestMemory(t)
	_ = sim.Load(proto.I2CAddrFX2Memory, MarkerOffset, []byte{MarkerFactory})
	sim.Detach(proto.I2CAddrFX2Memory, true)

	s := New(mem, testRecord())
	if got := s.Load(); got != SourceDefaults {
		t.Errorf("Load() = %v, want %v", got, SourceDefaults)
	}
	if got := s.Revision(); got != proto.RevisionNA {
		t.Errorf("Revision() = %v, want NA", got)
	}
	if got := s.BitstreamSize(); got != 0 {
		t.Errorf("BitstreamSize() = %d, want 0", got)
	}
}

func TestStore_BitstreamID(t *testing.T) {
	mem, _ := newTestMemory(t)
	s := New(mem, Defaults())
	id := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	s.SetBitstreamID(id)
	if got := s.BitstreamID(); got != id {
		t.Errorf("BitstreamID() = %v, want %v", got, id)
	}
	s.ClearBitstreamID()
	if got := s.BitstreamID(); got != ([16]byte{}) {
		t.Errorf("BitstreamID() = %v after clear, want zero", got)
	}
}

func TestStore_PersistVoltageLimit(t *testing.T) {
	mem, sim := newTestMemory(t)
	s := New(mem, Defaults())

	s.SetVoltageLimit(proto.PortAll, 3300)
	s.SetVoltageLimit(proto.PortB, 1800)
	if got, ok := s.VoltageLimit(proto.PortA); !ok || got != 3300 {
		t.Errorf("VoltageLimit(A) = %d, %v, want 3300, true", got, ok)
	}
	if _, ok := s.VoltageLimit(proto.PortAll); ok {
		t.Error("VoltageLimit(AB) ok = true, want false")
	}
	if err := s.PersistVoltageLimit(); err != nil {
		t.Fatalf("PersistVoltageLimit() error = %v", err)
	}

	raw := sim.Bytes(proto.I2CAddrFX2Memory)
	off := RecordOffset + voltageLimitOffset
	if diff := cmp.Diff([]byte{0xE4, 0x0C, 0x08, 0x07}, raw[off:off+4]); diff != "" {
		t.Errorf("persisted limit mismatch (-want +got):\n%s", diff)
	}
	if raw[off-1] != 0xFF || raw[off+4] != 0xFF {
		t.Error("PersistVoltageLimit() wrote outside the field")
	}

	sim.SetReadOnly(proto.I2CAddrFX2Memory, true)
	if err := s.PersistVoltageLimit(); !errors.Is(err, eeprom.ErrNACK) {
		t.Errorf("PersistVoltageLimit(read-only) error = %v, want %v", err, eeprom.ErrNACK)
	}
}

func TestStore_Provision(t *testing.T) {
	mem, _ := newTestMemory(t)
	rec := testRecord()
	if err := New(mem, Defaults()).Provision(MarkerFactory, rec); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	s := New(mem, Defaults())
	if got := s.Load(); got != SourceMemory {
		t.Fatalf("Load() = %v, want %v", got, SourceMemory)
	}
	if diff := cmp.Diff(rec, s.Record()); diff != "" {
		t.Errorf("Record() mismatch (-want +got):\n%s", diff)
	}

	var hdr [5]byte
	if err := mem.Read(proto.I2CAddrFX2Memory, 0, hdr[:]); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xC0, 0xB7, 0x20, 0xB1, 0x9D}, hdr[:]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestSource_String(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{SourceDefaults, "defaults"},
		{SourceResident, "resident"},
		{SourceMemory, "memory"},
		{Source(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.src.String(); got != tt.want {
			t.Errorf("Source(%d).String() = %v, want %v", tt.src, got, tt.want)
		}
	}
}
