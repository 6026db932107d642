package eeprom

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestNew_SetsSpeed(t *testing.T) {
	sim := NewSim()
	if _, err := New(sim); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := sim.Speed(); got != Speed {
		t.Errorf("Speed() = %v, want %v", got, Speed)
	}
}

func TestRead(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x51, W: []byte{0x00, 0x10}, R: []byte{0xC0, 0x01, 0x02}},
		},
	}
	mem, err := New(bus)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	buf := make([]byte, 3)
	if err := mem.Read(0x51, 0x0010, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0xC0, 0x01, 0x02}, buf); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

func TestRead_Empty(t *testing.T) {
	bus := &i2ctest.Playback{}
	mem, _ := New(bus)
	if err := mem.Read(0x51, 0, nil); err != nil {
		t.Errorf("Read(nil) error = %v, want nil", err)
	}
}

func TestRead_NACK(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	mem, _ := New(bus)
	err := mem.Read(0x51, 0, make([]byte, 1))
	if !errors.Is(err, ErrNACK) {
		t.Errorf("Read() error = %v, want %v", err, ErrNACK)
	}
}

func TestRead_Wrap(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x51, W: []byte{0xFF, 0xFE}, R: []byte{0x01, 0x02}},
			{Addr: 0x51, W: []byte{0x00, 0x00}, R: []byte{0x03}},
		},
	}
	mem, _ := New(bus)

	buf := make([]byte, 3)
	if err := mem.Read(0x51, 0xFFFE, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02, 0x03}, buf); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

func TestWrite_PageSplit(t *testing.T) {
	tests := []struct {
		name     string
		addr     uint16
		data     []byte
		pageSize int
		ops      []i2ctest.IO
	}{
		{
			name:     "within page",
			addr:     0x0000,
			data:     []byte{1, 2},
			pageSize: 4,
			ops: []i2ctest.IO{
				{Addr: 0x52, W: []byte{0x00, 0x00, 1, 2}},
				{Addr: 0x52, W: []byte{0x00, 0x00}},
			},
		},
		{
			name:     "crosses page",
			addr:     0x0002,
			data:     []byte{1, 2, 3, 4, 5, 6},
			pageSize: 4,
			ops: []i2ctest.IO{
				{Addr: 0x52, W: []byte{0x00, 0x02, 1, 2}},
				{Addr: 0x52, W: []byte{0x00, 0x02}},
				{Addr: 0x52, W: []byte{0x00, 0x04, 3, 4, 5, 6}},
				{Addr: 0x52, W: []byte{0x00, 0x04}},
			},
		},
		{
			name:     "byte pages",
			addr:     0x0100,
			data:     []byte{0xAA, 0xBB},
			pageSize: 0,
			ops: []i2ctest.IO{
				{Addr: 0x52, W: []byte{0x01, 0x00, 0xAA}},
				{Addr: 0x52, W: []byte{0x01, 0x00}},
				{Addr: 0x52, W: []byte{0x01, 0x01, 0xBB}},
				{Addr: 0x52, W: []byte{0x01, 0x01}},
			},
		},
		{
			name:     "wraps at top",
			addr:     0xFFFE,
			data:     []byte{1, 2, 3},
			pageSize: 64,
			ops: []i2ctest.IO{
				{Addr: 0x52, W: []byte{0xFF, 0xFE, 1, 2}},
				{Addr: 0x52, W: []byte{0xFF, 0xFE}},
				{Addr: 0x52, W: []byte{0x00, 0x00, 3}},
				{Addr: 0x52, W: []byte{0x00, 0x00}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &i2ctest.Playback{Ops: tt.ops}
			mem, _ := New(bus)
			if err := mem.Write(0x52, tt.addr, tt.data, tt.pageSize, time.Second); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := bus.Close(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestWrite_Timeout(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x51, W: []byte{0x00, 0x00, 0x42}},
		},
		DontPanic: true,
	}
	mem, _ := New(bus)
	err := mem.Write(0x51, 0, []byte{0x42}, 64, time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Write() error = %v, want %v", err, ErrTimeout)
	}
}

// steppingClock is a fake clock that moves forward on every Sleep.
type steppingClock struct {
	clockwork.FakeClock
	sleeps int
}

func (c *steppingClock) Sleep(d time.Duration) {
	c.sleeps++
	c.FakeClock.Advance(d)
}

func TestWrite_PollPacing(t *testing.T) {
	tests := []struct {
		name       string
		cycles     int
		wantSleeps int
		wantErr    error
	}{
		{"ready at once", 0, 0, nil},
		{"three busy polls", 3, 3, nil},
		{"never ready", 1 << 20, int(time.Millisecond / PollInterval), ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSim()
			sim.AddChip(0x51, 0x8000, 64, 1)
			sim.SetWriteCycles(tt.cycles)
			mem, _ := New(sim)
			clock := &steppingClock{FakeClock: clockwork.NewFakeClock()}
			mem.SetClock(clock)

			err := mem.Write(0x51, 0, []byte{0x42}, 64, time.Millisecond)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Write() error = %v, want %v", err, tt.wantErr)
			}
			if clock.sleeps != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", clock.sleeps, tt.wantSleeps)
			}
		})
	}
}

func TestWrite_NACK(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	mem, _ := New(bus)
	err := mem.Write(0x51, 0, []byte{0x42}, 64, time.Millisecond)
	if !errors.Is(err, ErrNACK) {
		t.Errorf("Write() error = %v, want %v", err, ErrNACK)
	}
}
