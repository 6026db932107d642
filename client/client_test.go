package client

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// call is one control transfer seen by mockTransport.
type call struct {
	requestType, request uint8
	value, index         uint16
	length               int
}

// mockTransport answers requests from a small board model: EEPROM requests
// hit per-selector memories, the status byte is fixed, and every other
// request is answered by reply.
type mockTransport struct {
	calls  []call
	out    [][]byte
	memory map[uint16][]byte
	status proto.Status
	stall  map[uint8]bool
	reply  map[uint8][]byte
	closed bool
}

func newMockTransport() *mockTransport {
	m := &mockTransport{
		memory: make(map[uint16][]byte),
		stall:  make(map[uint8]bool),
		reply:  make(map[uint8][]byte),
	}
	for sel := uint16(0); sel <= proto.SelectorICEMemoryTail; sel++ {
		m.memory[sel] = make([]byte, 0x10000)
	}
	return m
}

func (m *mockTransport) Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	m.calls = append(m.calls, call{requestType, request, value, index, len(data)})
	if m.stall[request] {
		return 0, ErrStalled
	}
	in := requestType&0x80 != 0
	if !in {
		m.out = append(m.out, append([]byte(nil), data...))
	}

	switch request {
	case proto.RequestEEPROM:
		mem := m.memory[index]
		if in {
			return copy(data, mem[value:]), nil
		}
		copy(mem[value:], data)
		return len(data), nil
	case proto.RequestStatus:
		data[0] = byte(m.status)
		return 1, nil
	}
	if in {
		return copy(data, m.reply[request]), nil
	}
	return len(data), nil
}

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

// requests returns the request codes seen so far.
func (m *mockTransport) requests() []uint8 {
	var out []uint8
	for _, c := range m.calls {
		out = append(out, c.request)
	}
	return out
}

func TestAPILevelAndStatus(t *testing.T) {
	m := newMockTransport()
	m.reply[proto.RequestAPILevel] = []byte{proto.APILevel}
	m.status = proto.StatusFPGAReady | proto.StatusAlert
	c := New(m)

	level, err := c.APILevel(context.Background())
	if err != nil {
		t.Fatalf("APILevel() error = %v", err)
	}
	if level != proto.APILevel {
		t.Errorf("APILevel() = %d, want %d", level, proto.APILevel)
	}

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != m.status {
		t.Errorf("Status() = %v, want %v", status, m.status)
	}
	if got := m.calls[1]; got.requestType != proto.RequestTypeVendorIn || got.length != 1 {
		t.Errorf("status request = %+v, want vendor IN of 1 byte", got)
	}

	if err := c.Close(); err != nil || !m.closed {
		t.Errorf("Close() = %v, closed = %v", err, m.closed)
	}
}

func TestShortResponse(t *testing.T) {
	m := newMockTransport()
	c := New(m)
	if _, err := c.APILevel(context.Background()); !errors.Is(err, ErrShort) {
		t.Errorf("APILevel() error = %v, want %v", err, ErrShort)
	}
}

func TestStalled(t *testing.T) {
	m := newMockTransport()
	m.stall[proto.RequestRegister] = true
	c := New(m)
	if _, err := c.ReadRegister(context.Background(), 0, 1); !errors.Is(err, ErrStalled) {
		t.Errorf("ReadRegister() error = %v, want %v", err, ErrStalled)
	}
}

func TestMemory(t *testing.T) {
	m := newMockTransport()
	c := New(m)
	ctx := context.Background()

	data := make([]byte, 2*MaxTransfer+100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := c.WriteMemory(ctx, proto.SelectorICEMemoryHi, 0x100, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}

	var want []call
	for _, off := range []int{0, MaxTransfer, 2 * MaxTransfer} {
		n := min(len(data)-off, MaxTransfer)
		want = append(want, call{proto.RequestTypeVendorOut, proto.RequestEEPROM, uint16(0x100 + off), proto.SelectorICEMemoryHi, n})
	}
	if diff := cmp.Diff(want, m.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("write transfers mismatch (-want +got):\n%s", diff)
	}

	got := make([]byte, len(data))
	if err := c.ReadMemory(ctx, proto.SelectorICEMemoryHi, 0x100, got); err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("read back mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryRange(t *testing.T) {
	c := New(newMockTransport())
	ctx := context.Background()
	if err := c.ReadMemory(ctx, 0, 0xFFF0, make([]byte, 0x20)); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadMemory() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if err := c.WriteMemory(ctx, 0, 0xFFF0, make([]byte, 0x10)); err != nil {
		t.Errorf("WriteMemory() up to the end error = %v", err)
	}
}

func TestLoadBitstream(t *testing.T) {
	tests := []struct {
		name    string
		status  proto.Status
		wantErr error
	}{
		{"ready", proto.StatusFPGAReady, nil},
		{"not ready", 0, ErrDevice},
		{"error", proto.StatusFPGAReady | proto.StatusError, ErrDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockTransport()
			m.status = tt.status
			c := New(m)

			image := make([]byte, 2*BitstreamChunk+452)
			var id [proto.BitstreamIDSize]byte
			copy(id[:], "design")
			err := c.LoadBitstream(context.Background(), image, id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("LoadBitstream() error = %v, want %v", err, tt.wantErr)
			}

			want := []call{
				{proto.RequestTypeVendorOut, proto.RequestFPGAConfig, 0, 0, BitstreamChunk},
				{proto.RequestTypeVendorOut, proto.RequestFPGAConfig, 0, 1, BitstreamChunk},
				{proto.RequestTypeVendorOut, proto.RequestFPGAConfig, 0, 2, 452},
				{proto.RequestTypeVendorOut, proto.RequestBitstreamID, 0, 0, proto.BitstreamIDSize},
				{proto.RequestTypeVendorIn, proto.RequestStatus, 0, 0, 1},
			}
			if diff := cmp.Diff(want, m.calls, cmp.AllowUnexported(call{})); diff != "" {
				t.Errorf("transfers mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(id[:], m.out[3]); diff != "" {
				t.Errorf("bitstream id mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadBitstreamEmpty(t *testing.T) {
	c := New(newMockTransport())
	if err := c.LoadBitstream(context.Background(), nil, [proto.BitstreamIDSize]byte{}); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("LoadBitstream() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestRegister(t *testing.T) {
	m := newMockTransport()
	m.reply[proto.RequestRegister] = []byte{0x34, 0x12}
	c := New(m)
	ctx := context.Background()

	v, err := c.ReadRegister(ctx, 3, 2)
	if err != nil {
		t.Fatalf("ReadRegister() error = %v", err)
	}
	if v != 0x1234 {
		t.Errorf("ReadRegister() = 0x%X, want 0x1234", v)
	}
	if got := m.calls[0]; got.value != 3 || got.length != 2 {
		t.Errorf("read request = %+v, want register 3 of 2 bytes", got)
	}

	if err := c.WriteRegister(ctx, 3, 2, 0xBEEF); err != nil {
		t.Fatalf("WriteRegister() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0xBE, 0xEF}, m.out[0]); diff != "" {
		t.Errorf("write data mismatch (-want +got):\n%s", diff)
	}

	for _, width := range []int{0, 9} {
		if _, err := c.ReadRegister(ctx, 0, width); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("ReadRegister(width %d) error = %v, want %v", width, err, pkg.ErrInvalidParameter)
		}
	}
}

func TestVoltage(t *testing.T) {
	m := newMockTransport()
	m.reply[proto.RequestIOVoltage] = binary.LittleEndian.AppendUint16(nil, 3300)
	m.reply[proto.RequestAlertVoltage] = []byte{0xB8, 0x0B, 0x10, 0x0E}
	c := New(m)
	ctx := context.Background()

	v, err := c.IOVoltage(ctx, proto.PortA)
	if err != nil {
		t.Fatalf("IOVoltage() error = %v", err)
	}
	if v != 3300*physic.MilliVolt {
		t.Errorf("IOVoltage() = %v, want 3.3V", v)
	}

	low, high, err := c.AlertVoltage(ctx, proto.PortB)
	if err != nil {
		t.Fatalf("AlertVoltage() error = %v", err)
	}
	if low != 3000*physic.MilliVolt || high != 3600*physic.MilliVolt {
		t.Errorf("AlertVoltage() = %v, %v, want 3V, 3.6V", low, high)
	}

	m.calls, m.out = nil, nil
	if err := c.SetAlertVoltage(ctx, proto.PortAll, 3000*physic.MilliVolt, 3600*physic.MilliVolt); err != nil {
		t.Fatalf("SetAlertVoltage() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0xB8, 0x0B, 0x10, 0x0E}, m.out[0]); diff != "" {
		t.Errorf("alert window mismatch (-want +got):\n%s", diff)
	}
	if got := m.calls[0]; got.index != uint16(proto.PortAll) {
		t.Errorf("alert window index = %d, want %d", got.index, proto.PortAll)
	}
}

func TestCheckedRequests(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		request uint8
		do      func(*Client) error
	}{
		{"set voltage", proto.RequestIOVoltage, func(c *Client) error {
			return c.SetIOVoltage(ctx, proto.PortA, 5*physic.Volt)
		}},
		{"set limit", proto.RequestVoltageLimit, func(c *Client) error {
			return c.SetVoltageLimit(ctx, proto.PortB, 3300*physic.MilliVolt)
		}},
		{"set pull", proto.RequestPull, func(c *Client) error {
			return c.SetPull(ctx, proto.PortA, 0xFF, 0x0F)
		}},
		{"enable buffers", proto.RequestIOBufferEnable, func(c *Client) error {
			return c.EnableIOBuffers(ctx, true)
		}},
		{"write register", proto.RequestRegister, func(c *Client) error {
			return c.WriteRegister(ctx, 1, 1, 0xAA)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockTransport()
			c := New(m)
			if err := tt.do(c); err != nil {
				t.Fatalf("clean request error = %v", err)
			}
			if diff := cmp.Diff([]uint8{tt.request, proto.RequestStatus}, m.requests()); diff != "" {
				t.Errorf("requests mismatch (-want +got):\n%s", diff)
			}

			m.status = proto.StatusError
			if err := tt.do(c); !errors.Is(err, ErrDevice) {
				t.Errorf("failing request error = %v, want %v", err, ErrDevice)
			}
		})
	}
}

func TestPullAndAlert(t *testing.T) {
	m := newMockTransport()
	m.reply[proto.RequestPull] = []byte{0xF0, 0x30}
	m.reply[proto.RequestPollAlert] = []byte{byte(proto.PortB)}
	c := New(m)
	ctx := context.Background()

	enable, level, err := c.Pull(ctx, proto.PortA)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if enable != 0xF0 || level != 0x30 {
		t.Errorf("Pull() = 0x%02X, 0x%02X, want 0xF0, 0x30", enable, level)
	}

	port, err := c.PollAlert(ctx)
	if err != nil {
		t.Fatalf("PollAlert() error = %v", err)
	}
	if port != proto.PortB {
		t.Errorf("PollAlert() = %v, want %v", port, proto.PortB)
	}

	if err := c.TestLEDs(ctx, 0x15); err != nil {
		t.Fatalf("TestLEDs() error = %v", err)
	}
	if got := m.calls[len(m.calls)-1]; got.index != 0x05 {
		t.Errorf("TestLEDs() index = 0x%02X, want 0x05", got.index)
	}
}

func TestProvisionAndRecord(t *testing.T) {
	m := newMockTransport()
	c := New(m)
	ctx := context.Background()

	rec := config.Defaults()
	rec.Revision = proto.RevisionC3
	copy(rec.Serial[:], "2024010112345678")
	rec.VoltageLimit = [2]uint16{3300, 5000}
	if err := c.Provision(ctx, rec); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	got, marker, err := c.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if marker != config.MarkerFactory {
		t.Errorf("marker = 0x%02X, want 0x%02X", marker, config.MarkerFactory)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if id := binary.LittleEndian.Uint16(m.memory[proto.SelectorFX2Memory][1:3]); id != proto.VendorID {
		t.Errorf("header vendor id = 0x%04X, want 0x%04X", id, proto.VendorID)
	}
}

func TestStoreBitstream(t *testing.T) {
	m := newMockTransport()
	c := New(m)
	ctx := context.Background()

	rec := config.Defaults()
	rec.Revision = proto.RevisionC1
	if err := c.Provision(ctx, rec); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	image := make([]byte, 2*0x10000+0x200)
	for i := range image {
		image[i] = byte(i % 253)
	}
	var id [proto.BitstreamIDSize]byte
	copy(id[:], "stored")
	if err := c.StoreBitstream(ctx, image, id); err != nil {
		t.Fatalf("StoreBitstream() error = %v", err)
	}

	parts := []struct {
		selector uint16
		data     []byte
	}{
		{proto.SelectorICEMemoryLo, image[:0x10000]},
		{proto.SelectorICEMemoryHi, image[0x10000:0x20000]},
		{proto.SelectorICEMemoryTail, image[0x20000:]},
	}
	for _, p := range parts {
		if diff := cmp.Diff(p.data, m.memory[p.selector][:len(p.data)]); diff != "" {
			t.Errorf("selector %d mismatch (-want +got):\n%s", p.selector, diff)
		}
	}

	got, _, err := c.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.BitstreamSize != uint32(len(image)) || got.BitstreamID != id {
		t.Errorf("record bitstream = %d/%q, want %d/%q", got.BitstreamSize, got.BitstreamID, len(image), id)
	}
	if got.Revision != proto.RevisionC1 {
		t.Errorf("record revision = %v, want C1", got.Revision)
	}

	if err := c.StoreBitstream(ctx, make([]byte, MaxStoredBitstream+1), id); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("StoreBitstream(oversized) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}
