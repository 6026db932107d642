package fifo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/board/eeprom"
	"github.com/ardnew/carrierfw/board/fpga"
	"github.com/ardnew/carrierfw/board/iobuf"
	"github.com/ardnew/carrierfw/client"
	"github.com/ardnew/carrierfw/client/fifo"
	devfifo "github.com/ardnew/carrierfw/device/hal/fifo"
	"github.com/ardnew/carrierfw/firmware"
	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/proto"
)

// carrier is a simulated board running the firmware over the FIFO HAL.
type carrier struct {
	hal  *devfifo.HAL
	fpga *fpga.Sim
	bank *iobuf.Bank
}

// startCarrier boots a revision C3 board in a fresh bus directory and
// connects a client to it.
func startCarrier(t *testing.T) (*carrier, *fifo.Transport, *client.Client) {
	t.Helper()

	sim := eeprom.NewSim()
	sim.AddChip(proto.I2CAddrFX2Memory, 32*1024, 64, 1)
	sim.AddChip(proto.I2CAddrICEMemory, 128*1024, 256, 2)
	mem, err := eeprom.New(sim)
	if err != nil {
		t.Fatalf("eeprom.New() error = %v", err)
	}
	rec := config.Defaults()
	rec.Revision = proto.RevisionC3
	copy(rec.Serial[:], "2024010112345678")
	if err := config.New(mem, rec).Provision(config.MarkerFactory, rec); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	busDir := t.TempDir()
	c := &carrier{
		hal:  devfifo.New(busDir),
		fpga: fpga.NewSim(),
		bank: iobuf.NewBank(),
	}
	fw, err := firmware.New(firmware.Board{
		HAL:       c.hal,
		Memory:    mem,
		FPGA:      fpga.NewICE40(c.fpga.SPI(), c.fpga.CRESET(), c.fpga.CDONE(), c.fpga.Registers()),
		Power:     c.bank.Board(),
		AlertLine: c.bank.AlertLine(),
	}, firmware.Options{Revision: "test"})
	if err != nil {
		t.Fatalf("firmware.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := fw.Boot(ctx); err != nil {
		cancel()
		t.Fatalf("Boot() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	openCtx, openCancel := context.WithTimeout(ctx, 5*time.Second)
	defer openCancel()
	tr, err := fifo.Open(openCtx, busDir)
	if err != nil {
		cancel()
		<-done
		t.Fatalf("Open() error = %v", err)
	}

	t.Cleanup(func() {
		tr.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("firmware did not stop")
		}
	})
	return c, tr, client.New(tr)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEnumerate(t *testing.T) {
	c, tr, cl := startCarrier(t)
	ctx := testContext(t)

	if err := tr.Enumerate(ctx, 5, firmware.ConfigFourPipes); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if got := c.hal.Address(); got != 5 {
		t.Errorf("Address() = %d, want 5", got)
	}
	if got := len(c.hal.Endpoints()); got != 4 {
		t.Errorf("len(Endpoints()) = %d, want 4", got)
	}
	for _, ep := range c.hal.Endpoints() {
		if got := c.hal.FIFOResets(ep.Address); got != 1 {
			t.Errorf("FIFOResets(0x%02X) = %d, want 1", ep.Address, got)
		}
	}

	level, err := cl.APILevel(ctx)
	if err != nil {
		t.Fatalf("APILevel() error = %v", err)
	}
	if level != proto.APILevel {
		t.Errorf("APILevel() = %d, want %d", level, proto.APILevel)
	}

	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := cl.Status(ctx); err != nil {
		t.Errorf("Status() after reset error = %v", err)
	}
}

func TestVoltage(t *testing.T) {
	c, _, cl := startCarrier(t)
	ctx := testContext(t)

	if err := cl.SetIOVoltage(ctx, proto.PortA, 3300*physic.MilliVolt); err != nil {
		t.Fatalf("SetIOVoltage() error = %v", err)
	}
	v, err := cl.IOVoltage(ctx, proto.PortA)
	if err != nil {
		t.Fatalf("IOVoltage() error = %v", err)
	}
	if v != 3300*physic.MilliVolt {
		t.Errorf("IOVoltage() = %v, want 3.3V", v)
	}
	if got := c.bank.Setpoint(0); got != 3300*physic.MilliVolt {
		t.Errorf("Setpoint(A) = %v, want 3.3V", got)
	}

	if err := cl.SetIOVoltage(ctx, proto.PortB, 6*physic.Volt); !errors.Is(err, client.ErrDevice) {
		t.Errorf("SetIOVoltage(6V) error = %v, want %v", err, client.ErrDevice)
	}
	status, err := cl.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status&proto.StatusError != 0 {
		t.Errorf("Status() = %v, error not cleared by the check", status)
	}
}

func TestMemory(t *testing.T) {
	_, _, cl := startCarrier(t)
	ctx := testContext(t)

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i + 1)
	}
	if err := cl.WriteMemory(ctx, proto.SelectorFX2Memory, 0x1000, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}
	got := make([]byte, len(data))
	if err := cl.ReadMemory(ctx, proto.SelectorFX2Memory, 0x1000, got); err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("read back mismatch (-want +got):\n%s", diff)
	}

	rec, marker, err := cl.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if marker != config.MarkerFactory || rec.Revision != proto.RevisionC3 {
		t.Errorf("Record() = marker 0x%02X revision %v, want 0x%02X C3", marker, rec.Revision, config.MarkerFactory)
	}

	// The tail window ends at 4 KiB.
	if err := cl.ReadMemory(ctx, proto.SelectorICEMemoryTail, 0x0F80, make([]byte, 0x100)); !errors.Is(err, client.ErrStalled) {
		t.Errorf("ReadMemory(tail overflow) error = %v, want %v", err, client.ErrStalled)
	}
}

func TestBitstream(t *testing.T) {
	c, _, cl := startCarrier(t)
	ctx := testContext(t)

	if _, err := cl.ReadRegister(ctx, 0, 1); !errors.Is(err, client.ErrStalled) {
		t.Errorf("ReadRegister() before load error = %v, want %v", err, client.ErrStalled)
	}

	image := make([]byte, 3000)
	for i := range image {
		image[i] = byte(i%251 + 1)
	}
	copy(image[8:], fpga.Preamble)
	var id [proto.BitstreamIDSize]byte
	copy(id[:], "fifo-design")

	if err := cl.LoadBitstream(ctx, image, id); err != nil {
		t.Fatalf("LoadBitstream() error = %v", err)
	}
	if diff := cmp.Diff(image, c.fpga.Image()); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	got, err := cl.BitstreamID(ctx)
	if err != nil {
		t.Fatalf("BitstreamID() error = %v", err)
	}
	if got != id {
		t.Errorf("BitstreamID() = %q, want %q", got, id)
	}

	if err := cl.WriteRegister(ctx, 0, 1, 0x05); err != nil {
		t.Fatalf("WriteRegister() error = %v", err)
	}
	v, err := cl.ReadRegister(ctx, 0, 1)
	if err != nil {
		t.Fatalf("ReadRegister() error = %v", err)
	}
	if v != 0x05 {
		t.Errorf("ReadRegister() = 0x%02X, want 0x05", v)
	}
}
