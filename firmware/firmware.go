package firmware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/carrierfw/board/fpga"
	"github.com/ardnew/carrierfw/board/iobuf"
	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// Version is the source revision reported in the product string. Release
// builds set it with -ldflags "-X github.com/ardnew/carrierfw/firmware.Version=...".
var Version = "unknown"

// Default timings.
const (
	DefaultPollInterval      = time.Millisecond
	DefaultAlertPollInterval = time.Millisecond
	DefaultActivityPulse     = 16 * time.Millisecond
)

// Board is the hardware the firmware runs on.
type Board struct {
	// USB controller.
	HAL hal.DeviceHAL

	// Memory holds the on-board and configuration memories on the shared
	// I2C bus.
	Memory config.Memory

	// FPGA is the configuration and register port of the FPGA.
	FPGA fpga.Config

	// Power is the port power stage. The voltage backend driving it is
	// chosen once the board revision is known.
	Power iobuf.Board

	// AlertLine is the active-low ~ALERT input of the sense chips.
	AlertLine gpio.PinIn

	// LEDs indexed by LED. Missing LEDs may be nil.
	LEDs [NumLEDs]gpio.PinOut

	// Resident is the record the boot loader left in RAM, used when the
	// load marker says it is valid.
	Resident config.Record
}

// Options tunes the firmware runtime.
type Options struct {
	// PollInterval wakes the main loop when no event arrives.
	PollInterval time.Duration
	// AlertPollInterval is the sampling period of the alert line.
	AlertPollInterval time.Duration
	// ActivityPulse is how long the ACT LED stays lit after endpoint
	// activity.
	ActivityPulse time.Duration
	// Revision is the source revision in the product string. Defaults to
	// Version.
	Revision string
	// Clock drives every timer. Defaults to the real clock.
	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.AlertPollInterval <= 0 {
		o.AlertPollInterval = DefaultAlertPollInterval
	}
	if o.ActivityPulse <= 0 {
		o.ActivityPulse = DefaultActivityPulse
	}
	if o.Revision == "" {
		o.Revision = Version
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Firmware is the carrier control firmware.
//
// Interrupt sources are goroutines that only set flags and ring the
// doorbell: the USB stack delivers SETUP packets to HandleSetup, the alert
// watcher samples the alert line, and the endpoint activity callback pulses
// the ACT LED. All substantive work runs in the main loop.
type Firmware struct {
	board Board
	opts  Options

	store   *config.Store
	backend iobuf.Backend
	dev     *device.Device
	stack   *device.Stack
	routes  []route

	status statusLatch
	leds   ledBank

	// pending is set by HandleSetup and cleared by the dispatcher once the
	// request is classified. setup is written only while pending is false
	// and read only while it is true.
	pending atomic.Bool
	setup   device.SetupPacket

	// alertPending is set by the alert watcher and cleared by the alert
	// handler. alertIRQEnabled is cleared by the watcher when it fires and
	// set again by the handler.
	alertPending    atomic.Bool
	alertIRQEnabled atomic.Bool

	doorbell chan struct{}
	epoch    time.Time

	// Bitstream chunk sequence, main loop only.
	bitstreamIdx uint16

	// Interface and pipe state, owned by the USB stack goroutine.
	pipeMu      sync.Mutex
	configValue uint8
	altSetting  [numPipes]uint8

	// Main loop buffer for chunked transfers.
	scratch [bootChunk]byte

	booted bool
}

// New returns firmware for board. Call Boot before Run.
func New(board Board, opts Options) (*Firmware, error) {
	if board.HAL == nil || board.Memory == nil || board.FPGA == nil ||
		board.Power.Bus == nil || board.AlertLine == nil {
		return nil, pkg.ErrInvalidParameter
	}
	opts = opts.withDefaults()

	f := &Firmware{
		board:    board,
		opts:     opts,
		store:    config.New(board.Memory, board.Resident),
		doorbell: make(chan struct{}, 1),
		epoch:    opts.Clock.Now(),
	}
	f.leds.init(board.LEDs, opts.Clock, opts.ActivityPulse)
	f.status.leds = &f.leds
	f.routes = f.requestRoutes()
	return f, nil
}

// Boot brings the board up and connects to USB: load the configuration,
// build the descriptors, bring up the voltage backend, arm the alert
// interrupt, load the stored bitstream, then attach.
func (f *Firmware) Boot(ctx context.Context) error {
	if f.booted {
		return pkg.ErrAlreadyRunning
	}

	src := f.store.Load()
	rec := f.store.Record()

	dev, err := buildDevice(ctx, &rec, f.opts.Revision)
	if err != nil {
		return fmt.Errorf("build descriptors: %w", err)
	}
	dev.SetConfigurationHook(f)
	f.dev = dev

	f.leds.set(LEDFX2, true)
	f.leds.set(LEDActivity, false)
	f.leds.set(LEDError, false)

	f.backend = iobuf.Select(rec.Revision, f.board.Power)
	limits := f.store.VoltageLimits()
	if err := f.backend.Init([2]physic.ElectricPotential{
		iobuf.FromMilliVolts(limits[0]),
		iobuf.FromMilliVolts(limits[1]),
	}); err != nil {
		pkg.LogError(pkg.ComponentBoot, "voltage backend init failed",
			"backend", f.backend.Name(), "error", err)
		f.status.latch(proto.StatusError)
	}

	f.alertIRQEnabled.Store(true)

	f.bootstrap()

	f.stack = device.NewStack(dev, f.board.HAL)
	f.stack.SetSetupHook(f)
	if n, ok := f.board.HAL.(hal.ActivityNotifier); ok {
		n.OnActivity(f.leds.activity)
	}
	if err := f.stack.Start(ctx); err != nil {
		return fmt.Errorf("start usb: %w", err)
	}

	f.booted = true
	pkg.LogInfo(pkg.ComponentBoot, "booted",
		"config", src.String(),
		"revision", rec.Revision.String(),
		"backend", f.backend.Name(),
		"fpga", f.board.FPGA.Ready())
	return nil
}

// Run services the board until ctx is done. The USB control loop, the
// alert watcher and the main loop run as one group; Run returns when all of
// them have stopped.
func (f *Firmware) Run(ctx context.Context) error {
	if !f.booted {
		return pkg.ErrNotRunning
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.stack.Serve(ctx) })
	g.Go(func() error { return f.watchAlert(ctx) })
	g.Go(func() error { return f.mainLoop(ctx) })
	err := g.Wait()

	f.leds.stop()
	if stopErr := f.stack.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// mainLoop handles pending events in order: the SETUP request, then the
// alert, then the FX2 LED.
func (f *Firmware) mainLoop(ctx context.Context) error {
	ticker := f.opts.Clock.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.doorbell:
		case <-ticker.Chan():
		}

		f.poll(ctx)
	}
}

// poll runs one main loop iteration.
func (f *Firmware) poll(ctx context.Context) {
	if f.pending.Load() {
		f.handlePendingSetup(ctx)
	}
	if f.alertPending.Load() {
		f.handleAlert()
	}
	f.breathe()
}

// ring wakes the main loop.
func (f *Firmware) ring() {
	select {
	case f.doorbell <- struct{}{}:
	default:
	}
}

// HandleSetup implements device.SetupHook. It runs on the USB stack
// goroutine: it snapshots the request for the main loop and returns. A
// request arriving while the previous one is still pending is stalled.
func (f *Firmware) HandleSetup(setup *device.SetupPacket) error {
	if f.pending.Load() {
		return pkg.ErrSetupPending
	}
	f.setup = *setup
	f.pending.Store(true)
	f.ring()
	return nil
}

// watchAlert samples the alert line while the alert interrupt is armed.
// The line is level triggered, so the interrupt disarms itself when it
// fires until the alert handler has run.
func (f *Firmware) watchAlert(ctx context.Context) error {
	ticker := f.opts.Clock.NewTicker(f.opts.AlertPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
		f.sampleAlert()
	}
}

func (f *Firmware) sampleAlert() {
	if !f.alertIRQEnabled.Load() || f.board.AlertLine.Read() != gpio.Low {
		return
	}
	f.alertIRQEnabled.Store(false)
	f.alertPending.Store(true)
	f.ring()
}

// Status returns the status byte as the status request would report it,
// without clearing anything.
func (f *Firmware) Status() proto.Status {
	return f.status.get() | f.fpgaReady()
}

// Store returns the configuration store.
func (f *Firmware) Store() *config.Store {
	return f.store
}

// Backend returns the voltage backend selected at boot.
func (f *Firmware) Backend() iobuf.Backend {
	return f.backend
}

// Device returns the USB device model built at boot.
func (f *Firmware) Device() *device.Device {
	return f.dev
}
