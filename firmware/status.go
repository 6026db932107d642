package firmware

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// LED identifies a board LED. The order matches the bits of the LED test
// request.
type LED int

// Board LEDs.
const (
	LEDFX2      LED = iota // USB controller alive; breathes until addressed
	LEDActivity            // endpoint activity
	LEDFPGA                // driven by the board, only touched in test mode
	LEDError               // error or alert latched
)

// NumLEDs is the number of board LEDs.
const NumLEDs = 4

// statusLatch holds the latched status bits. The ERR LED follows the error
// and alert bits.
type statusLatch struct {
	mu   sync.Mutex
	bits proto.Status
	leds *ledBank
}

func (s *statusLatch) latch(bit proto.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bits&bit == 0 {
		pkg.LogDebug(pkg.ComponentFirmware, "status latched", "bit", bit.String())
	}
	s.bits |= bit
	s.updateLocked()
}

// clearIfSet clears bit and reports whether it was set.
func (s *statusLatch) clearIfSet(bit proto.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bits&bit == 0 {
		return false
	}
	s.bits &^= bit
	s.updateLocked()
	return true
}

func (s *statusLatch) get() proto.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits
}

func (s *statusLatch) updateLocked() {
	s.leds.drive(LEDError, s.bits&(proto.StatusError|proto.StatusAlert) != 0)
}

// ledBank drives the board LEDs. Once test mode is entered the firmware
// stops driving them until the next reset.
type ledBank struct {
	mu    sync.Mutex
	pins  [NumLEDs]gpio.PinOut
	lit   [NumLEDs]bool
	test  atomic.Bool
	clock clockwork.Clock
	pulse time.Duration

	// ACT turn-off timer; it is started by activity and runs out on its
	// own, like a free-running hardware timer.
	timer   clockwork.Timer
	running bool
}

func (b *ledBank) init(pins [NumLEDs]gpio.PinOut, clock clockwork.Clock, pulse time.Duration) {
	b.pins = pins
	b.clock = clock
	b.pulse = pulse
}

// set drives an LED regardless of test mode.
func (b *ledBank) set(led LED, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(led, on)
}

func (b *ledBank) setLocked(led LED, on bool) {
	b.lit[led] = on
	pin := b.pins[led]
	if pin == nil {
		return
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := pin.Out(level); err != nil {
		pkg.LogWarn(pkg.ComponentFirmware, "led write failed", "led", int(led), "error", err)
	}
}

// drive sets an LED unless test mode is active.
func (b *ledBank) drive(led LED, on bool) {
	if b.test.Load() {
		return
	}
	b.set(led, on)
}

func (b *ledBank) toggle(led LED) {
	if b.test.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(led, !b.lit[led])
}

// isLit returns the last level written to an LED.
func (b *ledBank) isLit(led LED) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lit[led]
}

func (b *ledBank) testing() bool {
	return b.test.Load()
}

// activity lights the ACT LED and starts the turn-off timer unless it is
// already running. It is called from the USB controller on every endpoint
// packet.
func (b *ledBank) activity() {
	if b.test.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(LEDActivity, true)
	if b.running {
		return
	}
	b.running = true
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.pulse, b.activityDone)
		return
	}
	b.timer.Reset(b.pulse)
}

func (b *ledBank) activityDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	if !b.test.Load() {
		b.setLocked(LEDActivity, false)
	}
}

// testPattern enters test mode and shows states, one bit per LED.
func (b *ledBank) testPattern(states uint8) {
	b.test.Store(true)
	b.mu.Lock()
	defer b.mu.Unlock()
	for led := LED(0); led < NumLEDs; led++ {
		b.setLocked(led, states&(1<<led) != 0)
	}
}

func (b *ledBank) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.running = false
}

// breathe updates the FX2 LED. Without a USB address, as behind a
// power-only cable, it slowly breathes following the frame counter;
// once addressed it stays lit.
func (f *Firmware) breathe() {
	if f.dev == nil || f.leds.testing() {
		return
	}
	if f.dev.Address() != 0 {
		f.leds.drive(LEDFX2, true)
		return
	}

	// 11-bit millisecond frame number; its top two bits select the phase.
	frame := uint16(f.opts.Clock.Since(f.epoch)/time.Millisecond) & 0x7FF
	switch frame >> 9 {
	case 0:
		f.leds.drive(LEDFX2, true)
	case 2:
		f.leds.drive(LEDFX2, false)
	default:
		f.leds.toggle(LEDFX2)
	}
}
