package fifo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/pkg/pipe"
)

// MaxEndpoints is the maximum number of endpoint FIFOs tracked.
const MaxEndpoints = 8

// setupEvent is what the reader hands to ReadSetup.
type setupEvent struct {
	setup hal.SetupPacket
	reset bool
}

// HAL implements hal.DeviceHAL over the named pipes of one simulated device
// directory.
//
// A reader goroutine owns the host-to-device pipe. SETUP packets are queued
// for ReadSetup and OUT data packets for the EP0 buffer, so neither the
// control loop nor the firmware main loop reads the pipe itself.
type HAL struct {
	busDir string

	mu        sync.RWMutex
	id        string
	deviceDir string
	running   bool
	files     []*os.File
	conn      *os.File
	out       *pipe.Writer
	address   uint8
	endpoints []hal.EndpointConfig
	resets    [32]int

	connected atomic.Bool
	connectCh chan struct{}
	disconnCh chan struct{}

	stop   context.CancelFunc
	done   chan struct{}
	closed chan struct{}
	once   sync.Once

	setupCh chan setupEvent

	ep0Mu    sync.Mutex
	ep0Buf   [hal.EP0Size]byte
	ep0Count int
	ep0Armed bool
	ep0Busy  atomic.Bool
	pending  [][]byte

	activity atomic.Pointer[func()]
}

// New returns a HAL that will create its device directory under busDir.
func New(busDir string) *HAL {
	return &HAL{
		busDir:    busDir,
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closed:    make(chan struct{}),
		setupCh:   make(chan setupEvent, 1),
	}
}

// newID returns a random version 4 UUID in hex.
func newID() (string, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	id[6] = id[6]&0x0F | 0x40
	id[8] = id[8]&0x3F | 0x80
	return hex.EncodeToString(id[:]), nil
}

// Init creates the device directory and its FIFOs and starts the reader.
func (h *HAL) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return pkg.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	h.id = id
	h.deviceDir = filepath.Join(h.busDir, pipe.DirPrefix+id)
	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	// Every FIFO is opened read-write so neither open nor a later write
	// waits for the host.
	open := func(name string) (*os.File, error) {
		if err := pipe.Make(h.deviceDir, name); err != nil {
			return nil, err
		}
		f, err := pipe.OpenFile(h.deviceDir, name, os.O_RDWR)
		if err == nil {
			h.files = append(h.files, f)
		}
		return f, err
	}
	if h.conn, err = open(pipe.Connection); err != nil {
		h.cleanupLocked()
		return err
	}
	toHost, err := open(pipe.DeviceToHost)
	if err != nil {
		h.cleanupLocked()
		return err
	}
	fromHost, err := open(pipe.HostToDevice)
	if err != nil {
		h.cleanupLocked()
		return err
	}
	h.out = pipe.NewWriter(toHost)

	readCtx, stop := context.WithCancel(context.Background())
	h.stop = stop
	h.done = make(chan struct{})
	go h.reader(readCtx, pipe.NewReader(fromHost))

	h.running = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device ready", "dir", h.deviceDir)
	return nil
}

// Start signals the connection to the host.
func (h *HAL) Start() error {
	h.mu.RLock()
	running, conn := h.running, h.conn
	h.mu.RUnlock()
	if !running {
		return pkg.ErrNotConfigured
	}

	if _, err := conn.Write([]byte{pipe.SigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "connect signal failed", "error", err)
	}
	h.connected.Store(true)
	signal(h.connectCh)
	return nil
}

// Stop signals the disconnection, stops the reader and removes the device
// directory.
func (h *HAL) Stop() error {
	h.mu.RLock()
	conn, stop, done := h.conn, h.stop, h.done
	h.mu.RUnlock()

	if conn != nil {
		conn.Write([]byte{pipe.SigDisconnect})
	}
	h.connected.Store(false)
	signal(h.disconnCh)

	h.once.Do(func() { close(h.closed) })
	if stop != nil {
		stop()
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupLocked()
	h.running = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo device removed", "dir", h.deviceDir)
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *HAL) cleanupLocked() {
	for _, f := range h.files {
		f.Close()
	}
	h.files, h.conn, h.out = nil, nil, nil
	if h.deviceDir != "" {
		os.RemoveAll(h.deviceDir)
	}
}

func (h *HAL) SetAddress(address uint8) error {
	h.mu.Lock()
	h.address = address
	h.mu.Unlock()
	return nil
}

// Address returns the address assigned by the host, 0 if none.
func (h *HAL) Address() uint8 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.address
}

// ConfigureEndpoints records the endpoint FIFOs of the active configuration.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	var eps []hal.EndpointConfig
	for _, ep := range endpoints {
		if ep.Number() != 0 {
			eps = append(eps, ep)
		}
	}
	if len(eps) > MaxEndpoints {
		return pkg.ErrNoMemory
	}
	h.mu.Lock()
	h.endpoints = eps
	h.mu.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(eps))
	return nil
}

// Endpoints returns the configured endpoint FIFOs.
func (h *HAL) Endpoints() []hal.EndpointConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]hal.EndpointConfig(nil), h.endpoints...)
}

// ResetFIFO counts the reset; the simulated pipes carry no bulk data.
func (h *HAL) ResetFIFO(address uint8) error {
	h.mu.Lock()
	h.resets[endpointIndex(address)]++
	h.mu.Unlock()
	return nil
}

// FIFOResets returns how many times the FIFO of an endpoint was reset.
func (h *HAL) FIFOResets(address uint8) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.resets[endpointIndex(address)]
}

func endpointIndex(addr uint8) int {
	i := int(addr & 0x0F)
	if addr&0x80 != 0 {
		i += 16
	}
	return i
}

// ReadSetup blocks until the reader delivers a SETUP packet. A port reset is
// reported as pkg.ErrReset.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closed:
		return pkg.ErrCancelled
	case ev := <-h.setupCh:
		if ev.reset {
			return pkg.ErrReset
		}
		*out = ev.setup
		return nil
	}
}

func (h *HAL) EP0Buffer() []byte { return h.ep0Buf[:] }

// EP0Busy reports whether an armed OUT packet has not arrived yet.
func (h *HAL) EP0Busy() bool { return h.ep0Busy.Load() }

// SendEP0 sends the first n bytes of the EP0 buffer as one IN packet.
func (h *HAL) SendEP0(n int) error {
	if n < 0 || n > hal.EP0Size {
		return pkg.ErrInvalidParameter
	}
	if err := h.send(pipe.MsgData, h.ep0Buf[:n]); err != nil {
		return err
	}
	h.notifyActivity()
	return nil
}

// ReceiveEP0 arms the EP0 buffer for one OUT packet. A packet that already
// arrived is copied at once and leaves the buffer idle.
func (h *HAL) ReceiveEP0() error {
	h.ep0Mu.Lock()
	defer h.ep0Mu.Unlock()
	if len(h.pending) > 0 {
		h.fillEP0Locked()
		return nil
	}
	h.ep0Armed = true
	h.ep0Busy.Store(true)
	return nil
}

func (h *HAL) fillEP0Locked() {
	pkt := h.pending[0]
	h.pending = h.pending[1:]
	h.ep0Count = copy(h.ep0Buf[:], pkt)
	h.ep0Armed = false
	h.ep0Busy.Store(false)
	h.notifyActivity()
}

// EP0Count returns the length of the last OUT packet.
func (h *HAL) EP0Count() int {
	h.ep0Mu.Lock()
	defer h.ep0Mu.Unlock()
	return h.ep0Count
}

func (h *HAL) StallEP0() error {
	h.disarm()
	return h.send(pipe.MsgStall, nil)
}

// AckEP0 completes the status stage.
func (h *HAL) AckEP0() error {
	return h.send(pipe.MsgAck, nil)
}

func (h *HAL) disarm() {
	h.ep0Mu.Lock()
	h.ep0Armed = false
	h.ep0Busy.Store(false)
	h.ep0Mu.Unlock()
}

// OnActivity registers fn to be called for every EP0 data packet.
func (h *HAL) OnActivity(fn func()) {
	h.activity.Store(&fn)
}

func (h *HAL) notifyActivity() {
	if fn := h.activity.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

func (h *HAL) IsConnected() bool { return h.connected.Load() }

// GetSpeed reports high speed; the pipes have no speed of their own.
func (h *HAL) GetSpeed() hal.Speed { return hal.SpeedHigh }

// WaitConnect blocks until Start or until ctx is done.
func (h *HAL) WaitConnect(ctx context.Context) error {
	return h.wait(ctx, h.connectCh, true)
}

// WaitDisconnect blocks until Stop or until ctx is done.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	return h.wait(ctx, h.disconnCh, false)
}

func (h *HAL) wait(ctx context.Context, ch chan struct{}, connected bool) error {
	if h.IsConnected() == connected {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	case <-h.closed:
		return pkg.ErrCancelled
	}
}

// DeviceDir returns the device directory.
func (h *HAL) DeviceDir() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deviceDir
}

// UUID returns the random identifier in the device directory name.
func (h *HAL) UUID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

// reader demultiplexes host messages until ctx is cancelled.
func (h *HAL) reader(ctx context.Context, r *pipe.Reader) {
	defer close(h.done)

	for {
		msgType, payload, err := r.Read(ctx, time.Time{})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "host message dropped", "error", err)
			continue
		}

		switch msgType {
		case pipe.MsgSetup:
			var ev setupEvent
			if len(payload) < 1+hal.SetupPacketSize ||
				!hal.ParseSetupPacket(payload[1:], &ev.setup) {
				pkg.LogWarn(pkg.ComponentHAL, "short setup message", "length", len(payload))
				continue
			}
			// Data of an abandoned transfer is never delivered.
			h.ep0Mu.Lock()
			h.pending = h.pending[:0]
			h.ep0Mu.Unlock()
			pkg.LogDebug(pkg.ComponentHAL, "setup",
				"type", ev.setup.RequestType,
				"request", ev.setup.Request,
				"value", ev.setup.Value,
				"index", ev.setup.Index,
				"length", ev.setup.Length)
			if !h.deliver(ctx, ev) {
				return
			}

		case pipe.MsgData:
			pkt := append([]byte(nil), payload...)
			h.ep0Mu.Lock()
			h.pending = append(h.pending, pkt)
			if h.ep0Armed {
				h.fillEP0Locked()
			}
			h.ep0Mu.Unlock()

		case pipe.MsgReset:
			h.mu.Lock()
			h.address = 0
			h.mu.Unlock()
			h.disarm()
			h.send(pipe.MsgAck, nil)
			pkg.LogDebug(pkg.ComponentHAL, "port reset")
			if !h.deliver(ctx, setupEvent{reset: true}) {
				return
			}

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unknown message", "type", msgType)
		}
	}
}

func (h *HAL) deliver(ctx context.Context, ev setupEvent) bool {
	select {
	case h.setupCh <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *HAL) send(msgType byte, data []byte) error {
	h.mu.RLock()
	out := h.out
	h.mu.RUnlock()
	if out == nil {
		return pkg.ErrNotConfigured
	}
	return out.Write(msgType, data)
}

var (
	_ hal.DeviceHAL        = (*HAL)(nil)
	_ hal.ActivityNotifier = (*HAL)(nil)
)
