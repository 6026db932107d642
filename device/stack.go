package device

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
)

// SetupHook receives the SETUP packets the standard request handler does not
// own. HandleSetup must not block: it snapshots the request and returns, and
// the data and status stages are completed later through the EP0 buffer. A
// returned error stalls the request.
type SetupHook interface {
	HandleSetup(setup *SetupPacket) error
}

// Stack manages the USB device stack.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler
	hook    SetupHook

	// State
	running bool
	mutex   sync.RWMutex

	// Reusable setup packet for zero-allocation reads
	setupBuf hal.SetupPacket
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	s := &Stack{
		device: dev,
		hal:    h,
	}
	s.handler = NewStandardRequestHandler(dev)
	s.handler.SetOnClearHalt(func(address uint8) {
		if err := h.ResetFIFO(address); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "fifo reset failed",
				"endpoint", address,
				"error", err)
		}
	})
	return s
}

// SetSetupHook installs the handler for non-standard requests. Without a
// hook those requests are stalled.
func (s *Stack) SetSetupHook(hook SetupHook) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hook = hook
}

// Start initializes the controller and attaches to the bus.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.mutex.Unlock()

	if err := s.hal.Init(ctx); err != nil {
		return err
	}

	if err := s.hal.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.running = true
	s.mutex.Unlock()

	s.device.SetSpeed(s.hal.GetSpeed())
	s.device.Reset()

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop detaches from the bus.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.mutex.Unlock()

	if err := s.hal.Stop(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// HAL returns the controller the stack drives.
func (s *Stack) HAL() hal.DeviceHAL {
	return s.hal
}

// Serve handles control transfers on EP0 until ctx is done. It returns nil
// on cancellation.
func (s *Stack) Serve(ctx context.Context) error {
	if !s.IsRunning() {
		return pkg.ErrNotRunning
	}

	for {
		if err := s.hal.ReadSetup(ctx, &s.setupBuf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, pkg.ErrReset) {
				s.device.Reset()
				continue
			}
			if !s.IsRunning() {
				return nil
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup",
				"error", err)
			continue
		}

		// Convert HAL setup packet to device setup packet
		setup := SetupPacket(s.setupBuf)

		if err := s.handleSetup(ctx, &setup); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			pkg.LogDebug(pkg.ComponentStack, "request stalled",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", err)
			}
		}
	}
}

// handleSetup processes a single SETUP transaction.
func (s *Stack) handleSetup(ctx context.Context, setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	if setup.IsStandard() {
		data, err := s.handler.HandleSetup(setup)
		if err != nil {
			return err
		}
		return s.completeSetup(ctx, setup, data)
	}

	s.mutex.RLock()
	hook := s.hook
	s.mutex.RUnlock()

	if hook == nil {
		return pkg.ErrNotSupported
	}
	return hook.HandleSetup(setup)
}

// completeSetup completes a standard control transfer.
func (s *Stack) completeSetup(ctx context.Context, setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		return SendControlIn(ctx, s.hal, data, setup.Length)
	}

	switch setup.Request {
	case RequestSetAddress:
		// The new address takes effect after the status stage.
		if err := s.hal.AckEP0(); err != nil {
			return err
		}
		return s.hal.SetAddress(s.device.Address())

	case RequestSetConfiguration:
		var eps []hal.EndpointConfig
		if config := s.device.ActiveConfiguration(); config != nil {
			eps = config.EndpointConfigs()
		}
		if err := s.hal.ConfigureEndpoints(eps); err != nil {
			return err
		}
	}

	return s.hal.AckEP0()
}

// Speed returns the negotiated USB connection speed.
func (s *Stack) Speed() Speed {
	return s.hal.GetSpeed()
}

// IsConnected returns true if the device is connected to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until the device connects to a host or the context is cancelled.
func (s *Stack) WaitConnect(ctx context.Context) error {
	return s.hal.WaitConnect(ctx)
}
