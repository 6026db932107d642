package pkg

import "errors"

// Control request errors. The dispatcher answers every one of them with a
// stall of the control endpoint.
var (
	// ErrStall indicates the control endpoint was stalled.
	ErrStall = errors.New("endpoint stalled")

	// ErrInvalidRequest indicates a request no route accepts.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParameter indicates a field of a request, or an argument, is
	// out of range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates the board cannot perform the operation, e.g.
	// pull resistors on a revision without them.
	ErrNotSupported = errors.New("not supported")

	// ErrProtocol indicates the host broke the control transfer sequence.
	ErrProtocol = errors.New("protocol error")

	// ErrSetupPending indicates a SETUP packet arrived while the previous one
	// had not been handled yet.
	ErrSetupPending = errors.New("setup already pending")

	// ErrBufferTooSmall indicates a response does not fit the EP0 buffer.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Link layer errors.
var (
	// ErrInvalidEndpoint indicates an endpoint address the active
	// configuration does not have.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates the device is in the wrong USB state for the
	// operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrNotConfigured indicates no configuration is selected.
	ErrNotConfigured = errors.New("device not configured")

	// ErrNoMemory indicates a fixed-size table is full.
	ErrNoMemory = errors.New("table full")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates a descriptor of another type.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates fewer than 8 SETUP bytes.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// Lifecycle and transport errors.
var (
	// ErrAlreadyRunning indicates Start or Boot was called twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack or firmware has not been started.
	ErrNotRunning = errors.New("not running")

	// ErrBusy indicates the EP0 buffer or a bus is still in use.
	ErrBusy = errors.New("resource busy")

	// ErrTimeout indicates a transfer or bus operation timed out.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates the operation was abandoned on cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrNoDevice indicates no carrier board is attached.
	ErrNoDevice = errors.New("device not present")
)
