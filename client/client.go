package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

var (
	// ErrStalled indicates the firmware stalled a request.
	ErrStalled = errors.New("client: request stalled")

	// ErrShort indicates an IN request returned fewer bytes than expected.
	ErrShort = errors.New("client: short response")

	// ErrDevice indicates the firmware reported a failure in the error bit
	// of the status byte.
	ErrDevice = errors.New("client: device reported an error")
)

// Transport carries control transfers to the board. For IN transfers data
// receives the data stage and the number of bytes received is returned.
// A stalled transfer returns ErrStalled.
type Transport interface {
	Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}

// Client issues vendor requests to a carrier board.
type Client struct {
	t Transport
}

// New returns a client using t.
func New(t Transport) *Client {
	return &Client{t: t}
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.t.Close()
}

// in runs an IN request expecting up to n bytes.
func (c *Client) in(ctx context.Context, request uint8, value, index uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.t.Control(ctx, proto.RequestTypeVendorIn, request, value, index, buf)
	if err != nil {
		return nil, fmt.Errorf("request 0x%02X: %w", request, err)
	}
	pkg.LogDebug(pkg.ComponentClient, "request in",
		"request", request, "value", value, "index", index, "length", got)
	return buf[:got], nil
}

// inExact runs an IN request that must return exactly n bytes.
func (c *Client) inExact(ctx context.Context, request uint8, value, index uint16, n int) ([]byte, error) {
	data, err := c.in(ctx, request, value, index, n)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("request 0x%02X: %w: %d of %d bytes", request, ErrShort, len(data), n)
	}
	return data, nil
}

// out runs an OUT request.
func (c *Client) out(ctx context.Context, request uint8, value, index uint16, data []byte) error {
	if _, err := c.t.Control(ctx, proto.RequestTypeVendorOut, request, value, index, data); err != nil {
		return fmt.Errorf("request 0x%02X: %w", request, err)
	}
	pkg.LogDebug(pkg.ComponentClient, "request out",
		"request", request, "value", value, "index", index, "length", len(data))
	return nil
}

// outChecked runs an OUT request whose failure is only visible in the
// status byte.
func (c *Client) outChecked(ctx context.Context, what string, request uint8, value, index uint16, data []byte) error {
	if err := c.out(ctx, request, value, index, data); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if status&proto.StatusError != 0 {
		pkg.LogWarn(pkg.ComponentClient, "request failed on device", "what", what)
		return fmt.Errorf("%s: %w", what, ErrDevice)
	}
	return nil
}

// APILevel returns the vendor protocol revision of the firmware.
func (c *Client) APILevel(ctx context.Context) (uint8, error) {
	data, err := c.inExact(ctx, proto.RequestAPILevel, 0, 0, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// Status returns the status byte. Reading it clears a latched error.
func (c *Client) Status(ctx context.Context) (proto.Status, error) {
	data, err := c.inExact(ctx, proto.RequestStatus, 0, 0, 1)
	if err != nil {
		return 0, err
	}
	return proto.Status(data[0]), nil
}

// TestLEDs puts the LEDs under host control; bit i of states drives LED i.
// Only a reset of the board leaves test mode.
func (c *Client) TestLEDs(ctx context.Context, states uint8) error {
	return c.out(ctx, proto.RequestTestLEDs, 0, uint16(states&0x0F), nil)
}
