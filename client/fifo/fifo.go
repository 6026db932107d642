package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ardnew/carrierfw/client"
	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/pkg/pipe"
)

const (
	pollInterval = 10 * time.Millisecond

	// DefaultTimeout bounds each control transfer.
	DefaultTimeout = 5 * time.Second
)

// Transport carries control transfers over the FIFOs of one simulated
// device.
type Transport struct {
	dir string

	mu      sync.Mutex
	files   []*os.File
	out     *pipe.Writer
	in      *pipe.Reader
	address uint8
	timeout time.Duration
}

var _ client.Transport = (*Transport)(nil)

// Open waits until a device appears under busDir and connects to it. When
// several devices are present the first in name order is used.
func Open(ctx context.Context, busDir string) (*Transport, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if dir := findDevice(busDir); dir != "" {
			t, err := connect(ctx, dir)
			if err == nil {
				return t, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			pkg.LogDebug(pkg.ComponentClient, "device not ready", "dir", dir, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// findDevice returns the first device directory holding a connection FIFO.
func findDevice(busDir string) string {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), pipe.DirPrefix) {
			continue
		}
		dir := filepath.Join(busDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, pipe.Connection)); err == nil {
			return dir
		}
	}
	return ""
}

// connect waits for the connect signal of the device in dir and opens its
// control pipes. A device whose signal an earlier host already consumed
// counts as connected.
func connect(ctx context.Context, dir string) (*Transport, error) {
	conn, err := pipe.OpenFile(dir, pipe.Connection, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var sig [1]byte
	seen := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(pipe.Poll))
		n, err := conn.Read(sig[:])
		if n == 1 {
			seen = true
			if sig[0] == pipe.SigConnect {
				break
			}
			continue
		}
		if err != nil && !os.IsTimeout(err) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read connection: %w", err)
		}
		if !seen {
			break
		}
	}

	// The device holds the read side of host_to_device open, so a
	// non-blocking write open succeeds.
	toDevice, err := pipe.OpenFile(dir, pipe.HostToDevice, os.O_WRONLY)
	if err != nil {
		return nil, err
	}
	fromDevice, err := pipe.OpenFile(dir, pipe.DeviceToHost, os.O_RDONLY)
	if err != nil {
		toDevice.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentClient, "connected to simulated device", "dir", dir)
	return &Transport{
		dir:     dir,
		files:   []*os.File{toDevice, fromDevice},
		out:     pipe.NewWriter(toDevice),
		in:      pipe.NewReader(fromDevice),
		timeout: DefaultTimeout,
	}, nil
}

// Dir returns the device directory.
func (t *Transport) Dir() string {
	return t.dir
}

// SetTimeout changes the timeout of each control transfer.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// Control runs one control transfer.
func (t *Transport) Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	if len(data) > 0xFFFF {
		return 0, pkg.ErrInvalidParameter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out == nil {
		return 0, pkg.ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	setup := hal.SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	}
	var payload [1 + hal.SetupPacketSize]byte
	payload[0] = t.address
	setup.MarshalTo(payload[1:])
	if err := t.send(pipe.MsgSetup, payload[:]); err != nil {
		return 0, err
	}

	if requestType&0x80 != 0 {
		return t.receiveIn(ctx, deadline, data)
	}

	for off := 0; off < len(data); off += hal.EP0Size {
		if err := t.send(pipe.MsgData, data[off:min(off+hal.EP0Size, len(data))]); err != nil {
			return 0, err
		}
	}
	return t.awaitStatus(ctx, deadline, len(data))
}

// receiveIn collects the IN data stage. It ends with a short packet or when
// data is full.
func (t *Transport) receiveIn(ctx context.Context, deadline time.Time, data []byte) (int, error) {
	total := 0
	for {
		msgType, payload, err := t.in.Read(ctx, deadline)
		if err != nil {
			return total, err
		}
		switch msgType {
		case pipe.MsgData:
			total += copy(data[total:], payload)
			if len(payload) < hal.EP0Size || total >= len(data) {
				return total, nil
			}
		case pipe.MsgStall:
			return total, client.ErrStalled
		case pipe.MsgAck:
			// Status of an earlier reset.
		default:
			return total, fmt.Errorf("%w: message 0x%02X during IN transfer", pkg.ErrProtocol, msgType)
		}
	}
}

// awaitStatus waits for the status stage of an OUT transfer.
func (t *Transport) awaitStatus(ctx context.Context, deadline time.Time, n int) (int, error) {
	msgType, _, err := t.in.Read(ctx, deadline)
	if err != nil {
		return 0, err
	}
	switch msgType {
	case pipe.MsgAck:
		return n, nil
	case pipe.MsgStall:
		return 0, client.ErrStalled
	}
	return 0, fmt.Errorf("%w: message 0x%02X during OUT transfer", pkg.ErrProtocol, msgType)
}

// Enumerate assigns an address and selects a configuration, as a USB host
// would after attaching the device.
func (t *Transport) Enumerate(ctx context.Context, address, configuration uint8) error {
	if err := t.standard(ctx, device.SetAddressSetup(address)); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	t.mu.Lock()
	t.address = address
	t.mu.Unlock()

	if err := t.standard(ctx, device.SetConfigurationSetup(configuration)); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}
	return nil
}

// standard runs a chapter 9 request without a data stage.
func (t *Transport) standard(ctx context.Context, setup device.SetupPacket) error {
	_, err := t.Control(ctx, setup.RequestType, setup.Request, setup.Value, setup.Index, nil)
	return err
}

// Reset resets the port of the device. Its address returns to 0.
func (t *Transport) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out == nil {
		return pkg.ErrNoDevice
	}
	if err := t.send(pipe.MsgReset, nil); err != nil {
		return err
	}
	t.address = 0
	if _, err := t.awaitStatus(ctx, time.Now().Add(t.timeout), 0); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Close closes the pipes. The device keeps running.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for _, f := range t.files {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	t.files, t.out, t.in = nil, nil, nil
	return err
}

func (t *Transport) send(msgType byte, data []byte) error {
	if err := t.out.Write(msgType, data); err != nil {
		return fmt.Errorf("write %s: %w", pipe.HostToDevice, err)
	}
	return nil
}
