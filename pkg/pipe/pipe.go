// Package pipe holds the named-pipe framing shared by the simulated carrier
// and its host transport.
//
// A simulated device lives in a directory named DirPrefix+id under the bus
// directory and owns three FIFOs: [Connection], [HostToDevice] and
// [DeviceToHost]. Messages on the two data pipes are framed as
// [type, len_lo, len_hi, payload...] with at most [MaxPayload] payload
// bytes.
package pipe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ardnew/carrierfw/pkg"
)

// Message types.
const (
	MsgSetup = 0x01 // [address, setup(8)]
	MsgData  = 0x02
	MsgAck   = 0x03
	MsgStall = 0x05
	MsgReset = 0x12
)

// Connection signals.
const (
	SigDisconnect = 0x00
	SigConnect    = 0x01
)

// FIFO names inside a device directory.
const (
	Connection   = "connection"
	HostToDevice = "host_to_device"
	DeviceToHost = "device_to_host"
)

// DirPrefix starts the name of every device directory.
const DirPrefix = "device-"

const (
	HeaderSize = 3
	MaxPayload = 512
)

// Poll is the deadline of a single read; readers wake up at this rate to
// notice cancellation.
const Poll = 50 * time.Millisecond

// Make creates FIFO name in dir, replacing any file of that name.
func Make(dir, name string) error {
	path := filepath.Join(dir, name)
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// OpenFile opens FIFO name in dir without blocking on the other end.
func OpenFile(dir, name string, flag int) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), flag|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Reader reads framed messages. The payload returned by Read aliases an
// internal buffer valid until the next Read.
type Reader struct {
	f   *os.File
	buf [HeaderSize + MaxPayload]byte
}

func NewReader(f *os.File) *Reader {
	return &Reader{f: f}
}

// Read reads one message. It returns ctx.Err() on cancellation and
// pkg.ErrTimeout once deadline passes; a zero deadline waits forever.
func (r *Reader) Read(ctx context.Context, deadline time.Time) (byte, []byte, error) {
	header := r.buf[:HeaderSize]
	if err := r.fill(ctx, deadline, header); err != nil {
		return 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(header[1:]))
	if n > MaxPayload {
		return 0, nil, fmt.Errorf("%w: message of %d bytes", pkg.ErrProtocol, n)
	}
	payload := r.buf[HeaderSize : HeaderSize+n]
	if err := r.fill(ctx, deadline, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

func (r *Reader) fill(ctx context.Context, deadline time.Time, buf []byte) error {
	for total := 0; total < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		poll := time.Now().Add(Poll)
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return pkg.ErrTimeout
			}
			if poll.After(deadline) {
				poll = deadline
			}
		}
		r.f.SetReadDeadline(poll)
		n, err := r.f.Read(buf[total:])
		total += n
		if err != nil && !os.IsTimeout(err) && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// Writer writes framed messages. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf [HeaderSize + MaxPayload]byte
}

func NewWriter(f *os.File) *Writer {
	return &Writer{f: f}
}

// Write sends one message. Payload beyond MaxPayload is an error.
func (w *Writer) Write(msgType byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return pkg.ErrBufferTooSmall
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[0] = msgType
	binary.LittleEndian.PutUint16(w.buf[1:], uint16(len(payload)))
	n := HeaderSize + copy(w.buf[HeaderSize:], payload)
	for off := 0; off < n; {
		m, err := w.f.Write(w.buf[off:n])
		off += m
		if err != nil {
			return err
		}
	}
	return nil
}
