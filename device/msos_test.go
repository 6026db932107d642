package device

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMicrosoftOSStringTo(t *testing.T) {
	var buf [MicrosoftOSStringSize]byte
	if n := MicrosoftOSStringTo(buf[:], 0xC0); n != MicrosoftOSStringSize {
		t.Fatalf("MicrosoftOSStringTo() = %d, want %d", n, MicrosoftOSStringSize)
	}
	want := []byte{
		18, 0x03,
		'M', 0, 'S', 0, 'F', 0, 'T', 0, '1', 0, '0', 0, '0', 0,
		0xC0, 0x00,
	}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MicrosoftOSStringTo() mismatch (-want +got):\n%s", diff)
	}
	if n := MicrosoftOSStringTo(buf[:17], 0xC0); n != 0 {
		t.Errorf("MicrosoftOSStringTo(short) = %d, want 0", n)
	}
}

func TestMicrosoftCompatIDTo(t *testing.T) {
	var buf [64]byte
	for i := range buf {
		buf[i] = 0xAA
	}
	n := MicrosoftCompatIDTo(buf[:], CompatFunction{FirstInterface: 0, CompatibleID: "WINUSB"})
	if n != 40 {
		t.Fatalf("MicrosoftCompatIDTo() = %d, want 40", n)
	}
	want := []byte{
		// header
		40, 0, 0, 0, 0x00, 0x01, 0x04, 0x00,
		1, 0, 0, 0, 0, 0, 0, 0,
		// function
		0, 1,
		'W', 'I', 'N', 'U', 'S', 'B', 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, buf[:n]); diff != "" {
		t.Errorf("MicrosoftCompatIDTo() mismatch (-want +got):\n%s", diff)
	}

	if n := MicrosoftCompatIDTo(buf[:39], CompatFunction{}); n != 0 {
		t.Errorf("MicrosoftCompatIDTo(short) = %d, want 0", n)
	}
	if n := MicrosoftCompatIDTo(buf[:], CompatFunction{}, CompatFunction{FirstInterface: 1}); n != 64 {
		t.Errorf("MicrosoftCompatIDTo(2 functions) = %d, want 64", n)
	}
}

func TestMicrosoftPropertiesTo(t *testing.T) {
	var buf [16]byte
	n := MicrosoftPropertiesTo(buf[:])
	want := []byte{10, 0, 0, 0, 0x00, 0x01, 0x05, 0x00, 0, 0}
	if diff := cmp.Diff(want, buf[:n]); diff != "" {
		t.Errorf("MicrosoftPropertiesTo() mismatch (-want +got):\n%s", diff)
	}
	if n := MicrosoftPropertiesTo(buf[:9]); n != 0 {
		t.Errorf("MicrosoftPropertiesTo(short) = %d, want 0", n)
	}
}
