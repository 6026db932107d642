package firmware

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/proto"
)

func TestProductString(t *testing.T) {
	tests := []struct {
		name     string
		flags    uint8
		revision string
		want     string
	}{
		{"original", 0, "1a2b3c4", "Glasgow Interface Explorer (git 1a2b3c4)"},
		{"modified", config.FlagModifiedDesign, "1a2b3c4", "Another Interface Explorer (git 1a2b3c4)"},
		{"unknown revision", 0, "unknown", "Glasgow Interface Explorer (git unknown)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := config.Defaults()
			rec.Flags = tt.flags
			if got := ProductString(&rec, tt.revision); got != tt.want {
				t.Errorf("ProductString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSerialString(t *testing.T) {
	tests := []struct {
		rev  proto.Revision
		want string
	}{
		{proto.RevisionNA, "@0-9999999999999999"},
		{proto.RevisionC1, "C1-2024010112345678"},
		{proto.RevisionC3, "C3-2024010112345678"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			rec := testRecord(tt.rev)
			if tt.rev == proto.RevisionNA {
				rec = config.Defaults()
			}
			if got := SerialString(&rec); got != tt.want {
				t.Errorf("SerialString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func stringDescriptor(s string) []byte {
	buf := make([]byte, 256)
	return buf[:device.StringDescriptorTo(buf, s)]
}

func TestBuildDevice(t *testing.T) {
	rec := testRecord(proto.RevisionC3)
	rec.SetManufacturer("Example Fab")

	dev, err := buildDevice(context.Background(), &rec, "cafe123")
	if err != nil {
		t.Fatalf("buildDevice() error = %v", err)
	}

	if diff := cmp.Diff(stringDescriptor("Example Fab"), dev.GetString(dev.Descriptor.ManufacturerIndex)); diff != "" {
		t.Errorf("manufacturer mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stringDescriptor("Glasgow Interface Explorer (git cafe123)"), dev.GetString(dev.Descriptor.ProductIndex)); diff != "" {
		t.Errorf("product mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stringDescriptor("C3-2024010112345678"), dev.GetString(dev.Descriptor.SerialNumberIndex)); diff != "" {
		t.Errorf("serial mismatch (-want +got):\n%s", diff)
	}
	if dev.GetString(device.MicrosoftOSStringIndex) == nil {
		t.Error("Microsoft OS string missing")
	}
	if got := dev.Descriptor.NumConfigurations; got != 2 {
		t.Errorf("NumConfigurations = %d, want 2", got)
	}

	tests := []struct {
		value     uint8
		endpoints []uint8
	}{
		{ConfigFourPipes, []uint8{0x02, 0x04, 0x86, 0x88}},
		{ConfigTwoPipes, []uint8{0x02, 0x86}},
	}
	for _, tt := range tests {
		cfg := dev.GetConfiguration(tt.value)
		if cfg == nil {
			t.Fatalf("GetConfiguration(%d) = nil", tt.value)
		}
		if cfg.MaxPower != maxPowerUnits {
			t.Errorf("configuration %d: MaxPower = %d, want %d", tt.value, cfg.MaxPower, maxPowerUnits)
		}
		if got := cfg.NumInterfaces(); got != len(tt.endpoints) {
			t.Fatalf("configuration %d: NumInterfaces() = %d, want %d", tt.value, got, len(tt.endpoints))
		}
		for n, ep := range tt.endpoints {
			iface := cfg.GetInterface(uint8(n))
			if iface.Class != device.ClassVendor {
				t.Errorf("configuration %d interface %d: class 0x%02X, want vendor", tt.value, n, iface.Class)
			}
			if alt0 := iface.Alternate(0); alt0 == nil || alt0.NumEndpoints() != 0 {
				t.Errorf("configuration %d interface %d: alternate 0 must have no endpoints", tt.value, n)
			}
			alt1 := iface.Alternate(1)
			if alt1 == nil || alt1.NumEndpoints() != 1 {
				t.Fatalf("configuration %d interface %d: alternate 1 must have one endpoint", tt.value, n)
			}
			got := alt1.Endpoints()[0]
			if got.Address != ep || got.MaxPacketSize != bulkPacketSize || got.Attributes != device.EndpointTypeBulk {
				t.Errorf("configuration %d interface %d: endpoint = 0x%02X/%d/%d, want 0x%02X/%d/bulk",
					tt.value, n, got.Address, got.MaxPacketSize, got.Attributes, ep, bulkPacketSize)
			}
		}
	}
}

func TestBuildDeviceDefaultManufacturer(t *testing.T) {
	rec := config.Defaults()
	dev, err := buildDevice(context.Background(), &rec, "x")
	if err != nil {
		t.Fatalf("buildDevice() error = %v", err)
	}
	if diff := cmp.Diff(stringDescriptor(DefaultManufacturer), dev.GetString(dev.Descriptor.ManufacturerIndex)); diff != "" {
		t.Errorf("manufacturer mismatch (-want +got):\n%s", diff)
	}
}
