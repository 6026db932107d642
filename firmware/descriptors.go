package firmware

import (
	"context"

	"github.com/ardnew/carrierfw/device"
	"github.com/ardnew/carrierfw/firmware/config"
	"github.com/ardnew/carrierfw/proto"
)

// USB strings.
const (
	DefaultManufacturer = "whitequark research"
	ProductName         = "Glasgow Interface Explorer"

	// modifiedPrefix replaces the leading word of ProductName on boards
	// built from a modified design.
	modifiedPrefix = "Another"
)

const (
	bulkPacketSize = 512
	maxPowerUnits  = 250 // 500 mA
)

// ProductString returns the product string for rec.
func ProductString(rec *config.Record, revision string) string {
	s := ProductName + " (git " + revision + ")"
	if rec.ModifiedDesign() {
		s = modifiedPrefix + s[len(modifiedPrefix):]
	}
	return s
}

// SerialString returns the serial number string for rec: the revision
// letter and digit, a dash, then the board serial.
func SerialString(rec *config.Record) string {
	buf := make([]byte, 0, 3+proto.SerialSize)
	buf = append(buf, rec.Revision.Letter(), rec.Revision.Digit(), '-')
	buf = append(buf, rec.Serial[:]...)
	return string(buf)
}

// identity returns the USB identity presented for rec. A board without a
// programmed revision poses as a bare FX2.
func identity(rec *config.Record) (vid, pid, bcd uint16) {
	if rec.Revision == proto.RevisionNA {
		return proto.UnprogrammedVendorID, proto.UnprogrammedProductID, 0
	}
	return proto.VendorID, proto.ProductID, uint16(proto.APILevel)<<8 | uint16(rec.Revision)
}

// buildDevice builds the descriptor set for rec. Configuration 1 exposes
// four pipes and configuration 2 two; each interface is disabled in
// alternate setting 0 and carries its bulk endpoint in alternate setting 1.
func buildDevice(ctx context.Context, rec *config.Record, revision string) (*device.Device, error) {
	manufacturer := DefaultManufacturer
	if s := rec.ManufacturerString(); s != "" {
		manufacturer = s
	}
	vid, pid, bcd := identity(rec)

	b := device.NewDeviceBuilder().
		WithVendorProduct(vid, pid).
		WithDeviceVersion(bcd).
		WithQualifier(&device.DeviceQualifierDescriptor{
			USBVersion:     0x0200,
			DeviceClass:    device.ClassPerInterface,
			MaxPacketSize0: 8,
		}).
		WithStrings(manufacturer, ProductString(rec, revision), SerialString(rec)).
		WithMicrosoftOS(proto.RequestMicrosoftOSDesc)

	for _, value := range []uint8{ConfigFourPipes, ConfigTwoPipes} {
		b.AddConfiguration(value).WithMaxPower(maxPowerUnits)
		for _, pipe := range configPipes(value) {
			b.AddInterface(device.ClassVendor, 0xFF, 0xFF).
				AddAlternate(1).
				AddEndpoint(pipeEndpoints[pipe], device.EndpointTypeBulk, bulkPacketSize)
		}
	}
	return b.Build(ctx)
}
