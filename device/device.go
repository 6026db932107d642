package device

import (
	"context"
	"sync"

	"github.com/ardnew/carrierfw/pkg"
)

// ConfigurationHook lets the owner of the data pipes follow configuration
// and alternate setting changes. A returned error rejects the request and
// leaves the device state unchanged.
type ConfigurationHook interface {
	// SetConfiguration is called before value becomes the active
	// configuration. Value 0 unconfigures the device.
	SetConfiguration(value uint8) error

	// SetInterface is called before alternate setting alt of interface
	// number becomes active.
	SetInterface(number, alt uint8) error
}

// Device holds the descriptor tree and the chapter 9 state of one USB
// function. All methods are safe for concurrent use.
type Device struct {
	Descriptor *DeviceDescriptor

	// Qualifier is reported for GET_DESCRIPTOR(DEVICE_QUALIFIER); nil stalls
	// the request.
	Qualifier *DeviceQualifierDescriptor

	mu sync.RWMutex

	configs [MaxConfigurations]*Configuration
	nconfig int
	active  *Configuration

	// strings are pre-encoded descriptors held by reference.
	strings  [MaxStrings][]byte
	osString []byte

	state        State
	address      uint8
	speed        Speed
	remoteWakeup bool

	hook ConfigurationHook
}

// NewDevice returns a device in the Attached state.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		speed:      SpeedHigh,
	}
}

// AddConfiguration registers config. Configuration values must be unique.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.nconfig == len(d.configs) {
		return pkg.ErrNoMemory
	}
	if d.lookup(config.Value) != nil {
		return pkg.ErrBusy
	}
	d.configs[d.nconfig] = config
	d.nconfig++
	return nil
}

func (d *Device) lookup(value uint8) *Configuration {
	for _, c := range d.configs[:d.nconfig] {
		if c.Value == value {
			return c
		}
	}
	return nil
}

// GetConfiguration returns the configuration whose bConfigurationValue is
// value, or nil.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(value)
}

// ConfigurationAt returns the configuration at a descriptor index, as used
// by GET_DESCRIPTOR(CONFIGURATION).
func (d *Device) ConfigurationAt(index uint8) *Configuration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(index) >= d.nconfig {
		return nil
	}
	return d.configs[index]
}

// ActiveConfiguration returns the selected configuration, or nil while
// unconfigured.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// SetConfigurationHook installs the hook notified of configuration and
// alternate setting changes.
func (d *Device) SetConfigurationHook(hook ConfigurationHook) {
	d.mu.Lock()
	d.hook = hook
	d.mu.Unlock()
}

func (d *Device) configurationHook() ConfigurationHook {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hook
}

// SetString stores a pre-encoded string descriptor. Index
// MicrosoftOSStringIndex holds the Microsoft OS string; other indexes past
// MaxStrings are ignored.
func (d *Device) SetString(index uint8, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case index == MicrosoftOSStringIndex:
		d.osString = data
	case index < MaxStrings:
		d.strings[index] = data
	}
}

// SetStringFrom encodes s into buf and stores the descriptor at index. It
// returns the encoded length, 0 when index is out of range.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		d.SetString(index, buf[:n])
	}
	return n
}

// SetLanguagesFrom encodes the language table into buf and stores it as
// string 0.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		d.SetString(0, buf[:n])
	}
	return n
}

// GetString returns string descriptor index, or nil.
func (d *Device) GetString(index uint8) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case index == MicrosoftOSStringIndex:
		return d.osString
	case index < MaxStrings:
		return d.strings[index]
	}
	return nil
}

// State returns the chapter 9 state.
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// transition moves to state to. The caller must hold d.mu.
func (d *Device) transition(to State) {
	if d.state == to {
		return
	}
	pkg.LogDebug(pkg.ComponentDevice, "state", "from", d.state.String(), "to", to.String())
	d.state = to
}

// Address returns the address assigned by SET_ADDRESS.
func (d *Device) Address() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

// Speed returns the negotiated bus speed.
func (d *Device) Speed() Speed {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speed
}

// SetSpeed records the bus speed reported by the controller.
func (d *Device) SetSpeed(speed Speed) {
	d.mu.Lock()
	d.speed = speed
	d.mu.Unlock()
}

// IsConfigured reports whether a non-zero configuration is selected.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// Reset returns the device to the Default state after a bus reset. The
// address, the active configuration and the remote wakeup feature are
// cleared.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.address = 0
	d.active = nil
	d.remoteWakeup = false
	d.transition(StateDefault)
}

// SetAddress applies SET_ADDRESS. Address 0 returns to the Default state.
func (d *Device) SetAddress(address uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateDefault && d.state != StateAddress {
		return pkg.ErrInvalidState
	}
	d.address = address
	if address == 0 {
		d.transition(StateDefault)
	} else {
		d.transition(StateAddress)
	}
	return nil
}

// SetConfiguration applies SET_CONFIGURATION. The hook is consulted before
// any state changes; a hook error rejects the request.
func (d *Device) SetConfiguration(value uint8) error {
	if !d.State().Addressed() {
		return pkg.ErrInvalidState
	}

	var config *Configuration
	if value != 0 {
		if config = d.GetConfiguration(value); config == nil {
			return pkg.ErrInvalidRequest
		}
	}
	if hook := d.configurationHook(); hook != nil {
		if err := hook.SetConfiguration(value); err != nil {
			return err
		}
	}
	if config != nil {
		config.resetInterfaces()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = config
	if config == nil {
		d.transition(StateAddress)
	} else {
		d.transition(StateConfigured)
	}
	return nil
}

// SetInterface applies SET_INTERFACE to the active configuration.
func (d *Device) SetInterface(number, alt uint8) error {
	iface := d.GetInterface(number)
	if iface == nil || iface.Alternate(alt) == nil {
		return pkg.ErrInvalidRequest
	}
	if hook := d.configurationHook(); hook != nil {
		if err := hook.SetInterface(number, alt); err != nil {
			return err
		}
	}
	if err := iface.SetAlternate(alt); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentDevice, "alternate setting",
		"interface", number, "alternate", alt)
	return nil
}

// EnableRemoteWakeup sets or clears the DEVICE_REMOTE_WAKEUP feature.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mu.Lock()
	d.remoteWakeup = enabled
	d.mu.Unlock()
}

// GetInterface returns interface number of the active configuration.
func (d *Device) GetInterface(number uint8) *Interface {
	if config := d.ActiveConfiguration(); config != nil {
		return config.GetInterface(number)
	}
	return nil
}

// GetEndpoint returns an endpoint of the selected alternate settings of the
// active configuration.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// SetEndpointStall sets or clears ENDPOINT_HALT.
func (d *Device) SetEndpointStall(address uint8, stalled bool) error {
	ep := d.GetEndpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	ep.SetStall(stalled)
	return nil
}

// DeviceStatus is the GET_STATUS(DEVICE) word.
type DeviceStatus uint16

const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the GET_STATUS(DEVICE) word.
func (d *Device) GetStatus() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var status DeviceStatus
	if d.active != nil && d.active.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeup {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// DeviceBuilder assembles a Device descriptor tree with chained calls. The
// first error is reported by Build.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	alt    *AltSetting
	err    error

	stringBufs [MaxStrings][256]byte
	osBuf      [MicrosoftOSStringSize]byte
}

// NewDeviceBuilder returns an empty builder. WithVendorProduct must come
// first.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

func (b *DeviceBuilder) fail(err error) *DeviceBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WithVendorProduct creates a USB 2.0 device with a 64-byte EP0 and sets its
// IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *DeviceBuilder) WithDeviceVersion(bcd uint16) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.device.Descriptor.DeviceVersion = bcd
	return b
}

func (b *DeviceBuilder) WithQualifier(q *DeviceQualifierDescriptor) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.device.Qualifier = q
	return b
}

// WithStrings publishes the US English language table and strings 1 to 3.
// Empty strings leave their index at 0.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	desc := b.device.Descriptor
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)
	for i, s := range [...]struct {
		index *uint8
		text  string
	}{
		{&desc.ManufacturerIndex, manufacturer},
		{&desc.ProductIndex, product},
		{&desc.SerialNumberIndex, serial},
	} {
		if s.text == "" {
			continue
		}
		*s.index = uint8(i + 1)
		b.device.SetStringFrom(uint8(i+1), b.stringBufs[i+1][:], s.text)
	}
	return b
}

// WithMicrosoftOS publishes the Microsoft OS string announcing vendorCode.
func (b *DeviceBuilder) WithMicrosoftOS(vendorCode uint8) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	n := MicrosoftOSStringTo(b.osBuf[:], vendorCode)
	b.device.SetString(MicrosoftOSStringIndex, b.osBuf[:n])
	return b
}

// AddConfiguration starts configuration value. Later interfaces go to it.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.config = NewConfiguration(value)
	b.iface, b.alt = nil, nil
	if err := b.device.AddConfiguration(b.config); err != nil {
		return b.fail(err)
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// WithMaxPower sets bMaxPower of the current configuration in 2mA units.
func (b *DeviceBuilder) WithMaxPower(units uint8) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.config.MaxPower = units
	return b
}

// AddInterface appends an interface with alternate setting 0 to the current
// configuration.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.iface = NewInterface(uint8(b.config.NumInterfaces()), class, subClass, protocol)
	if err := b.config.AddInterface(b.iface); err != nil {
		return b.fail(err)
	}
	return b.AddAlternate(0)
}

// AddAlternate adds an alternate setting to the current interface.
// Subsequent endpoints go to it.
func (b *DeviceBuilder) AddAlternate(value uint8) *DeviceBuilder {
	if b.iface == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	alt, err := b.iface.AddAlternate(value)
	if err != nil {
		return b.fail(err)
	}
	b.alt = alt
	return b
}

// AddEndpoint adds an endpoint to the current alternate setting.
func (b *DeviceBuilder) AddEndpoint(address uint8, transferType uint8, maxPacketSize uint16) *DeviceBuilder {
	if b.alt == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	if err := b.alt.AddEndpoint(&Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
	}); err != nil {
		return b.fail(err)
	}
	return b
}

// Build returns the device or the first error recorded.
func (b *DeviceBuilder) Build(ctx context.Context) (*Device, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.device == nil {
		return nil, pkg.ErrInvalidState
	}
	return b.device, nil
}
