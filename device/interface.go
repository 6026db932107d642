package device

import (
	"sync"

	"github.com/ardnew/carrierfw/device/hal"
	"github.com/ardnew/carrierfw/pkg"
)

// AltSetting is one alternate setting of an interface and the endpoints it
// enables.
type AltSetting struct {
	Value uint8

	eps [MaxEndpointsPerAlternate]*Endpoint
	n   int
}

// AddEndpoint adds an endpoint to the alternate setting.
func (a *AltSetting) AddEndpoint(ep *Endpoint) error {
	if a.n == len(a.eps) {
		return pkg.ErrNoMemory
	}
	for _, e := range a.eps[:a.n] {
		if e.Address == ep.Address {
			return pkg.ErrBusy
		}
	}
	a.eps[a.n] = ep
	a.n++
	return nil
}

// Endpoints returns the endpoints, EP0 excluded. The slice aliases internal
// storage.
func (a *AltSetting) Endpoints() []*Endpoint {
	return a.eps[:a.n]
}

func (a *AltSetting) NumEndpoints() int {
	return a.n
}

// Interface is one interface of a configuration and its alternate
// settings, of which one is selected at a time.
type Interface struct {
	Number      uint8
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	StringIndex uint8

	mu      sync.RWMutex
	alts    [MaxAlternateSettings]*AltSetting
	nalt    int
	current uint8
}

// NewInterface creates an interface with no alternate settings.
func NewInterface(number, class, subClass, protocol uint8) *Interface {
	return &Interface{
		Number:   number,
		Class:    class,
		SubClass: subClass,
		Protocol: protocol,
	}
}

// AddAlternate adds an alternate setting with the given value.
func (i *Interface) AddAlternate(value uint8) (*AltSetting, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.nalt == len(i.alts) {
		return nil, pkg.ErrNoMemory
	}
	if i.alternate(value) != nil {
		return nil, pkg.ErrBusy
	}

	alt := &AltSetting{Value: value}
	i.alts[i.nalt] = alt
	i.nalt++

	return alt, nil
}

// Alternate returns the alternate setting with the given value.
func (i *Interface) Alternate(value uint8) *AltSetting {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.alternate(value)
}

func (i *Interface) alternate(value uint8) *AltSetting {
	for _, alt := range i.alts[:i.nalt] {
		if alt.Value == value {
			return alt
		}
	}
	return nil
}

// Alternates returns the alternate settings in descriptor order. The slice
// aliases internal storage.
func (i *Interface) Alternates() []*AltSetting {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.alts[:i.nalt]
}

// AlternateSetting returns the selected alternate setting value.
func (i *Interface) AlternateSetting() uint8 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

// SetAlternate selects an alternate setting.
func (i *Interface) SetAlternate(value uint8) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.alternate(value) == nil {
		return pkg.ErrInvalidRequest
	}
	i.current = value
	return nil
}

// Endpoints returns the endpoints of the selected alternate setting.
func (i *Interface) Endpoints() []*Endpoint {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if alt := i.alternate(i.current); alt != nil {
		return alt.Endpoints()
	}
	return nil
}

// GetEndpoint returns the endpoint with the given address in the selected
// alternate setting.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	for _, ep := range i.Endpoints() {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

// Descriptor returns the interface descriptor of an alternate setting.
func (i *Interface) Descriptor(alt *AltSetting) *InterfaceDescriptor {
	return &InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  alt.Value,
		NumEndpoints:      uint8(alt.NumEndpoints()),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

// reset selects alternate setting 0.
func (i *Interface) reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current = 0
}

// Configuration is one selectable configuration: a set of interfaces and
// the descriptor header that announces them.
type Configuration struct {
	Value       uint8 // bConfigurationValue
	Attributes  uint8
	MaxPower    uint8 // 2mA units
	StringIndex uint8

	mu     sync.RWMutex
	ifaces [MaxInterfacesPerConfiguration]*Interface
	n      int
}

// NewConfiguration returns a bus-powered configuration drawing 100mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface appends iface. Interface numbers must be unique.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == len(c.ifaces) {
		return pkg.ErrNoMemory
	}
	if c.lookup(iface.Number) != nil {
		return pkg.ErrBusy
	}
	c.ifaces[c.n] = iface
	c.n++
	return nil
}

func (c *Configuration) lookup(number uint8) *Interface {
	for _, iface := range c.ifaces[:c.n] {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

// GetInterface returns interface number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(number)
}

// Interfaces returns the interfaces in descriptor order. The slice aliases
// internal storage.
func (c *Configuration) Interfaces() []*Interface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ifaces[:c.n]
}

func (c *Configuration) NumInterfaces() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.n
}

// each calls fn for every alternate setting of every interface in
// descriptor order, stopping at the first false. The caller must hold c.mu.
func (c *Configuration) each(fn func(iface *Interface, alt *AltSetting) bool) {
	for _, iface := range c.ifaces[:c.n] {
		for _, alt := range iface.Alternates() {
			if !fn(iface, alt) {
				return
			}
		}
	}
}

// Descriptor returns the configuration header, with wTotalLength covering
// every alternate setting.
func (c *Configuration) Descriptor() *ConfigurationDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header()
}

func (c *Configuration) header() *ConfigurationDescriptor {
	total := ConfigurationDescriptorSize
	c.each(func(_ *Interface, alt *AltSetting) bool {
		total += InterfaceDescriptorSize + alt.NumEndpoints()*EndpointDescriptorSize
		return true
	})
	return &ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.n),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the whole descriptor set, header first, to buf. It
// returns 0 when buf is too short.
func (c *Configuration) MarshalTo(buf []byte) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	off := c.header().MarshalTo(buf)
	if off == 0 {
		return 0
	}
	put := func(n int) bool {
		off += n
		return n != 0
	}
	ok := true
	c.each(func(iface *Interface, alt *AltSetting) bool {
		if ok = put(iface.Descriptor(alt).MarshalTo(buf[off:])); !ok {
			return false
		}
		for _, ep := range alt.Endpoints() {
			if ok = put(ep.Descriptor().MarshalTo(buf[off:])); !ok {
				return false
			}
		}
		return true
	})
	if !ok {
		return 0
	}
	return off
}

// EndpointConfigs returns the FIFO configuration of every endpoint that any
// alternate setting uses, once per address.
func (c *Configuration) EndpointConfigs() []hal.EndpointConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var cfgs []hal.EndpointConfig
	seen := make(map[uint8]bool)
	c.each(func(_ *Interface, alt *AltSetting) bool {
		for _, ep := range alt.Endpoints() {
			if !seen[ep.Address] {
				seen[ep.Address] = true
				cfgs = append(cfgs, ep.Config())
			}
		}
		return true
	})
	return cfgs
}

func (c *Configuration) IsSelfPowered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// resetInterfaces selects alternate setting 0 on every interface.
func (c *Configuration) resetInterfaces() {
	for _, iface := range c.Interfaces() {
		iface.reset()
	}
}
