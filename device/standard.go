package device

import (
	"encoding/binary"

	"github.com/ardnew/carrierfw/pkg"
)

// MaxDescriptorResponseSize bounds the largest descriptor the carrier
// returns, its configuration descriptor set.
const MaxDescriptorResponseSize = 512

// StandardRequestHandler answers chapter 9 requests from the descriptor tree
// and state of a Device. The slice returned by HandleSetup aliases an
// internal buffer and is valid until the next call.
type StandardRequestHandler struct {
	device *Device

	onClearHalt func(address uint8)

	resp [MaxDescriptorResponseSize]byte
}

type standardRoute struct {
	recipient uint8
	request   uint8
}

type standardFunc func(h *StandardRequestHandler, setup *SetupPacket) ([]byte, error)

var standardRoutes = map[standardRoute]standardFunc{
	{RequestRecipientDevice, RequestGetStatus}:        (*StandardRequestHandler).getDeviceStatus,
	{RequestRecipientDevice, RequestClearFeature}:     (*StandardRequestHandler).clearDeviceFeature,
	{RequestRecipientDevice, RequestSetFeature}:       (*StandardRequestHandler).setDeviceFeature,
	{RequestRecipientDevice, RequestSetAddress}:       (*StandardRequestHandler).setAddress,
	{RequestRecipientDevice, RequestGetDescriptor}:    (*StandardRequestHandler).getDescriptor,
	{RequestRecipientDevice, RequestSetDescriptor}:    notSupported,
	{RequestRecipientDevice, RequestGetConfiguration}: (*StandardRequestHandler).getConfiguration,
	{RequestRecipientDevice, RequestSetConfiguration}: (*StandardRequestHandler).setConfiguration,

	{RequestRecipientInterface, RequestGetStatus}:    (*StandardRequestHandler).getInterfaceStatus,
	{RequestRecipientInterface, RequestGetInterface}: (*StandardRequestHandler).getInterface,
	{RequestRecipientInterface, RequestSetInterface}: (*StandardRequestHandler).setInterface,

	{RequestRecipientEndpoint, RequestGetStatus}:    (*StandardRequestHandler).getEndpointStatus,
	{RequestRecipientEndpoint, RequestClearFeature}: (*StandardRequestHandler).clearEndpointHalt,
	{RequestRecipientEndpoint, RequestSetFeature}:   (*StandardRequestHandler).setEndpointHalt,
}

func notSupported(*StandardRequestHandler, *SetupPacket) ([]byte, error) {
	return nil, pkg.ErrNotSupported
}

// NewStandardRequestHandler returns a handler for dev.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// SetOnClearHalt sets the function run after CLEAR_FEATURE(ENDPOINT_HALT)
// so the controller can reset the endpoint FIFO and data toggle.
func (h *StandardRequestHandler) SetOnClearHalt(fn func(address uint8)) {
	h.onClearHalt = fn
}

// HandleSetup answers a standard request. It returns the IN data stage, if
// any; an error stalls the request.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}
	fn, ok := standardRoutes[standardRoute{setup.Recipient(), setup.Request}]
	if !ok {
		return nil, pkg.ErrInvalidRequest
	}
	return fn(h, setup)
}

// status16 answers a GET_STATUS request with word.
func (h *StandardRequestHandler) status16(setup *SetupPacket, word uint16) ([]byte, error) {
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint16(h.resp[:2], word)
	return h.resp[:2], nil
}

func (h *StandardRequestHandler) byte8(v uint8) ([]byte, error) {
	h.resp[0] = v
	return h.resp[:1], nil
}

func (h *StandardRequestHandler) getDeviceStatus(setup *SetupPacket) ([]byte, error) {
	return h.status16(setup, uint16(h.device.GetStatus()))
}

func (h *StandardRequestHandler) clearDeviceFeature(setup *SetupPacket) ([]byte, error) {
	if setup.Value != FeatureDeviceRemoteWakeup {
		return nil, pkg.ErrInvalidRequest
	}
	h.device.EnableRemoteWakeup(false)
	return nil, nil
}

func (h *StandardRequestHandler) setDeviceFeature(setup *SetupPacket) ([]byte, error) {
	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		h.device.EnableRemoteWakeup(true)
		return nil, nil
	case FeatureTestMode:
		return nil, pkg.ErrNotSupported
	}
	return nil, pkg.ErrInvalidRequest
}

func (h *StandardRequestHandler) setAddress(setup *SetupPacket) ([]byte, error) {
	return nil, h.device.SetAddress(uint8(setup.Value & 0x7F))
}

// getDescriptor serves the device, configuration, string and qualifier
// descriptors, truncated to wLength. Other-speed configurations stall.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	index := setup.DescriptorIndex()

	var n int
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(h.resp[:])
	case DescriptorTypeConfiguration:
		config := h.device.ConfigurationAt(index)
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(h.resp[:])
	case DescriptorTypeString:
		data := h.device.GetString(index)
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.resp[:], data)
	case DescriptorTypeDeviceQualifier:
		if h.device.Qualifier == nil {
			return nil, pkg.ErrNotSupported
		}
		n = h.device.Qualifier.MarshalTo(h.resp[:])
	case DescriptorTypeOtherSpeedConfig:
		return nil, pkg.ErrNotSupported
	default:
		return nil, pkg.ErrInvalidRequest
	}
	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return h.resp[:min(n, int(setup.Length))], nil
}

func (h *StandardRequestHandler) getConfiguration(*SetupPacket) ([]byte, error) {
	var value uint8
	if config := h.device.ActiveConfiguration(); config != nil {
		value = config.Value
	}
	return h.byte8(value)
}

func (h *StandardRequestHandler) setConfiguration(setup *SetupPacket) ([]byte, error) {
	return nil, h.device.SetConfiguration(uint8(setup.Value))
}

func (h *StandardRequestHandler) getInterfaceStatus(setup *SetupPacket) ([]byte, error) {
	if h.device.GetInterface(setup.InterfaceNumber()) == nil {
		return nil, pkg.ErrInvalidRequest
	}
	return h.status16(setup, 0)
}

func (h *StandardRequestHandler) getInterface(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}
	return h.byte8(iface.AlternateSetting())
}

func (h *StandardRequestHandler) setInterface(setup *SetupPacket) ([]byte, error) {
	return nil, h.device.SetInterface(setup.InterfaceNumber(), uint8(setup.Value))
}

// getEndpointStatus reports the halt bit. EP0 never reports halted.
func (h *StandardRequestHandler) getEndpointStatus(setup *SetupPacket) ([]byte, error) {
	addr := setup.EndpointAddress()
	if addr&0x0F == 0 {
		return h.status16(setup, 0)
	}
	ep := h.device.GetEndpoint(addr)
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}
	var word uint16
	if ep.IsStalled() {
		word = 1
	}
	return h.status16(setup, word)
}

func (h *StandardRequestHandler) clearEndpointHalt(setup *SetupPacket) ([]byte, error) {
	if setup.Value != FeatureEndpointHalt {
		return nil, pkg.ErrInvalidRequest
	}
	addr := setup.EndpointAddress()
	if err := h.device.SetEndpointStall(addr, false); err != nil {
		return nil, err
	}
	if h.onClearHalt != nil {
		h.onClearHalt(addr)
	}
	return nil, nil
}

func (h *StandardRequestHandler) setEndpointHalt(setup *SetupPacket) ([]byte, error) {
	if setup.Value != FeatureEndpointHalt {
		return nil, pkg.ErrInvalidRequest
	}
	return nil, h.device.SetEndpointStall(setup.EndpointAddress(), true)
}
