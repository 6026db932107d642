// Package device implements the USB device stack of the carrier firmware.
//
// It is platform-agnostic and interacts with the USB controller via the
// [hal.DeviceHAL] interface defined in the
// [github.com/ardnew/carrierfw/device/hal] package.
//
// # Architecture
//
// The device stack is organized into several layers:
//
//   - [Device] manages device state, descriptors, and the configuration hook
//   - [Stack] runs the control loop on EP0 and completes standard requests
//   - [Configuration] groups interfaces
//   - [Interface] holds alternate settings, each enabling its own endpoints
//   - [Endpoint] describes a data endpoint and its halt state
//
// The data endpoints are bulk pipes serviced by the FPGA. The stack only
// describes them, configures their FIFOs and tracks their halt state.
//
// # Control Transfers
//
// Standard requests are handled by [StandardRequestHandler] and completed by
// the stack itself. Every other request is handed to a [SetupHook], which
// must return immediately; the hook owner completes the data and status
// stages later using [SendControlIn], [ReceiveControlOut] and the EP0
// operations of the HAL.
//
// # Device States
//
// The stack implements the USB 2.0 device state machine:
//
//	Attached → Powered → Default → Address → Configured
//
// # Microsoft OS Descriptors
//
// [MicrosoftOSStringTo], [MicrosoftCompatIDTo] and [MicrosoftPropertiesTo]
// produce the Microsoft OS 1.0 descriptors that bind WinUSB to vendor
// interfaces.
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x20B7, 0x9DB1).
//	    WithStrings("Manufacturer", "Product", "Serial").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassVendor, 0xFF, 0xFF).
//	    AddAlternate(1).
//	    AddEndpoint(0x02, device.EndpointTypeBulk, 512).
//	    Build(ctx)
//	stack := device.NewStack(dev, hal)
//	stack.Start(ctx)
//	go stack.Serve(ctx)
//
// A FIFO-based HAL for simulation is available in
// [github.com/ardnew/carrierfw/device/hal/fifo].
package device
