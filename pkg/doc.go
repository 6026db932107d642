// Package pkg provides shared utilities for the carrier firmware and its
// host-side tooling.
//
// This package contains common functionality used across the device link
// layer, the firmware core, the board drivers, and the host client:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for control transfer and device state errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag on every
// record:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBoot, "bitstream loaded", "size", n)
//
// Logging is a diagnostic side channel only. Failures the host must observe
// are reported through the device status byte, never through the log.
//
// # Errors
//
// Common errors are defined as sentinel values and wrapped with context using
// fmt.Errorf and %w:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // the device rejected the request
//	}
package pkg
