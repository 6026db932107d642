// Package proto holds the wire constants shared by the carrier firmware and
// the host tools: USB identities, vendor request codes, the status byte,
// hardware revisions, configuration record field sizes and the I2C map of
// the board.
//
// Every vendor request is a control transfer with a device recipient.
// Requests that return data use [RequestTypeVendorIn], all others use
// [RequestTypeVendorOut]. Multi-byte payloads are little endian.
package proto
