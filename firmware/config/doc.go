// Package config holds the board configuration record and its store.
//
// The record lives in the on-board memory right after the boot header. The
// first byte of that header, the load marker, tells how the record reaches
// RAM:
//
//   - 0xC2: the boot loader already copied it along with the firmware
//   - 0xC0: only the USB identity was loaded; [Store.Load] reads the record
//   - 0xFF or anything else: the memory is blank or corrupt; defaults apply
//
// The [Store] is the only owner of the record. Vendor requests update it
// through narrow operations, and only the voltage limits are written back.
package config
