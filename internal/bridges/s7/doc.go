// Package s7 connects to Siemens S7 PLCs and reads process values from
// their data blocks.
//
// # Architecture
//
// Each configured PLC gets one Manager. The Manager owns the device's
// session and hides reconnection behind every read:
//
//	┌───────────┐  ReadAll   ┌───────────┐  Dial/ReadBlock  ┌───────┐
//	│  poller   │──────────►│  Manager  │────────────────►│  PLC  │
//	└───────────┘   Cycle    └───────────┘     (gos7)       └───────┘
//
// A cycle reads the device's signals in declaration order. The first read
// or decode failure drops the session, marks the device disconnected and
// ends the cycle with the values read so far. The next cycle dials again;
// there is no backoff.
//
// # Data types
//
// Signals are decoded from the raw block bytes as one of REAL (32-bit
// float), INT (16-bit signed), DINT (32-bit signed), BOOL (one bit) or a
// named custom decoder. All multi-byte types are big-endian as stored by
// the PLC.
//
// # Thread Safety
//
// Manager state may be read from any goroutine. ReadAll and EnsureConnected
// are serialised per Manager and are normally called only by the device's
// own polling goroutine.
package s7
