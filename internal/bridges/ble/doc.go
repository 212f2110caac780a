// Package ble implements the local link to a SweIoT sensor over Bluetooth Low
// Energy.
//
// The sensor exposes a Nordic UART style service: commands are written to one
// characteristic and answers arrive as notifications on another. This package
// owns the connection lifecycle and reports raw text frames; it does not
// interpret them.
//
// # Connection lifecycle
//
// A Link holds the single connection state of the process:
//
//	Idle ──Scan──► Scanning ──StopAndConnect──► Connecting
//	                                                │ connected, UART found,
//	                                                ▼ notifications enabled
//	Ready ◄──MarkReady── SecurityChecking ◄── ServicesDiscovered
//	  ▲                                              │
//	  └──────────────────MarkReady───────────────────┘
//
// Every state may move to Disconnected on error or on an explicit
// Disconnect. Each connection attempt starts a new Session; edge functions
// and delayed work carry the session they belong to and are ignored once it
// is no longer current.
//
// # Hardware
//
// NewBluetoothAdapter wraps tinygo.org/x/bluetooth. Tests drive the Link
// through a fake Adapter.
//
// # Thread Safety
//
// All exported methods of Link are safe for concurrent use. Callbacks are
// invoked from adapter goroutines and must not block.
package ble
