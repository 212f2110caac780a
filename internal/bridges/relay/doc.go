// Package relay implements the long-range link to SweIoT sensors through the
// Yggio IoT platform.
//
// Commands travel as LoRa downlinks queued through Yggio's ChirpStack
// integration; answers arrive as uplinks on LoRa port 32 and are read back by
// polling the selected iotnode.
//
//	Coordinator ──Send──► Link ──PUT /iotnodes/command──► Yggio ──LoRa──► sensor
//	Coordinator ◄─frame── Link ◄──GET /iotnodes/{id}───── Yggio ◄──LoRa── sensor
//
// Every operation authorizes first; tokens are not cached between calls.
//
// # Node documents
//
// Yggio returns loosely typed JSON. Node decodes it into explicit optional
// fields, and missing values are reported as device.NotPresent. The port 32
// payload is hex encoded text.
package relay
