// Package security gates outgoing device commands behind remote signatures.
//
// A sensor provisioned with a public key only accepts commands signed by the
// SweIoT management server. Client talks to that server; Signer holds the
// security status of the connected device and decides per command whether
// the signed form must be transmitted instead of the plain text.
//
// # Security status
//
//	Unsecured       no valid management session, device not secured
//	AuthorizedOnly  valid session, device runs without a key
//	Secured         device key provisioned, commands are signed
//
// Secured is only entered after the management server confirms the device
// is secured. The status returns to Unsecured on every disconnect.
package security
