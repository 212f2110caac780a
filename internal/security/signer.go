package security

import (
	"context"
	"sync"

	"github.com/nerrad567/sweiot-link/internal/protocol"
)

// Remote is the part of the management server the signer depends on.
// *Client satisfies it.
type Remote interface {
	SecureDevice(ctx context.Context, deviceID string) (SecureInfo, error)
	Sign(ctx context.Context, deviceID, message string) (string, error)
	HasValidSession() bool
}

// Check is the outcome of a secure-check, not yet applied.
type Check struct {
	Status    Status
	PublicKey string
}

// Signer holds the security status of the connected device and signs
// outgoing commands when it is secured.
//
// Thread Safety: All methods are safe for concurrent use.
type Signer struct {
	remote        Remote
	requireSecure bool

	mu        sync.RWMutex
	status    Status
	publicKey string
}

// NewSigner creates a signer starting Unsecured.
func NewSigner(remote Remote, requireSecure bool) *Signer {
	return &Signer{remote: remote, requireSecure: requireSecure}
}

// RequireSecure reports whether secure mode is enforced.
func (s *Signer) RequireSecure() bool {
	return s.requireSecure
}

// Status returns the current security status.
func (s *Signer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PublicKey returns the device public key learnt by the last check.
func (s *Signer) PublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicKey
}

// ShouldSign reports whether cmd must be signed before transmission.
// Setting the public key is never signed.
func (s *Signer) ShouldSign(cmd string) bool {
	return s.requireSecure && s.Status() == Secured && !protocol.IsSetPublicKeyCmd(cmd)
}

// Prepare returns the payload to transmit for cmd: the signed message when
// signing applies, cmd unchanged otherwise.
func (s *Signer) Prepare(ctx context.Context, deviceID, cmd string) (string, error) {
	if !s.ShouldSign(cmd) {
		return cmd, nil
	}
	signed, err := s.remote.Sign(ctx, deviceID, cmd)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// CheckDevice asks the management server whether the device is secured and
// derives the resulting status. The signer is not changed; see Apply.
func (s *Signer) CheckDevice(ctx context.Context, deviceID string) (Check, error) {
	info, err := s.remote.SecureDevice(ctx, deviceID)
	if err != nil {
		return Check{}, err
	}
	if info.Secure {
		return Check{Status: Secured, PublicKey: info.PublicKeyHex}, nil
	}
	if s.remote.HasValidSession() {
		return Check{Status: AuthorizedOnly}, nil
	}
	return Check{Status: Unsecured}, nil
}

// Apply makes c the current status.
func (s *Signer) Apply(c Check) {
	s.mu.Lock()
	s.status = c.Status
	s.publicKey = c.PublicKey
	s.mu.Unlock()
}

// Reset returns to Unsecured and forgets the public key.
func (s *Signer) Reset() {
	s.Apply(Check{Status: Unsecured})
}
