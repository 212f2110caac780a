package auth

import (
	"fmt"
	"sync"

	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
)

// Authenticator checks operator credentials against the configured
// accounts.
//
// Thread Safety: All methods are safe for concurrent use.
type Authenticator struct {
	accounts map[string]account

	dummyOnce sync.Once
	dummy     string
}

type account struct {
	operator Operator
	hash     string
}

// NewAuthenticator validates and indexes the configured operators.
func NewAuthenticator(operators []config.OperatorConfig) (*Authenticator, error) {
	a := &Authenticator{accounts: make(map[string]account, len(operators))}
	for _, op := range operators {
		if !IsValidUsername(op.Username) {
			return nil, fmt.Errorf("operator %q: invalid username", op.Username)
		}
		role, err := ParseRole(op.Role)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", op.Username, err)
		}
		if _, err := decodePHC(op.PasswordHash); err != nil {
			return nil, fmt.Errorf("operator %q: %w", op.Username, err)
		}
		if _, dup := a.accounts[op.Username]; dup {
			return nil, fmt.Errorf("operator %q: duplicate username", op.Username)
		}
		a.accounts[op.Username] = account{
			operator: Operator{Username: op.Username, Role: role},
			hash:     op.PasswordHash,
		}
	}
	return a, nil
}

// Len returns the number of configured operators.
func (a *Authenticator) Len() int {
	return len(a.accounts)
}

// Authenticate returns the operator for valid credentials, or
// ErrInvalidCredentials. Unknown usernames cost the same hash work as
// wrong passwords.
func (a *Authenticator) Authenticate(username, password string) (Operator, error) {
	acct, ok := a.accounts[username]
	if !ok {
		_, _ = VerifyPassword(password, a.dummyHash())
		return Operator{}, ErrInvalidCredentials
	}
	match, err := VerifyPassword(password, acct.hash)
	if err != nil || !match {
		return Operator{}, ErrInvalidCredentials
	}
	return acct.operator, nil
}

func (a *Authenticator) dummyHash() string {
	a.dummyOnce.Do(func() {
		a.dummy, _ = HashPassword("sweiot-link-dummy")
	})
	return a.dummy
}
