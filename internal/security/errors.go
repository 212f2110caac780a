package security

import "errors"

// Domain errors for the management server and signer.
var (
	// ErrUnauthorized is returned when no session exists or the server
	// answers 401.
	ErrUnauthorized = errors.New("security: SweIoT Server API not authorized")

	// ErrLoginFailed is returned when the login is rejected.
	ErrLoginFailed = errors.New("security: login failed")

	// ErrRequestFailed is returned for any other failed management call.
	ErrRequestFailed = errors.New("security: management request failed")

	// ErrSignFailed is returned when the server does not return a signature.
	ErrSignFailed = errors.New("security: signing failed")
)
