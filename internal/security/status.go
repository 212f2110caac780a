package security

// Status is the security status of the connected device.
type Status int

// Security statuses.
const (
	Unsecured Status = iota
	AuthorizedOnly
	Secured
)

// String returns the snake_case status name.
func (s Status) String() string {
	switch s {
	case AuthorizedOnly:
		return "authorized_only"
	case Secured:
		return "secured"
	default:
		return "unsecured"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
