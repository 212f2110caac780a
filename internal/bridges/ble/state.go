package ble

// State is the connection state of the local link.
type State int

// Connection states in lifecycle order.
const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateServicesDiscovered
	StateSecurityChecking
	StateReady
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateScanning:           "scanning",
	StateConnecting:         "connecting",
	StateServicesDiscovered: "services_discovered",
	StateSecurityChecking:   "security_checking",
	StateReady:              "ready",
	StateDisconnected:       "disconnected",
}

// String returns the snake_case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connected reports whether s holds a live device session.
func (s State) Connected() bool {
	switch s {
	case StateConnecting, StateServicesDiscovered, StateSecurityChecking, StateReady:
		return true
	default:
		return false
	}
}

// Session identifies one connection attempt. It increases with every
// StopAndConnect and every disconnect.
type Session uint64
