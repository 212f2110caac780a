package channel

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/protocol"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// Channel is a transport path to the device.
type Channel int

// Channels.
const (
	Local Channel = iota
	Relay
)

// String returns "local" or "relay".
func (c Channel) String() string {
	if c == Relay {
		return "relay"
	}
	return "local"
}

// DisplayName returns the name used in status texts.
func (c Channel) DisplayName() string {
	if c == Relay {
		return "Yggio"
	}
	return "BLE"
}

// MarshalText encodes the channel by name.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a channel name.
func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChannel accepts "local"/"ble" and "relay"/"yggio"/"lora".
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "ble":
		return Local, nil
	case "relay", "yggio", "lora":
		return Relay, nil
	default:
		return Local, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// Message is a classified answer received from the device.
type Message struct {
	Channel  Channel         `json:"channel"`
	DeviceID string          `json:"device_id"`
	Answer   protocol.Answer `json:"answer"`
	Time     time.Time       `json:"time"`
}

// Command records one outgoing command after its transmission attempt.
type Command struct {
	Channel  Channel   `json:"channel"`
	DeviceID string    `json:"device_id"`
	Text     string    `json:"text"`
	Signed   bool      `json:"signed"`
	Err      error     `json:"-"`
	Time     time.Time `json:"time"`
}

// Listener receives coordinator events. Callbacks run on the notifier
// goroutine in event order.
type Listener interface {
	OnMessage(Message)
	OnStatusChange(status string)
	OnSessionExpired()
}

// CommandListener is implemented by listeners that also want every
// transmitted command.
type CommandListener interface {
	OnCommandSent(Command)
}

// AdvertisementListener is implemented by listeners that also want every
// scan result.
type AdvertisementListener interface {
	OnAdvertisement(ble.Advertisement)
}

// Session is the connection context owned by the coordinator loop.
type Session struct {
	Channel    Channel
	Generation uint64

	LocalSession  ble.Session
	LocalDeviceID string
	LocalState    ble.State

	RelayDeviceID string

	InitSent        bool
	FirmwareVersion string
	SensorVersion   string

	// LastData holds the last data request payload per group ID.
	LastData map[string]string
}

// DeviceID returns the device of the active channel.
func (s Session) DeviceID() string {
	if s.Channel == Relay {
		return s.RelayDeviceID
	}
	return s.LocalDeviceID
}

func (s Session) clone() Session {
	out := s
	out.LastData = maps.Clone(s.LastData)
	return out
}

// Snapshot is a read-only view of the coordinator state.
type Snapshot struct {
	Channel         Channel           `json:"channel"`
	Generation      uint64            `json:"generation"`
	DeviceID        string            `json:"device_id,omitempty"`
	LocalState      ble.State         `json:"local_state"`
	LocalDeviceID   string            `json:"local_device_id,omitempty"`
	RelayDeviceID   string            `json:"relay_device_id,omitempty"`
	InitSent        bool              `json:"init_sent"`
	FirmwareVersion string            `json:"firmware_version,omitempty"`
	SensorVersion   string            `json:"sensor_version,omitempty"`
	LastData        map[string]string `json:"last_data,omitempty"`
	SecurityStatus  security.Status   `json:"security_status"`
	RequireSecure   bool              `json:"require_secure"`
	LoggedIn        bool              `json:"logged_in"`
}
