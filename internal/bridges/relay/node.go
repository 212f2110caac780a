package relay

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/nerrad567/sweiot-link/internal/device"
)

// notPresentHex is device.NotPresent hex encoded, the default port 32 payload.
const notPresentHex = "76616C7565206E6F742070726573656E74"

// Value is a JSON scalar kept as text. Yggio reports some outputs as numbers
// and others as strings.
type Value string

// UnmarshalJSON accepts strings, numbers and booleans.
func (v *Value) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = Value(s)
		return nil
	}
	*v = Value(bytes.TrimSpace(b))
	return nil
}

// Node is the subset of a Yggio iotnode this link reads.
type Node struct {
	ID         string          `json:"_id"`
	Name       string          `json:"name"`
	Timestamps *NodeTimestamps `json:"timestamps,omitempty"`
	Output     *NodeOutput     `json:"output,omitempty"`
	Forward    *NodeForward    `json:"forward,omitempty"`
}

// NodeTimestamps holds the last-seen times of the decoded outputs.
type NodeTimestamps struct {
	Distance  *Value `json:"distance,omitempty"`
	Amplitude *Value `json:"amplitude,omitempty"`
}

// NodeOutput holds the decoded sensor outputs.
type NodeOutput struct {
	Distance  *Value `json:"distance,omitempty"`
	Amplitude *Value `json:"amplitude,omitempty"`
}

// NodeForward holds raw uplinks keyed by LoRa port.
type NodeForward struct {
	Port32 *NodePort `json:"port32,omitempty"`
}

// NodePort is one raw uplink.
type NodePort struct {
	Timestamp *Value `json:"timestamp,omitempty"`
	Data      *Value `json:"data,omitempty"`
}

// UartHex returns the hex encoded port 32 payload, or the encoding of
// device.NotPresent when absent.
func (n Node) UartHex() string {
	if n.Forward != nil && n.Forward.Port32 != nil && n.Forward.Port32.Data != nil {
		return string(*n.Forward.Port32.Data)
	}
	return notPresentHex
}

// UartText returns the decoded port 32 payload.
func (n Node) UartText() string {
	return DecodeHex(n.UartHex())
}

// Update converts the node into a registry update with defaults applied.
func (n Node) Update() device.Update {
	relay := &device.RelayData{
		DistanceTime:  device.NotPresent,
		Distance:      device.NotPresent,
		AmplitudeTime: device.NotPresent,
		Amplitude:     device.NotPresent,
		UartTime:      device.NotPresent,
		UartData:      n.UartText(),
	}
	if t := n.Timestamps; t != nil {
		relay.DistanceTime = orNotPresent(t.Distance)
		relay.AmplitudeTime = orNotPresent(t.Amplitude)
	}
	if o := n.Output; o != nil {
		relay.Distance = orNotPresent(o.Distance)
		relay.Amplitude = orNotPresent(o.Amplitude)
	}
	if n.Forward != nil && n.Forward.Port32 != nil {
		relay.UartTime = orNotPresent(n.Forward.Port32.Timestamp)
	}
	return device.Update{ID: n.ID, Name: n.Name, Relay: relay}
}

func orNotPresent(v *Value) string {
	if v == nil {
		return device.NotPresent
	}
	return string(*v)
}

// EncodeHex hex encodes text for a downlink payload.
func EncodeHex(s string) string {
	return hex.EncodeToString([]byte(s))
}

// DecodeHex decodes a hex payload. Input that is not valid hex is returned
// unchanged.
func DecodeHex(s string) string {
	b, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}
