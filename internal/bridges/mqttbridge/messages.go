package mqttbridge

import (
	"time"

	"github.com/nerrad567/sweiot-link/internal/protocol"
)

// Request is an inbound command payload. Fields that a request name does
// not use are ignored.
type Request struct {
	// ID correlates the result with the request. Optional.
	ID       string `json:"id,omitempty"`
	Text     string `json:"text,omitempty"`
	Channel  string `json:"channel,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	// UserID is copied to the audit trail.
	UserID string `json:"user_id,omitempty"`
}

// Result statuses.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Result is published for every inbound request.
type Result struct {
	ID        string    `json:"id,omitempty"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AnswerMessage is published for every classified answer.
type AnswerMessage struct {
	DeviceID  string           `json:"device_id"`
	Channel   string           `json:"channel"`
	Kind      protocol.Kind    `json:"kind"`
	Raw       string           `json:"raw"`
	ID        string           `json:"id,omitempty"`
	Payload   string           `json:"payload,omitempty"`
	Fields    []protocol.Field `json:"fields,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SentMessage is published after every transmission attempt.
type SentMessage struct {
	DeviceID  string    `json:"device_id"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Signed    bool      `json:"signed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage carries one coordinator status text.
type StatusMessage struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
