package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/sweiot-link/internal/audit"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/mqtt"
)

// Request names, the last level of {prefix}/command/{name}.
const (
	CommandSend       = "send"
	CommandInit       = "init"
	CommandChannel    = "channel"
	CommandSelect     = "select"
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandScan       = "scan"
	CommandFetch      = "fetch"
	CommandPoll       = "poll"
)

// ErrUnknownCommand is returned for an unrecognised request name.
var ErrUnknownCommand = errors.New("mqttbridge: unknown command")

// ErrMissingField is returned when a request lacks a required field.
var ErrMissingField = errors.New("mqttbridge: missing field")

// Client is the MQTT surface used by the bridge. *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Coordinator is the subset of *channel.Coordinator driven by requests.
type Coordinator interface {
	Send(text string) error
	SendInitSequence() error
	SwitchChannel(ch channel.Channel) error
	SelectRelayDevice(id string) error
	Connect(id string) error
	Disconnect() error
	StartScan() error
	FetchRelayDevices() error
	PollRelay() error
}

// Auditor records operator actions. *audit.Recorder satisfies it.
type Auditor interface {
	Record(e audit.Entry)
}

// Logger defines the logging interface used by Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Client      Client
	Coordinator Coordinator
	Topics      mqtt.Topics

	// Auditor is optional.
	Auditor Auditor

	QoS    byte
	Now    func() time.Time
	Logger Logger
}

// Bridge publishes coordinator events and executes MQTT requests.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client  Client
	coord   Coordinator
	topics  mqtt.Topics
	auditor Auditor
	qos     byte
	now     func() time.Time
	logger  Logger

	mu      sync.Mutex
	started bool
}

// New creates a bridge. Client and Coordinator are required.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("mqttbridge: client is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("mqttbridge: coordinator is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqttbridge: invalid qos %d", opts.QoS)
	}
	b := &Bridge{
		client:  opts.Client,
		coord:   opts.Coordinator,
		topics:  opts.Topics,
		auditor: opts.Auditor,
		qos:     opts.QoS,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Start subscribes to the request topics.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if err := b.client.Subscribe(b.topics.AllCommands(), b.qos, b.handleRequest); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.topics.AllCommands(), err)
	}
	b.started = true
	b.logger.Info("mqtt bridge started", "topic", b.topics.AllCommands())
	return nil
}

// Stop unsubscribes from the request topics.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	return b.client.Unsubscribe(b.topics.AllCommands())
}

func (b *Bridge) handleRequest(topic string, payload []byte) error {
	name := b.topics.CommandName(topic)
	if name == "" {
		return nil
	}

	req, err := decodeRequest(name, payload)
	if err == nil {
		b.logger.Debug("mqtt request", "command", name, "id", req.ID)
		err = b.execute(name, req)
	}

	result := Result{ID: req.ID, Command: name, Status: ResultOK, Timestamp: b.now()}
	if err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
	}
	b.publish(b.topics.CommandResult(name), result)
	return err
}

// decodeRequest accepts a JSON object or, for send, the bare command text.
func decodeRequest(name string, payload []byte) (Request, error) {
	var req Request
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return req, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		if name == CommandSend {
			req.Text = trimmed
			return req, nil
		}
		return req, fmt.Errorf("mqttbridge: %s expects a JSON object", name)
	}
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return req, fmt.Errorf("mqttbridge: decoding %s request: %w", name, err)
	}
	return req, nil
}

func (b *Bridge) execute(name string, req Request) error {
	switch name {
	case CommandSend:
		return b.coord.Send(req.Text)

	case CommandInit:
		return b.coord.SendInitSequence()

	case CommandChannel:
		ch, err := channel.ParseChannel(req.Channel)
		if err != nil {
			return err
		}
		if err := b.coord.SwitchChannel(ch); err != nil {
			return err
		}
		b.record(audit.ActionChannelSwitch, audit.EntityChannel, ch.String(), req)
		return nil

	case CommandSelect:
		if req.DeviceID == "" {
			return fmt.Errorf("%w: device_id", ErrMissingField)
		}
		if err := b.coord.SelectRelayDevice(req.DeviceID); err != nil {
			return err
		}
		b.record(audit.ActionSelect, audit.EntityDevice, req.DeviceID, req)
		return nil

	case CommandConnect:
		if req.DeviceID == "" {
			return fmt.Errorf("%w: device_id", ErrMissingField)
		}
		if err := b.coord.Connect(req.DeviceID); err != nil {
			return err
		}
		b.record(audit.ActionConnect, audit.EntityDevice, req.DeviceID, req)
		return nil

	case CommandDisconnect:
		if err := b.coord.Disconnect(); err != nil {
			return err
		}
		b.record(audit.ActionDisconnect, audit.EntityDevice, "", req)
		return nil

	case CommandScan:
		return b.coord.StartScan()

	case CommandFetch:
		return b.coord.FetchRelayDevices()

	case CommandPoll:
		return b.coord.PollRelay()

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func (b *Bridge) record(action, entityType, entityID string, req Request) {
	if b.auditor == nil {
		return
	}
	b.auditor.Record(audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     req.UserID,
		Source:     audit.SourceMQTT,
		CreatedAt:  b.now(),
	})
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("mqtt bridge marshal failed", "topic", topic, "error", err)
		return
	}
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		b.logger.Warn("mqtt bridge publish failed", "topic", topic, "error", err)
	}
}

// OnMessage publishes a classified answer.
func (b *Bridge) OnMessage(m channel.Message) {
	ts := m.Time
	if ts.IsZero() {
		ts = b.now()
	}
	b.publish(b.topics.DeviceAnswer(m.Channel.String(), m.DeviceID), AnswerMessage{
		DeviceID:  m.DeviceID,
		Channel:   m.Channel.String(),
		Kind:      m.Answer.Kind,
		Raw:       m.Answer.Raw,
		ID:        m.Answer.ID,
		Payload:   m.Answer.Payload,
		Fields:    m.Answer.Fields,
		Timestamp: ts,
	})
}

// OnCommandSent publishes a transmission attempt.
func (b *Bridge) OnCommandSent(c channel.Command) {
	msg := SentMessage{
		DeviceID:  c.DeviceID,
		Channel:   c.Channel.String(),
		Text:      c.Text,
		Signed:    c.Signed,
		Timestamp: c.Time,
	}
	if c.Err != nil {
		msg.Error = c.Err.Error()
	}
	b.publish(b.topics.DeviceSent(msg.Channel, c.DeviceID), msg)
}

// OnStatusChange publishes a status text.
func (b *Bridge) OnStatusChange(status string) {
	b.publish(b.topics.Status(), StatusMessage{Status: status, Timestamp: b.now()})
}

// OnSessionExpired publishes the loss of the management session.
func (b *Bridge) OnSessionExpired() {
	b.publish(b.topics.SessionExpired(), StatusMessage{Status: "expired", Timestamp: b.now()})
}
