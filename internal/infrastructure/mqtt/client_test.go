package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
)

// testConfig returns a broker configuration for tests that need one.
// Those tests run only when SWEIOT_TEST_MQTT is set and expect a broker at
// 127.0.0.1:1883.
func testConfig(t *testing.T, clientID string) config.MQTTConfig {
	t.Helper()
	if os.Getenv("SWEIOT_TEST_MQTT") == "" {
		t.Skip("SWEIOT_TEST_MQTT not set; skipping broker test")
	}
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "sweiot-test",
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("sweiot")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "sweiot/system/status"},
		{"status", topics.Status(), "sweiot/status"},
		{"session expired", topics.SessionExpired(), "sweiot/session/expired"},
		{"answer", topics.DeviceAnswer("local", "dev-1"), "sweiot/device/local/dev-1/answer"},
		{"sent", topics.DeviceSent("relay", "n1"), "sweiot/device/relay/n1/sent"},
		{"command", topics.Command("send"), "sweiot/command/send"},
		{"command result", topics.CommandResult("send"), "sweiot/command/send/result"},
		{"all commands", topics.AllCommands(), "sweiot/command/+"},
		{"all answers", topics.AllAnswers(), "sweiot/device/+/+/answer"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	if got := NewTopics("").Status(); got != "sweiot/status" {
		t.Errorf("empty prefix Status() = %q", got)
	}
	if got := NewTopics("/site-7/").Status(); got != "site-7/status" {
		t.Errorf("trimmed prefix Status() = %q", got)
	}
	if got := (Topics{}).Status(); got != "sweiot/status" {
		t.Errorf("zero Topics Status() = %q", got)
	}
}

func TestTopics_CommandName(t *testing.T) {
	topics := NewTopics("sweiot")
	tests := map[string]string{
		"sweiot/command/send":    "send",
		"sweiot/command/channel": "channel",
		"sweiot/command/":        "",
		"sweiot/command/a/b":     "",
		"other/command/send":     "",
		"sweiot/status":          "",
	}
	for topic, want := range tests {
		if got := topics.CommandName(topic); got != want {
			t.Errorf("CommandName(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(statusPayload("offline", "link-1", "graceful_shutdown"), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "link-1" || msg.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", msg.Timestamp, err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker", Port: 8883, TLS: true, ClientID: "link"},
		Auth:   config.MQTTAuthConfig{Username: "u", Password: "p"},
	}
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker:8883" {
		t.Errorf("Servers = %v, want ssl://broker:8883", opts.Servers)
	}
	if opts.ClientID != "link" || opts.Username != "u" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS not configured with minimum version")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want %v", err, ErrNotConnected)
	}
	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) error = %v, want %v", err, ErrInvalidTopic)
	}
	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want %v", err, ErrInvalidQoS)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want %v", err, ErrSubscribeFailed)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want %v", err, ErrNotConnected)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestClient_PublishTooLarge(t *testing.T) {
	c := &Client{}
	err := c.Publish("t", make([]byte, maxPayloadSize+1), 0, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversized) error = %v, want %v", err, ErrPublishFailed)
	}
}

func TestConnect_Refused(t *testing.T) {
	cfg := testConfig(t, "sweiot-test-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want %v", err, ErrConnectionFailed)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub, err := Connect(testConfig(t, "sweiot-test-pub"))
	if err != nil {
		t.Fatalf("Connect(pub) error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(testConfig(t, "sweiot-test-sub"))
	if err != nil {
		t.Fatalf("Connect(sub) error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	topic := sub.Topics().Command("send")
	err = sub.Subscribe(sub.Topics().AllCommands(), 1, func(topic string, payload []byte) error {
		received <- sub.Topics().CommandName(topic) + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(sub.Topics().AllCommands()) || sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)
	if err := pub.Publish(topic, []byte("version?"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "send=version?" {
			t.Errorf("received %q, want send=version?", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}
