package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "sweiot"

// Topics builds topic strings under one prefix.
//
// Layout:
//
//	{prefix}/system/status                        retained online/offline
//	{prefix}/status                               coordinator status text
//	{prefix}/session/expired                      management session expired
//	{prefix}/device/{channel}/{device_id}/answer  classified answers
//	{prefix}/device/{channel}/{device_id}/sent    transmitted commands
//	{prefix}/command/{name}                       inbound requests
//	{prefix}/command/{name}/result                request outcome
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. An empty prefix means
// DefaultTopicPrefix; surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	p := t.prefix
	if p == "" {
		p = DefaultTopicPrefix
	}
	return p + "/" + strings.Join(parts, "/")
}

// SystemStatus is the retained presence topic, also used as the will.
func (t Topics) SystemStatus() string { return t.join("system", "status") }

// Status carries coordinator status texts.
func (t Topics) Status() string { return t.join("status") }

// SessionExpired is published when the management session is rejected.
func (t Topics) SessionExpired() string { return t.join("session", "expired") }

// DeviceAnswer carries classified answers of one device.
func (t Topics) DeviceAnswer(channel, deviceID string) string {
	return t.join("device", channel, deviceID, "answer")
}

// DeviceSent carries commands transmitted to one device.
func (t Topics) DeviceSent(channel, deviceID string) string {
	return t.join("device", channel, deviceID, "sent")
}

// Command is an inbound request topic, e.g. Command("send").
func (t Topics) Command(name string) string { return t.join("command", name) }

// CommandResult carries the outcome of an inbound request. It sits one
// level below Command so AllCommands does not match it.
func (t Topics) CommandResult(name string) string { return t.join("command", name, "result") }

// AllCommands matches every inbound request.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// AllAnswers matches the answers of every device.
func (t Topics) AllAnswers() string { return t.join("device", "+", "+", "answer") }

// CommandName returns the last level of a command topic, or "" when topic
// is not one.
func (t Topics) CommandName(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.join("command")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
