package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sweiot-link/internal/device"
)

// DefaultPollInterval is the uplink poll period.
const DefaultPollInterval = 10 * time.Second

// Logger defines the logging interface used by Link.
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

// LinkOptions configures a Link.
type LinkOptions struct {
	Client   *Client
	Registry *device.Registry

	// PollInterval is the uplink poll period. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// Active reports whether the relay is the active channel. The poller
	// stops at the first tick where it returns false. Nil means always.
	Active func() bool

	// OnFrame receives the decoded port 32 payload of every poll.
	OnFrame func(deviceID, frame string)

	// OnStatus receives poll failures and poller state changes.
	OnStatus func(status string, err error)

	Logger Logger
}

// Link manages the selected Yggio device and its poller.
//
// Thread Safety: All methods are safe for concurrent use.
type Link struct {
	client   *Client
	registry *device.Registry
	interval time.Duration
	active   func() bool
	onFrame  func(string, string)
	onStatus func(string, error)
	logger   Logger

	mu         sync.Mutex
	selected   string
	pollCancel context.CancelFunc
}

// NewLink creates a relay link.
func NewLink(opts LinkOptions) *Link {
	l := &Link{
		client:   opts.Client,
		registry: opts.Registry,
		interval: opts.PollInterval,
		active:   opts.Active,
		onFrame:  opts.OnFrame,
		onStatus: opts.OnStatus,
		logger:   opts.Logger,
	}
	if l.interval <= 0 {
		l.interval = DefaultPollInterval
	}
	if l.registry == nil {
		l.registry = device.NewRegistry()
	}
	if l.active == nil {
		l.active = func() bool { return true }
	}
	if l.onFrame == nil {
		l.onFrame = func(string, string) {}
	}
	if l.onStatus == nil {
		l.onStatus = func(string, error) {}
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	return l
}

// FetchDevices replaces the registry content with every iotnode of the
// account. The selection is left alone: a device chosen while the fetch
// runs keeps its poller.
func (l *Link) FetchDevices(ctx context.Context) error {
	token, err := l.client.Authorize(ctx)
	if err != nil {
		return err
	}

	l.registry.Clear()

	nodes, err := l.client.FetchAll(ctx, token)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		l.registry.AddOrUpdate(n.Update())
	}
	l.logger.Info("yggio devices fetched", "count", len(nodes))
	return nil
}

// Select makes id the target of Send and starts polling it. A poller of a
// previous selection is stopped. An empty id deselects.
func (l *Link) Select(id string) {
	l.mu.Lock()
	l.stopPollerLocked()
	l.selected = id
	if id == "" {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.pollCancel = cancel
	l.mu.Unlock()

	l.logger.Info("yggio device selected", "device_id", id, "interval", l.interval)
	go l.poll(ctx, id)
}

// Deselect clears the selection and stops the poller.
func (l *Link) Deselect() {
	l.Select("")
}

// Selected returns the selected device ID, or "".
func (l *Link) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// Close stops the poller.
func (l *Link) Close() {
	l.mu.Lock()
	l.stopPollerLocked()
	l.mu.Unlock()
}

func (l *Link) stopPollerLocked() {
	if l.pollCancel != nil {
		l.pollCancel()
		l.pollCancel = nil
	}
}

func (l *Link) poll(ctx context.Context, id string) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if l.Selected() != id || !l.active() {
			l.logger.Info("yggio polling stopped", "device_id", id)
			l.onStatus(fmt.Sprintf("Yggio polling of %s stopped", id), nil)
			return
		}
		l.pollOnce(ctx, id)
	}
}

func (l *Link) pollOnce(ctx context.Context, id string) {
	token, err := l.client.Authorize(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.onStatus("Yggio authorization failed", err)
		}
		return
	}
	node, err := l.client.Fetch(ctx, token, id)
	if err != nil {
		if ctx.Err() == nil {
			l.onStatus("Fetching Yggio device failed", err)
		}
		return
	}
	if node.ID == "" {
		node.ID = id
	}
	l.registry.AddOrUpdate(node.Update())

	if ctx.Err() != nil || l.Selected() != id {
		return
	}
	l.logger.Debug("yggio uplink", "device_id", id)
	l.onFrame(id, node.UartText())
}

// PollNow performs one poll of the selected device outside the schedule.
func (l *Link) PollNow(ctx context.Context) error {
	id := l.Selected()
	if id == "" {
		return ErrNoDeviceSelected
	}
	l.pollOnce(ctx, id)
	return nil
}

// Send queues text as a downlink to the selected device.
func (l *Link) Send(ctx context.Context, text string) error {
	id := l.Selected()
	if id == "" {
		return ErrNoDeviceSelected
	}
	token, err := l.client.Authorize(ctx)
	if err != nil {
		return err
	}
	if err := l.client.QueueData(ctx, token, id, text); err != nil {
		return err
	}
	l.logger.Debug("yggio downlink queued", "device_id", id, "data", text)
	return nil
}

// DeviceQueue returns the pending downlinks of the selected device.
func (l *Link) DeviceQueue(ctx context.Context) (json.RawMessage, error) {
	id := l.Selected()
	if id == "" {
		return nil, ErrNoDeviceSelected
	}
	token, err := l.client.Authorize(ctx)
	if err != nil {
		return nil, err
	}
	return l.client.DeviceQueue(ctx, token, id)
}

// FlushQueue drops the pending downlinks of the selected device.
func (l *Link) FlushQueue(ctx context.Context) error {
	id := l.Selected()
	if id == "" {
		return ErrNoDeviceSelected
	}
	token, err := l.client.Authorize(ctx)
	if err != nil {
		return err
	}
	return l.client.FlushQueue(ctx, token, id)
}

// Registry returns the registry the link merges into.
func (l *Link) Registry() *device.Registry {
	return l.registry
}
