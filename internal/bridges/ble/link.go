package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sweiot-link/internal/device"
)

// DefaultScanTimeout is the hard ceiling of a scan.
const DefaultScanTimeout = 10 * time.Minute

// stopRetryInterval paces repeated StopScan calls while waiting for the
// adapter's Scan to return.
var stopRetryInterval = 100 * time.Millisecond

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

// EventType distinguishes link events.
type EventType int

const (
	// EventState reports a state change. Err carries the cause of an
	// unrequested disconnect.
	EventState EventType = iota

	// EventFrame reports a notification received from the device.
	EventFrame
)

// Event is delivered to the callback passed to StopAndConnect.
type Event struct {
	Type    EventType
	Session Session
	State   State
	Frame   string
	Err     error
}

// Options configures a Link.
type Options struct {
	// ScanTimeout caps a scan. Zero means DefaultScanTimeout.
	ScanTimeout time.Duration

	// Registry receives every reported advertisement. A scan clears it.
	// Optional.
	Registry *device.Registry

	Logger Logger
}

// Link owns the local connection lifecycle.
//
// Thread Safety: All methods are safe for concurrent use.
type Link struct {
	adapter     Adapter
	registry    *device.Registry
	scanTimeout time.Duration
	logger      Logger

	mu       sync.Mutex
	state    State
	session  Session
	scanGen  uint64
	scanStop context.CancelFunc
	conn     *connection
}

// connection holds the handles of one session.
type connection struct {
	session    Session
	deviceID   string
	onEvent    func(Event)
	peripheral Peripheral
	tx         Characteristic
	queue      []writeRequest
	wake       chan struct{}
	done       chan struct{}
}

type writeRequest struct {
	data []byte
	done func(error)
}

// NewLink creates a link on top of adapter.
func NewLink(adapter Adapter, opts Options) *Link {
	l := &Link{
		adapter:     adapter,
		registry:    opts.Registry,
		scanTimeout: opts.ScanTimeout,
		logger:      opts.Logger,
		state:       StateIdle,
	}
	if l.scanTimeout <= 0 {
		l.scanTimeout = DefaultScanTimeout
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	adapter.SetDisconnectHandler(l.handleRemoteDisconnect)
	return l
}

// Enable powers up the radio.
func (l *Link) Enable() error {
	return l.adapter.Enable()
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Session returns the current session.
func (l *Link) Session() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// DeviceID returns the ID of the connected device, or "".
func (l *Link) DeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.deviceID
}

// Scan starts discovering devices. Advertisements carrying both RSSI and
// manufacturer data are merged into the registry and passed to onResult.
// When the scan ends on its own, onResult is called once more with
// ErrScanTimeout or ErrScanFailed. Stopping the scan reports nothing.
//
// A live session is disconnected first. Scan returns ErrAlreadyScanning
// when a scan is running.
func (l *Link) Scan(onResult func(Advertisement, error)) error {
	l.mu.Lock()
	if l.state == StateScanning {
		l.mu.Unlock()
		return ErrAlreadyScanning
	}
	if l.conn != nil {
		l.mu.Unlock()
		l.Disconnect()
		l.mu.Lock()
		if l.state == StateScanning {
			l.mu.Unlock()
			return ErrAlreadyScanning
		}
	}

	l.scanGen++
	gen := l.scanGen
	ctx, cancel := context.WithTimeoutCause(context.Background(), l.scanTimeout, ErrScanTimeout)
	l.scanStop = cancel
	l.state = StateScanning
	l.mu.Unlock()

	if l.registry != nil {
		l.registry.Clear()
	}
	l.logger.Info("ble scan started", "timeout", l.scanTimeout)

	go l.runScan(ctx, cancel, gen, onResult)
	return nil
}

func (l *Link) runScan(ctx context.Context, cancel context.CancelFunc, gen uint64, onResult func(Advertisement, error)) {
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- l.adapter.Scan(func(adv Advertisement) {
			if ctx.Err() != nil {
				return
			}
			if adv.RSSI == 0 || len(adv.ManufacturerData) == 0 {
				return
			}
			if l.registry != nil {
				l.registry.AddOrUpdate(device.Update{ID: adv.ID, Name: adv.Name, RSSI: device.Int(adv.RSSI)})
			}
			if onResult != nil {
				onResult(adv, nil)
			}
		})
	}()

	var result error
	select {
	case <-ctx.Done():
		l.stopAdapterScan(done)
		if errors.Is(context.Cause(ctx), ErrScanTimeout) {
			result = ErrScanTimeout
		}
	case err := <-done:
		if err != nil {
			result = fmt.Errorf("%w: %v", ErrScanFailed, err)
		}
	}

	l.mu.Lock()
	if l.scanGen == gen {
		l.scanStop = nil
		if l.state == StateScanning {
			l.state = StateIdle
		}
	}
	l.mu.Unlock()

	if result != nil {
		l.logger.Warn("ble scan ended", "error", result)
		if onResult != nil {
			onResult(Advertisement{}, result)
		}
		return
	}
	l.logger.Info("ble scan stopped")
}

// stopAdapterScan stops the adapter and waits for its Scan to return.
func (l *Link) stopAdapterScan(done <-chan error) {
	if err := l.adapter.StopScan(); err != nil {
		l.logger.Debug("stop scan", "error", err)
	}
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = l.adapter.StopScan()
		}
	}
}

// StopScan ends a running scan.
func (l *Link) StopScan() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopScanLocked()
}

func (l *Link) stopScanLocked() {
	if l.state != StateScanning {
		return
	}
	if l.scanStop != nil {
		l.scanStop()
	}
	l.state = StateIdle
}

// StopAndConnect stops any scan and connects to the device with id. Every
// state change and received frame of the new session is delivered to
// onEvent. A previous session is disconnected.
//
// Returns:
//   - Session: the session of the connection attempt
func (l *Link) StopAndConnect(id string, onEvent func(Event)) (Session, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty id", ErrUnknownDevice)
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	l.mu.Lock()
	l.stopScanLocked()
	prev, pending := l.detachLocked()
	l.session++
	c := &connection{
		session:  l.session,
		deviceID: id,
		onEvent:  onEvent,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	l.conn = c
	l.state = StateConnecting
	l.mu.Unlock()

	if prev != nil {
		l.finish(prev, pending, nil)
	}

	l.logger.Info("ble connecting", "device_id", id, "session", c.session)
	onEvent(Event{Type: EventState, Session: c.session, State: StateConnecting})

	go l.connect(c)
	return c.session, nil
}

func (l *Link) connect(c *connection) {
	p, err := l.adapter.Connect(c.deviceID)
	if err != nil {
		l.fail(c, fmt.Errorf("%w: %v", ErrConnectFailed, err))
		return
	}

	l.mu.Lock()
	if l.conn != c {
		l.mu.Unlock()
		_ = p.Disconnect()
		return
	}
	c.peripheral = p
	l.mu.Unlock()

	chars, err := p.DiscoverCharacteristics(UARTServiceUUID, UARTWriteUUID, UARTNotifyUUID)
	if err != nil {
		if !errors.Is(err, ErrServiceNotFound) && !errors.Is(err, ErrCharacteristicNotFound) {
			err = fmt.Errorf("%w: %v", ErrServiceNotFound, err)
		}
		l.fail(c, err)
		return
	}
	tx, rx := chars[UARTWriteUUID], chars[UARTNotifyUUID]
	if tx == nil || rx == nil {
		l.fail(c, ErrCharacteristicNotFound)
		return
	}

	if err := rx.EnableNotifications(func(b []byte) { l.handleNotification(c, b) }); err != nil {
		l.fail(c, fmt.Errorf("%w: %v", ErrNotifyFailed, err))
		return
	}

	l.mu.Lock()
	if l.conn != c {
		l.mu.Unlock()
		return
	}
	c.tx = tx
	l.state = StateServicesDiscovered
	l.mu.Unlock()

	go l.writeLoop(c)

	l.logger.Info("ble services discovered", "device_id", c.deviceID, "session", c.session)
	c.onEvent(Event{Type: EventState, Session: c.session, State: StateServicesDiscovered})
}

// BeginSecurityCheck moves a session from ServicesDiscovered to
// SecurityChecking.
func (l *Link) BeginSecurityCheck(s Session) error {
	return l.transition(s, StateSecurityChecking, StateServicesDiscovered)
}

// MarkReady moves a session from ServicesDiscovered or SecurityChecking
// to Ready.
func (l *Link) MarkReady(s Session) error {
	return l.transition(s, StateReady, StateServicesDiscovered, StateSecurityChecking)
}

func (l *Link) transition(s Session, to State, from ...State) error {
	l.mu.Lock()
	c := l.conn
	if c == nil || c.session != s {
		l.mu.Unlock()
		return ErrStaleSession
	}
	allowed := false
	for _, f := range from {
		if l.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, state, to)
	}
	l.state = to
	l.mu.Unlock()

	c.onEvent(Event{Type: EventState, Session: s, State: to})
	return nil
}

// Write queues data for the connected device. done is called with the
// result once the write completes. Writes are performed in call order.
//
// Without a connected device done receives ErrNotConnected before Write
// returns.
func (l *Link) Write(data []byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}

	l.mu.Lock()
	c := l.conn
	if c == nil || c.tx == nil {
		l.mu.Unlock()
		done(ErrNotConnected)
		return
	}
	c.queue = append(c.queue, writeRequest{data: append([]byte(nil), data...), done: done})
	l.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (l *Link) writeLoop(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			l.mu.Lock()
			if l.conn != c || len(c.queue) == 0 {
				l.mu.Unlock()
				break
			}
			req := c.queue[0]
			c.queue = c.queue[1:]
			tx := c.tx
			l.mu.Unlock()

			err := tx.Write(req.data)
			if err != nil {
				err = fmt.Errorf("%w: %v", ErrWriteFailed, err)
			}
			req.done(err)
		}
	}
}

func (l *Link) handleNotification(c *connection, b []byte) {
	l.mu.Lock()
	current := l.conn == c
	l.mu.Unlock()

	if !current {
		c.onEvent(Event{Type: EventFrame, Session: c.session, Err: ErrInterrupted})
		return
	}
	c.onEvent(Event{Type: EventFrame, Session: c.session, Frame: string(b)})
}

func (l *Link) handleRemoteDisconnect(id string) {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()

	if c != nil && c.deviceID == id {
		l.fail(c, ErrLinkLost)
	}
}

// Disconnect stops any scan and closes the current session.
// The state becomes Disconnected.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.stopScanLocked()
	c, pending := l.detachLocked()
	l.state = StateDisconnected
	l.mu.Unlock()

	if c != nil {
		l.logger.Info("ble disconnected", "device_id", c.deviceID, "session", c.session)
		l.finish(c, pending, nil)
	}
}

// fail tears c down with cause if it is still the current session.
func (l *Link) fail(c *connection, cause error) {
	l.mu.Lock()
	if l.conn != c {
		l.mu.Unlock()
		return
	}
	_, pending := l.detachLocked()
	l.state = StateDisconnected
	l.mu.Unlock()

	l.logger.Warn("ble session failed", "device_id", c.deviceID, "session", c.session, "error", cause)
	l.finish(c, pending, cause)
}

// detachLocked clears the session handles and returns what must be closed.
func (l *Link) detachLocked() (*connection, []writeRequest) {
	c := l.conn
	if c == nil {
		return nil, nil
	}
	l.conn = nil
	l.session++
	pending := c.queue
	c.queue = nil
	return c, pending
}

func (l *Link) finish(c *connection, pending []writeRequest, cause error) {
	close(c.done)
	for _, req := range pending {
		req.done(ErrInterrupted)
	}
	if c.peripheral != nil {
		if err := c.peripheral.Disconnect(); err != nil {
			l.logger.Debug("ble peripheral disconnect", "error", err)
		}
	}
	c.onEvent(Event{Type: EventState, Session: c.session, State: StateDisconnected, Err: cause})
}
