package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/protocol"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// Init sequence timing defaults for the local channel.
const (
	DefaultInitDelay    = 1000 * time.Millisecond
	DefaultInitInterval = 500 * time.Millisecond
)

// Logger defines the logging interface used by Coordinator.
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

// LocalLink is the BLE transport. *ble.Link satisfies it.
type LocalLink interface {
	Scan(onResult func(ble.Advertisement, error)) error
	StopScan()
	StopAndConnect(id string, onEvent func(ble.Event)) (ble.Session, error)
	BeginSecurityCheck(s ble.Session) error
	MarkReady(s ble.Session) error
	Write(data []byte, done func(error))
	Disconnect()
}

// RelayLink is the Yggio transport. *relay.Link satisfies it.
type RelayLink interface {
	FetchDevices(ctx context.Context) error
	Select(id string)
	Deselect()
	Send(ctx context.Context, text string) error
	PollNow(ctx context.Context) error
}

// Signer holds the device security status. *security.Signer satisfies it.
type Signer interface {
	RequireSecure() bool
	Status() security.Status
	PublicKey() string
	ShouldSign(cmd string) bool
	Prepare(ctx context.Context, deviceID, cmd string) (string, error)
	CheckDevice(ctx context.Context, deviceID string) (security.Check, error)
	Apply(c security.Check)
	Reset()
}

// Auth is the management server session. *security.Client satisfies it.
type Auth interface {
	Login(ctx context.Context, user, password string) error
	Logout()
	HasValidSession() bool
	OwnsDevice(ctx context.Context, deviceID string) (bool, error)
	PublicKey(ctx context.Context, deviceID string) (string, error)
}

// Options configures a Coordinator. Local and Relay are optional, but the
// default channel's link must be set. Leave a link field nil rather than
// storing a typed nil pointer in it.
type Options struct {
	Local  LocalLink
	Relay  RelayLink
	Signer Signer
	Auth   Auth

	// LocalDevices and RelayDevices back DeviceList. Both optional.
	LocalDevices *device.Registry
	RelayDevices *device.Registry

	DefaultChannel Channel

	// InitDelay and InitInterval time the local init sequence. Zero means
	// the defaults.
	InitDelay    time.Duration
	InitInterval time.Duration

	Now    func() time.Time
	Logger Logger
}

// Coordinator routes commands and answers between callers and the active
// transport.
//
// Thread Safety: All methods are safe for concurrent use. Session state is
// owned by the goroutine running Run.
type Coordinator struct {
	local        LocalLink
	relay        RelayLink
	signer       Signer
	auth         Auth
	localDevices *device.Registry
	relayDevices *device.Registry
	initDelay    time.Duration
	initInterval time.Duration
	now          func() time.Time
	logger       Logger

	ctx    context.Context
	cancel context.CancelFunc

	loop     *fifo
	outbox   *fifo
	notifier *fifo
	running  atomic.Bool
	done     chan struct{}

	// generation mirrors session.Generation for the outbox goroutine.
	generation  atomic.Uint64
	relayActive atomic.Bool

	listenersMu sync.RWMutex
	listeners   []Listener

	session Session

	snapMu sync.RWMutex
	snap   Session
}

// outbound is a command waiting in the outbox.
type outbound struct {
	gen      uint64
	channel  Channel
	deviceID string
	text     string
}

// New creates a coordinator. Call Run to start it.
func New(opts Options) (*Coordinator, error) {
	if opts.Signer == nil {
		return nil, ErrNoSigner
	}
	switch {
	case opts.DefaultChannel == Local && opts.Local == nil,
		opts.DefaultChannel == Relay && opts.Relay == nil:
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, opts.DefaultChannel)
	}

	c := &Coordinator{
		local:        opts.Local,
		relay:        opts.Relay,
		signer:       opts.Signer,
		auth:         opts.Auth,
		localDevices: opts.LocalDevices,
		relayDevices: opts.RelayDevices,
		initDelay:    opts.InitDelay,
		initInterval: opts.InitInterval,
		now:          opts.Now,
		logger:       opts.Logger,
		loop:         newFIFO(),
		outbox:       newFIFO(),
		notifier:     newFIFO(),
		done:         make(chan struct{}),
		session:      Session{Channel: opts.DefaultChannel},
	}
	if c.initDelay <= 0 {
		c.initDelay = DefaultInitDelay
	}
	if c.initInterval <= 0 {
		c.initInterval = DefaultInitInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.relayActive.Store(opts.DefaultChannel == Relay)
	c.publish()
	return c, nil
}

// AddListener registers l for all subsequent events.
func (c *Coordinator) AddListener(l Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

// Run processes events until ctx is cancelled. It may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	c.logger.Info("channel coordinator started", "channel", c.session.Channel.String())

	var wg sync.WaitGroup
	wg.Go(func() { c.outbox.run(c.ctx, nil) })
	wg.Go(func() { c.notifier.run(c.ctx, nil) })

	c.loop.run(c.ctx, c.publish)
	close(c.done)
	wg.Wait()

	c.logger.Info("channel coordinator stopped")
	return nil
}

// call runs fn on the loop and waits for its result.
func (c *Coordinator) call(fn func() error) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	c.loop.push(func() {
		err := fn()
		c.publish()
		reply <- err
	})
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrNotRunning
	}
}

// publish copies the session for readers. Runs on the loop.
func (c *Coordinator) publish() {
	s := c.session.clone()
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
}

// Snapshot returns the current coordinator state.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.RLock()
	s := c.snap.clone()
	c.snapMu.RUnlock()

	return Snapshot{
		Channel:         s.Channel,
		Generation:      s.Generation,
		DeviceID:        s.DeviceID(),
		LocalState:      s.LocalState,
		LocalDeviceID:   s.LocalDeviceID,
		RelayDeviceID:   s.RelayDeviceID,
		InitSent:        s.InitSent,
		FirmwareVersion: s.FirmwareVersion,
		SensorVersion:   s.SensorVersion,
		LastData:        s.LastData,
		SecurityStatus:  c.signer.Status(),
		RequireSecure:   c.signer.RequireSecure(),
		LoggedIn:        c.auth != nil && c.auth.HasValidSession(),
	}
}

// CurrentChannel returns the active channel.
func (c *Coordinator) CurrentChannel() Channel {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.Channel
}

// SecurityStatus returns the security status of the connected device.
func (c *Coordinator) SecurityStatus() security.Status {
	return c.signer.Status()
}

// DeviceList returns the devices known to the active channel.
func (c *Coordinator) DeviceList() []device.Device {
	reg := c.localDevices
	if c.CurrentChannel() == Relay {
		reg = c.relayDevices
	}
	if reg == nil {
		return []device.Device{}
	}
	return reg.Get()
}

// Device returns the device with id from the registry of the active
// channel.
func (c *Coordinator) Device(id string) (device.Device, error) {
	reg := c.localDevices
	if c.CurrentChannel() == Relay {
		reg = c.relayDevices
	}
	if reg == nil {
		reg = device.NewRegistry()
	}
	return reg.Find(id)
}

// Send transmits text to the device of the active channel.
func (c *Coordinator) Send(text string) error {
	if text == "" {
		return ErrEmptyCommand
	}
	return c.call(func() error {
		if c.session.DeviceID() == "" {
			return ErrNoDevice
		}
		c.enqueue(text)
		return nil
	})
}

// SendInitSequence sends the init commands to the device of the active
// channel. It does nothing when the sequence was already sent in this
// session. A local device must be ready; the sequence follows on its own
// once it is.
func (c *Coordinator) SendInitSequence() error {
	return c.call(func() error {
		if c.session.DeviceID() == "" {
			return ErrNoDevice
		}
		if c.session.Channel == Local && c.session.LocalState != ble.StateReady {
			return fmt.Errorf("%w: %s", ErrNotReady, c.session.LocalState)
		}
		c.startInit()
		return nil
	})
}

// SwitchChannel makes ch the active channel. Leaving the local channel
// disconnects the BLE session; leaving the relay deselects its device.
func (c *Coordinator) SwitchChannel(ch Channel) error {
	return c.call(func() error {
		if ch == c.session.Channel {
			return nil
		}
		if err := c.linkAvailable(ch); err != nil {
			return err
		}

		switch c.session.Channel {
		case Local:
			c.local.Disconnect()
			c.teardown(Local, nil)
		case Relay:
			c.teardown(Relay, nil)
		}

		c.session.Channel = ch
		c.relayActive.Store(ch == Relay)
		c.logger.Info("channel switched", "channel", ch.String())
		c.status(fmt.Sprintf("Channel switched to %s", ch.DisplayName()))
		return nil
	})
}

// StartScan starts a BLE scan. A live local session is disconnected and the
// local device list is cleared.
func (c *Coordinator) StartScan() error {
	return c.call(func() error {
		if err := c.requireChannel(Local); err != nil {
			return err
		}
		if c.session.LocalDeviceID != "" {
			c.teardown(Local, nil)
		}
		err := c.local.Scan(func(adv ble.Advertisement, err error) {
			if err != nil {
				c.loop.push(func() { c.transportFailed(err) })
				return
			}
			c.notify(func(l Listener) {
				if al, ok := l.(AdvertisementListener); ok {
					al.OnAdvertisement(adv)
				}
			})
		})
		if err != nil {
			return err
		}
		c.session.LocalState = ble.StateScanning
		c.status("BLE scanning ...")
		return nil
	})
}

// StopScan stops a running BLE scan.
func (c *Coordinator) StopScan() error {
	return c.call(func() error {
		if err := c.requireChannel(Local); err != nil {
			return err
		}
		c.local.StopScan()
		if c.session.LocalState == ble.StateScanning {
			c.session.LocalState = ble.StateIdle
		}
		return nil
	})
}

// Connect connects the local link to the device with id. The secure-check
// and init sequence follow once services are discovered.
func (c *Coordinator) Connect(id string) error {
	return c.call(func() error {
		if err := c.requireChannel(Local); err != nil {
			return err
		}
		if c.session.LocalDeviceID != "" {
			c.teardown(Local, nil)
		}

		c.newGeneration()
		gen := c.session.Generation
		s, err := c.local.StopAndConnect(id, func(ev ble.Event) {
			c.loop.push(func() { c.handleLocalEvent(gen, ev) })
		})
		if err != nil {
			return err
		}
		c.session.LocalSession = s
		c.session.LocalDeviceID = id
		return nil
	})
}

// Disconnect closes the local session or deselects the relay device.
func (c *Coordinator) Disconnect() error {
	return c.call(func() error {
		switch c.session.Channel {
		case Local:
			if c.local == nil {
				return ErrChannelUnavailable
			}
			c.local.Disconnect()
			// The link reports no event when nothing was connected.
			c.teardown(Local, nil)
		case Relay:
			if c.relay == nil {
				return ErrChannelUnavailable
			}
			c.teardown(Relay, nil)
		}
		return nil
	})
}

// FetchRelayDevices reloads the Yggio device list. The current selection
// is dropped. The fetch runs in the background; its outcome is reported as
// a status change.
func (c *Coordinator) FetchRelayDevices() error {
	return c.call(func() error {
		if err := c.requireChannel(Relay); err != nil {
			return err
		}
		c.teardown(Relay, nil)
		c.status("Yggio fetching devices ...")

		gen := c.session.Generation
		go func() {
			err := c.relay.FetchDevices(c.ctx)
			c.loop.push(func() {
				if err != nil {
					if gen != c.session.Generation {
						c.logger.Debug("dropping stale fetch error", "error", err)
						return
					}
					c.relayFailed(err)
					return
				}
				n := 0
				if c.relayDevices != nil {
					n = c.relayDevices.Len()
				}
				c.status(fmt.Sprintf("Yggio fetched %d devices", n))
			})
		}()
		return nil
	})
}

// SelectRelayDevice selects the Yggio device with id, starts polling it and
// queues the init sequence. An empty id deselects.
func (c *Coordinator) SelectRelayDevice(id string) error {
	return c.call(func() error {
		if err := c.requireChannel(Relay); err != nil {
			return err
		}
		if c.session.RelayDeviceID != "" {
			c.teardown(Relay, nil)
		}
		if id == "" {
			return nil
		}

		c.newGeneration()
		c.session.RelayDeviceID = id
		c.relay.Select(id)
		c.status(fmt.Sprintf("Yggio device %s chosen", id))
		c.startInit()
		return nil
	})
}

// PollRelay polls the selected Yggio device once, outside the poller
// schedule. The frame arrives through the OnFrame hook.
func (c *Coordinator) PollRelay() error {
	return c.call(func() error {
		if err := c.requireChannel(Relay); err != nil {
			return err
		}
		if c.session.RelayDeviceID == "" {
			return ErrNoDevice
		}

		gen := c.session.Generation
		go func() {
			err := c.relay.PollNow(c.ctx)
			if err == nil {
				return
			}
			c.loop.push(func() {
				if gen == c.session.Generation {
					c.relayFailed(err)
				}
			})
		}()
		return nil
	})
}

// SetPublicKey writes the public key of the current device to it. The key
// learnt by the secure-check is used; without one it is requested from the
// management server, which blocks on the request.
func (c *Coordinator) SetPublicKey(ctx context.Context) error {
	snap := c.Snapshot()
	if snap.DeviceID == "" {
		return ErrNoDevice
	}

	key := c.signer.PublicKey()
	if key == "" && c.auth != nil && c.auth.HasValidSession() {
		fetched, err := c.auth.PublicKey(ctx, snap.DeviceID)
		if err != nil {
			return err
		}
		key = fetched
	}
	if key == "" {
		return ErrNoPublicKey
	}

	return c.call(func() error {
		if c.session.Generation != snap.Generation || c.session.DeviceID() != snap.DeviceID {
			return ErrNoDevice
		}
		c.enqueue(protocol.SetPublicKeyCmd(key))
		return nil
	})
}

// RemovePublicKey removes the public key from the current device.
func (c *Coordinator) RemovePublicKey() error {
	return c.call(func() error {
		if c.session.DeviceID() == "" {
			return ErrNoDevice
		}
		c.enqueue(protocol.RemovePublicKeyCmd())
		return nil
	})
}

// CheckOwnership asks the management server whether the logged in user
// owns the device with id. It blocks on the request.
func (c *Coordinator) CheckOwnership(ctx context.Context, id string) (bool, error) {
	if c.auth == nil {
		return false, fmt.Errorf("%w: management server", ErrChannelUnavailable)
	}
	if id == "" {
		return false, device.ErrInvalidDeviceID
	}
	owned, err := c.auth.OwnsDevice(ctx, id)
	if err != nil {
		if c.isUnauthorized(err) {
			c.sessionExpired()
		}
		return false, err
	}
	return owned, nil
}

// Login opens a management server session. It blocks on the login request.
func (c *Coordinator) Login(ctx context.Context, user, password string) error {
	if c.auth == nil {
		return fmt.Errorf("%w: management server", ErrChannelUnavailable)
	}
	if err := c.auth.Login(ctx, user, password); err != nil {
		return err
	}
	c.logger.Info("management login", "user", user)
	c.pushStatus(fmt.Sprintf("Logged in as %s", user))
	return nil
}

// Logout drops the management server session.
func (c *Coordinator) Logout() {
	if c.auth == nil {
		return
	}
	c.auth.Logout()
	c.pushStatus("Logged out")
}

// RelayActive reports whether the relay is the active channel. It is the
// poller's Active hook.
func (c *Coordinator) RelayActive() bool {
	return c.relayActive.Load()
}

// HandleRelayFrame accepts a frame polled for deviceID. It is the poller's
// OnFrame hook.
func (c *Coordinator) HandleRelayFrame(deviceID, frame string) {
	c.loop.push(func() {
		if c.session.Channel != Relay || c.session.RelayDeviceID != deviceID {
			c.logger.Debug("dropping frame for unselected relay device", "device_id", deviceID)
			return
		}
		c.handleFrame(Relay, deviceID, frame)
	})
}

// HandleRelayStatus accepts a poller status. It is the poller's OnStatus
// hook.
func (c *Coordinator) HandleRelayStatus(status string, err error) {
	c.loop.push(func() {
		if err != nil {
			c.relayFailed(err)
			return
		}
		c.status(status)
	})
}

func (c *Coordinator) linkAvailable(ch Channel) error {
	if (ch == Local && c.local == nil) || (ch == Relay && c.relay == nil) {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, ch)
	}
	return nil
}

func (c *Coordinator) requireChannel(ch Channel) error {
	if c.session.Channel != ch {
		return fmt.Errorf("%w: %s is active", ErrWrongChannel, c.session.Channel)
	}
	return c.linkAvailable(ch)
}

func (c *Coordinator) newGeneration() {
	c.session.Generation++
	c.generation.Store(c.session.Generation)
}

// teardown resets the session after ch lost its device.
func (c *Coordinator) teardown(ch Channel, cause error) {
	var id string
	switch ch {
	case Local:
		id = c.session.LocalDeviceID
		c.session.LocalDeviceID = ""
		c.session.LocalSession = 0
		c.session.LocalState = ble.StateDisconnected
	case Relay:
		id = c.session.RelayDeviceID
		c.session.RelayDeviceID = ""
		if c.relay != nil {
			c.relay.Deselect()
		}
	}

	c.newGeneration()
	c.session.InitSent = false
	c.session.FirmwareVersion = ""
	c.session.SensorVersion = ""
	c.session.LastData = nil
	c.signer.Reset()

	if cause != nil {
		c.status(fmt.Sprintf("%s error: %v", ch.DisplayName(), cause))
	}
	if id != "" {
		c.logger.Info("device released", "channel", ch.String(), "device_id", id)
		c.status(fmt.Sprintf("%s device %s disconnected / unchosen", ch.DisplayName(), id))
	}
}

func (c *Coordinator) transportFailed(err error) {
	c.logger.Warn("local transport error", "error", err)
	c.status(fmt.Sprintf("BLE error: %v", err))
	if c.session.Channel == Local && c.local != nil {
		c.local.Disconnect()
		c.teardown(Local, nil)
	}
}

func (c *Coordinator) relayFailed(err error) {
	c.logger.Warn("relay error", "error", err)
	c.status(fmt.Sprintf("Yggio error: %v", err))
}

// status notifies listeners. Runs on the loop.
func (c *Coordinator) status(text string) {
	c.logger.Debug("status change", "status", text)
	c.notify(func(l Listener) { l.OnStatusChange(text) })
}

// pushStatus notifies listeners from outside the loop.
func (c *Coordinator) pushStatus(text string) {
	c.loop.push(func() { c.status(text) })
}

func (c *Coordinator) sessionExpired() {
	c.logger.Warn("management session expired")
	c.notify(func(l Listener) { l.OnSessionExpired() })
}

func (c *Coordinator) notify(fn func(Listener)) {
	c.notifier.push(func() {
		c.listenersMu.RLock()
		ls := append([]Listener(nil), c.listeners...)
		c.listenersMu.RUnlock()
		for _, l := range ls {
			fn(l)
		}
	})
}

func (c *Coordinator) isUnauthorized(err error) bool {
	return errors.Is(err, security.ErrUnauthorized)
}
