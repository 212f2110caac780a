package channel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/security"
)

type fakeLocal struct {
	mu          sync.Mutex
	session     ble.Session
	onEvent     func(ble.Event)
	writes      []string
	writeErr    error
	disconnects int
	readyCalls  int
	scans       int
	onScan      func(ble.Advertisement, error)
}

func (f *fakeLocal) Scan(onResult func(ble.Advertisement, error)) error {
	f.mu.Lock()
	f.scans++
	f.onScan = onResult
	f.mu.Unlock()
	return nil
}

func (f *fakeLocal) advertise(adv ble.Advertisement) {
	f.mu.Lock()
	onScan := f.onScan
	f.mu.Unlock()
	onScan(adv, nil)
}

func (f *fakeLocal) StopScan() {}

func (f *fakeLocal) StopAndConnect(_ string, onEvent func(ble.Event)) (ble.Session, error) {
	f.mu.Lock()
	f.session++
	s := f.session
	f.onEvent = onEvent
	f.mu.Unlock()

	onEvent(ble.Event{Type: ble.EventState, Session: s, State: ble.StateConnecting})
	return s, nil
}

func (f *fakeLocal) emit(ev ble.Event) {
	f.mu.Lock()
	onEvent := f.onEvent
	ev.Session = f.session
	f.mu.Unlock()
	if onEvent != nil {
		onEvent(ev)
	}
}

func (f *fakeLocal) discover() {
	f.emit(ble.Event{Type: ble.EventState, State: ble.StateServicesDiscovered})
}

func (f *fakeLocal) frame(s string) {
	f.emit(ble.Event{Type: ble.EventFrame, Frame: s})
}

func (f *fakeLocal) BeginSecurityCheck(ble.Session) error {
	f.emit(ble.Event{Type: ble.EventState, State: ble.StateSecurityChecking})
	return nil
}

func (f *fakeLocal) MarkReady(s ble.Session) error {
	f.mu.Lock()
	if s != f.session {
		f.mu.Unlock()
		return ble.ErrStaleSession
	}
	f.readyCalls++
	f.mu.Unlock()
	f.emit(ble.Event{Type: ble.EventState, State: ble.StateReady})
	return nil
}

func (f *fakeLocal) Write(data []byte, done func(error)) {
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	err := f.writeErr
	f.mu.Unlock()
	done(err)
}

// Disconnect reports the loss like the real link: a Disconnected event on
// the old session, then a new session number.
func (f *fakeLocal) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	onEvent, s := f.onEvent, f.session
	f.onEvent = nil
	f.session++
	f.mu.Unlock()
	if onEvent != nil {
		onEvent(ble.Event{Type: ble.EventState, Session: s, State: ble.StateDisconnected})
	}
}

func (f *fakeLocal) dropLink(cause error) {
	f.mu.Lock()
	onEvent, s := f.onEvent, f.session
	f.onEvent = nil
	f.session++
	f.mu.Unlock()
	onEvent(ble.Event{Type: ble.EventState, Session: s, State: ble.StateDisconnected, Err: cause})
}

func (f *fakeLocal) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeLocal) counts() (disconnects, ready int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects, f.readyCalls
}

type fakeRelay struct {
	mu        sync.Mutex
	selected  string
	deselects int
	queued    []string
	fetches   int
	polls     int
}

func (f *fakeRelay) FetchDevices(context.Context) error {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return nil
}

func (f *fakeRelay) Select(id string) {
	f.mu.Lock()
	f.selected = id
	f.mu.Unlock()
}

func (f *fakeRelay) Deselect() {
	f.mu.Lock()
	f.selected = ""
	f.deselects++
	f.mu.Unlock()
}

func (f *fakeRelay) Send(_ context.Context, text string) error {
	f.mu.Lock()
	f.queued = append(f.queued, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeRelay) PollNow(context.Context) error {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	return nil
}

func (f *fakeRelay) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queued...)
}

// fakeRemote is the management server seen by a real security.Signer.
type fakeRemote struct {
	mu      sync.Mutex
	info    security.SecureInfo
	err     error
	signErr error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRemote) SecureDevice(ctx context.Context, _ string) (security.SecureInfo, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return security.SecureInfo{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.err
}

func (f *fakeRemote) Sign(_ context.Context, _, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	return "signed:" + message, nil
}

func (f *fakeRemote) setSignErr(err error) {
	f.mu.Lock()
	f.signErr = err
	f.mu.Unlock()
}

// fakeAuth is the management session seen by the coordinator.
type fakeAuth struct {
	mu        sync.Mutex
	owned     map[string]bool
	ownErr    error
	publicKey string
	keyCalls  int
}

func (f *fakeAuth) Login(context.Context, string, string) error { return nil }
func (f *fakeAuth) Logout()                                     {}
func (f *fakeAuth) HasValidSession() bool                       { return true }

func (f *fakeAuth) OwnsDevice(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[id], f.ownErr
}

func (f *fakeAuth) PublicKey(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCalls++
	return f.publicKey, nil
}

func (f *fakeRemote) HasValidSession() bool { return true }

type recorder struct {
	mu       sync.Mutex
	messages []Message
	statuses []string
	expired  int
	commands []Command
	adverts  []ble.Advertisement
}

func (r *recorder) OnAdvertisement(a ble.Advertisement) {
	r.mu.Lock()
	r.adverts = append(r.adverts, a)
	r.mu.Unlock()
}

func (r *recorder) OnMessage(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recorder) OnStatusChange(s string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recorder) OnSessionExpired() {
	r.mu.Lock()
	r.expired++
	r.mu.Unlock()
}

func (r *recorder) OnCommandSent(c Command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
}

func (r *recorder) hasStatus(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) expiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// harness runs a coordinator with fake links until the test ends.
type harness struct {
	coord  *Coordinator
	local  *fakeLocal
	relay  *fakeRelay
	remote *fakeRemote
	signer *security.Signer
	auth   *fakeAuth
	rec    *recorder
}

func newHarness(t *testing.T, requireSecure bool, def Channel) *harness {
	t.Helper()
	h := &harness{
		local:  &fakeLocal{},
		relay:  &fakeRelay{},
		remote: &fakeRemote{},
		auth:   &fakeAuth{},
		rec:    &recorder{},
	}
	h.signer = security.NewSigner(h.remote, requireSecure)

	coord, err := New(Options{
		Local:          h.local,
		Relay:          h.relay,
		Signer:         h.signer,
		Auth:           h.auth,
		DefaultChannel: def,
		InitDelay:      time.Millisecond,
		InitInterval:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	coord.AddListener(h.rec)
	h.coord = coord

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, "coordinator running", func() bool { return coord.running.Load() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle gives queued timers and goroutines time to misbehave.
func settle() {
	time.Sleep(30 * time.Millisecond)
}
