package ble

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sweiot-link/internal/device"
)

const waitTimeout = 2 * time.Second

type fakeAdapter struct {
	mu           sync.Mutex
	adverts      []Advertisement
	stop         chan struct{}
	scanErr      error
	connectErr   error
	peripheral   *fakePeripheral
	onDisconnect func(string)
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(cb func(Advertisement)) error {
	a.mu.Lock()
	if a.scanErr != nil {
		a.mu.Unlock()
		return a.scanErr
	}
	stop := make(chan struct{})
	a.stop = stop
	adverts := a.adverts
	a.mu.Unlock()

	for _, adv := range adverts {
		cb(adv)
	}
	<-stop
	return nil
}

func (a *fakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop == nil {
		return errors.New("not scanning")
	}
	close(a.stop)
	a.stop = nil
	return nil
}

func (a *fakeAdapter) Connect(id string) (Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.peripheral.id = id
	return a.peripheral, nil
}

func (a *fakeAdapter) SetDisconnectHandler(cb func(string)) {
	a.mu.Lock()
	a.onDisconnect = cb
	a.mu.Unlock()
}

type fakePeripheral struct {
	mu           sync.Mutex
	id           string
	noService    bool
	omitNotify   bool
	notify       func([]byte)
	writes       []string
	writeErr     error
	disconnected int
}

func (p *fakePeripheral) ID() string { return p.id }

func (p *fakePeripheral) DiscoverCharacteristics(service string, uuids ...string) (map[string]Characteristic, error) {
	if p.noService {
		return nil, ErrServiceNotFound
	}
	out := map[string]Characteristic{UARTWriteUUID: fakeChar{p}}
	if !p.omitNotify {
		out[UARTNotifyUUID] = fakeChar{p}
	}
	return out, nil
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	p.disconnected++
	p.mu.Unlock()
	return nil
}

func (p *fakePeripheral) push(frame string) {
	p.mu.Lock()
	cb := p.notify
	p.mu.Unlock()
	cb([]byte(frame))
}

func (p *fakePeripheral) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

type fakeChar struct{ p *fakePeripheral }

func (c fakeChar) Write(b []byte) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.p.writeErr != nil {
		return c.p.writeErr
	}
	c.p.writes = append(c.p.writes, string(b))
	return nil
}

func (c fakeChar) EnableNotifications(cb func([]byte)) error {
	c.p.mu.Lock()
	c.p.notify = cb
	c.p.mu.Unlock()
	return nil
}

func newTestLink(t *testing.T) (*Link, *fakeAdapter, *device.Registry) {
	t.Helper()
	adapter := &fakeAdapter{peripheral: &fakePeripheral{}}
	reg := device.NewRegistry()
	return NewLink(adapter, Options{Registry: reg}), adapter, reg
}

// waitFor receives events until match returns true.
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for link event")
			return Event{}
		}
	}
}

func isState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventState && ev.State == s }
}

func connectReady(t *testing.T, l *Link) (Session, chan Event) {
	t.Helper()
	events := make(chan Event, 32)
	s, err := l.StopAndConnect("E5:B4:ED:28:8D:E8", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("StopAndConnect() error = %v", err)
	}
	waitFor(t, events, isState(StateServicesDiscovered))
	if err := l.MarkReady(s); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	return s, events
}

func TestLink_ScanFiltersAdvertisements(t *testing.T) {
	l, adapter, reg := newTestLink(t)
	adapter.adverts = []Advertisement{
		{ID: "a", Name: "sweiot", RSSI: -60, ManufacturerData: []byte{0x59, 0x00}},
		{ID: "b", RSSI: -70},
		{ID: "c", ManufacturerData: []byte{1}},
	}
	reg.AddOrUpdate(device.Update{ID: "stale"})

	results := make(chan Advertisement, 8)
	if err := l.Scan(func(adv Advertisement, err error) {
		if err == nil {
			results <- adv
		}
	}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	select {
	case adv := <-results:
		if adv.ID != "a" {
			t.Errorf("reported %q, want a", adv.ID)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no advertisement reported")
	}

	if l.State() != StateScanning {
		t.Errorf("State() = %v, want scanning", l.State())
	}
	if reg.Len() != 1 || !reg.IsPresent("a") {
		t.Errorf("registry = %+v, want only a", reg.Get())
	}

	l.StopScan()
	if l.State() != StateIdle {
		t.Errorf("State() after StopScan = %v, want idle", l.State())
	}
}

func TestLink_SecondScanRejected(t *testing.T) {
	l, _, _ := newTestLink(t)
	if err := l.Scan(nil); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	defer l.StopScan()

	if err := l.Scan(nil); !errors.Is(err, ErrAlreadyScanning) {
		t.Errorf("second Scan() error = %v, want ErrAlreadyScanning", err)
	}
}

func TestLink_ScanTimeout(t *testing.T) {
	adapter := &fakeAdapter{peripheral: &fakePeripheral{}}
	l := NewLink(adapter, Options{ScanTimeout: 20 * time.Millisecond})

	errs := make(chan error, 1)
	if err := l.Scan(func(_ Advertisement, err error) {
		if err != nil {
			errs <- err
		}
	}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrScanTimeout) {
			t.Errorf("scan error = %v, want ErrScanTimeout", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("scan did not time out")
	}
	if l.State() != StateIdle {
		t.Errorf("State() = %v, want idle", l.State())
	}
}

func TestLink_ScanFailure(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	adapter.scanErr = errors.New("radio off")

	errs := make(chan error, 1)
	_ = l.Scan(func(_ Advertisement, err error) { errs <- err })

	select {
	case err := <-errs:
		if !errors.Is(err, ErrScanFailed) {
			t.Errorf("scan error = %v, want ErrScanFailed", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("scan failure not reported")
	}
}

func TestLink_ConnectLifecycle(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	_ = l.Scan(nil)

	events := make(chan Event, 32)
	s, err := l.StopAndConnect("E5:B4:ED:28:8D:E8", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("StopAndConnect() error = %v", err)
	}

	waitFor(t, events, isState(StateConnecting))
	waitFor(t, events, isState(StateServicesDiscovered))

	if err := l.BeginSecurityCheck(s); err != nil {
		t.Fatalf("BeginSecurityCheck() error = %v", err)
	}
	if l.State() != StateSecurityChecking {
		t.Errorf("State() = %v, want security_checking", l.State())
	}
	if err := l.MarkReady(s); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	if l.State() != StateReady {
		t.Errorf("State() = %v, want ready", l.State())
	}
	if l.DeviceID() != "E5:B4:ED:28:8D:E8" {
		t.Errorf("DeviceID() = %q", l.DeviceID())
	}

	adapter.peripheral.push("=version?1.4.2")
	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventFrame })
	if ev.Frame != "=version?1.4.2" || ev.Session != s {
		t.Errorf("frame event = %+v", ev)
	}
}

func TestLink_InvalidTransition(t *testing.T) {
	l, _, _ := newTestLink(t)
	s, _ := connectReady(t, l)

	if err := l.BeginSecurityCheck(s); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginSecurityCheck from ready error = %v, want ErrInvalidTransition", err)
	}
}

func TestLink_WritesInOrder(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	connectReady(t, l)

	cmds := []string{"version?", "acc_ver?", "deb_log:1", "set_clk:1700000000"}
	var wg sync.WaitGroup
	for _, cmd := range cmds {
		wg.Add(1)
		l.Write([]byte(cmd), func(err error) {
			if err != nil {
				t.Errorf("write error = %v", err)
			}
			wg.Done()
		})
	}
	wg.Wait()

	got := adapter.peripheral.written()
	if len(got) != len(cmds) {
		t.Fatalf("writes = %q, want %q", got, cmds)
	}
	for i := range cmds {
		if got[i] != cmds[i] {
			t.Errorf("write %d = %q, want %q", i, got[i], cmds[i])
		}
	}
}

func TestLink_WriteWithoutDevice(t *testing.T) {
	l, _, _ := newTestLink(t)

	var got error
	called := false
	l.Write([]byte("version?"), func(err error) {
		called = true
		got = err
	})

	if !called {
		t.Fatal("callback not invoked synchronously")
	}
	if !errors.Is(got, ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", got)
	}
}

func TestLink_WriteFailure(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	connectReady(t, l)
	adapter.peripheral.writeErr = errors.New("gatt error")

	errs := make(chan error, 1)
	l.Write([]byte("version?"), func(err error) { errs <- err })

	select {
	case err := <-errs:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("write error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("write callback not invoked")
	}
}

func TestLink_MissingUART(t *testing.T) {
	tests := []struct {
		name string
		p    *fakePeripheral
		want error
	}{
		{"service", &fakePeripheral{noService: true}, ErrServiceNotFound},
		{"notify characteristic", &fakePeripheral{omitNotify: true}, ErrCharacteristicNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{peripheral: tt.p}
			l := NewLink(adapter, Options{})

			events := make(chan Event, 8)
			_, _ = l.StopAndConnect("x", func(ev Event) { events <- ev })

			ev := waitFor(t, events, isState(StateDisconnected))
			if !errors.Is(ev.Err, tt.want) {
				t.Errorf("disconnect cause = %v, want %v", ev.Err, tt.want)
			}
			if l.State() != StateDisconnected {
				t.Errorf("State() = %v, want disconnected", l.State())
			}
			if tt.p.disconnected == 0 {
				t.Error("peripheral was not disconnected")
			}
		})
	}
}

func TestLink_ConnectFailed(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	adapter.connectErr = errors.New("timeout")

	events := make(chan Event, 8)
	_, _ = l.StopAndConnect("x", func(ev Event) { events <- ev })

	ev := waitFor(t, events, isState(StateDisconnected))
	if !errors.Is(ev.Err, ErrConnectFailed) {
		t.Errorf("disconnect cause = %v, want ErrConnectFailed", ev.Err)
	}
}

func TestLink_DisconnectInvalidatesSession(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	s, events := connectReady(t, l)

	l.Disconnect()

	ev := waitFor(t, events, isState(StateDisconnected))
	if ev.Err != nil {
		t.Errorf("requested disconnect carried error %v", ev.Err)
	}
	if l.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", l.State())
	}
	if err := l.MarkReady(s); !errors.Is(err, ErrStaleSession) {
		t.Errorf("MarkReady(old session) error = %v, want ErrStaleSession", err)
	}

	adapter.peripheral.push("=late")
	ev = waitFor(t, events, func(ev Event) bool { return ev.Type == EventFrame })
	if !errors.Is(ev.Err, ErrInterrupted) {
		t.Errorf("late frame error = %v, want ErrInterrupted", ev.Err)
	}

	var got error
	l.Write([]byte("version?"), func(err error) { got = err })
	if !errors.Is(got, ErrNotConnected) {
		t.Errorf("Write after disconnect error = %v, want ErrNotConnected", got)
	}
}

func TestLink_RemoteDisconnect(t *testing.T) {
	l, adapter, _ := newTestLink(t)
	_, events := connectReady(t, l)

	adapter.mu.Lock()
	cb := adapter.onDisconnect
	adapter.mu.Unlock()
	cb("E5:B4:ED:28:8D:E8")

	ev := waitFor(t, events, isState(StateDisconnected))
	if !errors.Is(ev.Err, ErrLinkLost) {
		t.Errorf("disconnect cause = %v, want ErrLinkLost", ev.Err)
	}
}

func TestState_String(t *testing.T) {
	if StateServicesDiscovered.String() != "services_discovered" {
		t.Errorf("String() = %q", StateServicesDiscovered.String())
	}
	if State(42).String() != "unknown" {
		t.Errorf("out of range state = %q", State(42).String())
	}
	if !StateReady.Connected() || StateIdle.Connected() {
		t.Error("Connected() mismatch")
	}
}
