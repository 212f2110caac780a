package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// connectReady connects the local fake and waits for the init sequence.
func connectReady(t *testing.T, h *harness, id string) {
	t.Helper()
	if err := h.coord.Connect(id); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.local.discover()
	waitFor(t, "init sequence", func() bool { return len(h.local.sent()) == 4 })
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Local: &fakeLocal{}}); !errors.Is(err, ErrNoSigner) {
		t.Errorf("New(no signer) error = %v, want %v", err, ErrNoSigner)
	}
	signer := security.NewSigner(&fakeRemote{}, false)
	if _, err := New(Options{Signer: signer, DefaultChannel: Relay, Local: &fakeLocal{}}); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("New(relay default without relay) error = %v, want %v", err, ErrChannelUnavailable)
	}
}

func TestCoordinator_NotRunning(t *testing.T) {
	c, err := New(Options{Local: &fakeLocal{}, Signer: security.NewSigner(&fakeRemote{}, false)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Send("version?"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Send() before Run error = %v, want %v", err, ErrNotRunning)
	}
}

func TestInitSequence_LocalSentOnce(t *testing.T) {
	h := newHarness(t, false, Local)
	connectReady(t, h, "dev-1")

	if err := h.coord.SendInitSequence(); err != nil {
		t.Fatalf("SendInitSequence() error = %v", err)
	}
	if err := h.coord.SendInitSequence(); err != nil {
		t.Fatalf("SendInitSequence() error = %v", err)
	}
	settle()

	got := h.local.sent()
	if len(got) != 4 {
		t.Fatalf("writes = %q, want exactly 4", got)
	}
	want := []string{"version?", "acc_ver?", "deb_log:1"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("write[%d] = %q, want %q", i, got[i], w)
		}
	}
	if !strings.HasPrefix(got[3], "set_clk:") {
		t.Errorf("write[3] = %q, want set_clk:<now>", got[3])
	}
	if !h.coord.Snapshot().InitSent {
		t.Error("Snapshot().InitSent = false after init")
	}
}

func TestInitSequence_RelayQueuedPerSelection(t *testing.T) {
	h := newHarness(t, false, Relay)

	if err := h.coord.SelectRelayDevice("node-1"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}
	waitFor(t, "relay init", func() bool { return len(h.relay.sent()) == 4 })

	if err := h.coord.SendInitSequence(); err != nil {
		t.Fatalf("SendInitSequence() error = %v", err)
	}
	settle()
	if n := len(h.relay.sent()); n != 4 {
		t.Fatalf("queued = %d after repeated init, want 4", n)
	}

	// A new selection is a new session.
	if err := h.coord.SelectRelayDevice("node-2"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}
	waitFor(t, "second relay init", func() bool { return len(h.relay.sent()) == 8 })

	if !h.rec.hasStatus("Yggio device node-1 disconnected / unchosen") {
		t.Error("missing unchosen status for the previous selection")
	}
	if got := h.coord.Snapshot().RelayDeviceID; got != "node-2" {
		t.Errorf("RelayDeviceID = %q, want node-2", got)
	}
}

func TestSend_RoutesThroughSigner(t *testing.T) {
	h := newHarness(t, true, Local)
	h.remote.info = security.SecureInfo{Secure: true, PublicKeyHex: "abcd"}
	connectReady(t, h, "dev-1")

	if got := h.coord.SecurityStatus(); got != security.Secured {
		t.Fatalf("SecurityStatus() = %v, want %v", got, security.Secured)
	}
	if got := h.local.sent()[0]; got != "signed:version?" {
		t.Errorf("init write = %q, want signed payload", got)
	}

	if err := h.coord.Send("key:abcd"); err != nil {
		t.Fatalf("Send(key) error = %v", err)
	}
	if err := h.coord.Send("sys:?"); err != nil {
		t.Fatalf("Send(sys) error = %v", err)
	}
	waitFor(t, "two more writes", func() bool { return len(h.local.sent()) == 6 })

	got := h.local.sent()[4:]
	if got[0] != "key:abcd" {
		t.Errorf("key command = %q, want unsigned", got[0])
	}
	if got[1] != "signed:sys:?" {
		t.Errorf("data request = %q, want signed", got[1])
	}
}

func TestSend_Errors(t *testing.T) {
	h := newHarness(t, false, Local)

	if err := h.coord.Send(""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Send(\"\") error = %v, want %v", err, ErrEmptyCommand)
	}
	if err := h.coord.Send("version?"); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Send() without device error = %v, want %v", err, ErrNoDevice)
	}
	if err := h.coord.SelectRelayDevice("x"); !errors.Is(err, ErrWrongChannel) {
		t.Errorf("SelectRelayDevice() on local error = %v, want %v", err, ErrWrongChannel)
	}
}

func TestSecureCheck_FailureDisconnects(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantExpired int
	}{
		{"unauthorized", fmt.Errorf("check: %w", security.ErrUnauthorized), 1},
		{"server error", security.ErrRequestFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, Local)
			h.remote.err = tt.err

			if err := h.coord.Connect("dev-1"); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			h.local.discover()

			waitFor(t, "disconnect", func() bool {
				d, _ := h.local.counts()
				return d == 1
			})
			waitFor(t, "failure status", func() bool { return h.rec.hasStatus("Security check failed") })
			settle()

			if got := h.rec.expiredCount(); got != tt.wantExpired {
				t.Errorf("session expired events = %d, want %d", got, tt.wantExpired)
			}
			if n := len(h.local.sent()); n != 0 {
				t.Errorf("writes = %d, want none after failed check", n)
			}
			if id := h.coord.Snapshot().LocalDeviceID; id != "" {
				t.Errorf("LocalDeviceID = %q, want cleared", id)
			}
		})
	}
}

func TestSecureCheck_StaleResultDropped(t *testing.T) {
	h := newHarness(t, true, Local)
	h.remote.info = security.SecureInfo{Secure: true, PublicKeyHex: "abcd"}
	h.remote.entered = make(chan struct{})
	h.remote.release = make(chan struct{})

	if err := h.coord.Connect("dev-1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.local.discover()
	<-h.remote.entered

	// Move on before the check answers.
	if err := h.coord.Connect("dev-2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	close(h.remote.release)
	settle()

	if got := h.coord.SecurityStatus(); got != security.Unsecured {
		t.Errorf("SecurityStatus() = %v, want %v", got, security.Unsecured)
	}
	if _, ready := h.local.counts(); ready != 0 {
		t.Errorf("MarkReady calls = %d, want 0", ready)
	}
	if n := len(h.local.sent()); n != 0 {
		t.Errorf("writes = %d, want none", n)
	}
}

func TestSwitchChannel(t *testing.T) {
	h := newHarness(t, false, Local)
	connectReady(t, h, "dev-1")

	if err := h.coord.SwitchChannel(Relay); err != nil {
		t.Fatalf("SwitchChannel(Relay) error = %v", err)
	}
	if d, _ := h.local.counts(); d != 1 {
		t.Errorf("local disconnects = %d, want 1", d)
	}
	snap := h.coord.Snapshot()
	if snap.Channel != Relay || snap.LocalDeviceID != "" || snap.InitSent {
		t.Errorf("Snapshot() after switch = %+v", snap)
	}
	if !h.coord.RelayActive() {
		t.Error("RelayActive() = false after switch to relay")
	}
	waitFor(t, "unchosen status", func() bool { return h.rec.hasStatus("BLE device dev-1 disconnected / unchosen") })

	if err := h.coord.SelectRelayDevice("node-1"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}
	if err := h.coord.SwitchChannel(Local); err != nil {
		t.Fatalf("SwitchChannel(Local) error = %v", err)
	}
	h.relay.mu.Lock()
	selected := h.relay.selected
	h.relay.mu.Unlock()
	if selected != "" {
		t.Errorf("relay still selected %q after leaving relay", selected)
	}
	if h.coord.RelayActive() {
		t.Error("RelayActive() = true after switch to local")
	}
	if err := h.coord.SwitchChannel(Local); err != nil {
		t.Errorf("SwitchChannel(same) error = %v", err)
	}
}

func TestFrames_TrackVersionsAndReset(t *testing.T) {
	h := newHarness(t, false, Local)
	connectReady(t, h, "dev-1")

	h.local.frame("=version?1.4.2 build\x00")
	h.local.frame("=acc_ver?0.9.1")
	h.local.frame("=5?3,7,,2")
	h.local.frame("dbg: tick")
	waitFor(t, "messages", func() bool { return h.rec.messageCount() == 3 })

	snap := h.coord.Snapshot()
	if snap.FirmwareVersion != "1.4.2" || snap.SensorVersion != "0.9.1" {
		t.Errorf("versions = %q/%q, want 1.4.2/0.9.1", snap.FirmwareVersion, snap.SensorVersion)
	}
	if snap.LastData["5"] != "3,7,,2" {
		t.Errorf("LastData[5] = %q", snap.LastData["5"])
	}

	h.local.dropLink(ble.ErrLinkLost)
	waitFor(t, "link error status", func() bool { return h.rec.hasStatus("connection lost") })

	snap = h.coord.Snapshot()
	if snap.FirmwareVersion != "" || snap.LastData != nil || snap.InitSent {
		t.Errorf("Snapshot() after link loss = %+v", snap)
	}
	if snap.LocalState != ble.StateDisconnected {
		t.Errorf("LocalState = %v, want %v", snap.LocalState, ble.StateDisconnected)
	}
}

func TestRelayFrames_OnlySelectedDevice(t *testing.T) {
	h := newHarness(t, false, Relay)
	if err := h.coord.SelectRelayDevice("node-1"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}

	h.coord.HandleRelayFrame("node-2", "=version?9.9")
	h.coord.HandleRelayFrame("node-1", "=version?1.0")
	waitFor(t, "message", func() bool { return h.rec.messageCount() == 1 })
	settle()

	if n := h.rec.messageCount(); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
	if got := h.coord.Snapshot().FirmwareVersion; got != "1.0" {
		t.Errorf("FirmwareVersion = %q, want 1.0", got)
	}
}

func TestWriteFailure_ForcesDisconnect(t *testing.T) {
	h := newHarness(t, false, Local)
	connectReady(t, h, "dev-1")

	h.local.mu.Lock()
	h.local.writeErr = fmt.Errorf("%w: gatt", ble.ErrWriteFailed)
	h.local.mu.Unlock()

	if err := h.coord.Send("sys:?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, "forced disconnect", func() bool {
		d, _ := h.local.counts()
		return d == 1
	})
	waitFor(t, "failed command", func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return len(h.rec.commands) == 5
	})

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	last := h.rec.commands[len(h.rec.commands)-1]
	if last.Text != "sys:?" || !errors.Is(last.Err, ble.ErrWriteFailed) {
		t.Errorf("last command = %+v", last)
	}
}

func TestDisconnect_RelayDeselects(t *testing.T) {
	h := newHarness(t, false, Relay)
	if err := h.coord.SelectRelayDevice("node-1"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}
	if err := h.coord.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := h.coord.Snapshot().RelayDeviceID; got != "" {
		t.Errorf("RelayDeviceID = %q after disconnect", got)
	}
	waitFor(t, "unchosen status", func() bool { return h.rec.hasStatus("Yggio device node-1 disconnected / unchosen") })
}

func TestStartScan(t *testing.T) {
	h := newHarness(t, false, Local)
	if err := h.coord.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	h.local.mu.Lock()
	scans := h.local.scans
	h.local.mu.Unlock()
	if scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
	if got := h.coord.Snapshot().LocalState; got != ble.StateScanning {
		t.Errorf("LocalState = %v, want %v", got, ble.StateScanning)
	}
	if err := h.coord.FetchRelayDevices(); !errors.Is(err, ErrWrongChannel) {
		t.Errorf("FetchRelayDevices() on local error = %v, want %v", err, ErrWrongChannel)
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"local", Local, false},
		{"BLE", Local, false},
		{"relay", Relay, false},
		{" yggio ", Relay, false},
		{"lora", Relay, false},
		{"wifi", Local, true},
	}
	for _, tt := range tests {
		got, err := ParseChannel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChannel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestManagement_WithoutAuth(t *testing.T) {
	c, err := New(Options{Local: &fakeLocal{}, Signer: security.NewSigner(&fakeRemote{}, false)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Login(context.Background(), "u", "p"); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Login() without auth error = %v, want %v", err, ErrChannelUnavailable)
	}
	if _, err := c.CheckOwnership(context.Background(), "dev-1"); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("CheckOwnership() without auth error = %v, want %v", err, ErrChannelUnavailable)
	}
}

func TestSend_SignUnauthorizedKeepsLink(t *testing.T) {
	h := newHarness(t, true, Local)
	h.remote.info = security.SecureInfo{Secure: true, PublicKeyHex: "abcd"}
	connectReady(t, h, "dev-1")

	h.remote.setSignErr(fmt.Errorf("sign: %w", security.ErrUnauthorized))
	if err := h.coord.Send("sys:?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, "session expired", func() bool { return h.rec.expiredCount() == 1 })
	waitFor(t, "signing failure status", func() bool { return h.rec.hasStatus("Signing failed") })

	if d, _ := h.local.counts(); d != 0 {
		t.Errorf("local disconnects = %d, want 0", d)
	}
	if n := len(h.local.sent()); n != 4 {
		t.Errorf("writes = %d, want only the init sequence", n)
	}

	h.remote.setSignErr(nil)
	if err := h.coord.Send("sys:?"); err != nil {
		t.Fatalf("Send() after expiry error = %v", err)
	}
	waitFor(t, "next write", func() bool { return len(h.local.sent()) == 5 })
	if got := h.local.sent()[4]; got != "signed:sys:?" {
		t.Errorf("write = %q, want signed:sys:?", got)
	}
	if got := h.rec.expiredCount(); got != 1 {
		t.Errorf("session expired events = %d, want 1", got)
	}
	if id := h.coord.Snapshot().LocalDeviceID; id != "dev-1" {
		t.Errorf("LocalDeviceID = %q, want dev-1", id)
	}
}

func TestSendInitSequence_WaitsForReady(t *testing.T) {
	h := newHarness(t, false, Local)
	if err := h.coord.Connect("dev-1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := h.coord.SendInitSequence(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("SendInitSequence() while connecting error = %v, want %v", err, ErrNotReady)
	}
	if h.coord.Snapshot().InitSent {
		t.Fatal("InitSent set before the device was ready")
	}

	h.local.discover()
	waitFor(t, "init sequence", func() bool { return len(h.local.sent()) == 4 })
	if err := h.coord.SendInitSequence(); err != nil {
		t.Errorf("SendInitSequence() when ready error = %v", err)
	}
	settle()
	if n := len(h.local.sent()); n != 4 {
		t.Errorf("writes = %d, want 4", n)
	}
}

func TestPublicKeyCommands(t *testing.T) {
	h := newHarness(t, true, Local)
	h.remote.info = security.SecureInfo{Secure: true, PublicKeyHex: "abcd"}

	if err := h.coord.SetPublicKey(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("SetPublicKey() without device error = %v, want %v", err, ErrNoDevice)
	}
	if err := h.coord.RemovePublicKey(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("RemovePublicKey() without device error = %v, want %v", err, ErrNoDevice)
	}

	connectReady(t, h, "dev-1")

	if err := h.coord.SetPublicKey(context.Background()); err != nil {
		t.Fatalf("SetPublicKey() error = %v", err)
	}
	if err := h.coord.RemovePublicKey(); err != nil {
		t.Fatalf("RemovePublicKey() error = %v", err)
	}
	waitFor(t, "key writes", func() bool { return len(h.local.sent()) == 6 })

	got := h.local.sent()[4:]
	if got[0] != "key:abcd" {
		t.Errorf("set key write = %q, want unsigned key:abcd", got[0])
	}
	if got[1] != "signed:rm_key" {
		t.Errorf("remove key write = %q, want signed:rm_key", got[1])
	}
	h.auth.mu.Lock()
	calls := h.auth.keyCalls
	h.auth.mu.Unlock()
	if calls != 0 {
		t.Errorf("public key requests = %d, want 0 with a learnt key", calls)
	}
}

func TestSetPublicKey_FetchesUnknownKey(t *testing.T) {
	h := newHarness(t, false, Local)
	connectReady(t, h, "dev-1")

	if err := h.coord.SetPublicKey(context.Background()); !errors.Is(err, ErrNoPublicKey) {
		t.Errorf("SetPublicKey() without any key error = %v, want %v", err, ErrNoPublicKey)
	}

	h.auth.mu.Lock()
	h.auth.publicKey = "beef"
	h.auth.mu.Unlock()
	if err := h.coord.SetPublicKey(context.Background()); err != nil {
		t.Fatalf("SetPublicKey() error = %v", err)
	}
	waitFor(t, "key write", func() bool { return len(h.local.sent()) == 5 })
	if got := h.local.sent()[4]; got != "key:beef" {
		t.Errorf("write = %q, want key:beef", got)
	}
}

func TestCheckOwnership(t *testing.T) {
	h := newHarness(t, false, Local)
	h.auth.owned = map[string]bool{"dev-1": true}

	owned, err := h.coord.CheckOwnership(context.Background(), "dev-1")
	if err != nil || !owned {
		t.Errorf("CheckOwnership(dev-1) = %v, %v, want true", owned, err)
	}
	owned, err = h.coord.CheckOwnership(context.Background(), "dev-2")
	if err != nil || owned {
		t.Errorf("CheckOwnership(dev-2) = %v, %v, want false", owned, err)
	}
	if _, err := h.coord.CheckOwnership(context.Background(), ""); !errors.Is(err, device.ErrInvalidDeviceID) {
		t.Errorf("CheckOwnership(\"\") error = %v, want %v", err, device.ErrInvalidDeviceID)
	}

	h.auth.mu.Lock()
	h.auth.ownErr = fmt.Errorf("own: %w", security.ErrUnauthorized)
	h.auth.mu.Unlock()
	if _, err := h.coord.CheckOwnership(context.Background(), "dev-1"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("CheckOwnership() error = %v, want %v", err, security.ErrUnauthorized)
	}
	waitFor(t, "session expired", func() bool { return h.rec.expiredCount() == 1 })
}

func TestPollRelay(t *testing.T) {
	h := newHarness(t, false, Relay)
	if err := h.coord.PollRelay(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("PollRelay() without selection error = %v, want %v", err, ErrNoDevice)
	}
	if err := h.coord.SelectRelayDevice("node-1"); err != nil {
		t.Fatalf("SelectRelayDevice() error = %v", err)
	}
	if err := h.coord.PollRelay(); err != nil {
		t.Fatalf("PollRelay() error = %v", err)
	}
	waitFor(t, "poll", func() bool {
		h.relay.mu.Lock()
		defer h.relay.mu.Unlock()
		return h.relay.polls == 1
	})
}

func TestScan_ForwardsAdvertisements(t *testing.T) {
	h := newHarness(t, false, Local)
	if err := h.coord.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	h.local.advertise(ble.Advertisement{ID: "AA", Name: "tank", RSSI: -61})

	waitFor(t, "advertisement", func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return len(h.rec.adverts) == 1
	})
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if a := h.rec.adverts[0]; a.ID != "AA" || a.RSSI != -61 {
		t.Errorf("advertisement = %+v", a)
	}
}

func TestDevice_Lookup(t *testing.T) {
	reg := device.NewRegistry()
	reg.AddOrUpdate(device.Update{ID: "AA", Name: "tank"})
	c, err := New(Options{Local: &fakeLocal{}, LocalDevices: reg, Signer: security.NewSigner(&fakeRemote{}, false)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if d, err := c.Device("AA"); err != nil || d.Name != "tank" {
		t.Errorf("Device(AA) = %+v, %v", d, err)
	}
	if _, err := c.Device("BB"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Device(BB) error = %v, want %v", err, device.ErrDeviceNotFound)
	}
	if _, err := c.Device(""); !errors.Is(err, device.ErrInvalidDeviceID) {
		t.Errorf("Device(\"\") error = %v, want %v", err, device.ErrInvalidDeviceID)
	}
}
