// Package console provides the interactive command line for SweIoT Link.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/sweiot-link/internal/audit"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/protocol"
)

const loginTimeout = 30 * time.Second

// Coordinator is the subset of *channel.Coordinator used by the console.
type Coordinator interface {
	Snapshot() channel.Snapshot
	DeviceList() []device.Device
	Send(text string) error
	SendInitSequence() error
	SwitchChannel(ch channel.Channel) error
	StartScan() error
	StopScan() error
	Connect(id string) error
	Disconnect() error
	FetchRelayDevices() error
	SelectRelayDevice(id string) error
	PollRelay() error
	Device(id string) (device.Device, error)
	CheckOwnership(ctx context.Context, id string) (bool, error)
	SetPublicKey(ctx context.Context) error
	RemovePublicKey() error
	Login(ctx context.Context, user, password string) error
	Logout()
}

// Auditor records operator actions. *audit.Recorder satisfies it.
type Auditor interface {
	Record(e audit.Entry)
}

// Options configures a Console.
type Options struct {
	Prompt      string
	HistoryFile string

	// Auditor is optional.
	Auditor Auditor
}

// Console reads commands from the terminal and prints coordinator events.
// It implements channel.Listener.
type Console struct {
	coord   Coordinator
	auditor Auditor
	rl      *readline.Instance

	outMu sync.Mutex
	out   io.Writer

	// readPassword prompts without echo.
	readPassword func(prompt string) (string, error)
}

// New creates a console on the process terminal.
func New(coord Coordinator, opts Options) (*Console, error) {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = "sweiot> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     opts.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(coord, rl.Stdout(), opts.Auditor)
	c.rl = rl
	c.readPassword = func(prompt string) (string, error) {
		b, err := rl.ReadPassword(prompt)
		return string(b), err
	}
	return c, nil
}

func newConsole(coord Coordinator, out io.Writer, auditor Auditor) *Console {
	return &Console{
		coord:   coord,
		auditor: auditor,
		out:     out,
		readPassword: func(string) (string, error) {
			return "", errors.New("no terminal")
		},
	}
}

// Stdout returns a writer that does not clobber the prompt. Route log
// output through it while the console runs.
func (c *Console) Stdout() io.Writer {
	if c.rl == nil {
		return c.out
	}
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is cancelled. cancel is
// called when the operator quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.rl.Close() })
	defer stop()

	c.printHelp()
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() == nil {
				c.println("Exiting...")
				cancel()
			}
			return
		}
		if c.Execute(ctx, line) {
			c.println("Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the operator asked
// to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "st":
		c.cmdStatus()
	case "devices", "ls":
		c.cmdDevices()
	case "device", "info":
		err = c.cmdDevice(args)
	case "channel", "ch":
		err = c.cmdChannel(args)
	case "scan":
		err = c.coord.StartScan()
	case "stop":
		err = c.coord.StopScan()
	case "connect", "c":
		err = c.withDevice(args, audit.ActionConnect, c.coord.Connect)
	case "disconnect", "dc":
		err = c.coord.Disconnect()
		if err == nil {
			c.record(audit.ActionDisconnect, audit.EntityDevice, "")
		}
	case "fetch":
		err = c.coord.FetchRelayDevices()
	case "select", "sel":
		err = c.withDevice(args, audit.ActionSelect, c.coord.SelectRelayDevice)
	case "poll":
		err = c.coord.PollRelay()
	case "send", "s":
		err = c.coord.Send(strings.Join(args, " "))
	case "init":
		err = c.coord.SendInitSequence()
	case "version":
		err = c.coord.Send(protocol.VersionRequestCmd())
	case "get":
		err = c.cmdGet(args)
	case "set":
		err = c.cmdSet(args)
	case "debug":
		err = c.cmdDebug(args)
	case "log":
		err = c.coord.Send(protocol.DeviceLogRequestCmd())
	case "clock":
		err = c.coord.Send(protocol.SetClockCmd(time.Now()))
	case "login":
		err = c.cmdLogin(ctx, args)
	case "logout":
		c.coord.Logout()
	case "key":
		err = c.cmdKey(ctx, args)
	case "own":
		err = c.cmdOwn(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		c.printf("Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	c.println(`
SweIoT Link Commands:
  Channel:
    status               - Show channel, device and security state
    channel <local|relay> - Switch the active channel
    devices              - List devices of the active channel
    device <id>          - Show one device

  BLE:
    scan / stop          - Start or stop scanning
    connect <id>         - Connect to a scanned device
    disconnect           - Drop the current device

  Yggio:
    fetch                - List relay devices
    select <id>          - Choose a relay device
    poll                 - Poll the selected relay device now

  Device:
    send <text>          - Send a raw command, e.g. send version?
    init                 - Re-run the init sequence
    version              - Request the firmware version
    get <id>             - Request data group <id>, e.g. get sys
    set <id> <v1,v2,...> - Write data group <id>
    debug <on|off>       - Toggle debug logging on the device
    log                  - Request the device log
    clock                - Set the device clock to now

  Management:
    login <user>         - Log in to the management server
    logout               - Drop the management session
    own <id>             - Check whether you own a device
    key <set|rm>         - Write or remove the device public key

  General:
    help                 - Show this help
    quit                 - Exit`)
}

func (c *Console) cmdStatus() {
	s := c.coord.Snapshot()
	c.printf("Channel:   %s\n", s.Channel.DisplayName())
	if s.Channel == channel.Local {
		c.printf("BLE state: %s\n", s.LocalState)
	}
	c.printf("Device:    %s\n", orDash(s.DeviceID))
	c.printf("Firmware:  %s\n", orDash(s.FirmwareVersion))
	c.printf("Sensor:    %s\n", orDash(s.SensorVersion))
	c.printf("Init sent: %t\n", s.InitSent)
	c.printf("Security:  %s (required: %t, logged in: %t)\n", s.SecurityStatus, s.RequireSecure, s.LoggedIn)
	if len(s.LastData) > 0 {
		ids := make([]string, 0, len(s.LastData))
		for id := range s.LastData {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			c.printf("  %s: %s\n", id, s.LastData[id])
		}
	}
}

func (c *Console) cmdDevices() {
	devices := c.coord.DeviceList()
	if len(devices) == 0 {
		c.println("No devices")
		return
	}
	c.printf("\nDevices (%d):\n", len(devices))
	for _, d := range devices {
		switch {
		case d.RSSI != nil:
			c.printf("  %-20s %-24s %d dBm\n", d.ID, d.Name, *d.RSSI)
		case d.Relay != nil:
			c.printf("  %-26s %-20s dist %s ampl %s\n", d.ID, d.Name, d.Relay.Distance, d.Relay.Amplitude)
		default:
			c.printf("  %-20s %s\n", d.ID, d.Name)
		}
	}
}

func (c *Console) cmdDevice(args []string) error {
	if len(args) != 1 {
		c.println("Usage: device <id>")
		return nil
	}
	d, err := c.coord.Device(args[0])
	if err != nil {
		return err
	}
	c.printf("ID:    %s\n", d.ID)
	c.printf("Name:  %s\n", orDash(d.Name))
	if d.RSSI != nil {
		c.printf("RSSI:  %d dBm\n", *d.RSSI)
	}
	if d.Relay != nil {
		c.printf("Dist:  %s\n", orDash(d.Relay.Distance))
		c.printf("Ampl:  %s\n", orDash(d.Relay.Amplitude))
	}
	return nil
}

func (c *Console) cmdChannel(args []string) error {
	if len(args) != 1 {
		c.println("Usage: channel <local|relay>")
		return nil
	}
	ch, err := channel.ParseChannel(args[0])
	if err != nil {
		return err
	}
	if err := c.coord.SwitchChannel(ch); err != nil {
		return err
	}
	c.record(audit.ActionChannelSwitch, audit.EntityChannel, ch.String())
	return nil
}

func (c *Console) withDevice(args []string, action string, fn func(string) error) error {
	if len(args) != 1 {
		c.println("Usage: connect <id> / select <id>")
		return nil
	}
	if err := fn(args[0]); err != nil {
		return err
	}
	c.record(action, audit.EntityDevice, args[0])
	return nil
}

func (c *Console) cmdGet(args []string) error {
	if len(args) != 1 {
		c.println("Usage: get <id>")
		return nil
	}
	return c.coord.Send(protocol.DataRequestCmd(args[0]))
}

func (c *Console) cmdSet(args []string) error {
	if len(args) != 2 {
		c.println("Usage: set <id> <v1,v2,...>")
		return nil
	}
	values := protocol.ParseDataValues(args[1], 0)
	return c.coord.Send(protocol.DataSetCmd(args[0], values, len(values)))
}

func (c *Console) cmdDebug(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		c.println("Usage: debug <on|off>")
		return nil
	}
	return c.coord.Send(protocol.DebugModeCmd(args[0] == "on"))
}

func (c *Console) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		c.println("Usage: login <user>")
		return nil
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	if err := c.coord.Login(ctx, args[0], password); err != nil {
		return err
	}
	c.record(audit.ActionLogin, audit.EntityUser, args[0])
	return nil
}

func (c *Console) cmdOwn(ctx context.Context, args []string) error {
	if len(args) != 1 {
		c.println("Usage: own <id>")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	owned, err := c.coord.CheckOwnership(ctx, args[0])
	if err != nil {
		return err
	}
	if owned {
		c.printf("You own %s\n", args[0])
	} else {
		c.printf("You do not own %s\n", args[0])
	}
	return nil
}

func (c *Console) cmdKey(ctx context.Context, args []string) error {
	if len(args) != 1 {
		c.println("Usage: key <set|rm>")
		return nil
	}
	switch args[0] {
	case "set":
		ctx, cancel := context.WithTimeout(ctx, loginTimeout)
		defer cancel()
		return c.coord.SetPublicKey(ctx)
	case "rm":
		return c.coord.RemovePublicKey()
	default:
		c.println("Usage: key <set|rm>")
		return nil
	}
}

func (c *Console) record(action, entityType, entityID string) {
	if c.auditor == nil {
		return
	}
	c.auditor.Record(audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     audit.SourceConsole,
		CreatedAt:  time.Now(),
	})
}

// OnMessage prints a received answer.
func (c *Console) OnMessage(m channel.Message) {
	a := m.Answer
	switch a.Kind {
	case protocol.KindMeasurement:
		pairs := make([]string, 0, len(a.Fields))
		for _, f := range a.Fields {
			pairs = append(pairs, f.Name+"="+f.Value)
		}
		c.printf("< [%s] %s\n", m.DeviceID, strings.Join(pairs, " "))
	case protocol.KindDataRequest:
		c.printf("< [%s] %s = %s\n", m.DeviceID, a.ID, a.Payload)
	default:
		c.printf("< [%s] %s (%s)\n", m.DeviceID, a.Raw, a.Kind)
	}
}

// OnStatusChange prints a status text.
func (c *Console) OnStatusChange(status string) {
	c.printf("* %s\n", status)
}

// OnSessionExpired asks the operator to log in again.
func (c *Console) OnSessionExpired() {
	c.println("* Management session expired, use 'login <user>'")
}

// OnCommandSent prints a transmitted command.
func (c *Console) OnCommandSent(cmd channel.Command) {
	if cmd.Err != nil {
		c.printf("> [%s] %s failed: %v\n", cmd.DeviceID, cmd.Text, cmd.Err)
		return
	}
	signed := ""
	if cmd.Signed {
		signed = " (signed)"
	}
	c.printf("> [%s] %s%s\n", cmd.DeviceID, cmd.Text, signed)
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("status"),
		readline.PcItem("devices"),
		readline.PcItem("device"),
		readline.PcItem("channel", readline.PcItem("local"), readline.PcItem("relay")),
		readline.PcItem("scan"),
		readline.PcItem("stop"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("fetch"),
		readline.PcItem("select"),
		readline.PcItem("poll"),
		readline.PcItem("send"),
		readline.PcItem("init"),
		readline.PcItem("version"),
		readline.PcItem("get"),
		readline.PcItem("set"),
		readline.PcItem("debug", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("log"),
		readline.PcItem("clock"),
		readline.PcItem("login"),
		readline.PcItem("logout"),
		readline.PcItem("own"),
		readline.PcItem("key", readline.PcItem("set"), readline.PcItem("rm")),
		readline.PcItem("quit"),
	)
}
