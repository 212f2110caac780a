package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/protocol"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// handleLocalEvent processes a BLE link event. Runs on the loop.
func (c *Coordinator) handleLocalEvent(gen uint64, ev ble.Event) {
	if gen != c.session.Generation || ev.Session != c.session.LocalSession {
		if ev.Type == ble.EventFrame && errors.Is(ev.Err, ble.ErrInterrupted) {
			c.logger.Debug("receive interrupted by disconnection", "session", ev.Session)
		}
		return
	}

	if ev.Type == ble.EventFrame {
		if ev.Err != nil {
			c.logger.Debug("ble receive", "error", ev.Err)
			return
		}
		c.handleFrame(Local, c.session.LocalDeviceID, ev.Frame)
		return
	}

	c.session.LocalState = ev.State
	id := c.session.LocalDeviceID

	switch ev.State {
	case ble.StateConnecting:
		c.status(fmt.Sprintf("BLE connecting to %s ...", id))

	case ble.StateServicesDiscovered:
		c.status(fmt.Sprintf("BLE device %s connected", id))
		if !c.signer.RequireSecure() {
			c.ready(ev.Session)
			return
		}
		if err := c.local.BeginSecurityCheck(ev.Session); err != nil {
			c.logger.Warn("begin security check", "error", err)
			return
		}
		c.checkDevice(id)

	case ble.StateDisconnected:
		c.teardown(Local, ev.Err)
	}
}

// checkDevice runs the secure-check off the loop. The result is dropped if
// the generation has moved on by the time it arrives.
func (c *Coordinator) checkDevice(id string) {
	gen := c.session.Generation
	s := c.session.LocalSession
	c.status(fmt.Sprintf("Checking security of %s ...", id))

	go func() {
		check, err := c.signer.CheckDevice(c.ctx, id)
		c.loop.push(func() { c.handleSecureCheck(gen, s, check, err) })
	}()
}

func (c *Coordinator) handleSecureCheck(gen uint64, s ble.Session, check security.Check, err error) {
	if gen != c.session.Generation || s != c.session.LocalSession {
		c.logger.Debug("dropping stale secure-check result", "generation", gen)
		return
	}

	if err != nil {
		c.logger.Warn("secure-check failed", "device_id", c.session.LocalDeviceID, "error", err)
		c.status(fmt.Sprintf("Security check failed: %v", err))
		if c.isUnauthorized(err) {
			c.sessionExpired()
		}
		c.local.Disconnect()
		c.teardown(Local, nil)
		return
	}

	c.signer.Apply(check)
	c.status(fmt.Sprintf("Security status: %s", check.Status))
	c.ready(s)
}

func (c *Coordinator) ready(s ble.Session) {
	if err := c.local.MarkReady(s); err != nil {
		c.logger.Warn("mark ready", "error", err)
		return
	}
	c.session.LocalState = ble.StateReady
	c.startInit()
}

// startInit sends the init sequence once per session. Local commands are
// spaced out after an initial delay; relay commands are queued at once.
func (c *Coordinator) startInit() {
	if c.session.InitSent {
		return
	}
	c.session.InitSent = true

	steps := []func() string{
		protocol.VersionRequestCmd,
		protocol.AccVersionRequestCmd,
		func() string { return protocol.DebugModeCmd(true) },
		func() string { return protocol.SetClockCmd(c.now()) },
	}

	c.logger.Info("sending init sequence", "channel", c.session.Channel.String(), "device_id", c.session.DeviceID())

	if c.session.Channel == Relay {
		for _, step := range steps {
			c.enqueue(step())
		}
		return
	}

	gen := c.session.Generation
	for i, step := range steps {
		delay := c.initDelay + time.Duration(i)*c.initInterval
		time.AfterFunc(delay, func() {
			c.loop.push(func() {
				if gen != c.session.Generation {
					return
				}
				c.enqueue(step())
			})
		})
	}
}

// enqueue hands text to the outbox for the current device. Runs on the loop.
func (c *Coordinator) enqueue(text string) {
	o := outbound{
		gen:      c.session.Generation,
		channel:  c.session.Channel,
		deviceID: c.session.DeviceID(),
		text:     text,
	}
	c.outbox.push(func() { c.transmit(o) })
}

// transmit signs and sends one command. Runs on the outbox goroutine.
func (c *Coordinator) transmit(o outbound) {
	if o.gen != c.generation.Load() {
		c.logger.Debug("dropping command of previous session", "command", o.text)
		return
	}

	signed := c.signer.ShouldSign(o.text)
	payload, err := c.signer.Prepare(c.ctx, o.deviceID, o.text)
	if err != nil {
		c.loop.push(func() { c.sent(o, signed, err) })
		return
	}

	switch o.channel {
	case Local:
		c.local.Write([]byte(payload), func(err error) {
			c.loop.push(func() { c.sent(o, signed, err) })
		})
	case Relay:
		err := c.relay.Send(c.ctx, payload)
		c.loop.push(func() { c.sent(o, signed, err) })
	}
}

// sent reports a transmission outcome. Runs on the loop.
func (c *Coordinator) sent(o outbound, signed bool, err error) {
	cmd := Command{
		Channel:  o.channel,
		DeviceID: o.deviceID,
		Text:     o.text,
		Signed:   signed,
		Err:      err,
		Time:     c.now(),
	}
	c.notify(func(l Listener) {
		if cl, ok := l.(CommandListener); ok {
			cl.OnCommandSent(cmd)
		}
	})

	if err == nil {
		c.logger.Debug("command sent", "channel", o.channel.String(), "command", o.text, "signed", signed)
		if o.channel == Relay {
			c.status("Yggio data successfully queued")
		}
		return
	}

	c.logger.Warn("command failed", "channel", o.channel.String(), "command", o.text, "error", err)

	switch {
	case c.isUnauthorized(err):
		c.status(fmt.Sprintf("Signing failed: %v", err))
		c.sessionExpired()
	case errors.Is(err, ble.ErrWriteFailed):
		if o.gen == c.session.Generation {
			c.transportFailed(err)
		}
	default:
		c.status(fmt.Sprintf("%s send failed: %v", o.channel.DisplayName(), err))
	}
}

// handleFrame classifies a received frame and fans it out. Runs on the loop.
func (c *Coordinator) handleFrame(ch Channel, deviceID, frame string) {
	a := protocol.Classify(frame)

	switch a.Kind {
	case protocol.KindUnknown:
		c.logger.Debug("dropping unknown frame", "channel", ch.String(), "frame", a.Raw)
		return
	case protocol.KindVersion:
		c.session.FirmwareVersion = a.Payload
	case protocol.KindAccVersion:
		c.session.SensorVersion = a.Payload
	case protocol.KindDataRequest:
		if c.session.LastData == nil {
			c.session.LastData = make(map[string]string)
		}
		c.session.LastData[a.ID] = a.Payload
	}

	msg := Message{Channel: ch, DeviceID: deviceID, Answer: a, Time: c.now()}
	c.notify(func(l Listener) { l.OnMessage(msg) })
}
