// Package telemetry forwards device measurements to the time series store.
package telemetry

import (
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/protocol"
)

// Writer stores numeric measurement fields and scan signal strength.
// *influxdb.Client satisfies it.
type Writer interface {
	WriteMeasurement(channel, deviceID string, fields map[string]float64, ts time.Time)
	WriteRSSI(deviceID string, rssi int, ts time.Time)
}

// Logger defines the logging interface used by Sink.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Sink is a channel.Listener that writes every measurement frame and the
// RSSI of every scan result.
type Sink struct {
	writer Writer
	logger Logger
	now    func() time.Time
}

// NewSink returns a sink writing to w. A nil logger discards output.
func NewSink(w Writer, logger Logger) *Sink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sink{writer: w, logger: logger, now: time.Now}
}

// OnMessage writes the numeric fields of measurement answers.
func (s *Sink) OnMessage(m channel.Message) {
	if m.Answer.Kind != protocol.KindMeasurement {
		return
	}
	fields := protocol.NumericFields(m.Answer.Raw)
	if len(fields) == 0 {
		s.logger.Debug("measurement without numeric fields", "device_id", m.DeviceID, "frame", m.Answer.Raw)
		return
	}
	ts := m.Time
	if ts.IsZero() {
		ts = s.now()
	}
	s.writer.WriteMeasurement(m.Channel.String(), m.DeviceID, fields, ts)
}

// OnAdvertisement writes the signal strength of a scanned device.
func (s *Sink) OnAdvertisement(adv ble.Advertisement) {
	if adv.ID == "" || adv.RSSI == 0 {
		return
	}
	s.writer.WriteRSSI(adv.ID, adv.RSSI, s.now())
}

// OnStatusChange is a no-op.
func (s *Sink) OnStatusChange(string) {}

// OnSessionExpired is a no-op.
func (s *Sink) OnSessionExpired() {}
