package telemetry

import (
	"testing"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/protocol"
)

type point struct {
	channel  string
	deviceID string
	fields   map[string]float64
	ts       time.Time
}

type rssiPoint struct {
	deviceID string
	rssi     int
	ts       time.Time
}

type fakeWriter struct {
	points []point
	rssi   []rssiPoint
}

func (f *fakeWriter) WriteMeasurement(ch, id string, fields map[string]float64, ts time.Time) {
	f.points = append(f.points, point{ch, id, fields, ts})
}

func (f *fakeWriter) WriteRSSI(id string, rssi int, ts time.Time) {
	f.rssi = append(f.rssi, rssiPoint{id, rssi, ts})
}

func TestSink_WritesMeasurements(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSink(w, nil)
	ts := time.Unix(1700000000, 0)

	sink.OnMessage(channel.Message{
		Channel:  channel.Relay,
		DeviceID: "node-1",
		Answer:   protocol.Classify("Measured: dist: 1.25, ampl: 42"),
		Time:     ts,
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.channel != "relay" || p.deviceID != "node-1" || !p.ts.Equal(ts) {
		t.Errorf("point = %+v", p)
	}
	if p.fields["dist"] != 1250 || p.fields["ampl"] != 42 {
		t.Errorf("fields = %v", p.fields)
	}
}

func TestSink_IgnoresOtherAnswers(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSink(w, nil)

	for _, frame := range []string{"=version?1.2.3", "*err", "=deb_log:OK", "Measured: state: idle"} {
		sink.OnMessage(channel.Message{DeviceID: "d", Answer: protocol.Classify(frame)})
	}
	sink.OnStatusChange("BLE device d connected")
	sink.OnSessionExpired()

	if len(w.points) != 0 {
		t.Errorf("points = %+v, want none", w.points)
	}
}

func TestSink_WritesScanRSSI(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSink(w, nil)
	ts := time.Unix(1700000000, 0)
	sink.now = func() time.Time { return ts }

	var _ channel.AdvertisementListener = sink
	sink.OnAdvertisement(ble.Advertisement{ID: "AA:BB", Name: "tank", RSSI: -67})
	sink.OnAdvertisement(ble.Advertisement{ID: "CC:DD"})

	if len(w.rssi) != 1 {
		t.Fatalf("rssi points = %d, want 1", len(w.rssi))
	}
	if p := w.rssi[0]; p.deviceID != "AA:BB" || p.rssi != -67 || !p.ts.Equal(ts) {
		t.Errorf("rssi point = %+v", p)
	}
}
