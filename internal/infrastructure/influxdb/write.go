package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSensor = "sweiot_measurement"
	MeasurementRSSI   = "sweiot_rssi"
)

// WriteMeasurement queues the numeric fields of a measurement frame,
// tagged by device and channel. Empty field sets are skipped.
func (c *Client) WriteMeasurement(channel, deviceID string, fields map[string]float64, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(measurementPoint(channel, deviceID, fields, ts))
}

// WriteRSSI queues the signal strength of a scanned device.
func (c *Client) WriteRSSI(deviceID string, rssi int, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementRSSI,
		map[string]string{"device_id": deviceID},
		map[string]any{"rssi": rssi},
		ts,
	))
}

func measurementPoint(channel, deviceID string, fields map[string]float64, ts time.Time) *write.Point {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return write.NewPoint(MeasurementSensor,
		map[string]string{"device_id": deviceID, "channel": channel},
		values,
		ts,
	)
}
