// Package influxdb stores device telemetry in InfluxDB.
//
// Numeric fields of measurement frames ("Measured: dist: ..., ampl: ...")
// are written to sweiot_measurement, tagged by device_id and channel. Scan
// results may be written to sweiot_rssi. Writes are batched and
// non-blocking; batch failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteMeasurement("local", id, protocol.NumericFields(frame), time.Now())
package influxdb
