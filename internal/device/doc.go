// Package device provides the in-memory table of discovered SweIoT devices.
//
// Both transports feed the same Registry: the BLE link adds an entry per
// advertisement seen during a scan, and the Yggio relay merges every iotnode
// returned by a fetch. Entries are merged in place by identity and are never
// removed one by one; a new scan or a full relay fetch clears the table.
//
// # Usage
//
//	reg := device.NewRegistry()
//	added := reg.AddOrUpdate(device.Update{ID: "E5:B4:ED:28:8D:E8", RSSI: device.Int(-61)})
//	for _, d := range reg.Get() {
//	    fmt.Println(d.ID, d.Name)
//	}
package device
