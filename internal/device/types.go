package device

// NotPresent is the placeholder reported for relay values the platform did
// not include in the node document.
const NotPresent = "value not present"

// Device is one entry of the discovered-device table.
type Device struct {
	// ID is the BLE address or the Yggio iotnode _id. Immutable once registered.
	ID string `json:"id"`

	// Name defaults to ID when the transport reports none.
	Name string `json:"name"`

	// RSSI is set for BLE advertisements only.
	RSSI *int `json:"rssi,omitempty"`

	// Relay holds the last uplink values of a relay-discovered device.
	Relay *RelayData `json:"relay,omitempty"`
}

// RelayData holds the last-seen value and timestamp of each relay data
// channel. UartData is the hex-decoded payload of LoRa port 32.
type RelayData struct {
	DistanceTime  string `json:"distance_time"`
	Distance      string `json:"distance"`
	AmplitudeTime string `json:"amplitude_time"`
	Amplitude     string `json:"amplitude"`
	UartTime      string `json:"uart_time"`
	UartData      string `json:"uart_data"`
}

// Update carries the values a transport reports for one device.
// Nil pointer fields clear the corresponding value on merge.
type Update struct {
	ID    string
	Name  string
	RSSI  *int
	Relay *RelayData
}

// Int returns a pointer to v, for filling Update.RSSI.
func Int(v int) *int {
	return &v
}

// clone returns a deep copy of d.
func (d Device) clone() Device {
	out := d
	if d.RSSI != nil {
		rssi := *d.RSSI
		out.RSSI = &rssi
	}
	if d.Relay != nil {
		relay := *d.Relay
		out.Relay = &relay
	}
	return out
}

// fromUpdate builds a device value from u, applying the name default.
func fromUpdate(u Update) Device {
	d := Device{ID: u.ID, Name: u.Name, RSSI: u.RSSI, Relay: u.Relay}
	if d.Name == "" {
		d.Name = d.ID
	}
	return d.clone()
}
