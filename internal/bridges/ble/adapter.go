package ble

// UART service and characteristic UUIDs exposed by the sensor firmware.
const (
	UARTServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	UARTWriteUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	UARTNotifyUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Advertisement is one scan result.
type Advertisement struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	RSSI             int    `json:"rssi"`
	ManufacturerData []byte `json:"manufacturer_data,omitempty"`
}

// Adapter is the radio used by a Link.
// This allows faking the hardware in tests.
type Adapter interface {
	// Enable powers up the radio.
	Enable() error

	// Scan reports advertisements until StopScan is called.
	// It blocks for the duration of the scan.
	Scan(onAdvertisement func(Advertisement)) error

	// StopScan ends a running Scan.
	StopScan() error

	// Connect opens a connection to the device with the given ID.
	Connect(id string) (Peripheral, error)

	// SetDisconnectHandler registers a callback for connections dropped by
	// the remote side.
	SetDisconnectHandler(func(id string))
}

// Peripheral is a connected device.
type Peripheral interface {
	// ID returns the device address.
	ID() string

	// DiscoverCharacteristics resolves the given characteristics of a
	// service, keyed by UUID. Characteristics the device does not expose
	// are absent from the map. It returns ErrServiceNotFound when the
	// service itself is missing.
	DiscoverCharacteristics(service string, characteristics ...string) (map[string]Characteristic, error)

	// Disconnect closes the connection.
	Disconnect() error
}

// Characteristic is a GATT characteristic of a connected device.
type Characteristic interface {
	Write(p []byte) error
	EnableNotifications(func([]byte)) error
}
