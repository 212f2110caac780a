package ble

import (
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BluetoothAdapter is the Adapter backed by the host radio.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	addresses    map[string]bluetooth.Address // filled from scan results
	onDisconnect func(id string)
}

// NewBluetoothAdapter returns an adapter for the default host radio.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:   bluetooth.DefaultAdapter,
		addresses: make(map[string]bluetooth.Address),
	}
}

// Enable powers up the radio and installs the connection handler.
func (a *BluetoothAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling bluetooth: %w", err)
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		cb := a.onDisconnect
		a.mu.Unlock()
		if cb != nil {
			cb(device.Address.String())
		}
	})
	return nil
}

// SetDisconnectHandler registers the callback for remote disconnects.
func (a *BluetoothAdapter) SetDisconnectHandler(cb func(id string)) {
	a.mu.Lock()
	a.onDisconnect = cb
	a.mu.Unlock()
}

// Scan reports advertisements until StopScan is called.
func (a *BluetoothAdapter) Scan(onAdvertisement func(Advertisement)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		id := result.Address.String()

		a.mu.Lock()
		a.addresses[id] = result.Address
		a.mu.Unlock()

		var manufacturer []byte
		for _, el := range result.ManufacturerData() {
			manufacturer = append(manufacturer, byte(el.CompanyID), byte(el.CompanyID>>8))
			manufacturer = append(manufacturer, el.Data...)
		}

		onAdvertisement(Advertisement{
			ID:               id,
			Name:             result.LocalName(),
			RSSI:             int(result.RSSI),
			ManufacturerData: manufacturer,
		})
	})
}

// StopScan ends a running Scan.
func (a *BluetoothAdapter) StopScan() error {
	return a.adapter.StopScan()
}

// Connect opens a connection to a device seen during a scan.
func (a *BluetoothAdapter) Connect(id string) (Peripheral, error) {
	a.mu.Lock()
	addr, ok := a.addresses[id]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &bluetoothPeripheral{id: id, device: device}, nil
}

type bluetoothPeripheral struct {
	id     string
	device bluetooth.Device
}

func (p *bluetoothPeripheral) ID() string { return p.id }

func (p *bluetoothPeripheral) DiscoverCharacteristics(service string, characteristics ...string) (map[string]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("parsing service uuid: %w", err)
	}
	services, err := p.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return nil, ErrServiceNotFound
	}

	uuids := make([]bluetooth.UUID, 0, len(characteristics))
	for _, c := range characteristics {
		u, err := bluetooth.ParseUUID(c)
		if err != nil {
			return nil, fmt.Errorf("parsing characteristic uuid: %w", err)
		}
		uuids = append(uuids, u)
	}

	found, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCharacteristicNotFound, err)
	}

	out := make(map[string]Characteristic, len(found))
	for _, c := range found {
		out[strings.ToLower(c.UUID().String())] = bluetoothCharacteristic{c}
	}
	return out, nil
}

func (p *bluetoothPeripheral) Disconnect() error {
	return p.device.Disconnect()
}

type bluetoothCharacteristic struct {
	c bluetooth.DeviceCharacteristic
}

// Write sends p as a write without response, the only write the UART
// characteristic needs.
func (c bluetoothCharacteristic) Write(p []byte) error {
	_, err := c.c.WriteWithoutResponse(p)
	return err
}

func (c bluetoothCharacteristic) EnableNotifications(cb func([]byte)) error {
	return c.c.EnableNotifications(cb)
}
