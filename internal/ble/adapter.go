// Package ble implements the Bluetooth Low Energy health-device monitor:
// advertisement discovery, a single-peripheral session with capability
// negotiation, and notification dispatch into the decoded vitals store.
package ble

import "context"

// Standard Bluetooth GATT UUIDs for the supported health services.
const (
	GenericAccessServiceUUID = "00001800-0000-1000-8000-00805f9b34fb"
	DeviceNameUUID           = "00002a00-0000-1000-8000-00805f9b34fb"

	HeartRateServiceUUID     = "0000180d-0000-1000-8000-00805f9b34fb"
	HeartRateMeasurementUUID = "00002a37-0000-1000-8000-00805f9b34fb"

	HealthThermometerServiceUUID = "00001809-0000-1000-8000-00805f9b34fb"
	TemperatureMeasurementUUID   = "00002a1c-0000-1000-8000-00805f9b34fb"

	BloodPressureServiceUUID     = "00001810-0000-1000-8000-00805f9b34fb"
	BloodPressureMeasurementUUID = "00002a35-0000-1000-8000-00805f9b34fb"

	PulseOximeterServiceUUID     = "00001822-0000-1000-8000-00805f9b34fb"
	PLXContinuousMeasurementUUID = "00002a5f-0000-1000-8000-00805f9b34fb"

	BatteryServiceUUID = "0000180f-0000-1000-8000-00805f9b34fb"
	BatteryLevelUUID   = "00002a19-0000-1000-8000-00805f9b34fb"
)

// ServiceKind identifies one monitored health service.
type ServiceKind int

const (
	ServiceHeartRate ServiceKind = iota
	ServiceThermometer
	ServiceBloodPressure
	ServicePulseOximeter
	ServiceBattery
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceHeartRate:
		return "heart rate"
	case ServiceThermometer:
		return "thermometer"
	case ServiceBloodPressure:
		return "blood pressure"
	case ServicePulseOximeter:
		return "pulse oximeter"
	case ServiceBattery:
		return "battery"
	default:
		return "unknown"
	}
}

// serviceTable maps each ServiceKind to the GATT service that advertises
// it and the characteristic carrying its measurement.
var serviceTable = []struct {
	kind        ServiceKind
	serviceUUID string
	charUUID    string
}{
	{ServiceHeartRate, HeartRateServiceUUID, HeartRateMeasurementUUID},
	{ServiceThermometer, HealthThermometerServiceUUID, TemperatureMeasurementUUID},
	{ServiceBloodPressure, BloodPressureServiceUUID, BloodPressureMeasurementUUID},
	{ServicePulseOximeter, PulseOximeterServiceUUID, PLXContinuousMeasurementUUID},
	{ServiceBattery, BatteryServiceUUID, BatteryLevelUUID},
}

// Advertisement is one discovered BLE peripheral, produced per scan cycle
// and never persisted.
type Advertisement struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read fetches the characteristic's current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notification delivery.
	Unsubscribe() error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// ServiceUUIDs enumerates the UUIDs of the services the peripheral exposes.
	ServiceUUIDs() ([]string, error)
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the host BLE adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers advertising peripherals until ctx is done.
	Scan(ctx context.Context) ([]Advertisement, error)
	// Connect establishes a connection to the peripheral at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
