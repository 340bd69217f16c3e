package ble

import (
	"context"
	"errors"
	"testing"

	"github.com/healthguardpro/healthguard/internal/vitals"
)

// newHealthPeripheral builds a mock connection for a wearable exposing
// heart rate, blood pressure and battery.
func newHealthPeripheral() *mockConnection {
	return newMockConnection().
		withDeviceName("Polar H10").
		withService(HeartRateServiceUUID, HeartRateMeasurementUUID, nil).
		withService(BloodPressureServiceUUID, BloodPressureMeasurementUUID, nil).
		withService(BatteryServiceUUID, BatteryLevelUUID, []byte{0x5A})
}

func newTestSession(conn *mockConnection) (*Session, *vitals.Store) {
	store := vitals.NewStore()
	return NewSession(newMockAdapter(conn), NewDispatcher(store), nil), store
}

func TestConnectReachesMonitoring(t *testing.T) {
	conn := newHealthPeripheral()
	session, _ := newTestSession(conn)

	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := session.State(); got != StateMonitoring {
		t.Errorf("state = %v, want monitoring", got)
	}
	if got := session.Name(); got != "Polar H10" {
		t.Errorf("name = %q, want \"Polar H10\"", got)
	}
	for _, kind := range []ServiceKind{ServiceHeartRate, ServiceBloodPressure, ServiceBattery} {
		if !session.Supports(kind) {
			t.Errorf("Supports(%v) = false, want true", kind)
		}
	}
	if session.Supports(ServiceThermometer) {
		t.Error("Supports(thermometer) = true for peripheral without it")
	}
}

func TestConnectFailureIsFatal(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = errors.New("connection refused")
	session := NewSession(adapter, NewDispatcher(vitals.NewStore()), nil)

	err := session.Connect(context.Background(), "AA:00")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
	if got := session.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestConnectWhileLiveIsRejected(t *testing.T) {
	session, _ := newTestSession(newHealthPeripheral())
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := session.Connect(context.Background(), "AA:01"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestPartialCapabilityIsNotFatal(t *testing.T) {
	// The peripheral advertises the thermometer service but its
	// measurement characteristic cannot be subscribed.
	conn := newHealthPeripheral()
	conn.serviceUUIDs = append(conn.serviceUUIDs, HealthThermometerServiceUUID)
	conn.chars[TemperatureMeasurementUUID] = &mockCharacteristic{
		subscribeErr: errors.New("CCCD write rejected"),
	}
	session, _ := newTestSession(conn)

	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v, want nil for partial capability", err)
	}
	if session.Supports(ServiceThermometer) {
		t.Error("thermometer recorded as supported despite failed subscription")
	}
	if !session.Supports(ServiceHeartRate) {
		t.Error("heart rate lost to an unrelated service failure")
	}
}

func TestDeviceNameFallback(t *testing.T) {
	conn := newMockConnection().
		withService(HeartRateServiceUUID, HeartRateMeasurementUUID, nil)
	session, _ := newTestSession(conn)

	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := session.Name(); got != "Unknown" {
		t.Errorf("name = %q, want \"Unknown\"", got)
	}
}

func TestBatterySeededFromInitialRead(t *testing.T) {
	session, store := newTestSession(newHealthPeripheral())
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	snap := store.Snapshot()
	if snap.BatteryPct == nil || *snap.BatteryPct != 90 {
		t.Errorf("battery = %v, want 90 from initial read", snap.BatteryPct)
	}
}

func TestNotificationsFlowIntoStore(t *testing.T) {
	conn := newHealthPeripheral()
	session, store := newTestSession(conn)
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.char(HeartRateMeasurementUUID).SimulateNotification([]byte{0x00, 0x48})
	snap := store.Snapshot()
	if snap.HeartRateBpm == nil || *snap.HeartRateBpm != 72 {
		t.Errorf("heart rate = %v, want 72", snap.HeartRateBpm)
	}
}

func TestMalformedNotificationIsIsolated(t *testing.T) {
	conn := newHealthPeripheral()
	session, store := newTestSession(conn)
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	bp := conn.char(BloodPressureMeasurementUUID)
	bp.SimulateNotification([]byte{0x00, 0x78, 0x00, 0x50, 0x00}) // 120/80
	bp.SimulateNotification([]byte{0x00, 0x78})                   // truncated

	snap := store.Snapshot()
	if snap.BloodPressureSystolic == nil || *snap.BloodPressureSystolic != 120 {
		t.Fatalf("systolic = %v, want 120 after malformed notification", snap.BloodPressureSystolic)
	}

	// The subscription survives and the next valid reading lands.
	bp.SimulateNotification([]byte{0x00, 0x7D, 0x00, 0x55, 0x00}) // 125/85
	snap = store.Snapshot()
	if *snap.BloodPressureSystolic != 125 || *snap.BloodPressureDiastolic != 85 {
		t.Errorf("reading = %d/%d, want 125/85",
			*snap.BloodPressureSystolic, *snap.BloodPressureDiastolic)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn := newHealthPeripheral()
	session, _ := newTestSession(conn)
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	session.Disconnect()
	if got := session.State(); got != StateDisconnected {
		t.Errorf("state after first Disconnect = %v, want disconnected", got)
	}
	session.Disconnect()
	if got := session.State(); got != StateDisconnected {
		t.Errorf("state after second Disconnect = %v, want disconnected", got)
	}
}

func TestDisconnectNeverConnected(t *testing.T) {
	session, _ := newTestSession(newMockConnection())
	session.Disconnect()
	if got := session.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestDisconnectTearsDownSubscriptions(t *testing.T) {
	conn := newHealthPeripheral()
	session, store := newTestSession(conn)
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	hr := conn.char(HeartRateMeasurementUUID)
	session.Disconnect()
	if hr.subscribed() {
		t.Error("heart rate subscription still active after Disconnect")
	}
	if !conn.disconnected {
		t.Error("underlying connection not dropped")
	}

	// A late notification from the radio must not land.
	hr.SimulateNotification([]byte{0x00, 0x48})
	if store.Snapshot().HeartRateBpm != nil {
		t.Error("notification processed after Disconnect")
	}
}

func TestRefreshBattery(t *testing.T) {
	conn := newHealthPeripheral()
	session, store := newTestSession(conn)

	if err := session.RefreshBattery(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RefreshBattery() before connect error = %v, want ErrNotConnected", err)
	}

	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.char(BatteryLevelUUID).value = []byte{0x2A}
	if err := session.RefreshBattery(); err != nil {
		t.Fatalf("RefreshBattery() error = %v", err)
	}
	if got := *store.Snapshot().BatteryPct; got != 42 {
		t.Errorf("battery = %d after refresh, want 42", got)
	}

	session.Disconnect()
	if err := session.RefreshBattery(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RefreshBattery() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestLinkLossMovesToDisconnected(t *testing.T) {
	conn := newHealthPeripheral()
	store := vitals.NewStore()
	lost := false
	session := NewSession(newMockAdapter(conn), NewDispatcher(store), func() { lost = true })
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.SimulateLinkLoss()
	if got := session.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected after link loss", got)
	}
	if !lost {
		t.Error("link-loss callback not invoked")
	}
	if conn.char(HeartRateMeasurementUUID).subscribed() {
		t.Error("subscriptions not torn down on link loss")
	}

	// No auto-reconnect: a fresh Connect is the only way back.
	if err := session.Connect(context.Background(), "AA:00"); err != nil {
		t.Errorf("reconnect after link loss error = %v", err)
	}
	if got := session.State(); got != StateMonitoring {
		t.Errorf("state = %v, want monitoring after explicit reconnect", got)
	}
}
