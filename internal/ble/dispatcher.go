package ble

import (
	"log/slog"
	"sync"
	"time"

	"github.com/healthguardpro/healthguard/internal/ble/gatt"
	"github.com/healthguardpro/healthguard/internal/vitals"
)

// RawNotification is one characteristic-value-changed event, consumed
// immediately by the dispatcher.
type RawNotification struct {
	Kind       ServiceKind
	Payload    []byte
	ReceivedAt time.Time
}

// Dispatcher routes characteristic notifications to the decoder for their
// ServiceKind and pushes decoded values into the vitals store. Each
// session owns its own dispatcher; there is at most one active
// subscription per ServiceKind.
type Dispatcher struct {
	store *vitals.Store

	mu   sync.Mutex
	subs map[ServiceKind]Characteristic
}

// NewDispatcher creates a dispatcher feeding the given store.
func NewDispatcher(store *vitals.Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		subs:  make(map[ServiceKind]Characteristic),
	}
}

// Subscribe enables notifications on the characteristic and routes them
// through the decoder for kind. Re-subscribing a kind replaces the prior
// subscription.
func (d *Dispatcher) Subscribe(kind ServiceKind, char Characteristic) error {
	d.mu.Lock()
	if prev, ok := d.subs[kind]; ok {
		if err := prev.Unsubscribe(); err != nil {
			slog.Warn("[BLE] failed to drop prior subscription", "service", kind.String(), "error", err)
		}
	}
	d.subs[kind] = char
	d.mu.Unlock()

	err := char.Subscribe(func(data []byte) {
		d.Dispatch(RawNotification{Kind: kind, Payload: data, ReceivedAt: time.Now()})
	})
	if err != nil {
		d.mu.Lock()
		if d.subs[kind] == char {
			delete(d.subs, kind)
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// Dispatch decodes one notification and updates the matching vitals
// field. A decode failure is logged and leaves the field unchanged; the
// subscription stays active for subsequent notifications.
func (d *Dispatcher) Dispatch(n RawNotification) {
	switch n.Kind {
	case ServiceHeartRate:
		bpm, err := gatt.HeartRate(n.Payload)
		if err != nil {
			d.logDecodeFailure(n, err)
			return
		}
		d.store.SetHeartRate(bpm)
	case ServiceThermometer:
		degF, err := gatt.Temperature(n.Payload)
		if err != nil {
			d.logDecodeFailure(n, err)
			return
		}
		d.store.SetTemperature(degF)
	case ServiceBloodPressure:
		systolic, diastolic, err := gatt.BloodPressure(n.Payload)
		if err != nil {
			d.logDecodeFailure(n, err)
			return
		}
		d.store.SetBloodPressure(systolic, diastolic)
	case ServicePulseOximeter:
		pct, err := gatt.Oxygen(n.Payload)
		if err != nil {
			d.logDecodeFailure(n, err)
			return
		}
		d.store.SetOxygen(pct)
	case ServiceBattery:
		pct, err := gatt.Battery(n.Payload)
		if err != nil {
			d.logDecodeFailure(n, err)
			return
		}
		d.store.SetBattery(pct)
	default:
		slog.Warn("[BLE] notification for unknown service", "kind", int(n.Kind))
	}
}

func (d *Dispatcher) logDecodeFailure(n RawNotification, err error) {
	slog.Warn("[BLE] dropping malformed notification",
		"service", n.Kind.String(), "len", len(n.Payload), "error", err)
}

// UnsubscribeAll tears down every active subscription. Idempotent; called
// by the session on disconnect.
func (d *Dispatcher) UnsubscribeAll() {
	d.mu.Lock()
	subs := d.subs
	d.subs = make(map[ServiceKind]Characteristic)
	d.mu.Unlock()

	for kind, char := range subs {
		if err := char.Unsubscribe(); err != nil {
			slog.Warn("[BLE] unsubscribe failed", "service", kind.String(), "error", err)
		}
	}
}
