// Package vitals holds the authoritative snapshot of decoded vital signs
// and notifies observers when a reading changes.
package vitals

import (
	"sync"
	"time"
)

// Snapshot is one consistent view of the monitored vitals. Every field is
// optional: nil means the matching service has not reported yet, which is
// distinct from a zero reading.
type Snapshot struct {
	HeartRateBpm           *int     `json:"heart_rate,omitempty"`
	TemperatureF           *float64 `json:"temperature,omitempty"`
	BloodPressureSystolic  *int     `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *int     `json:"blood_pressure_diastolic,omitempty"`
	OxygenSaturationPct    *int     `json:"oxygen_saturation,omitempty"`
	BatteryPct             *int     `json:"battery_level,omitempty"`
}

// clone returns a deep copy. Consumers always get clones so a later update
// can never retroactively change a reading they already hold.
func (s Snapshot) clone() Snapshot {
	return Snapshot{
		HeartRateBpm:           copyInt(s.HeartRateBpm),
		TemperatureF:           copyFloat(s.TemperatureF),
		BloodPressureSystolic:  copyInt(s.BloodPressureSystolic),
		BloodPressureDiastolic: copyInt(s.BloodPressureDiastolic),
		OxygenSaturationPct:    copyInt(s.OxygenSaturationPct),
		BatteryPct:             copyInt(s.BatteryPct),
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Observer receives a snapshot copy after each successful update, along
// with the update's timestamp.
type Observer func(s Snapshot, at time.Time)

// Store owns the current Snapshot. Updates are serialized against reads;
// a reader never observes a partially written snapshot, and the two blood
// pressure fields always change together.
type Store struct {
	mu        sync.Mutex
	current   Snapshot
	observers map[int]Observer
	nextID    int

	now func() time.Time
}

// NewStore returns an empty Store; every snapshot field starts absent.
func NewStore() *Store {
	return &Store{
		observers: make(map[int]Observer),
		now:       time.Now,
	}
}

// Snapshot returns a copy of the current vitals.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.clone()
}

// Subscribe registers an observer and returns a function that removes it.
// Multiple observers are supported; each receives its own snapshot copy.
func (st *Store) Subscribe(obs Observer) (unsubscribe func()) {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.observers[id] = obs
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		delete(st.observers, id)
		st.mu.Unlock()
	}
}

// SetHeartRate records a heart rate reading in beats per minute.
func (st *Store) SetHeartRate(bpm int) {
	st.update(func(s *Snapshot) { s.HeartRateBpm = &bpm })
}

// SetTemperature records a temperature reading in degrees Fahrenheit.
func (st *Store) SetTemperature(degF float64) {
	st.update(func(s *Snapshot) { s.TemperatureF = &degF })
}

// SetBloodPressure records a blood pressure reading in mmHg. Both fields
// change in the same update, so an observer or reader can never pair a
// systolic value with a diastolic value from a different measurement.
func (st *Store) SetBloodPressure(systolic, diastolic int) {
	st.update(func(s *Snapshot) {
		s.BloodPressureSystolic = &systolic
		s.BloodPressureDiastolic = &diastolic
	})
}

// SetOxygen records an oxygen saturation reading in percent.
func (st *Store) SetOxygen(pct int) {
	st.update(func(s *Snapshot) { s.OxygenSaturationPct = &pct })
}

// SetBattery records the peripheral's battery charge in percent.
func (st *Store) SetBattery(pct int) {
	st.update(func(s *Snapshot) { s.BatteryPct = &pct })
}

func (st *Store) update(mutate func(*Snapshot)) {
	st.mu.Lock()
	mutate(&st.current)
	at := st.now()
	observers := make([]Observer, 0, len(st.observers))
	for _, obs := range st.observers {
		observers = append(observers, obs)
	}
	snap := st.current
	st.mu.Unlock()

	// Callbacks run outside the lock; each observer gets its own copy.
	for _, obs := range observers {
		obs(snap.clone(), at)
	}
}
