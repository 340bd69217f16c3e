package vitals

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshotStartsEmpty(t *testing.T) {
	st := NewStore()
	snap := st.Snapshot()
	if snap.HeartRateBpm != nil || snap.TemperatureF != nil ||
		snap.BloodPressureSystolic != nil || snap.BloodPressureDiastolic != nil ||
		snap.OxygenSaturationPct != nil || snap.BatteryPct != nil {
		t.Errorf("new store snapshot has populated fields: %+v", snap)
	}
}

func TestSetHeartRate(t *testing.T) {
	st := NewStore()
	st.SetHeartRate(72)
	snap := st.Snapshot()
	if snap.HeartRateBpm == nil || *snap.HeartRateBpm != 72 {
		t.Errorf("heart rate = %v, want 72", snap.HeartRateBpm)
	}
	if snap.BatteryPct != nil {
		t.Error("battery populated by heart rate update")
	}
}

func TestBloodPressureFieldsChangeTogether(t *testing.T) {
	st := NewStore()
	st.SetBloodPressure(120, 80)
	snap := st.Snapshot()
	if snap.BloodPressureSystolic == nil || snap.BloodPressureDiastolic == nil {
		t.Fatal("blood pressure fields not populated")
	}
	if *snap.BloodPressureSystolic != 120 || *snap.BloodPressureDiastolic != 80 {
		t.Errorf("reading = %d/%d, want 120/80",
			*snap.BloodPressureSystolic, *snap.BloodPressureDiastolic)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	st := NewStore()
	st.SetHeartRate(60)
	first := st.Snapshot()
	st.SetHeartRate(90)
	if *first.HeartRateBpm != 60 {
		t.Errorf("earlier snapshot changed to %d after later update", *first.HeartRateBpm)
	}
	// Writing through a returned snapshot must not reach the store.
	*first.HeartRateBpm = 999
	if got := *st.Snapshot().HeartRateBpm; got != 90 {
		t.Errorf("store heart rate = %d after consumer mutation, want 90", got)
	}
}

func TestObserverReceivesCopyAndTimestamp(t *testing.T) {
	st := NewStore()
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	var got Snapshot
	var at time.Time
	st.Subscribe(func(s Snapshot, ts time.Time) {
		got = s
		at = ts
	})

	st.SetOxygen(97)
	if got.OxygenSaturationPct == nil || *got.OxygenSaturationPct != 97 {
		t.Errorf("observer oxygen = %v, want 97", got.OxygenSaturationPct)
	}
	if !at.Equal(fixed) {
		t.Errorf("observer timestamp = %v, want %v", at, fixed)
	}

	*got.OxygenSaturationPct = 0
	if *st.Snapshot().OxygenSaturationPct != 97 {
		t.Error("observer mutation reached the store")
	}
}

func TestMultipleObservers(t *testing.T) {
	st := NewStore()
	var calls1, calls2 int
	st.Subscribe(func(Snapshot, time.Time) { calls1++ })
	unsub := st.Subscribe(func(Snapshot, time.Time) { calls2++ })

	st.SetBattery(80)
	if calls1 != 1 || calls2 != 1 {
		t.Errorf("observer calls = %d, %d, want 1, 1", calls1, calls2)
	}

	unsub()
	st.SetBattery(79)
	if calls1 != 2 || calls2 != 1 {
		t.Errorf("after unsubscribe: calls = %d, %d, want 2, 1", calls1, calls2)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	st := NewStore()
	unsub := st.Subscribe(func(Snapshot, time.Time) {})
	unsub()
	unsub()
	st.SetBattery(50)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.SetBloodPressure(100+i, 60+i)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := st.Snapshot()
				if snap.BloodPressureSystolic == nil {
					continue
				}
				// Both fields come from the same measurement.
				if *snap.BloodPressureSystolic-*snap.BloodPressureDiastolic != 40 {
					t.Errorf("torn read: %d/%d",
						*snap.BloodPressureSystolic, *snap.BloodPressureDiastolic)
					return
				}
			}
		}()
	}
	wg.Wait()
}
