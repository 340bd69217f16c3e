package ble

import (
	"context"
	"testing"
	"time"
)

func TestScannerFiltersByKeyword(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.devices = []Advertisement{
		{Address: "AA:00", Name: "Polar H10", RSSI: -60},
		{Address: "AA:01", Name: "Living Room TV", RSSI: -40},
		{Address: "AA:02", Name: "", RSSI: -80},
		{Address: "AA:03", Name: "MI Band 7", RSSI: -72},
	}

	found, err := NewScanner(adapter).Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(found), found)
	}
	if found[0].Address != "AA:00" || found[1].Address != "AA:03" {
		t.Errorf("wrong devices matched: %+v", found)
	}
}

func TestScannerEmptyEnvironment(t *testing.T) {
	adapter := newMockAdapter(nil)

	found, err := NewScanner(adapter).Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v, want nil for empty environment", err)
	}
	if len(found) != 0 {
		t.Errorf("got %d devices, want 0", len(found))
	}
}

func TestMatchesHealthDevice(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Galaxy Watch4", true},
		{"fitbit charge", true},
		{"HUAWEI Band 8", true},
		{"HealthTracker", true},
		{"JBL Speaker", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := matchesHealthDevice(tc.name); got != tc.want {
			t.Errorf("matchesHealthDevice(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
