package ble

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// healthKeywords is the name heuristic for wearable and medical
// peripherals. A peripheral whose advertised name contains any of these,
// case-insensitively, is treated as a candidate health device.
var healthKeywords = []string{
	"health", "heart", "fitbit", "garmin", "polar", "watch", "band", "mi", "huawei",
}

// Scanner performs time-bounded advertisement discovery filtered to
// likely health devices.
type Scanner struct {
	adapter Adapter
}

// NewScanner creates a Scanner on the given host adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// Scan runs one discovery cycle bounded by timeout and returns the
// advertisements whose name matches the health-device heuristic. Seeing
// no matching device is not an error: the result is simply empty.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	advs, err := s.adapter.Scan(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]Advertisement, 0, len(advs))
	for _, adv := range advs {
		if matchesHealthDevice(adv.Name) {
			matched = append(matched, adv)
		}
	}
	return matched, nil
}

func matchesHealthDevice(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range healthKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
