package ble

import (
	"context"
	"sync"
	"time"

	"github.com/healthguardpro/healthguard/internal/vitals"
)

// Monitor is the top-level health-device monitor: one scanner, at most
// one live session, and the vitals feed. Downstream consumers see only
// snapshots and change notifications; everything they do with them is
// their own business.
type Monitor struct {
	adapter Adapter
	scanner *Scanner
	store   *vitals.Store

	mu      sync.Mutex
	session *Session

	onLinkLost func(address string)
}

// NewMonitor creates a monitor on the given host adapter, feeding the
// given store. onLinkLost, if non-nil, is called with the peripheral
// address whenever a live session drops unexpectedly.
func NewMonitor(adapter Adapter, store *vitals.Store, onLinkLost func(address string)) *Monitor {
	return &Monitor{
		adapter:    adapter,
		scanner:    NewScanner(adapter),
		store:      store,
		onLinkLost: onLinkLost,
	}
}

// Scan runs one time-bounded discovery cycle for candidate health
// devices. An empty result is not an error.
func (m *Monitor) Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	return m.scanner.Scan(ctx, timeout)
}

// Connect opens a session to the peripheral at address. While a session
// is live it returns ErrAlreadyConnected: sessions are never merged, the
// caller must Disconnect first. A failed attempt leaves no live session
// and a fresh Connect may follow.
func (m *Monitor) Connect(ctx context.Context, address string) error {
	m.mu.Lock()
	if m.session != nil {
		switch m.session.State() {
		// Idle here means another Connect holds the session but has not
		// started yet; treat it as live rather than racing it.
		case StateIdle, StateConnecting, StateDiscovering, StateMonitoring:
			m.mu.Unlock()
			return ErrAlreadyConnected
		}
	}
	session := NewSession(m.adapter, NewDispatcher(m.store), func() {
		if m.onLinkLost != nil {
			m.onLinkLost(address)
		}
	})
	m.session = session
	m.mu.Unlock()

	return session.Connect(ctx, address)
}

// Disconnect tears down the live session, if any. Idempotent.
func (m *Monitor) Disconnect() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session != nil {
		session.Disconnect()
	}
}

// Snapshot returns a copy of the current vitals.
func (m *Monitor) Snapshot() vitals.Snapshot {
	return m.store.Snapshot()
}

// Subscribe registers an observer for vitals changes and returns its
// unsubscribe function.
func (m *Monitor) Subscribe(obs vitals.Observer) (unsubscribe func()) {
	return m.store.Subscribe(obs)
}

// Status describes the current session for external surfaces.
type Status struct {
	State      string   `json:"state"`
	Address    string   `json:"address,omitempty"`
	DeviceName string   `json:"device_name,omitempty"`
	Services   []string `json:"services,omitempty"`
}

// Status reports the live session's state, or idle when none exists.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return Status{State: StateIdle.String()}
	}
	kinds := session.SupportedServices()
	services := make([]string, 0, len(kinds))
	for _, k := range kinds {
		services = append(services, k.String())
	}
	return Status{
		State:      session.State().String(),
		Address:    session.Address(),
		DeviceName: session.Name(),
		Services:   services,
	}
}
