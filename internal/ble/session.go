package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a peripheral session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateDiscovering
	StateMonitoring
	StateDisconnected
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateMonitoring:
		return "monitoring"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned for operations that need a live session.
var ErrNotConnected = errors.New("ble: session not connected")

// ErrAlreadyConnected is returned by Connect while a session is live.
// The caller must Disconnect first; two sessions are never merged.
var ErrAlreadyConnected = errors.New("ble: session already active")

// ConnectionError reports a failed connect attempt. The session that
// produced it is Failed and must be discarded; there is no implicit retry.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ble: connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Session owns one peripheral connection: link establishment, service
// discovery, capability negotiation and teardown. States move
// Idle → Connecting → Discovering → Monitoring → Disconnected, with
// Failed as the terminal state of a failed connect. A Failed or
// Disconnected session is only reusable via a fresh Connect.
type Session struct {
	adapter    Adapter
	dispatcher *Dispatcher
	onLinkLost func()

	mu        sync.Mutex
	state     SessionState
	address   string
	name      string
	conn      Connection
	supported map[ServiceKind]bool
}

// NewSession creates an idle session. onLinkLost, if non-nil, is invoked
// when the link drops unexpectedly while monitoring; the session is
// already Disconnected by then and never reconnects on its own.
func NewSession(adapter Adapter, dispatcher *Dispatcher, onLinkLost func()) *Session {
	return &Session{
		adapter:    adapter,
		dispatcher: dispatcher,
		onLinkLost: onLinkLost,
		state:      StateIdle,
		supported:  make(map[ServiceKind]bool),
	}
}

// Connect establishes the link, reads the device name (best effort),
// negotiates which health services the peripheral exposes and subscribes
// to each one's measurement notifications. A service that fails
// subscription is recorded as unsupported and logged; partial capability
// never fails the connect. On connection failure the session is Failed
// and must be discarded.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateDiscovering, StateMonitoring:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.address = address
	s.name = ""
	s.supported = make(map[ServiceKind]bool)
	s.mu.Unlock()

	if err := s.adapter.Enable(); err != nil {
		s.fail()
		return &ConnectionError{Address: address, Err: err}
	}

	conn, err := s.adapter.Connect(ctx, address)
	if err != nil {
		s.fail()
		return &ConnectionError{Address: address, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateDiscovering
	s.mu.Unlock()

	conn.OnDisconnect(s.handleLinkLoss)

	name := s.readDeviceName(conn)

	uuids, err := conn.ServiceUUIDs()
	if err != nil {
		conn.Disconnect()
		s.fail()
		return &ConnectionError{Address: address, Err: err}
	}

	available := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		available[u] = true
	}

	supported := make(map[ServiceKind]bool)
	for _, entry := range serviceTable {
		if !available[entry.serviceUUID] {
			continue
		}
		char, err := conn.DiscoverCharacteristic(entry.serviceUUID, entry.charUUID)
		if err != nil {
			slog.Warn("[BLE] service unavailable", "service", entry.kind.String(), "error", err)
			continue
		}
		if err := s.dispatcher.Subscribe(entry.kind, char); err != nil {
			slog.Warn("[BLE] subscription failed", "service", entry.kind.String(), "error", err)
			continue
		}
		supported[entry.kind] = true
		slog.Info("[BLE] monitoring started", "service", entry.kind.String())

		// The battery level is also readable; seed the snapshot without
		// waiting for the first notification.
		if entry.kind == ServiceBattery {
			if data, err := char.Read(); err == nil {
				s.dispatcher.Dispatch(RawNotification{Kind: ServiceBattery, Payload: data})
			}
		}
	}

	s.mu.Lock()
	// The link may have dropped while discovery was in flight.
	if s.state != StateDiscovering {
		s.mu.Unlock()
		return &ConnectionError{Address: address, Err: errors.New("link lost during discovery")}
	}
	s.name = name
	s.supported = supported
	s.state = StateMonitoring
	s.mu.Unlock()

	slog.Info("[BLE] connected", "device", name, "address", address, "services", len(supported))
	return nil
}

// RefreshBattery re-reads the battery level outside the notification
// stream. Returns ErrNotConnected unless the session is monitoring.
func (s *Session) RefreshBattery() error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	supported := s.supported[ServiceBattery]
	s.mu.Unlock()

	if conn == nil || state != StateMonitoring {
		return ErrNotConnected
	}
	if !supported {
		return fmt.Errorf("ble: peripheral has no %s service", ServiceBattery)
	}
	char, err := conn.DiscoverCharacteristic(BatteryServiceUUID, BatteryLevelUUID)
	if err != nil {
		return err
	}
	data, err := char.Read()
	if err != nil {
		return err
	}
	s.dispatcher.Dispatch(RawNotification{Kind: ServiceBattery, Payload: data, ReceivedAt: time.Now()})
	return nil
}

// readDeviceName reads the Generic Access device name, best effort.
func (s *Session) readDeviceName(conn Connection) string {
	char, err := conn.DiscoverCharacteristic(GenericAccessServiceUUID, DeviceNameUUID)
	if err != nil {
		return "Unknown"
	}
	data, err := char.Read()
	if err != nil || len(data) == 0 {
		return "Unknown"
	}
	return string(data)
}

// Disconnect tears down all subscriptions and drops the link. Idempotent:
// safe on an already-disconnected or never-connected session, and the
// state is Disconnected afterwards in every case.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	s.dispatcher.UnsubscribeAll()
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect", "error", err)
		}
		slog.Info("[BLE] disconnected", "address", s.Address())
	}
}

// handleLinkLoss reacts to an unexpected drop of the underlying link.
func (s *Session) handleLinkLoss() {
	s.mu.Lock()
	if s.conn == nil {
		// Already torn down by Disconnect.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	cb := s.onLinkLost
	s.mu.Unlock()

	s.dispatcher.UnsubscribeAll()
	slog.Warn("[BLE] link lost", "address", s.Address())
	if cb != nil {
		cb()
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = StateFailed
	s.conn = nil
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the peripheral address the session was connected to.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Name returns the peripheral's device name, or "Unknown" when the
// peripheral did not expose one.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == "" {
		return "Unknown"
	}
	return s.name
}

// SupportedServices returns the capability set negotiated during
// discovery, in a stable order. Fixed for the session's lifetime.
func (s *Session) SupportedServices() []ServiceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]ServiceKind, 0, len(s.supported))
	for k := range s.supported {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether the peripheral exposed the given service.
func (s *Session) Supports(kind ServiceKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported[kind]
}
