// Package server exposes the monitor over HTTP: scan/connect/disconnect
// control, the current vitals snapshot, persisted records, the incident
// log and a websocket stream of vitals updates.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/healthguardpro/healthguard/internal/alert"
	"github.com/healthguardpro/healthguard/internal/ble"
	"github.com/healthguardpro/healthguard/internal/record"
	"github.com/healthguardpro/healthguard/internal/vitals"
)

// Monitor is the slice of the BLE monitor the server drives.
type Monitor interface {
	Scan(ctx context.Context, timeout time.Duration) ([]ble.Advertisement, error)
	Connect(ctx context.Context, address string) error
	Disconnect()
	Snapshot() vitals.Snapshot
	Subscribe(obs vitals.Observer) (unsubscribe func())
	Status() ble.Status
}

// Server wires the HTTP surface. engine and recorder are optional; their
// routes answer 404 when absent.
type Server struct {
	monitor     Monitor
	engine      *alert.Engine
	recorder    *record.Recorder
	scanTimeout time.Duration
	upgrader    websocket.Upgrader
}

// New creates a Server around the monitor and its collaborators.
func New(monitor Monitor, engine *alert.Engine, recorder *record.Recorder, scanTimeout time.Duration) *Server {
	return &Server{
		monitor:     monitor,
		engine:      engine,
		recorder:    recorder,
		scanTimeout: scanTimeout,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Router builds the route table with logging and panic recovery.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/vitals", s.handleVitals).Methods(http.MethodGet)
	if s.recorder != nil {
		api.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	}
	if s.engine != nil {
		api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
		api.HandleFunc("/trigger-emergency", s.handleTriggerEmergency).Methods(http.MethodPost)
	}
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	return handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, r))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.monitor.Scan(r.Context(), s.scanTimeout)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}

	err := s.monitor.Connect(r.Context(), req.Address)
	switch {
	case errors.Is(err, ble.ErrAlreadyConnected):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.monitor.Disconnect()
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.monitor.Status(),
		"vitals": s.monitor.Snapshot(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var q record.Query
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		q.Limit = limit
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid since timestamp"))
			return
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid until timestamp"))
			return
		}
		q.Until = t
	}

	records, err := s.recorder.Records(q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []record.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	incidents := s.engine.Incidents()
	if incidents == nil {
		incidents = []alert.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleTriggerEmergency(w http.ResponseWriter, r *http.Request) {
	incident := s.engine.Trigger(s.monitor.Snapshot())
	writeJSON(w, http.StatusOK, incident)
}

// wsUpdate is one frame on the vitals stream.
type wsUpdate struct {
	Vitals    vitals.Snapshot `json:"vitals"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates := make(chan wsUpdate, 16)
	unsubscribe := s.monitor.Subscribe(func(snap vitals.Snapshot, at time.Time) {
		select {
		case updates <- wsUpdate{Vitals: snap, Timestamp: at}:
		default:
			// Slow consumer; drop rather than stall notification fan-in.
		}
	})
	defer unsubscribe()

	// Current state first, then the live stream.
	if err := conn.WriteJSON(wsUpdate{Vitals: s.monitor.Snapshot(), Timestamp: time.Now()}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case u := <-updates:
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[HTTP] encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
