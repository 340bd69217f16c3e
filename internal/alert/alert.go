// Package alert evaluates vitals snapshots against critical thresholds
// and dispatches emergency notifications to configured contacts. It is a
// downstream consumer of the vitals store; the BLE core makes no
// decisions about what is critical.
package alert

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthguardpro/healthguard/internal/vitals"
)

// Incident types.
const (
	TypeCriticalVitals = "automatic_critical_vitals"
	TypeManualTrigger  = "manual_trigger"
)

// Thresholds are the ranges outside which a vital is critical.
type Thresholds struct {
	HeartRateMin    int     `yaml:"heart_rate_min"`
	HeartRateMax    int     `yaml:"heart_rate_max"`
	SystolicMin     int     `yaml:"systolic_min"`
	SystolicMax     int     `yaml:"systolic_max"`
	DiastolicMin    int     `yaml:"diastolic_min"`
	DiastolicMax    int     `yaml:"diastolic_max"`
	OxygenMin       int     `yaml:"oxygen_min"`
	TemperatureMinF float64 `yaml:"temperature_min_f"`
	TemperatureMaxF float64 `yaml:"temperature_max_f"`
}

// DefaultThresholds returns the standard critical ranges.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeartRateMin:    40,
		HeartRateMax:    140,
		SystolicMin:     80,
		SystolicMax:     180,
		DiastolicMin:    50,
		DiastolicMax:    110,
		OxygenMin:       90,
		TemperatureMinF: 95,
		TemperatureMaxF: 103,
	}
}

// Critical reports whether any populated field of the snapshot is outside
// its range. Absent fields are never critical.
func (t Thresholds) Critical(s vitals.Snapshot) bool {
	if hr := s.HeartRateBpm; hr != nil && (*hr < t.HeartRateMin || *hr > t.HeartRateMax) {
		return true
	}
	if sys := s.BloodPressureSystolic; sys != nil && (*sys < t.SystolicMin || *sys > t.SystolicMax) {
		return true
	}
	if dia := s.BloodPressureDiastolic; dia != nil && (*dia < t.DiastolicMin || *dia > t.DiastolicMax) {
		return true
	}
	if ox := s.OxygenSaturationPct; ox != nil && *ox < t.OxygenMin {
		return true
	}
	if temp := s.TemperatureF; temp != nil && (*temp < t.TemperatureMinF || *temp > t.TemperatureMaxF) {
		return true
	}
	return false
}

// Contact is one emergency contact.
type Contact struct {
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone" json:"phone"`
}

// ContactStatus records the delivery outcome for one contact.
type ContactStatus struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Status     string `json:"status"` // "sent" or "failed"
	MessageSID string `json:"message_sid,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Incident is one triggered emergency, newest kept first in the log.
type Incident struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	At               time.Time       `json:"timestamp"`
	Vitals           vitals.Snapshot `json:"vitals"`
	ContactsNotified []ContactStatus `json:"contacts_notified"`
}

// Notifier delivers one alert message to a phone number and returns the
// provider's message ID.
type Notifier interface {
	Send(to, body string) (id string, err error)
}

// Engine watches vitals updates and triggers emergencies. Register
// HandleUpdate as a vitals.Store observer. A per-incident cooldown keeps
// a sustained critical vital from re-paging on every notification.
type Engine struct {
	thresholds Thresholds
	contacts   []Contact
	notifier   Notifier
	userName   string
	cooldown   time.Duration

	mu        sync.Mutex
	lastAuto  time.Time
	incidents []Incident

	now func() time.Time
}

// NewEngine creates an engine. notifier may be nil, in which case
// incidents are logged and recorded but no messages go out.
func NewEngine(thresholds Thresholds, contacts []Contact, notifier Notifier, userName string, cooldown time.Duration) *Engine {
	return &Engine{
		thresholds: thresholds,
		contacts:   contacts,
		notifier:   notifier,
		userName:   userName,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// HandleUpdate is the vitals observer entry point.
func (e *Engine) HandleUpdate(s vitals.Snapshot, at time.Time) {
	if !e.thresholds.Critical(s) {
		return
	}

	e.mu.Lock()
	if !e.lastAuto.IsZero() && at.Sub(e.lastAuto) < e.cooldown {
		e.mu.Unlock()
		return
	}
	e.lastAuto = at
	e.mu.Unlock()

	e.trigger(TypeCriticalVitals, s, at)
}

// Trigger fires a manual SOS with the given snapshot, bypassing thresholds
// and cooldown.
func (e *Engine) Trigger(s vitals.Snapshot) Incident {
	return e.trigger(TypeManualTrigger, s, e.now())
}

func (e *Engine) trigger(incidentType string, s vitals.Snapshot, at time.Time) Incident {
	incident := Incident{
		ID:     uuid.NewString(),
		Type:   incidentType,
		At:     at,
		Vitals: s,
	}
	slog.Warn("[ALERT] emergency triggered", "id", incident.ID, "type", incidentType)

	body := buildMessage(e.userName, incidentType, s)
	if e.notifier != nil {
		for _, contact := range e.contacts {
			phone := normalizePhone(contact.Phone)
			if phone == "" {
				continue
			}
			status := ContactStatus{Name: contact.Name, Phone: phone, Status: "sent"}
			id, err := e.notifier.Send(phone, body)
			if err != nil {
				slog.Error("[ALERT] notification failed", "contact", contact.Name, "error", err)
				status.Status = "failed"
				status.Error = err.Error()
			} else {
				status.MessageSID = id
			}
			incident.ContactsNotified = append(incident.ContactsNotified, status)
		}
	}

	e.mu.Lock()
	e.incidents = append([]Incident{incident}, e.incidents...)
	e.mu.Unlock()
	return incident
}

// Incidents returns the incident log, newest first.
func (e *Engine) Incidents() []Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Incident, len(e.incidents))
	copy(out, e.incidents)
	return out
}

// buildMessage renders the alert text sent to emergency contacts.
func buildMessage(userName, incidentType string, s vitals.Snapshot) string {
	if userName == "" {
		userName = "Unknown"
	}
	var b strings.Builder
	if incidentType == TypeCriticalVitals {
		fmt.Fprintf(&b, "CRITICAL HEALTH ALERT for %s!\n\nCritical vital signs detected:\n", userName)
	} else {
		fmt.Fprintf(&b, "EMERGENCY ALERT from %s!\n\nSOS button activated.\n", userName)
	}
	if s.HeartRateBpm != nil {
		fmt.Fprintf(&b, "Heart Rate: %d bpm\n", *s.HeartRateBpm)
	}
	if s.BloodPressureSystolic != nil {
		diastolic := "--"
		if s.BloodPressureDiastolic != nil {
			diastolic = fmt.Sprintf("%d", *s.BloodPressureDiastolic)
		}
		fmt.Fprintf(&b, "Blood Pressure: %d/%s mmHg\n", *s.BloodPressureSystolic, diastolic)
	}
	if s.OxygenSaturationPct != nil {
		fmt.Fprintf(&b, "Oxygen: %d%%\n", *s.OxygenSaturationPct)
	}
	if s.TemperatureF != nil {
		fmt.Fprintf(&b, "Temperature: %.1f°F\n", *s.TemperatureF)
	}
	b.WriteString("\nPlease check on them immediately!")
	return b.String()
}

// normalizePhone ensures a number carries a country code; bare national
// numbers get +1.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	phone = strings.NewReplacer("-", "", " ", "").Replace(phone)
	return "+1" + phone
}
