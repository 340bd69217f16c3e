// Package record is the persistence collaborator: it stores time-series
// vitals records in SQLite. The BLE core knows nothing about it; the
// recorder observes the vitals store like any other consumer.
package record

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/healthguardpro/healthguard/internal/vitals"
)

const schema = `
CREATE TABLE IF NOT EXISTS health_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	heart_rate INTEGER,
	temperature REAL,
	blood_pressure_systolic INTEGER,
	blood_pressure_diastolic INTEGER,
	oxygen_saturation INTEGER,
	battery_level INTEGER
);
CREATE INDEX IF NOT EXISTS idx_health_records_recorded_at
	ON health_records (recorded_at);
`

// Record is one persisted vitals row.
type Record struct {
	ID         int64           `json:"id"`
	RecordedAt time.Time       `json:"recorded_at"`
	Vitals     vitals.Snapshot `json:"vitals"`
}

// Recorder writes vitals snapshots to a SQLite database.
type Recorder struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	// The sqlite driver is single-writer; one connection avoids
	// SQLITE_BUSY under concurrent observers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: init schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Save persists one snapshot with its timestamp.
func (r *Recorder) Save(s vitals.Snapshot, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO health_records
			(recorded_at, heart_rate, temperature, blood_pressure_systolic,
			 blood_pressure_diastolic, oxygen_saturation, battery_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano),
		nullableInt(s.HeartRateBpm),
		nullableFloat(s.TemperatureF),
		nullableInt(s.BloodPressureSystolic),
		nullableInt(s.BloodPressureDiastolic),
		nullableInt(s.OxygenSaturationPct),
		nullableInt(s.BatteryPct),
	)
	if err != nil {
		return fmt.Errorf("record: save: %w", err)
	}
	return nil
}

// HandleUpdate is a vitals observer that persists every update. Errors
// are logged; persistence never interferes with live monitoring.
func (r *Recorder) HandleUpdate(s vitals.Snapshot, at time.Time) {
	if err := r.Save(s, at); err != nil {
		slog.Error("[RECORD] persist failed", "error", err)
	}
}

// Query describes a record lookup. Zero-value fields are unconstrained.
type Query struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Records returns persisted rows newest first, filtered by q.
func (r *Recorder) Records(q Query) ([]Record, error) {
	where := "WHERE 1=1"
	args := []any{}
	if !q.Since.IsZero() {
		where += " AND recorded_at >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		where += " AND recorded_at <= ?"
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}
	limit := ""
	if q.Limit > 0 {
		limit = " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.Query(`
		SELECT id, recorded_at, heart_rate, temperature,
		       blood_pressure_systolic, blood_pressure_diastolic,
		       oxygen_saturation, battery_level
		FROM health_records `+where+`
		ORDER BY recorded_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("record: query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                    Record
			recordedAt             string
			hr, sys, dia, ox, batt sql.NullInt64
			temp                   sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &recordedAt, &hr, &temp, &sys, &dia, &ox, &batt); err != nil {
			return nil, fmt.Errorf("record: scan: %w", err)
		}
		rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("record: parse timestamp %q: %w", recordedAt, err)
		}
		rec.Vitals = vitals.Snapshot{
			HeartRateBpm:           fromNullInt(hr),
			TemperatureF:           fromNullFloat(temp),
			BloodPressureSystolic:  fromNullInt(sys),
			BloodPressureDiastolic: fromNullInt(dia),
			OxygenSaturationPct:    fromNullInt(ox),
			BatteryPct:             fromNullInt(batt),
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
