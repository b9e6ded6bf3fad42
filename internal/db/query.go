package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"breaker-monitor/internal/tariff"
)

// Row mirrors a row of device_data.
type Row struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
	Code       string    `json:"dp_code"`
	Name       string    `json:"dp_name"`
	Value      any       `json:"dp_value"`
	Display    string    `json:"dp_display"`
	Unit       string    `json:"dp_unit"`
	Kind       string    `json:"dp_type"`
	Diagnostic string    `json:"dp_diagnostic,omitempty"`
}

// Query filters History. Zero fields are ignored; To is exclusive.
type Query struct {
	DeviceID string
	Code     string
	From     time.Time
	To       time.Time
	Limit    int
}

const selectColumns = `SELECT id, timestamp, device_id, dp_code, COALESCE(dp_name, ''), dp_value,
	COALESCE(dp_display, ''), COALESCE(dp_unit, ''), COALESCE(dp_type, ''), COALESCE(dp_diagnostic, '')
	FROM device_data`

// History returns matching rows, newest first.
func (d *DB) History(ctx context.Context, q Query) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if q.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, q.DeviceID)
	}
	if q.Code != "" {
		where = append(where, "dp_code = ?")
		args = append(args, q.Code)
	}
	if !q.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, d.formatTime(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, d.formatTime(q.To))
	}
	stmt := selectColumns
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return d.queryRows(ctx, stmt, args...)
}

// Latest returns the newest row of every code reported by deviceID, ordered by code.
func (d *DB) Latest(ctx context.Context, deviceID string) ([]Row, error) {
	stmt := selectColumns + ` WHERE id IN (
		SELECT MAX(id) FROM device_data WHERE device_id = ? GROUP BY dp_code
	) ORDER BY dp_code`
	return d.queryRows(ctx, stmt, deviceID)
}

// PowerSamples returns the active power of every stored snapshot in [from, to),
// oldest first. Snapshots of an open breaker carry 0; unobserved power is skipped.
func (d *DB) PowerSamples(ctx context.Context, deviceID string, from, to time.Time) ([]tariff.Sample, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT timestamp, active_power FROM device_snapshot
		WHERE device_id = ? AND active_power IS NOT NULL
		AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id`,
		deviceID, d.formatTime(from), d.formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query power samples: %w", err)
	}
	defer rows.Close()

	var out []tariff.Sample
	for rows.Next() {
		var (
			ts string
			kw float64
		)
		if err := rows.Scan(&ts, &kw); err != nil {
			return nil, err
		}
		at, err := d.parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		out = append(out, tariff.Sample{At: at, PowerKW: kw})
	}
	return out, rows.Err()
}

// Days lists the local dates with stored data for deviceID, newest first.
func (d *DB) Days(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := d.SQL.QueryContext(ctx,
		`SELECT DISTINCT substr(timestamp, 1, 10) AS day FROM device_data WHERE device_id = ? ORDER BY day DESC`,
		deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	return out, rows.Err()
}

// Count returns the number of stored rows.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count device_data: %w", err)
	}
	return n, nil
}

func (d *DB) queryRows(ctx context.Context, stmt string, args ...any) ([]Row, error) {
	rows, err := d.SQL.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query device_data: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			r     Row
			ts    string
			value any
		)
		if err := rows.Scan(&r.ID, &ts, &r.DeviceID, &r.Code, &r.Name, &value,
			&r.Display, &r.Unit, &r.Kind, &r.Diagnostic); err != nil {
			return nil, err
		}
		if r.Timestamp, err = d.parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		r.Value = normalizeValue(value)
		out = append(out, r)
	}
	return out, rows.Err()
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case []byte:
		return string(x)
	default:
		return x
	}
}

// DayBounds returns [start of day, start of next day) for a local date "2006-01-02".
func DayBounds(day string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", day, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}
