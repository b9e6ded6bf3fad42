package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"breaker-monitor/internal/model"
)

// DB wraps the sqlite connection holding the device_data and device_snapshot logs.
type DB struct {
	SQL *sql.DB
	loc *time.Location
}

// Option configures Open.
type Option func(*DB)

// WithLocation sets the zone timestamps are written and read in.
func WithLocation(loc *time.Location) Option {
	return func(d *DB) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// Open opens (creating if needed) the SQLite database and ensures the schema.
func Open(path string, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	d := &DB{SQL: conn, loc: time.Local}
	for _, o := range opts {
		o(d)
	}
	if err := migrate(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.SQL.Close() }

// Name identifies the store in sink logs and metrics.
func (d *DB) Name() string { return "sqlite" }

// Publish stores the snapshot and every record of it in one transaction.
// A zero snapshot without records is ignored.
func (d *DB) Publish(ctx context.Context, snap model.Snapshot, recs []model.Record) error {
	if snap.DeviceID == "" && len(recs) == 0 {
		return nil
	}
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if snap.DeviceID != "" {
			if err := d.insertSnapshot(ctx, tx, snap); err != nil {
				return err
			}
		}
		return d.insertRecords(ctx, tx, recs)
	})
}

func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) insertRecords(ctx context.Context, tx *sql.Tx, recs []model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		v, err := columnValue(r.Stored)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Code, err)
		}
		if _, err := stmt.ExecContext(ctx,
			d.formatTime(r.Timestamp), r.DeviceID, r.Code, r.Name,
			v, r.Display, r.Unit, r.Kind.String(), r.DiagnosticText(),
		); err != nil {
			return fmt.Errorf("insert %s: %w", r.Code, err)
		}
	}
	return nil
}

func (d *DB) insertSnapshot(ctx context.Context, tx *sql.Tx, snap model.Snapshot) error {
	sw := snap.Switch
	if sw == "" {
		sw = model.NotAvailable
	}
	offline := 0
	if snap.Offline {
		offline = 1
	}
	if _, err := tx.ExecContext(ctx, insertSnapshotSQL,
		d.formatTime(snap.Timestamp), snap.DeviceID, sw,
		readingValue(snap.Voltage), readingValue(snap.Frequency), readingValue(snap.Current),
		readingValue(snap.ActivePower), readingValue(snap.PowerFactor), offline,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// readingValue maps an unobserved reading to NULL.
func readingValue(r model.Reading) any {
	if !r.Valid {
		return nil
	}
	return r.Value
}

// columnValue keeps numbers and strings native so SQL can filter on type;
// anything else is stored as its JSON text.
func columnValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64, string, int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *DB) formatTime(t time.Time) string {
	return t.In(d.loc).Format(model.TimestampLayout)
}

func (d *DB) parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(model.TimestampLayout, s, d.loc)
}

// Location is the zone stored timestamps are expressed in.
func (d *DB) Location() *time.Location { return d.loc }
