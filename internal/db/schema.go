package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS device_data (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     TEXT NOT NULL,
		device_id     TEXT NOT NULL,
		dp_code       TEXT NOT NULL,
		dp_name       TEXT,
		dp_value,
		dp_display    TEXT,
		dp_unit       TEXT,
		dp_type       TEXT,
		dp_diagnostic TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_device_ts ON device_data(device_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_code ON device_data(device_id, dp_code)`,
	// one row per snapshot, after fill-forward and the open-breaker zeroing
	`CREATE TABLE IF NOT EXISTS device_snapshot (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     TEXT NOT NULL,
		device_id     TEXT NOT NULL,
		switch        TEXT NOT NULL,
		voltage       REAL,
		frequency     REAL,
		current       REAL,
		active_power  REAL,
		power_factor  REAL,
		offline       INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_snapshot_device_ts ON device_snapshot(device_id, timestamp)`,
}

const insertRecordSQL = `INSERT INTO device_data
	(timestamp, device_id, dp_code, dp_name, dp_value, dp_display, dp_unit, dp_type, dp_diagnostic)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertSnapshotSQL = `INSERT INTO device_snapshot
	(timestamp, device_id, switch, voltage, frequency, current, active_power, power_factor, offline)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// migrate ensures the schema exists.
func migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
