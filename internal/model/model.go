package model

import (
	"encoding/json"
	"fmt"
	"time"

	"breaker-monitor/internal/datapoint"
)

const (
	SwitchOn     = "ON"
	SwitchOff    = "OFF"
	NotAvailable = "N/A"

	// TimestampLayout is the wall-clock layout used for stored timestamps.
	TimestampLayout = "2006-01-02 15:04:05"
	// ClockLayout is the 12-hour clock shown on the dashboard and daily sheets.
	ClockLayout = "03:04:05 PM"
)

// RawPoint is one vendor data point as reported by the cloud API or a push.
type RawPoint struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
	DPID  int    `json:"dp_id,omitempty"`
	T     int64  `json:"t,omitempty"`
}

// Reading is a cached numeric field. Valid is false until the device reported it.
type Reading struct {
	Value float64
	Valid bool
}

// Known wraps an observed value.
func Known(v float64) Reading { return Reading{Value: v, Valid: true} }

func (r Reading) String() string {
	if !r.Valid {
		return NotAvailable
	}
	return datapoint.FormatFloat(r.Value)
}

// Cell returns the value for a spreadsheet cell: the number, or "N/A".
func (r Reading) Cell() any {
	if !r.Valid {
		return NotAvailable
	}
	return r.Value
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(r.Value)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*r = Known(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s != NotAvailable {
		return fmt.Errorf("reading: unexpected value %q", s)
	}
	*r = Reading{}
	return nil
}

// Record is one normalized data point of an update batch.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Display    string         `json:"display"`
	Stored     any            `json:"value"`
	Unit       string         `json:"unit"`
	Kind       datapoint.Kind `json:"kind"`
	Raw        any            `json:"raw,omitempty"`
	Diagnostic error          `json:"-"`
}

// DiagnosticText is the diagnostic message, or "" for a clean decode.
func (r Record) DiagnosticText() string {
	if r.Diagnostic == nil {
		return ""
	}
	return r.Diagnostic.Error()
}

// Snapshot is the cache-filled view of the tracked fields after one update batch.
type Snapshot struct {
	Timestamp   time.Time  `json:"timestamp"`
	DeviceID    string     `json:"device_id"`
	RawPoints   []RawPoint `json:"raw_points"`
	Switch      string     `json:"switch"`
	Voltage     Reading    `json:"voltage"`
	Frequency   Reading    `json:"frequency"`
	Current     Reading    `json:"current"`
	ActivePower Reading    `json:"active_power"`
	PowerFactor Reading    `json:"power_factor"`
	Offline     bool       `json:"offline"`
}

// Clock is the snapshot time on the 12-hour clock.
func (s Snapshot) Clock() string { return s.Timestamp.Format(ClockLayout) }

// Lines renders the snapshot for console output.
func (s Snapshot) Lines() []string {
	sw := s.Switch
	if sw == "" {
		sw = NotAvailable
	}
	return []string{
		"Time: " + s.Clock(),
		"Breaker Switch: " + sw,
		"Voltage: " + s.Voltage.String() + " V",
		"Frequency: " + s.Frequency.String() + " Hz",
		"Current: " + s.Current.String() + " A",
		"Active Power: " + s.ActivePower.String() + " kW",
		"Power Factor: " + s.PowerFactor.String(),
	}
}

// Status is the dashboard status line derived from the switch state.
func (s Snapshot) Status() string {
	switch s.Switch {
	case SwitchOn:
		return "ONLINE & ACTIVE"
	case SwitchOff:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}
