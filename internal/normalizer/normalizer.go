// Package normalizer turns raw vendor data point batches into snapshots and
// normalized records, keeping the last known value of the tracked fields.
package normalizer

import (
	"sync"
	"time"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/model"
)

// Tracked data point codes held in the state cache.
const (
	CodeSwitch      = "switch"
	CodeVoltage     = "output_voltage"
	CodeFrequency   = "supply_frequency"
	CodeCurrent     = "output_current"
	CodePower       = "output_power"
	CodePowerFactor = "power_factor"
	CodeStatus      = "device_status"
)

// State is the last decoded value of every tracked code.
type State struct {
	Switch      string
	Voltage     model.Reading
	Frequency   model.Reading
	Current     model.Reading
	ActivePower model.Reading
	PowerFactor model.Reading
}

func initialState() State { return State{Switch: model.NotAvailable} }

func offState() State {
	zero := model.Known(0)
	return State{
		Switch:      model.SwitchOff,
		Voltage:     zero,
		Frequency:   zero,
		Current:     zero,
		ActivePower: zero,
		PowerFactor: zero,
	}
}

// apply stores a cleanly decoded value for a tracked code.
func (s *State) apply(code string, stored any) {
	if code == CodeSwitch {
		if v, ok := stored.(string); ok {
			s.Switch = v
		}
		return
	}
	v, ok := stored.(float64)
	if !ok {
		return
	}
	switch code {
	case CodeVoltage:
		s.Voltage = model.Known(v)
	case CodeFrequency:
		s.Frequency = model.Known(v)
	case CodeCurrent:
		s.Current = model.Known(v)
	case CodePower:
		s.ActivePower = model.Known(v)
	case CodePowerFactor:
		s.PowerFactor = model.Known(v)
	}
}

// Normalizer owns the device state cache. All methods are safe for
// concurrent use; push and poll deliveries are serialized by mu.
type Normalizer struct {
	catalog *datapoint.Catalog

	mu         sync.Mutex
	state      State
	lastUpdate time.Time
}

// New returns a normalizer over catalog, or the default catalog when nil.
func New(catalog *datapoint.Catalog) *Normalizer {
	if catalog == nil {
		catalog = datapoint.DefaultCatalog()
	}
	return &Normalizer{catalog: catalog, state: initialState()}
}

// Reset clears the cache and the last update marker.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = initialState()
	n.lastUpdate = time.Time{}
}

// State returns a copy of the cache.
func (n *Normalizer) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// LastUpdate is the timestamp of the last non-empty batch. ok is false after
// Reset or an offline snapshot.
func (n *Normalizer) LastUpdate() (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastUpdate, !n.lastUpdate.IsZero()
}

// DecodeBatch decodes points in order, updates the cache with the tracked
// codes it carries and returns the filled snapshot plus one record per point.
func (n *Normalizer) DecodeBatch(deviceID string, points []model.RawPoint, ts time.Time) (model.Snapshot, []model.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(points) > 0 {
		n.lastUpdate = ts
	}

	records := make([]model.Record, 0, len(points))
	for _, p := range points {
		rec := model.Record{
			Timestamp: ts,
			DeviceID:  deviceID,
			Code:      p.Code,
			Raw:       p.Value,
		}
		spec, ok := n.catalog.Lookup(p.Code)
		if !ok {
			res := datapoint.DecodeUnknown(p.Code, p.Value)
			rec.Name = datapoint.UnknownName
			rec.Kind = datapoint.KindUnknown
			rec.Display, rec.Stored, rec.Diagnostic = res.Display, res.Stored, res.Diagnostic
			records = append(records, rec)
			continue
		}

		res := spec.Decode(p.Value)
		rec.Name = spec.Name
		rec.Kind = spec.Kind
		rec.Unit = spec.Unit
		rec.Display, rec.Stored, rec.Diagnostic = res.Display, res.Stored, res.Diagnostic
		if !res.Degraded() {
			n.state.apply(p.Code, res.Stored)
		}
		records = append(records, rec)
	}

	raw := make([]model.RawPoint, len(points))
	copy(raw, points)
	return buildSnapshot(deviceID, ts, raw, n.state), records
}

// OfflineSnapshot forces the cache to the breaker-off state and returns the
// fixed offline record set. Repeated calls produce the same output.
func (n *Normalizer) OfflineSnapshot(deviceID string, ts time.Time) (model.Snapshot, []model.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = offState()
	n.lastUpdate = time.Time{}

	snap := buildSnapshot(deviceID, ts, []model.RawPoint{}, n.state)
	snap.Offline = true
	return snap, offlineRecords(deviceID, ts)
}

func buildSnapshot(deviceID string, ts time.Time, raw []model.RawPoint, st State) model.Snapshot {
	snap := model.Snapshot{
		Timestamp:   ts,
		DeviceID:    deviceID,
		RawPoints:   raw,
		Switch:      st.Switch,
		Voltage:     st.Voltage,
		Frequency:   st.Frequency,
		Current:     st.Current,
		ActivePower: st.ActivePower,
		PowerFactor: st.PowerFactor,
	}
	// an open breaker has no output, whatever the cache still holds
	if snap.Switch == model.SwitchOff {
		zero := model.Known(0)
		snap.Voltage, snap.Frequency, snap.Current, snap.ActivePower, snap.PowerFactor = zero, zero, zero, zero, zero
	}
	return snap
}

func offlineRecords(deviceID string, ts time.Time) []model.Record {
	rec := func(code, name, display string, stored any, unit string, kind datapoint.Kind) model.Record {
		return model.Record{
			Timestamp: ts,
			DeviceID:  deviceID,
			Code:      code,
			Name:      name,
			Display:   display,
			Stored:    stored,
			Unit:      unit,
			Kind:      kind,
		}
	}
	return []model.Record{
		rec(CodeSwitch, "Breaker Switch", model.SwitchOff, model.SwitchOff, "", datapoint.KindBoolean),
		rec(CodeVoltage, "Voltage", "0.0 V", 0.0, "V", datapoint.KindInteger),
		rec(CodeFrequency, "Frequency", "0.0 Hz", 0.0, "Hz", datapoint.KindInteger),
		rec(CodeCurrent, "Current", "0.0 A", 0.0, "A", datapoint.KindInteger),
		rec(CodePower, "Active Power", "0.0 kW", 0.0, "kW", datapoint.KindInteger),
		rec(CodePowerFactor, "Power Factor", "0.0", 0.0, "", datapoint.KindInteger),
		rec(CodeStatus, "Device Status", "OFFLINE", "OFFLINE", "", datapoint.KindString),
	}
}
