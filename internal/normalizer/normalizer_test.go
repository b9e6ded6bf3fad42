package normalizer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/model"
)

var ts = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func fullBatch() []model.RawPoint {
	return []model.RawPoint{
		{Code: "switch", Value: true},
		{Code: "output_voltage", Value: float64(2301)},
		{Code: "supply_frequency", Value: float64(500)},
		{Code: "output_current", Value: float64(1520)},
		{Code: "output_power", Value: float64(345)},
		{Code: "power_factor", Value: float64(987)},
	}
}

func TestDecodeBatchFillsSnapshot(t *testing.T) {
	n := New(nil)

	snap, recs := n.DecodeBatch("dev-1", fullBatch(), ts)

	assert.Equal(t, "dev-1", snap.DeviceID)
	assert.Equal(t, model.SwitchOn, snap.Switch)
	assert.Equal(t, model.Known(230.1), snap.Voltage)
	assert.Equal(t, model.Known(50.0), snap.Frequency)
	assert.Equal(t, model.Known(1.52), snap.Current)
	assert.Equal(t, model.Known(0.345), snap.ActivePower)
	assert.Equal(t, model.Known(0.987), snap.PowerFactor)
	assert.False(t, snap.Offline)
	require.Len(t, recs, 6)
	assert.Equal(t, "230.1 V", recs[1].Display)
	assert.Equal(t, "Voltage", recs[1].Name)

	last, ok := n.LastUpdate()
	assert.True(t, ok)
	assert.Equal(t, ts, last)
}

func TestDecodeBatchRecordsKeepInputOrder(t *testing.T) {
	n := New(nil)
	batch := []model.RawPoint{
		{Code: "fault", Value: float64(5)},
		{Code: "zzz", Value: "?"},
		{Code: "switch", Value: false},
	}

	_, recs := n.DecodeBatch("dev", batch, ts)

	require.Len(t, recs, 3)
	assert.Equal(t, "fault", recs[0].Code)
	assert.Equal(t, "short_circuit_alarm, overload_alarm", recs[0].Stored)
	assert.Equal(t, "zzz", recs[1].Code)
	assert.Equal(t, "switch", recs[2].Code)
}

func TestDecodeBatchUnknownCode(t *testing.T) {
	n := New(nil)
	raw := map[string]any{"nested": 1.0}

	_, recs := n.DecodeBatch("dev", []model.RawPoint{{Code: "vendor_extra", Value: raw}}, ts)

	require.Len(t, recs, 1)
	assert.Equal(t, datapoint.KindUnknown, recs[0].Kind)
	assert.Equal(t, datapoint.UnknownName, recs[0].Name)
	assert.Equal(t, raw, recs[0].Stored)
	assert.ErrorIs(t, recs[0].Diagnostic, datapoint.ErrUnknownDataPoint)
}

func TestDecodeBatchFillForward(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	snap, recs := n.DecodeBatch("dev", []model.RawPoint{{Code: "output_voltage", Value: float64(2222)}}, ts.Add(time.Minute))

	require.Len(t, recs, 1)
	assert.Equal(t, model.Known(222.2), snap.Voltage)
	assert.Equal(t, model.SwitchOn, snap.Switch)
	assert.Equal(t, model.Known(1.52), snap.Current)
	assert.Equal(t, model.Known(0.345), snap.ActivePower)
}

func TestDecodeBatchNeverObservedIsNA(t *testing.T) {
	n := New(nil)

	snap, _ := n.DecodeBatch("dev", []model.RawPoint{{Code: "output_voltage", Value: float64(2300)}}, ts)

	assert.Equal(t, model.NotAvailable, snap.Switch)
	assert.False(t, snap.Current.Valid)
	assert.Equal(t, model.NotAvailable, snap.Current.String())
}

func TestSwitchOffForcesZero(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	snap, _ := n.DecodeBatch("dev", []model.RawPoint{{Code: "switch", Value: false}}, ts.Add(time.Minute))

	assert.Equal(t, model.SwitchOff, snap.Switch)
	for _, r := range []model.Reading{snap.Voltage, snap.Frequency, snap.Current, snap.ActivePower, snap.PowerFactor} {
		assert.Equal(t, model.Known(0), r)
	}
	// the cache still holds the stale values; only the snapshot is forced
	assert.Equal(t, model.Known(230.1), n.State().Voltage)
}

func TestSwitchOffForcesZeroForUnobservedFields(t *testing.T) {
	n := New(nil)

	snap, _ := n.DecodeBatch("dev", []model.RawPoint{{Code: "switch", Value: float64(0)}}, ts)

	assert.Equal(t, model.Known(0), snap.Voltage)
	assert.Equal(t, model.Known(0), snap.PowerFactor)
}

func TestEmptyBatchDoesNotAdvanceLastUpdate(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	snap, recs := n.DecodeBatch("dev", nil, ts.Add(time.Hour))

	assert.Empty(t, recs)
	assert.NotNil(t, recs)
	assert.Equal(t, model.Known(230.1), snap.Voltage)
	last, ok := n.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, ts, last)
}

func TestDegradedValueDoesNotTouchCache(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	snap, recs := n.DecodeBatch("dev", []model.RawPoint{{Code: "output_power", Value: "garbage"}}, ts)

	require.Len(t, recs, 1)
	assert.ErrorIs(t, recs[0].Diagnostic, datapoint.ErrMalformedNumber)
	assert.Equal(t, model.Known(0.345), snap.ActivePower)
}

func TestOfflineSnapshotIdempotent(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	snap1, recs1 := n.OfflineSnapshot("dev", ts)
	state1 := n.State()
	snap2, recs2 := n.OfflineSnapshot("dev", ts)
	state2 := n.State()

	assert.Equal(t, snap1, snap2)
	assert.Equal(t, recs1, recs2)
	assert.Equal(t, state1, state2)

	assert.True(t, snap1.Offline)
	assert.Equal(t, model.SwitchOff, snap1.Switch)
	assert.Equal(t, model.Known(0), snap1.Voltage)
	assert.Empty(t, snap1.RawPoints)
	require.Len(t, recs1, 7)
	assert.Equal(t, CodeStatus, recs1[6].Code)
	assert.Equal(t, "OFFLINE", recs1[6].Stored)

	_, ok := n.LastUpdate()
	assert.False(t, ok)
}

func TestOfflineThenOnlineBatch(t *testing.T) {
	n := New(nil)
	n.OfflineSnapshot("dev", ts)

	snap, _ := n.DecodeBatch("dev", []model.RawPoint{{Code: "switch", Value: true}, {Code: "output_voltage", Value: float64(2290)}}, ts)

	assert.Equal(t, model.SwitchOn, snap.Switch)
	assert.Equal(t, model.Known(229.0), snap.Voltage)
	assert.Equal(t, model.Known(0), snap.Current)
}

func TestReset(t *testing.T) {
	n := New(nil)
	n.DecodeBatch("dev", fullBatch(), ts)

	n.Reset()

	assert.Equal(t, initialState(), n.State())
	_, ok := n.LastUpdate()
	assert.False(t, ok)
}

func TestConcurrentDelivery(t *testing.T) {
	n := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			n.DecodeBatch("dev", fullBatch(), ts)
		}()
		go func() {
			defer wg.Done()
			n.OfflineSnapshot("dev", ts)
		}()
	}
	wg.Wait()

	st := n.State()
	assert.Contains(t, []string{model.SwitchOn, model.SwitchOff}, st.Switch)
}
