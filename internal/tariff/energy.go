package tariff

import (
	"sort"
	"time"
)

// DefaultGap is the interval assumed for the first sample and for any
// sample that does not advance the clock.
const DefaultGap = time.Second

// Sample is an active power reading at a point in time.
type Sample struct {
	At      time.Time `json:"at"`
	PowerKW float64   `json:"power_kw"`
}

// UsagePoint is one sample with its energy and running totals.
type UsagePoint struct {
	At             time.Time `json:"at"`
	PowerKW        float64   `json:"power_kw"`
	EnergyKWh      float64   `json:"energy_kwh"`
	CumulativeKWh  float64   `json:"cumulative_kwh"`
	CumulativeCost float64   `json:"cumulative_cost"`
}

// Usage is the integrated energy of a sample series and its cost.
type Usage struct {
	TotalKWh  float64      `json:"total_kwh"`
	TotalCost float64      `json:"total_cost"`
	Points    []UsagePoint `json:"points"`
}

// Integrate converts power samples to energy. Each sample is held for the
// gap since the previous sample; negative power contributes nothing.
func (t Table) Integrate(samples []Sample) Usage {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	u := Usage{Points: make([]UsagePoint, 0, len(sorted))}
	for i, s := range sorted {
		gap := DefaultGap
		if i > 0 {
			if d := s.At.Sub(sorted[i-1].At); d > 0 {
				gap = d
			}
		}
		energy := s.PowerKW * gap.Seconds() / 3600
		if energy < 0 {
			energy = 0
		}
		u.TotalKWh += energy
		u.Points = append(u.Points, UsagePoint{
			At:             s.At,
			PowerKW:        s.PowerKW,
			EnergyKWh:      energy,
			CumulativeKWh:  u.TotalKWh,
			CumulativeCost: t.Cost(u.TotalKWh),
		})
	}
	u.TotalCost = t.Cost(u.TotalKWh)
	return u
}
