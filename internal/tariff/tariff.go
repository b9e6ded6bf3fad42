// Package tariff prices energy consumption with a progressive slab table.
package tariff

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Slab is one tier of the price curve: the first CapacityKWh units billed at Rate.
type Slab struct {
	CapacityKWh float64 `yaml:"capacity_kwh"`
	Rate        float64 `yaml:"rate"`
}

// slabJSON renders an infinite capacity as null; encoding/json rejects +Inf.
type slabJSON struct {
	CapacityKWh *float64 `json:"capacity_kwh"`
	Rate        float64  `json:"rate"`
}

func (s Slab) MarshalJSON() ([]byte, error) {
	out := slabJSON{Rate: s.Rate}
	if !math.IsInf(s.CapacityKWh, 1) {
		c := s.CapacityKWh
		out.CapacityKWh = &c
	}
	return json.Marshal(out)
}

func (s *Slab) UnmarshalJSON(b []byte) error {
	var in slabJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.Rate = in.Rate
	s.CapacityKWh = math.Inf(1)
	if in.CapacityKWh != nil {
		s.CapacityKWh = *in.CapacityKWh
	}
	return nil
}

// Table is an ordered slab sequence ending with an unbounded slab.
type Table []Slab

// DefaultTable is the DPDC residential tariff (BDT per kWh).
func DefaultTable() Table {
	return Table{
		{CapacityKWh: 50, Rate: 4.63},
		{CapacityKWh: 25, Rate: 5.26},
		{CapacityKWh: 125, Rate: 7.20},
		{CapacityKWh: 100, Rate: 7.59},
		{CapacityKWh: 100, Rate: 8.02},
		{CapacityKWh: 200, Rate: 12.67},
		{CapacityKWh: math.Inf(1), Rate: 14.61},
	}
}

var ErrNoTail = errors.New("tariff: last slab must have infinite capacity")

// Validate checks the table is usable for Cost.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("tariff: empty slab table")
	}
	for i, s := range t {
		if math.IsNaN(s.CapacityKWh) || s.CapacityKWh <= 0 {
			return fmt.Errorf("tariff: slab %d: capacity must be positive", i)
		}
		if math.IsNaN(s.Rate) || math.IsInf(s.Rate, 0) || s.Rate < 0 {
			return fmt.Errorf("tariff: slab %d: rate must be a non-negative number", i)
		}
		if math.IsInf(s.CapacityKWh, 1) && i != len(t)-1 {
			return fmt.Errorf("tariff: slab %d: only the last slab may be unbounded", i)
		}
	}
	if !math.IsInf(t[len(t)-1].CapacityKWh, 1) {
		return ErrNoTail
	}
	return nil
}

// Cost prices kwh across the slabs in order. Negative input costs nothing.
func (t Table) Cost(kwh float64) float64 {
	remaining := kwh
	total := 0.0
	for _, s := range t {
		if remaining <= 0 {
			break
		}
		use := math.Min(remaining, s.CapacityKWh)
		total += use * s.Rate
		remaining -= use
	}
	return total
}

// Breakdown is the per-slab split of a Cost computation.
type Breakdown struct {
	Slab   Slab    `json:"slab"`
	Units  float64 `json:"units_kwh"`
	Amount float64 `json:"amount"`
}

// Breakdown returns the slabs touched by kwh with their units and amounts.
func (t Table) Breakdown(kwh float64) []Breakdown {
	var out []Breakdown
	remaining := kwh
	for _, s := range t {
		if remaining <= 0 {
			break
		}
		use := math.Min(remaining, s.CapacityKWh)
		out = append(out, Breakdown{Slab: s, Units: use, Amount: use * s.Rate})
		remaining -= use
	}
	return out
}
