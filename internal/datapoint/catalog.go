package datapoint

// Spec is the static metadata of one vendor data point code.
type Spec struct {
	Code   string   `yaml:"code" json:"code"`
	Name   string   `yaml:"name" json:"name"`
	Kind   Kind     `yaml:"kind" json:"kind"`
	Scale  float64  `yaml:"scale" json:"scale"`
	Unit   string   `yaml:"unit" json:"unit"`
	Labels []string `yaml:"labels" json:"labels,omitempty"`
}

// Catalog is an immutable code -> Spec lookup.
type Catalog struct {
	specs map[string]Spec
	order []string
}

// NewCatalog builds a catalog. A zero Scale defaults to 1; later duplicates win.
func NewCatalog(specs ...Spec) *Catalog {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Scale == 0 {
			s.Scale = 1
		}
		if _, dup := c.specs[s.Code]; !dup {
			c.order = append(c.order, s.Code)
		}
		c.specs[s.Code] = s
	}
	return c
}

// Lookup returns the spec for code.
func (c *Catalog) Lookup(code string) (Spec, bool) {
	if c == nil {
		return Spec{}, false
	}
	s, ok := c.specs[code]
	return s, ok
}

// Specs returns all specs in registration order.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.specs[code])
	}
	return out
}

// FaultLabels are the bit labels of the breaker "fault" bitmap, LSB first.
var FaultLabels = []string{
	"short_circuit_alarm", "surge_alarm", "overload_alarm", "leakagecurr_alarm", "temp_dif_fault",
	"fire_alarm", "high_power_alarm", "self_test_alarm", "ov_cr", "unbalance_alarm", "ov_vol",
	"undervoltage_alarm", "miss_phase_alarm", "outage_alarm", "magnetism_alarm", "credit_alarm",
	"no_balance_alarm",
}

// DefaultCatalog returns the data point table of the single-phase smart breaker.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Spec{Code: "total_forward_energy", Name: "正向总有功电量 (Total Forward Energy)", Kind: KindInteger, Scale: 100, Unit: "kWh"},
		Spec{Code: "phase_a", Name: "A相电压，电流及功率 (Phase A V/C/P)", Kind: KindRaw},
		Spec{Code: "fault", Name: "故障告警 (Fault Alarm)", Kind: KindBitmap, Labels: FaultLabels},
		Spec{Code: "switch_prepayment", Name: "预付费功能开关 (Prepayment Switch)", Kind: KindBoolean},
		Spec{Code: "clear_energy", Name: "剩余可用电量清零 (Clear Remaining Energy)", Kind: KindBoolean},
		Spec{Code: "balance_energy", Name: "剩余可用电量显示 (Remaining Energy)", Kind: KindInteger, Scale: 1, Unit: "kWh"},
		Spec{Code: "charge_energy", Name: "电量充值 (Charge Energy)", Kind: KindInteger, Scale: 1, Unit: "kWh"},
		Spec{Code: "leakage_current", Name: "剩余电流显示 (Leakage Current)", Kind: KindInteger, Scale: 1, Unit: "mA"},
		Spec{Code: "switch", Name: "断路器开关 (Breaker Switch)", Kind: KindBoolean},
		Spec{Code: "alarm_set_1", Name: "告警设置1 (Alarm Setting 1)", Kind: KindRaw},
		Spec{Code: "alarm_set_2", Name: "告警设置2 (Alarm Setting 2)", Kind: KindRaw},
		Spec{Code: "breaker_id", Name: "设备号显示 (Device Breaker ID)", Kind: KindString},
		Spec{Code: "leakagecurr_test", Name: "剩余电流测试 (Leakage Current Test)", Kind: KindBoolean},
		Spec{Code: "power_factor", Name: "功率因素 (Power Factor)", Kind: KindInteger, Scale: 1000},
		Spec{Code: "supply_frequency", Name: "供电频率 (Supply Frequency)", Kind: KindInteger, Scale: 10, Unit: "Hz"},
		Spec{Code: "output_voltage", Name: "Voltage", Kind: KindInteger, Scale: 10, Unit: "V"},
		Spec{Code: "output_current", Name: "Current", Kind: KindInteger, Scale: 1000, Unit: "A"},
		Spec{Code: "output_power", Name: "有功功率 (Active Power)", Kind: KindInteger, Scale: 1000, Unit: "kW"},
		Spec{Code: "refresh", Name: "刷新上报 (Refresh Report)", Kind: KindBoolean},
		Spec{Code: "clr_all_energy", Name: "清电量 (Clear All Energy)", Kind: KindBoolean},
	)
}
