package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Direction is the per-channel policy for scoring a period-over-period
// change. It is a declarative property of the channel, configured once,
// never inferred at call time.
type Direction string

const (
	// HigherIsBetter scores a positive delta as improvement (gas flows,
	// CH4 concentration, efficiency).
	HigherIsBetter Direction = "higher"
	// LowerIsBetter scores a negative delta as improvement (CO2, O2, H2S
	// contamination).
	LowerIsBetter Direction = "lower"
	// Neutral treats any movement outside the stable band as drift to
	// flag, never as improvement.
	Neutral Direction = "neutral"
)

// MetricAggregate selects how a comparison metric is computed over a window.
type MetricAggregate string

const (
	// AggregateAvg averages an instantaneous channel over the window.
	AggregateAvg MetricAggregate = "avg"
	// AggregateProduction differences a totalizer channel over the window
	// (last minus first reading).
	AggregateProduction MetricAggregate = "production"
)

// MetricPolicy declares one comparison metric: which channel feeds it, how
// it is aggregated, which direction counts as improvement, and the percent
// bands separating stable from warning from declined.
type MetricPolicy struct {
	Name           string          `yaml:"name"`
	Channel        string          `yaml:"channel"`
	Label          string          `yaml:"label"`
	Unit           string          `yaml:"unit"`
	Category       string          `yaml:"category"`
	Aggregate      MetricAggregate `yaml:"aggregate"`
	Direction      Direction       `yaml:"direction"`
	StableBandPct  float64         `yaml:"stable_band_pct"`
	DeclineBandPct float64         `yaml:"decline_band_pct"`
}

// Threshold is a declarative min/max band checked at ingest time. Violations
// are recorded as alert rows; nothing is delivered anywhere.
type Threshold struct {
	Channel  string   `yaml:"channel"`
	Label    string   `yaml:"label"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Severity string   `yaml:"severity"`
}

// PolicyConfig is the full declarative table loaded at startup. The built-in
// defaults mirror the plant's commissioning settings; a YAML file can replace
// them wholesale.
type PolicyConfig struct {
	Metrics    []MetricPolicy `yaml:"metrics"`
	Thresholds []Threshold    `yaml:"thresholds"`
}

func f(v float64) *float64 { return &v }

// DefaultPolicy returns the built-in metric and threshold tables.
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{
		Metrics: []MetricPolicy{
			{Name: "raw_biogas_flow", Channel: "raw_biogas_flow", Label: "Raw Biogas Flow", Unit: "Nm³/hr",
				Category: "gas_production", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "purified_gas_flow", Channel: "purified_gas_flow", Label: "Purified Gas Flow", Unit: "Nm³/hr",
				Category: "gas_production", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "product_gas_flow", Channel: "product_gas_flow", Label: "Product Gas Flow", Unit: "Nm³/hr",
				Category: "gas_production", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "raw_biogas_production", Channel: "raw_biogas_totalizer", Label: "Raw Biogas Production", Unit: "Nm³",
				Category: "gas_production", Aggregate: AggregateProduction, Direction: HigherIsBetter},
			{Name: "product_gas_production", Channel: "product_gas_totalizer", Label: "Product Gas Production", Unit: "Nm³",
				Category: "gas_production", Aggregate: AggregateProduction, Direction: HigherIsBetter},
			{Name: "ch4", Channel: "ch4_concentration", Label: "CH₄", Unit: "%",
				Category: "gas_composition", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "co2", Channel: "co2_level", Label: "CO₂", Unit: "%",
				Category: "gas_composition", Aggregate: AggregateAvg, Direction: LowerIsBetter},
			{Name: "o2", Channel: "o2_concentration", Label: "O₂", Unit: "%",
				Category: "gas_composition", Aggregate: AggregateAvg, Direction: LowerIsBetter},
			{Name: "h2s", Channel: "h2s_content", Label: "H₂S", Unit: "ppm",
				Category: "gas_composition", Aggregate: AggregateAvg, Direction: LowerIsBetter},
			{Name: "buffer_tank", Channel: "buffer_tank_level", Label: "Buffer Tank", Unit: "%",
				Category: "equipment", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "lagoon_tank", Channel: "lagoon_tank_level", Label: "Lagoon Tank", Unit: "%",
				Category: "equipment", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "psa_efficiency", Channel: "psa_efficiency", Label: "PSA Efficiency", Unit: "%",
				Category: "equipment", Aggregate: AggregateAvg, Direction: HigherIsBetter},
			{Name: "lt_power", Channel: "lt_panel_power", Label: "LT Panel Power", Unit: "kW",
				Category: "equipment", Aggregate: AggregateAvg, Direction: HigherIsBetter},
		},
		Thresholds: []Threshold{
			{Channel: "ch4_concentration", Label: "CH4 Concentration", Min: f(90), Max: f(100), Severity: "WARNING"},
			{Channel: "co2_level", Label: "CO2 Level", Min: f(0), Max: f(5), Severity: "WARNING"},
			{Channel: "o2_concentration", Label: "O2 Concentration", Min: f(0), Max: f(1), Severity: "WARNING"},
			{Channel: "h2s_content", Label: "H2S Content", Min: f(0), Max: f(500), Severity: "CRITICAL"},
			{Channel: "d1_temp_bottom", Label: "Digester 1 Temperature", Min: f(30), Max: f(45), Severity: "WARNING"},
			{Channel: "d2_temp_bottom", Label: "Digester 2 Temperature", Min: f(30), Max: f(45), Severity: "WARNING"},
			{Channel: "buffer_tank_level", Label: "Buffer Tank Level", Min: f(20), Max: f(95), Severity: "WARNING"},
			{Channel: "psa_efficiency", Label: "PSA Efficiency", Min: f(85), Max: f(100), Severity: "WARNING"},
		},
	}
}

// LoadPolicy reads a PolicyConfig from a YAML file. An empty path returns
// the defaults.
func LoadPolicy(path string) (*PolicyConfig, error) {
	if path == "" {
		cfg := DefaultPolicy()
		cfg.normalize()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %v", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *PolicyConfig) validate() error {
	for _, m := range c.Metrics {
		ch, ok := LookupChannel(m.Channel)
		if !ok {
			return fmt.Errorf("policy metric %q references unknown channel %q", m.Name, m.Channel)
		}
		switch m.Aggregate {
		case AggregateAvg:
			if ch.Class == ChannelTotalizer {
				return fmt.Errorf("policy metric %q averages totalizer channel %q", m.Name, m.Channel)
			}
		case AggregateProduction:
			if ch.Class != ChannelTotalizer {
				return fmt.Errorf("policy metric %q differences non-totalizer channel %q", m.Name, m.Channel)
			}
		default:
			return fmt.Errorf("policy metric %q has unknown aggregate %q", m.Name, m.Aggregate)
		}
		switch m.Direction {
		case HigherIsBetter, LowerIsBetter, Neutral:
		default:
			return fmt.Errorf("policy metric %q has unknown direction %q", m.Name, m.Direction)
		}
	}
	for _, t := range c.Thresholds {
		if _, ok := LookupChannel(t.Channel); !ok {
			return fmt.Errorf("threshold references unknown channel %q", t.Channel)
		}
	}
	return nil
}

// normalize fills the default stable/decline bands where unset.
func (c *PolicyConfig) normalize() {
	for i := range c.Metrics {
		if c.Metrics[i].StableBandPct == 0 {
			c.Metrics[i].StableBandPct = 2
		}
		if c.Metrics[i].DeclineBandPct == 0 {
			c.Metrics[i].DeclineBandPct = 10
		}
	}
}
