package main

import (
	"math"
	"math/rand"
	"time"
)

// TimestampLayout matches the server's ingestion wire format.
const TimestampLayout = "2006-01-02 15:04:05"

// Simulator produces a plausible stream of plant readings. All evolving
// quantities live in explicit fields so two simulators with the same seed
// and start time emit identical streams.
type Simulator struct {
	rng   *rand.Rand
	clock time.Time

	// cumulative totalizer registers
	rawTotal      float64
	purifiedTotal float64
	productTotal  float64
	feed1Total    float64
	feed2Total    float64
	freshTotal    float64
	recycleTotal  float64

	// slow-moving process state
	digesterTemp float64
	bufferLevel  float64
	lagoonLevel  float64

	// equipment state with persistence between ticks
	psaOn        bool
	compressorOn bool
}

// NewSimulator creates a simulator emitting one reading per minute from
// start, using seed for all randomness.
func NewSimulator(seed int64, start time.Time) *Simulator {
	return &Simulator{
		rng:           rand.New(rand.NewSource(seed)),
		clock:         start,
		rawTotal:      1250000,
		purifiedTotal: 680000,
		productTotal:  640000,
		feed1Total:    98000,
		feed2Total:    87000,
		freshTotal:    45000,
		recycleTotal:  152000,
		digesterTemp:  38.5,
		bufferLevel:   62,
		lagoonLevel:   48,
		psaOn:         true,
		compressorOn:  true,
	}
}

// jitter returns v perturbed by up to ±spread.
func (s *Simulator) jitter(v, spread float64) float64 {
	return v + (s.rng.Float64()*2-1)*spread
}

// diurnal returns a [0.85, 1.15] multiplier following a 24h cycle.
func (s *Simulator) diurnal() float64 {
	h := float64(s.clock.Hour()) + float64(s.clock.Minute())/60
	return 1 + 0.15*math.Sin((h-6)/24*2*math.Pi)
}

// flipMaybe toggles an equipment flag with probability p, giving runs of
// on/off minutes rather than per-sample noise.
func (s *Simulator) flipMaybe(state bool, p float64) bool {
	if s.rng.Float64() < p {
		return !state
	}
	return state
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Payload is one minute's reading in the ingestion wire format.
type Payload map[string]interface{}

// Next advances the plant by one minute and returns the full payload.
func (s *Simulator) Next(plantID string) Payload {
	s.clock = s.clock.Add(time.Minute)
	s.psaOn = s.flipMaybe(s.psaOn, 0.01)
	s.compressorOn = s.flipMaybe(s.compressorOn, 0.005)

	d := s.diurnal()
	rawFlow := s.jitter(420*d, 15)
	if !s.compressorOn {
		rawFlow *= 0.2
	}
	purifiedFlow := rawFlow * s.jitter(0.54, 0.02)
	if !s.psaOn {
		purifiedFlow = 0
	}
	productFlow := purifiedFlow * s.jitter(0.96, 0.01)

	feed1 := s.jitter(8.5*d, 0.6)
	feed2 := s.jitter(7.2*d, 0.6)
	fresh := s.jitter(3.1, 0.3)
	recycle := s.jitter(11.4, 0.8)

	// registers accumulate per-minute volumes
	s.rawTotal += rawFlow / 60
	s.purifiedTotal += purifiedFlow / 60
	s.productTotal += productFlow / 60
	s.feed1Total += feed1 / 60
	s.feed2Total += feed2 / 60
	s.freshTotal += fresh / 60
	s.recycleTotal += recycle / 60

	s.digesterTemp += (38.5 - s.digesterTemp) * 0.02
	s.digesterTemp = s.jitter(s.digesterTemp, 0.05)
	s.bufferLevel = math.Min(95, math.Max(15, s.jitter(s.bufferLevel, 0.4)))
	s.lagoonLevel = math.Min(90, math.Max(10, s.jitter(s.lagoonLevel, 0.2)))

	efficiency := 0.0
	if rawFlow > 0 {
		efficiency = 100 * purifiedFlow / rawFlow
	}

	p := Payload{
		"plant_id":  plantID,
		"timestamp": s.clock.Format(TimestampLayout),

		"raw_biogas_flow":         round2(rawFlow),
		"raw_biogas_totalizer":    round2(s.rawTotal),
		"purified_gas_flow":       round2(purifiedFlow),
		"purified_gas_totalizer":  round2(s.purifiedTotal),
		"product_gas_flow":        round2(productFlow),
		"product_gas_totalizer":   round2(s.productTotal),
		"ch4_concentration":       round2(s.jitter(93.5, 0.8)),
		"co2_level":               round2(s.jitter(2.8, 0.4)),
		"o2_concentration":        round2(math.Abs(s.jitter(0.3, 0.1))),
		"h2s_content":             round2(math.Abs(s.jitter(120, 40))),
		"dew_point":               round2(s.jitter(-32, 2)),
		"d1_temp_bottom":          round2(s.jitter(s.digesterTemp, 0.2)),
		"d1_temp_top":             round2(s.jitter(s.digesterTemp-1.2, 0.2)),
		"d1_gas_pressure":         round2(s.jitter(18.5, 0.8)),
		"d1_air_pressure":         round2(s.jitter(21.2, 0.5)),
		"d1_slurry_height":        round2(s.jitter(6.8, 0.05)),
		"d1_gas_level":            round2(s.jitter(72, 1.5)),
		"d2_temp_bottom":          round2(s.jitter(s.digesterTemp+0.3, 0.2)),
		"d2_temp_top":             round2(s.jitter(s.digesterTemp-0.9, 0.2)),
		"d2_gas_pressure":         round2(s.jitter(17.9, 0.8)),
		"d2_air_pressure":         round2(s.jitter(20.8, 0.5)),
		"d2_slurry_height":        round2(s.jitter(7.1, 0.05)),
		"d2_gas_level":            round2(s.jitter(68, 1.5)),
		"buffer_tank_level":       round2(s.bufferLevel),
		"lagoon_tank_level":       round2(s.lagoonLevel),
		"feed_fm1_flow":           round2(feed1),
		"feed_fm1_totalizer":      round2(s.feed1Total),
		"feed_fm2_flow":           round2(feed2),
		"feed_fm2_totalizer":      round2(s.feed2Total),
		"fresh_water_flow":        round2(fresh),
		"fresh_water_totalizer":   round2(s.freshTotal),
		"recycle_water_flow":      round2(recycle),
		"recycle_water_totalizer": round2(s.recycleTotal),
		"psa_status":              boolBit(s.psaOn),
		"psa_efficiency":          round2(efficiency),
		"lt_panel_power":          round2(s.jitter(85*d, 4)),
		"compressor_status":       boolBit(s.compressorOn),
	}
	return p
}

// flowMeterKeys are the fields kept in a flow-meters-only payload.
var flowMeterKeys = []string{
	"raw_biogas_flow", "raw_biogas_totalizer",
	"purified_gas_flow", "purified_gas_totalizer",
	"product_gas_flow", "product_gas_totalizer",
	"feed_fm1_flow", "feed_fm1_totalizer",
	"feed_fm2_flow", "feed_fm2_totalizer",
	"fresh_water_flow", "fresh_water_totalizer",
	"recycle_water_flow", "recycle_water_totalizer",
}

// NextPartial advances the plant one minute but reports only the flow
// meters, mimicking the analyzer rack being offline.
func (s *Simulator) NextPartial(plantID string) Payload {
	full := s.Next(plantID)
	p := Payload{
		"plant_id":  full["plant_id"],
		"timestamp": full["timestamp"],
	}
	for _, k := range flowMeterKeys {
		p[k] = full[k]
	}
	return p
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
