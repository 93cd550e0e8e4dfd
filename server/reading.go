package main

import (
	"database/sql"
	"time"
)

// TimestampLayout is the wire format for reading timestamps. The PLC sends
// local plant time with minute precision; seconds are always present.
const TimestampLayout = "2006-01-02 15:04:05"

// NominalInterval is the expected spacing between readings.
const NominalInterval = time.Minute

// ChannelClass categorizes how a channel's values behave over time.
type ChannelClass int

const (
	// ChannelInstant is a point-in-time measurement (flow, concentration,
	// temperature, pressure, level).
	ChannelInstant ChannelClass = iota
	// ChannelTotalizer is a cumulative counter that increases monotonically
	// within an operational day.
	ChannelTotalizer
	// ChannelStatus is a binary 0/1 equipment on/off flag.
	ChannelStatus
)

// Channel describes one named sensor channel.
type Channel struct {
	Name  string
	Label string
	Unit  string
	Class ChannelClass
}

// channelList is the closed allow-list of channels the plant reports.
// Every query the server builds selects only names from this list; caller
// input is validated against it and never interpolated into SQL.
var channelList = []Channel{
	{"raw_biogas_flow", "Raw Biogas Flow", "Nm³/hr", ChannelInstant},
	{"raw_biogas_totalizer", "Raw Biogas Totalizer", "Nm³", ChannelTotalizer},
	{"purified_gas_flow", "Purified Gas Flow", "Nm³/hr", ChannelInstant},
	{"purified_gas_totalizer", "Purified Gas Totalizer", "Nm³", ChannelTotalizer},
	{"product_gas_flow", "Product Gas Flow", "Nm³/hr", ChannelInstant},
	{"product_gas_totalizer", "Product Gas Totalizer", "Nm³", ChannelTotalizer},
	{"ch4_concentration", "CH₄", "%", ChannelInstant},
	{"co2_level", "CO₂", "%", ChannelInstant},
	{"o2_concentration", "O₂", "%", ChannelInstant},
	{"h2s_content", "H₂S", "ppm", ChannelInstant},
	{"dew_point", "Dew Point", "°C", ChannelInstant},
	{"d1_temp_bottom", "Digester 1 Temp (Bottom)", "°C", ChannelInstant},
	{"d1_temp_top", "Digester 1 Temp (Top)", "°C", ChannelInstant},
	{"d1_gas_pressure", "Digester 1 Gas Pressure", "mbar", ChannelInstant},
	{"d1_air_pressure", "Digester 1 Air Pressure", "mbar", ChannelInstant},
	{"d1_slurry_height", "Digester 1 Slurry Height", "m", ChannelInstant},
	{"d1_gas_level", "Digester 1 Gas Level", "%", ChannelInstant},
	{"d2_temp_bottom", "Digester 2 Temp (Bottom)", "°C", ChannelInstant},
	{"d2_temp_top", "Digester 2 Temp (Top)", "°C", ChannelInstant},
	{"d2_gas_pressure", "Digester 2 Gas Pressure", "mbar", ChannelInstant},
	{"d2_air_pressure", "Digester 2 Air Pressure", "mbar", ChannelInstant},
	{"d2_slurry_height", "Digester 2 Slurry Height", "m", ChannelInstant},
	{"d2_gas_level", "Digester 2 Gas Level", "%", ChannelInstant},
	{"buffer_tank_level", "Buffer Tank", "%", ChannelInstant},
	{"lagoon_tank_level", "Lagoon Tank", "%", ChannelInstant},
	{"feed_fm1_flow", "Feed FM1 Flow", "m³/hr", ChannelInstant},
	{"feed_fm1_totalizer", "Feed FM1 Totalizer", "m³", ChannelTotalizer},
	{"feed_fm2_flow", "Feed FM2 Flow", "m³/hr", ChannelInstant},
	{"feed_fm2_totalizer", "Feed FM2 Totalizer", "m³", ChannelTotalizer},
	{"fresh_water_flow", "Fresh Water Flow", "m³/hr", ChannelInstant},
	{"fresh_water_totalizer", "Fresh Water Totalizer", "m³", ChannelTotalizer},
	{"recycle_water_flow", "Recycle Water Flow", "m³/hr", ChannelInstant},
	{"recycle_water_totalizer", "Recycle Water Totalizer", "m³", ChannelTotalizer},
	{"psa_status", "PSA Status", "", ChannelStatus},
	{"psa_efficiency", "PSA Efficiency", "%", ChannelInstant},
	{"lt_panel_power", "LT Panel Power", "kW", ChannelInstant},
	{"compressor_status", "Compressor Status", "", ChannelStatus},
}

var channelIndex = buildChannelIndex()

func buildChannelIndex() map[string]Channel {
	idx := make(map[string]Channel, len(channelList))
	for _, c := range channelList {
		idx[c.Name] = c
	}
	return idx
}

// LookupChannel returns the channel definition for name, if it exists.
func LookupChannel(name string) (Channel, bool) {
	c, ok := channelIndex[name]
	return c, ok
}

// InstantChannelNames returns the names of all instantaneous channels in
// declaration order.
func InstantChannelNames() []string {
	var names []string
	for _, c := range channelList {
		if c.Class == ChannelInstant {
			names = append(names, c.Name)
		}
	}
	return names
}

// TotalizerChannelNames returns the names of all totalizer channels in
// declaration order.
func TotalizerChannelNames() []string {
	var names []string
	for _, c := range channelList {
		if c.Class == ChannelTotalizer {
			names = append(names, c.Name)
		}
	}
	return names
}

// ValidateChannels checks every requested name against the allow-list.
func ValidateChannels(names []string) error {
	for _, n := range names {
		if _, ok := channelIndex[n]; !ok {
			return newValidationError(n, "unknown channel")
		}
	}
	return nil
}

// Reading is one timestamped row of sensor values for a plant. Every channel
// is independently nullable; the PLC omits fields whose instruments are down.
type Reading struct {
	PlantID   string    `json:"plant_id"`
	Timestamp time.Time `json:"timestamp"`

	RawBiogasFlow         *float64 `json:"raw_biogas_flow"`
	RawBiogasTotalizer    *float64 `json:"raw_biogas_totalizer"`
	PurifiedGasFlow       *float64 `json:"purified_gas_flow"`
	PurifiedGasTotalizer  *float64 `json:"purified_gas_totalizer"`
	ProductGasFlow        *float64 `json:"product_gas_flow"`
	ProductGasTotalizer   *float64 `json:"product_gas_totalizer"`
	CH4Concentration      *float64 `json:"ch4_concentration"`
	CO2Level              *float64 `json:"co2_level"`
	O2Concentration       *float64 `json:"o2_concentration"`
	H2SContent            *float64 `json:"h2s_content"`
	DewPoint              *float64 `json:"dew_point"`
	D1TempBottom          *float64 `json:"d1_temp_bottom"`
	D1TempTop             *float64 `json:"d1_temp_top"`
	D1GasPressure         *float64 `json:"d1_gas_pressure"`
	D1AirPressure         *float64 `json:"d1_air_pressure"`
	D1SlurryHeight        *float64 `json:"d1_slurry_height"`
	D1GasLevel            *float64 `json:"d1_gas_level"`
	D2TempBottom          *float64 `json:"d2_temp_bottom"`
	D2TempTop             *float64 `json:"d2_temp_top"`
	D2GasPressure         *float64 `json:"d2_gas_pressure"`
	D2AirPressure         *float64 `json:"d2_air_pressure"`
	D2SlurryHeight        *float64 `json:"d2_slurry_height"`
	D2GasLevel            *float64 `json:"d2_gas_level"`
	BufferTankLevel       *float64 `json:"buffer_tank_level"`
	LagoonTankLevel       *float64 `json:"lagoon_tank_level"`
	FeedFM1Flow           *float64 `json:"feed_fm1_flow"`
	FeedFM1Totalizer      *float64 `json:"feed_fm1_totalizer"`
	FeedFM2Flow           *float64 `json:"feed_fm2_flow"`
	FeedFM2Totalizer      *float64 `json:"feed_fm2_totalizer"`
	FreshWaterFlow        *float64 `json:"fresh_water_flow"`
	FreshWaterTotalizer   *float64 `json:"fresh_water_totalizer"`
	RecycleWaterFlow      *float64 `json:"recycle_water_flow"`
	RecycleWaterTotalizer *float64 `json:"recycle_water_totalizer"`
	PSAStatus             *int     `json:"psa_status"`
	PSAEfficiency         *float64 `json:"psa_efficiency"`
	LTPanelPower          *float64 `json:"lt_panel_power"`
	CompressorStatus      *int     `json:"compressor_status"`
}

// channelValues maps channel names to the corresponding Reading fields.
// Status channels are widened to *float64 so storage code can treat the
// row uniformly.
func (r *Reading) channelValues() map[string]*float64 {
	statusVal := func(p *int) *float64 {
		if p == nil {
			return nil
		}
		f := float64(*p)
		return &f
	}
	return map[string]*float64{
		"raw_biogas_flow":         r.RawBiogasFlow,
		"raw_biogas_totalizer":    r.RawBiogasTotalizer,
		"purified_gas_flow":       r.PurifiedGasFlow,
		"purified_gas_totalizer":  r.PurifiedGasTotalizer,
		"product_gas_flow":        r.ProductGasFlow,
		"product_gas_totalizer":   r.ProductGasTotalizer,
		"ch4_concentration":       r.CH4Concentration,
		"co2_level":               r.CO2Level,
		"o2_concentration":        r.O2Concentration,
		"h2s_content":             r.H2SContent,
		"dew_point":               r.DewPoint,
		"d1_temp_bottom":          r.D1TempBottom,
		"d1_temp_top":             r.D1TempTop,
		"d1_gas_pressure":         r.D1GasPressure,
		"d1_air_pressure":         r.D1AirPressure,
		"d1_slurry_height":        r.D1SlurryHeight,
		"d1_gas_level":            r.D1GasLevel,
		"d2_temp_bottom":          r.D2TempBottom,
		"d2_temp_top":             r.D2TempTop,
		"d2_gas_pressure":         r.D2GasPressure,
		"d2_air_pressure":         r.D2AirPressure,
		"d2_slurry_height":        r.D2SlurryHeight,
		"d2_gas_level":            r.D2GasLevel,
		"buffer_tank_level":       r.BufferTankLevel,
		"lagoon_tank_level":       r.LagoonTankLevel,
		"feed_fm1_flow":           r.FeedFM1Flow,
		"feed_fm1_totalizer":      r.FeedFM1Totalizer,
		"feed_fm2_flow":           r.FeedFM2Flow,
		"feed_fm2_totalizer":      r.FeedFM2Totalizer,
		"fresh_water_flow":        r.FreshWaterFlow,
		"fresh_water_totalizer":   r.FreshWaterTotalizer,
		"recycle_water_flow":      r.RecycleWaterFlow,
		"recycle_water_totalizer": r.RecycleWaterTotalizer,
		"psa_status":              statusVal(r.PSAStatus),
		"psa_efficiency":          r.PSAEfficiency,
		"lt_panel_power":          r.LTPanelPower,
		"compressor_status":       statusVal(r.CompressorStatus),
	}
}

// channelFields returns pointers to the Reading's channel fields in
// channelList order. Status fields come back as **int, the rest **float64.
func (r *Reading) channelFields() []interface{} {
	return []interface{}{
		&r.RawBiogasFlow, &r.RawBiogasTotalizer,
		&r.PurifiedGasFlow, &r.PurifiedGasTotalizer,
		&r.ProductGasFlow, &r.ProductGasTotalizer,
		&r.CH4Concentration, &r.CO2Level, &r.O2Concentration, &r.H2SContent, &r.DewPoint,
		&r.D1TempBottom, &r.D1TempTop, &r.D1GasPressure, &r.D1AirPressure, &r.D1SlurryHeight, &r.D1GasLevel,
		&r.D2TempBottom, &r.D2TempTop, &r.D2GasPressure, &r.D2AirPressure, &r.D2SlurryHeight, &r.D2GasLevel,
		&r.BufferTankLevel, &r.LagoonTankLevel,
		&r.FeedFM1Flow, &r.FeedFM1Totalizer, &r.FeedFM2Flow, &r.FeedFM2Totalizer,
		&r.FreshWaterFlow, &r.FreshWaterTotalizer, &r.RecycleWaterFlow, &r.RecycleWaterTotalizer,
		&r.PSAStatus, &r.PSAEfficiency, &r.LTPanelPower, &r.CompressorStatus,
	}
}

// assignChannelValues copies scanned column values into the Reading's
// channel fields, in channelList order.
func (r *Reading) assignChannelValues(vals []sql.NullFloat64) {
	for i, field := range r.channelFields() {
		if !vals[i].Valid {
			continue
		}
		switch p := field.(type) {
		case **float64:
			v := vals[i].Float64
			*p = &v
		case **int:
			v := int(vals[i].Float64)
			*p = &v
		}
	}
}
