package estimator

import (
	"fmt"
	"time"
)

// State is the estimator's battery record. It is owned by the Estimator; callers get copies.
type State struct {
	Voltage      float64 // latest fused voltage, held when a tick has no voltage reading
	VoltageValid bool    // a voltage has been fused at least once
	Current      float64
	Power        float64
	Temperature  float64

	RemainingAh float64 // coulomb counter, [0, CapacityAh]
	CapacityAh  float64
	Soc         float64 // from compensated voltage, independent of RemainingAh

	// Filter outputs used for alarms and time to go
	FilteredCurrent float64
	FilteredVoltage float64 // temperature compensated

	TimeToGoSeconds float64

	// History, only meaningful once HistoryValid is set
	HistoryValid        bool
	MinVoltage          float64
	MaxVoltage          float64
	DeepestDischargeSoc float64
	ChargedEnergyKWh    float64
	DischargedEnergyKWh float64
	TotalAhDrawn        float64
	FullDischarges      int

	Alarms Alarms

	FloatCharging       bool
	MaxChargeVoltage    float64 // temperature compensated full voltage
	MaxChargeCurrent    float64 // 0 if not configured
	MaxDischargeCurrent float64 // 0 if not configured

	LastUpdated time.Time
}

// Estimator runs the per-tick estimation. It is not safe for concurrent use; ticks must be
// serialized by the caller.
type Estimator struct {
	config      Config
	window      *SampleWindow
	accumulator *ChargeAccumulator
	state       State
}

// New validates config and returns an Estimator with a full battery and empty history
func New(config Config) (*Estimator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Estimator{
		config:      config,
		window:      NewSampleWindow(config.HistorySize),
		accumulator: NewChargeAccumulator(config.CapacityAh),
		state: State{
			RemainingAh:         config.CapacityAh,
			CapacityAh:          config.CapacityAh,
			Temperature:         StandardTemperature,
			TimeToGoSeconds:     ForeverSeconds,
			MaxChargeVoltage:    config.FullVoltage,
			MaxChargeCurrent:    config.MaxChargeCurrent,
			MaxDischargeCurrent: config.MaxDischargeCurrent,
		},
	}, nil
}

// Config returns the configuration the estimator was built with
func (e *Estimator) Config() Config {
	return e.config
}

// State returns a copy of the current battery state
func (e *Estimator) State() State {
	return e.state
}

// Update runs one tick against the snapshot and returns the new state
func (e *Estimator) Update(snapshot Snapshot) State {
	return e.updateAt(snapshot, time.Now())
}

// updateAt runs one tick at the given time (for testing)
func (e *Estimator) updateAt(snapshot Snapshot, now time.Time) State {
	s := &e.state
	cfg := e.config

	temperature := StandardTemperature
	if snapshot.HasTemperature {
		temperature = snapshot.Temperature
	}
	s.Temperature = temperature
	s.MaxChargeVoltage = CompensatedVoltage(cfg.FullVoltage, temperature)
	s.LastUpdated = now

	agg := AggregateReadings(snapshot.Readings)
	s.Current = agg.Current
	s.Power = agg.Power
	s.FloatCharging = agg.FloatDetected

	// No usable voltage: everything below holds its previous value
	if !agg.VoltageValid {
		return *s
	}

	voltage := agg.Voltage
	s.Voltage = voltage
	s.VoltageValid = true

	e.accumulator.Integrate(s, agg.Power, voltage, now)
	if agg.FloatDetected {
		e.accumulator.Calibrate(s)
	}

	e.window.Push(DataSample{
		Current:     agg.Current,
		Voltage:     voltage,
		Timestamp:   now,
		Temperature: temperature,
	})

	if sample, ok := e.window.MedianByCurrent(); ok {
		s.FilteredCurrent = sample.Current
		s.TimeToGoSeconds = TimeToEmpty(s.RemainingAh, sample.Current, cfg.CapacityAh)
	}

	s.Soc = SocFromVoltage(CompensatedVoltage(voltage, temperature), cfg.EmptyVoltage, cfg.FullVoltage)
	s.Alarms.LowSoc = lowSocAlarm(s.Soc)

	// Extremes follow the instantaneous values, alarms the filtered ones
	s.recordHistory(voltage, s.Soc, cfg.EmptyVoltage)

	if sample, ok := e.window.MedianByVoltage(); ok {
		s.FilteredVoltage = CompensatedVoltage(sample.Voltage, sample.Temperature)
		s.Alarms.LowVoltage, s.Alarms.HighVoltage = voltageAlarms(s.FilteredVoltage, cfg.MinVoltage, cfg.MaxVoltage)
	}

	return *s
}

// String returns a one-line summary of the state for logging
func (s State) String() string {
	if !s.VoltageValid {
		return fmt.Sprintf("%.3fA %.2fW (no voltage)", s.Current, s.Power)
	}
	return fmt.Sprintf("%.2fV %.3fA %.2fW soc=%.0f%% remaining=%.3fAh ttg=%.0fs",
		s.Voltage, s.Current, s.Power, s.Soc, s.RemainingAh, s.TimeToGoSeconds)
}
