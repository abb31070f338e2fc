package estimator

import "math"

const (
	// StandardTemperature is the reference temperature in °C for voltage compensation
	StandardTemperature = 25.0
	// TemperatureCoefficient is the bank's voltage slope in V/°C
	TemperatureCoefficient = -16.0 / 1000

	// DepthOfDischarge is the usable fraction of capacity; time to go is reported to this reserve
	DepthOfDischarge = 0.50

	// LowSocThreshold is the SOC percentage below which the low SOC alarm is raised
	LowSocThreshold = 10.0

	// ForeverSeconds is reported as time to go when the bank isn't discharging (10 days)
	ForeverSeconds = 864000
)

// AlarmState is the level of a single alarm
type AlarmState int

const (
	AlarmOk AlarmState = iota
	AlarmWarning
	AlarmAlarm
)

func (a AlarmState) String() string {
	switch a {
	case AlarmOk:
		return "ok"
	case AlarmWarning:
		return "warning"
	case AlarmAlarm:
		return "alarm"
	}
	return "unknown"
}

// Alarms groups the alarms derived each tick. Warning is never raised by the estimator.
type Alarms struct {
	LowVoltage  AlarmState
	HighVoltage AlarmState
	LowSoc      AlarmState
}

// CompensatedVoltage adjusts voltage to what it would read at StandardTemperature
func CompensatedVoltage(voltage, temperature float64) float64 {
	return voltage - (temperature-StandardTemperature)*TemperatureCoefficient
}

// SocFromVoltage linearly interpolates a compensated voltage between empty and full,
// clamped to [0, 100]. Very approximate.
func SocFromVoltage(compensated, emptyVoltage, fullVoltage float64) float64 {
	soc := 100 * (compensated - emptyVoltage) / (fullVoltage - emptyVoltage)
	return min(max(soc, 0), 100)
}

// voltageAlarms evaluates the low/high voltage alarms against a filtered compensated voltage.
// No hysteresis: both boundaries are inclusive and re-evaluated every tick.
func voltageAlarms(filtered, lowVoltage, highVoltage float64) (low, high AlarmState) {
	low, high = AlarmOk, AlarmOk
	if filtered <= lowVoltage {
		low = AlarmAlarm
	}
	if filtered >= highVoltage {
		high = AlarmAlarm
	}
	return low, high
}

// lowSocAlarm raises an alarm when soc is strictly below LowSocThreshold
func lowSocAlarm(soc float64) AlarmState {
	if soc < LowSocThreshold {
		return AlarmAlarm
	}
	return AlarmOk
}

// TimeToEmpty returns the seconds until the DepthOfDischarge reserve is reached at the
// filtered current, or ForeverSeconds when not discharging
func TimeToEmpty(remainingAh, filteredCurrent, capacityAh float64) float64 {
	if filteredCurrent >= 0 {
		return ForeverSeconds
	}
	dischargeCurrent := -filteredCurrent
	seconds := (remainingAh - DepthOfDischarge*capacityAh) / dischargeCurrent * 3600
	return max(math.Round(seconds), 0)
}

// recordHistory updates the monotone extrema and counters from instantaneous values
func (s *State) recordHistory(voltage, soc, emptyVoltage float64) {
	if !s.HistoryValid {
		s.MinVoltage = voltage
		s.MaxVoltage = voltage
		s.DeepestDischargeSoc = soc
		s.HistoryValid = true
	} else {
		s.MinVoltage = min(s.MinVoltage, voltage)
		s.MaxVoltage = max(s.MaxVoltage, voltage)
		s.DeepestDischargeSoc = min(s.DeepestDischargeSoc, soc)
	}

	if voltage <= emptyVoltage {
		s.FullDischarges++
	}
}
