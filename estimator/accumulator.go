package estimator

import "time"

// PowerSample is the integration anchor left by the previous tick
type PowerSample struct {
	Power     float64
	Timestamp time.Time
}

// ChargeAccumulator coulomb-counts the battery by integrating power between ticks
type ChargeAccumulator struct {
	capacityAh float64
	anchor     PowerSample
	hasAnchor  bool
}

// NewChargeAccumulator creates an accumulator clamping remaining capacity to capacityAh
func NewChargeAccumulator(capacityAh float64) *ChargeAccumulator {
	return &ChargeAccumulator{capacityAh: capacityAh}
}

// toKWh converts joules to kilowatt-hours
func toKWh(joules float64) float64 {
	return joules / 3600 / 1000
}

// toAh converts joules at the given voltage to amp-hours
func toAh(joules, voltage float64) float64 {
	return joules / voltage / 3600
}

// trapezoidEnergy returns the joules flowing between the anchor and now
func trapezoidEnergy(prev PowerSample, power float64, now time.Time) float64 {
	return (prev.Power + power) / 2 * now.Sub(prev.Timestamp).Seconds()
}

// Integrate adds the energy since the last call to the state's counters and moves the
// anchor to (power, now). The first call only sets the anchor. voltage must be positive.
func (a *ChargeAccumulator) Integrate(s *State, power, voltage float64, now time.Time) {
	if a.hasAnchor {
		energy := trapezoidEnergy(a.anchor, power, now)
		switch {
		case energy > 0:
			s.ChargedEnergyKWh += toKWh(energy)
			s.RemainingAh = min(s.RemainingAh+toAh(energy, voltage), a.capacityAh)
		case energy < 0:
			discharged := -energy
			dischargedAh := toAh(discharged, voltage)
			s.DischargedEnergyKWh += toKWh(discharged)
			s.TotalAhDrawn += dischargedAh
			s.RemainingAh = max(s.RemainingAh-dischargedAh, 0)
		}
	}

	a.anchor = PowerSample{Power: power, Timestamp: now}
	a.hasAnchor = true
}

// Calibrate forces the remaining capacity to full. Used when a charger reports float.
func (a *ChargeAccumulator) Calibrate(s *State) {
	s.RemainingAh = a.capacityAh
}

// Anchor returns the current integration anchor, if any
func (a *ChargeAccumulator) Anchor() (PowerSample, bool) {
	return a.anchor, a.hasAnchor
}
