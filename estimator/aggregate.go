package estimator

import "sort"

// voltageDeadband excludes disconnected devices that report ~0 V
const voltageDeadband = 1.0

// Role says which side of the battery a device sits on
type Role int

const (
	RoleSource Role = iota
	RoleLoad
)

func (r Role) String() string {
	if r == RoleLoad {
		return "load"
	}
	return "source"
}

// ChargerStateFloat is the charge controller operating state meaning the bank is full
// and being held at maintenance voltage
const ChargerStateFloat = 5

// DeviceReading is one device's snapshot for the current tick.
// Current and Power are as reported by the device; loads report the magnitude they draw
// and are negated during aggregation.
type DeviceReading struct {
	Role            Role
	Current         float64
	Voltage         float64 // 0 if absent
	Power           float64
	PowerReported   bool // if false Power is derived as Voltage * Current
	ChargerState    int
	HasChargerState bool
}

// Snapshot is everything the estimator needs for one tick
type Snapshot struct {
	Readings       map[string]DeviceReading
	Temperature    float64
	HasTemperature bool
}

// Aggregate is the fused view of all devices for one tick
type Aggregate struct {
	Current       float64
	Power         float64
	Voltage       float64
	VoltageValid  bool
	FloatDetected bool
}

// power returns the device power, deriving it when the device doesn't report one
func (r DeviceReading) power() float64 {
	if r.PowerReported {
		return r.Power
	}
	return r.Voltage * r.Current
}

// AggregateReadings sums current and power over all devices and picks the voltage closest
// to the battery: the highest load voltage and the lowest source voltage, averaged when both
// exist.
func AggregateReadings(readings map[string]DeviceReading) Aggregate {
	// Sorted so float summation doesn't depend on map order
	ids := make([]string, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var agg Aggregate
	var bestLoad, bestSource float64
	var haveLoad, haveSource bool

	for _, id := range ids {
		r := readings[id]
		current := r.Current
		power := r.power()

		if r.Role == RoleLoad {
			current = -current
			power = -power
			if r.Voltage > voltageDeadband && (!haveLoad || r.Voltage > bestLoad) {
				bestLoad = r.Voltage
				haveLoad = true
			}
		} else if r.Voltage > voltageDeadband && (!haveSource || r.Voltage < bestSource) {
			bestSource = r.Voltage
			haveSource = true
		}

		agg.Current += current
		agg.Power += power

		if r.Role == RoleSource && r.HasChargerState && r.ChargerState == ChargerStateFloat {
			agg.FloatDetected = true
		}
	}

	switch {
	case haveLoad && haveSource:
		agg.Voltage = (bestLoad + bestSource) / 2
		agg.VoltageValid = true
	case haveLoad:
		agg.Voltage = bestLoad
		agg.VoltageValid = true
	case haveSource:
		agg.Voltage = bestSource
		agg.VoltageValid = true
	}

	return agg
}
