package estimator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	est, err := New(validConfig())
	require.NoError(t, err)
	return est
}

func snapshotOf(readings map[string]DeviceReading) Snapshot {
	return Snapshot{Readings: readings}
}

func TestEstimator_ChargingScenario(t *testing.T) {
	est := newTestEstimator(t)

	s := est.updateAt(snapshotOf(map[string]DeviceReading{
		"solarcharger/0": source(13.0, 10),
	}), t0)

	assert.Equal(t, 10.0, s.Current)
	assert.Equal(t, 13.0, s.Voltage)
	assert.Equal(t, 130.0, s.Power)
	assert.Equal(t, 100.0, s.Soc)
	assert.Equal(t, AlarmOk, s.Alarms.LowVoltage)
	assert.Equal(t, AlarmOk, s.Alarms.HighVoltage)
	assert.Equal(t, AlarmOk, s.Alarms.LowSoc)
	assert.Equal(t, float64(ForeverSeconds), s.TimeToGoSeconds)
	assert.Equal(t, StandardTemperature, s.Temperature)
	assert.Equal(t, 12.8, s.MaxChargeVoltage)
}

func TestEstimator_DischargingScenario(t *testing.T) {
	est := newTestEstimator(t)
	readings := map[string]DeviceReading{"dcload/0": load(12.0, 5)}

	var s State
	for i := 0; i < 10; i++ {
		s = est.updateAt(snapshotOf(readings), t0.Add(time.Duration(i)*time.Second))
	}

	assert.Equal(t, -5.0, s.Current)
	assert.Equal(t, 12.0, s.Voltage)
	// 60 W for 9 s
	assert.InDelta(t, 540.0/3600/1000, s.DischargedEnergyKWh, 1e-12)
	assert.InDelta(t, 540.0/12/3600, s.TotalAhDrawn, 1e-12)
	assert.Greater(t, s.TotalAhDrawn, 0.0)
	assert.Less(t, s.RemainingAh, 100.0)
	assert.Equal(t, 0.0, s.ChargedEnergyKWh)

	// 12.0 V is below the 12.2 V min threshold
	assert.Equal(t, AlarmAlarm, s.Alarms.LowVoltage)
	assert.InDelta(t, 20.0, s.Soc, 1e-9)
	assert.Equal(t, AlarmOk, s.Alarms.LowSoc)

	assert.Greater(t, s.TimeToGoSeconds, 0.0)
	assert.Less(t, s.TimeToGoSeconds, 36000.0)
}

func TestEstimator_NoVoltageHoldsPreviousValues(t *testing.T) {
	est := newTestEstimator(t)
	before := est.updateAt(snapshotOf(map[string]DeviceReading{"dcload/0": load(12.5, 2)}), t0)

	after := est.updateAt(snapshotOf(map[string]DeviceReading{"dcload/0": load(0, 3)}), t0.Add(time.Second))

	assert.Equal(t, -3.0, after.Current)
	assert.Equal(t, 0.0, after.Power)
	assert.Equal(t, before.Voltage, after.Voltage)
	assert.Equal(t, before.Soc, after.Soc)
	assert.Equal(t, before.RemainingAh, after.RemainingAh)
	assert.Equal(t, before.TimeToGoSeconds, after.TimeToGoSeconds)
	assert.Equal(t, 1, est.window.Len())
}

func TestEstimator_NoDevices(t *testing.T) {
	est := newTestEstimator(t)
	s := est.updateAt(Snapshot{}, t0)

	assert.Equal(t, 0.0, s.Current)
	assert.False(t, s.VoltageValid)
	assert.False(t, s.HistoryValid)
	assert.Equal(t, 0, est.window.Len())
	_, anchored := est.accumulator.Anchor()
	assert.False(t, anchored)
}

func TestEstimator_FloatStateOverridesCoulombCount(t *testing.T) {
	est := newTestEstimator(t)
	est.state.RemainingAh = 40

	est.updateAt(snapshotOf(map[string]DeviceReading{"dcload/0": load(12.9, 20)}), t0)
	s := est.updateAt(snapshotOf(map[string]DeviceReading{
		"dcload/0":       load(12.9, 20),
		"solarcharger/0": charger(13.4, 1, ChargerStateFloat),
	}), t0.Add(time.Minute))

	// Net discharge was integrated, but float resets to full
	assert.Greater(t, s.DischargedEnergyKWh, 0.0)
	assert.Equal(t, 100.0, s.RemainingAh)
	assert.True(t, s.FloatCharging)
}

func TestEstimator_VoltageSocAndCoulombCountDiverge(t *testing.T) {
	est := newTestEstimator(t)
	readings := map[string]DeviceReading{"dcload/0": load(12.8, 50)}

	var s State
	for i := 0; i <= 60; i++ {
		s = est.updateAt(snapshotOf(readings), t0.Add(time.Duration(i)*time.Minute))
	}

	// Voltage still says full while the counter has drained
	assert.Equal(t, 100.0, s.Soc)
	assert.Less(t, s.RemainingAh, 60.0)

	// Only float brings the counter back
	readings["solarcharger/0"] = charger(13.6, 0, ChargerStateFloat)
	s = est.updateAt(snapshotOf(readings), t0.Add(61*time.Minute))
	assert.Equal(t, 100.0, s.RemainingAh)
}

func TestEstimator_CoulombRoundTrip(t *testing.T) {
	est := newTestEstimator(t)
	est.state.RemainingAh = 50

	charging := snapshotOf(map[string]DeviceReading{"dcsource/0": source(12, 10)})
	discharging := snapshotOf(map[string]DeviceReading{"dcload/0": load(12, 10)})

	// 120 W in for 10 s, one zero-energy reversal interval, 120 W out for 10 s
	for i := 0; i <= 10; i++ {
		est.updateAt(charging, t0.Add(time.Duration(i)*time.Second))
	}
	var s State
	for i := 11; i <= 21; i++ {
		s = est.updateAt(discharging, t0.Add(time.Duration(i)*time.Second))
	}

	assert.InDelta(t, 50.0, s.RemainingAh, 1e-9)
	assert.InDelta(t, 1200.0/3600/1000, s.ChargedEnergyKWh, 1e-12)
	assert.InDelta(t, 1200.0/3600/1000, s.DischargedEnergyKWh, 1e-12)
}

func TestEstimator_TemperatureCompensation(t *testing.T) {
	est := newTestEstimator(t)

	s := est.updateAt(Snapshot{
		Readings:       map[string]DeviceReading{"dcload/0": load(12.5, 1)},
		Temperature:    0,
		HasTemperature: true,
	}, t0)

	// 12.5 V at 0 °C compensates to 12.1 V
	assert.InDelta(t, 12.1, s.FilteredVoltage, 1e-9)
	assert.Equal(t, AlarmAlarm, s.Alarms.LowVoltage)
	assert.InDelta(t, 30.0, s.Soc, 1e-9)
	assert.InDelta(t, 12.4, s.MaxChargeVoltage, 1e-9)
	// History keeps the raw voltage
	assert.Equal(t, 12.5, s.MinVoltage)
}

func TestEstimator_FilterRejectsTransient(t *testing.T) {
	est := newTestEstimator(t)
	steady := snapshotOf(map[string]DeviceReading{"dcload/0": load(12.6, 2)})
	surge := snapshotOf(map[string]DeviceReading{"dcload/0": load(11.0, 80)})

	for i := 0; i < 3; i++ {
		est.updateAt(steady, t0.Add(time.Duration(i)*time.Second))
	}
	s := est.updateAt(surge, t0.Add(3*time.Second))

	// Alarms and time to go use the median, history uses the raw tick
	assert.Equal(t, AlarmOk, s.Alarms.LowVoltage)
	assert.Equal(t, 12.6, s.FilteredVoltage)
	assert.Equal(t, -2.0, s.FilteredCurrent)
	assert.Equal(t, -80.0, s.Current)
	assert.Equal(t, 11.0, s.MinVoltage)
	assert.Equal(t, 0.0, s.DeepestDischargeSoc)
	assert.Equal(t, 1, s.FullDischarges)
	assert.Equal(t, AlarmAlarm, s.Alarms.LowSoc)
}

func TestEstimator_FullWindowMedianAfterEviction(t *testing.T) {
	est := newTestEstimator(t)
	tick := 0
	run := func(voltage float64, n int) State {
		var s State
		for i := 0; i < n; i++ {
			s = est.updateAt(snapshotOf(map[string]DeviceReading{"dcload/0": load(voltage, 1)}), t0.Add(time.Duration(tick)*time.Second))
			tick++
		}
		return s
	}

	run(12.9, 1)
	run(12.2, 10)
	s := run(12.3, 8)
	require.Equal(t, 19, est.window.Len())
	// Full but nothing evicted yet: index 19/2 = 9 of [10x12.2, 8x12.3, 12.9]
	assert.Equal(t, 12.2, s.FilteredVoltage)
	assert.Equal(t, AlarmAlarm, s.Alarms.LowVoltage)

	// 12.9 rolls off, index 20/2 = 10 of [10x12.2, 9x12.3]
	s = run(12.3, 1)
	require.Equal(t, 19, est.window.Len())
	assert.Equal(t, 12.3, s.FilteredVoltage)
	assert.Equal(t, AlarmOk, s.Alarms.LowVoltage)
}

func TestEstimator_HighVoltageAlarm(t *testing.T) {
	est := newTestEstimator(t)
	s := est.updateAt(snapshotOf(map[string]DeviceReading{"solarcharger/0": source(15.0, 30)}), t0)
	assert.Equal(t, AlarmAlarm, s.Alarms.HighVoltage)
	assert.Equal(t, AlarmOk, s.Alarms.LowVoltage)
}

func TestEstimator_StateIsACopy(t *testing.T) {
	est := newTestEstimator(t)
	s := est.State()
	s.RemainingAh = 1
	assert.Equal(t, 100.0, est.State().RemainingAh)
}

func TestEstimator_InvariantsHoldOverRandomTicks(t *testing.T) {
	est := newTestEstimator(t)
	rng := rand.New(rand.NewSource(1))

	prev := est.State()
	now := t0
	for i := 0; i < 2000; i++ {
		readings := map[string]DeviceReading{}
		if rng.Intn(4) != 0 {
			readings["solarcharger/0"] = charger(11+rng.Float64()*4, rng.Float64()*40, rng.Intn(6))
		}
		if rng.Intn(4) != 0 {
			readings["dcload/0"] = load(11+rng.Float64()*4, rng.Float64()*60)
		}
		now = now.Add(time.Duration(100+rng.Intn(2000)) * time.Millisecond)

		s := est.updateAt(Snapshot{
			Readings:       readings,
			Temperature:    rng.Float64()*50 - 10,
			HasTemperature: rng.Intn(2) == 0,
		}, now)

		require.GreaterOrEqual(t, s.RemainingAh, 0.0)
		require.LessOrEqual(t, s.RemainingAh, 100.0)
		require.GreaterOrEqual(t, s.Soc, 0.0)
		require.LessOrEqual(t, s.Soc, 100.0)
		require.GreaterOrEqual(t, s.ChargedEnergyKWh, prev.ChargedEnergyKWh)
		require.GreaterOrEqual(t, s.DischargedEnergyKWh, prev.DischargedEnergyKWh)
		require.GreaterOrEqual(t, s.TotalAhDrawn, prev.TotalAhDrawn)
		require.GreaterOrEqual(t, s.FullDischarges, prev.FullDischarges)
		require.LessOrEqual(t, est.window.Len(), est.window.Cap())
		if prev.HistoryValid {
			require.LessOrEqual(t, s.MinVoltage, prev.MinVoltage)
			require.GreaterOrEqual(t, s.MaxVoltage, prev.MaxVoltage)
			require.LessOrEqual(t, s.DeepestDischargeSoc, prev.DeepestDischargeSoc)
		}
		require.NotEqual(t, AlarmWarning, s.Alarms.LowVoltage)
		prev = s
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "-3.000A 0.00W (no voltage)", State{Current: -3}.String())
	s := State{VoltageValid: true, Voltage: 12.5, Current: 1, Power: 12.5, Soc: 70, RemainingAh: 80, TimeToGoSeconds: 100}
	assert.Equal(t, "12.50V 1.000A 12.50W soc=70% remaining=80.000Ah ttg=100s", s.String())
}
