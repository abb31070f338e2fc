package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.CapacityAh = 100
	return cfg
}

func TestDefaultConfig_Thresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 11.8, cfg.EmptyVoltage)
	assert.Equal(t, 12.2, cfg.MinVoltage)
	assert.Equal(t, 12.8, cfg.FullVoltage)
	assert.Equal(t, 14.8, cfg.MaxVoltage)
	assert.Equal(t, 19, cfg.HistorySize)
}

func TestConfigValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfigValidate_MissingCapacity(t *testing.T) {
	err := DefaultConfig().Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigValidate_ThresholdOrdering(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "empty equals min", modify: func(c *Config) { c.EmptyVoltage = c.MinVoltage }},
		{name: "min above full", modify: func(c *Config) { c.MinVoltage = 13.0 }},
		{name: "full above max", modify: func(c *Config) { c.FullVoltage = 15.0 }},
		{name: "zero history", modify: func(c *Config) { c.HistorySize = 0 }},
		{name: "negative charge limit", modify: func(c *Config) { c.MaxChargeCurrent = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	est, err := New(DefaultConfig())
	assert.Nil(t, est)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_InitialState(t *testing.T) {
	cfg := validConfig()
	cfg.MaxChargeCurrent = 30
	est, err := New(cfg)
	require.NoError(t, err)

	s := est.State()
	assert.Equal(t, 100.0, s.RemainingAh)
	assert.Equal(t, 100.0, s.CapacityAh)
	assert.Equal(t, float64(ForeverSeconds), s.TimeToGoSeconds)
	assert.Equal(t, 30.0, s.MaxChargeCurrent)
	assert.False(t, s.VoltageValid)
	assert.False(t, s.HistoryValid)
	assert.Equal(t, AlarmOk, s.Alarms.LowVoltage)
}
