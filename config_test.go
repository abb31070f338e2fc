package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ryansname/battery-proxy/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadBatteryConfig_Defaults(t *testing.T) {
	config, err := loadBatteryConfig(writeConfig(t, `{"capacity": 200}`))
	require.NoError(t, err)

	assert.Equal(t, 200.0, config.CapacityAh)
	assert.Equal(t, estimator.DefaultEmptyVoltage, config.EmptyVoltage)
	assert.Equal(t, estimator.DefaultMaxVoltage, config.MaxVoltage)
	assert.Equal(t, estimator.DefaultHistorySize, config.HistorySize)
	assert.Equal(t, 0.0, config.MaxChargeCurrent)
}

func TestLoadBatteryConfig_Overrides(t *testing.T) {
	config, err := loadBatteryConfig(writeConfig(t, `{
		"capacity": 100,
		"emptyVoltage": 23.6,
		"minVoltage": 24.4,
		"fullVoltage": 25.6,
		"maxVoltage": 29.6,
		"maxChargeCurrent": 40,
		"maxDischargeCurrent": 60,
		"historySize": 9
	}`))
	require.NoError(t, err)

	assert.Equal(t, 24.4, config.MinVoltage)
	assert.Equal(t, 40.0, config.MaxChargeCurrent)
	assert.Equal(t, 60.0, config.MaxDischargeCurrent)
	assert.Equal(t, 9, config.HistorySize)
}

func TestLoadBatteryConfig_MissingCapacity(t *testing.T) {
	_, err := loadBatteryConfig(writeConfig(t, `{"fullVoltage": 12.9}`))
	assert.ErrorIs(t, err, estimator.ErrInvalidConfig)
}

func TestLoadBatteryConfig_BadOrdering(t *testing.T) {
	_, err := loadBatteryConfig(writeConfig(t, `{"capacity": 100, "fullVoltage": 15}`))
	assert.ErrorIs(t, err, estimator.ErrInvalidConfig)
}

func TestLoadBatteryConfig_Errors(t *testing.T) {
	_, err := loadBatteryConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadBatteryConfig(writeConfig(t, `{capacity`))
	assert.Error(t, err)
}
