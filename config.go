package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ryansname/battery-proxy/estimator"
)

// loadBatteryConfig reads the battery config JSON, filling missing thresholds with defaults
func loadBatteryConfig(path string) (estimator.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return estimator.Config{}, fmt.Errorf("failed to read battery config: %w", err)
	}

	config := estimator.DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return estimator.Config{}, fmt.Errorf("failed to parse battery config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return estimator.Config{}, err
	}
	return config, nil
}
