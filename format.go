package main

import (
	"fmt"
	"time"

	"github.com/ryansname/battery-proxy/estimator"
)

func formatVolts(v float64) string   { return fmt.Sprintf("%.2fV", v) }
func formatAmps(a float64) string    { return fmt.Sprintf("%.3fA", a) }
func formatWatts(w float64) string   { return fmt.Sprintf("%.2fW", w) }
func formatKWh(e float64) string     { return fmt.Sprintf("%.6fkWh", e) }
func formatAh(c float64) string      { return fmt.Sprintf("%.3fAh", c) }
func formatPercent(p float64) string { return fmt.Sprintf("%.0f%%", p) }

// formatCelsius formats a temperature in degrees Celsius
func formatCelsius(t float64) string {
	return fmt.Sprintf("%.1f°C", t)
}

// formatTimeToGo formats a time to go, showing "forever" when not discharging
func formatTimeToGo(seconds float64) string {
	if seconds >= estimator.ForeverSeconds {
		return "forever"
	}
	return (time.Duration(seconds) * time.Second).String()
}
