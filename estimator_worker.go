package main

import (
	"context"
	"log"
	"time"

	"github.com/ryansname/battery-proxy/estimator"
)

// EstimatorWorkerConfig holds the timing of the estimator worker
type EstimatorWorkerConfig struct {
	Name            string
	TickInterval    time.Duration
	PublishInterval time.Duration
	StaleAfter      time.Duration
}

// estimatorWorker owns the telemetry registry and the estimator. Telemetry updates, ticks
// and publishing are all handled on this goroutine so ticks never overlap and the state
// is only shared as a copy.
func estimatorWorker(
	ctx context.Context,
	est *estimator.Estimator,
	updateChan <-chan TelemetryUpdate,
	stateChan chan<- estimator.State,
	config EstimatorWorkerConfig,
) {
	log.Printf("%s estimator started (tick %v, publish %v)\n", config.Name, config.TickInterval, config.PublishInterval)

	registry := NewTelemetryRegistry(config.StaleAfter)

	tickTicker := time.NewTicker(config.TickInterval)
	defer tickTicker.Stop()
	publishTicker := time.NewTicker(config.PublishInterval)
	defer publishTicker.Stop()

	var prev estimator.State

	for {
		select {
		case update := <-updateChan:
			registry.Apply(update)

		case now := <-tickTicker.C:
			state := est.Update(registry.Snapshot(now))
			logStateChanges(config.Name, prev, state)
			prev = state

		case <-publishTicker.C:
			select {
			case stateChan <- est.State():
			default:
				log.Printf("Warning: %s state channel full, dropping update\n", config.Name)
			}

		case <-ctx.Done():
			log.Printf("%s estimator stopped\n", config.Name)
			return
		}
	}
}

// logStateChanges logs the events worth noting between two ticks
func logStateChanges(name string, prev, state estimator.State) {
	if state.VoltageValid && !prev.VoltageValid {
		log.Printf("%s: first voltage reading, %s\n", name, state)
	}
	if state.FloatCharging && !prev.FloatCharging {
		log.Printf("%s: charger in float, calibrating to %.1f Ah\n", name, state.CapacityAh)
	}
}
