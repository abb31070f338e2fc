package main

import (
	"context"
	"log"

	"github.com/ryansname/battery-proxy/estimator"
)

// broadcastWorker hands each published battery state to every consumer (Home Assistant,
// Redis, alarms, debug console). A consumer that is behind misses that state.
func broadcastWorker(ctx context.Context, inputChan <-chan estimator.State, outputChans []chan<- estimator.State) {
	for {
		select {
		case state := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- state:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: state consumer %d busy, dropping state\n", i)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
