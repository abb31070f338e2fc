package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/ryansname/battery-proxy/estimator"
)

// keepaliveInterval is how often Venus OS is asked to keep publishing; it stops after 60s
const keepaliveInterval = 30 * time.Second

// SafeGo runs a worker on its own goroutine and restarts it after a panic, waiting 1s,
// 2s, 4s... (capped at 10m) between attempts. A worker that survived 2m counts as healthy
// again. The 10th consecutive panic cancels ctx and the proxy shuts down.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or finished
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	log.Println("Starting battery-proxy...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	args, p, err := parseArgs(os.Args[1:])
	switch {
	case errors.Is(err, arg.ErrHelp):
		p.WriteHelp(os.Stdout)
		os.Exit(0)
	case errors.Is(err, arg.ErrVersion):
		fmt.Println(args.Version())
		os.Exit(0)
	case err != nil && p != nil:
		p.Fail(err.Error())
	case err != nil:
		log.Fatal(err)
	}

	batteryConfig, err := loadBatteryConfig(args.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load battery config: %v", err)
	}

	est, err := estimator.New(batteryConfig)
	if err != nil {
		log.Fatalf("Failed to create estimator: %v", err)
	}
	log.Printf("Battery: %.0f Ah, empty %.2fV, full %.2fV, alarms below %.2fV and above %.2fV\n",
		batteryConfig.CapacityAh, batteryConfig.EmptyVoltage, batteryConfig.FullVoltage,
		batteryConfig.MinVoltage, batteryConfig.MaxVoltage)

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	// Create channels for communication between workers
	updateChan := make(chan TelemetryUpdate, 100)
	statsChan := make(chan estimator.State, 10)
	var downstreamChans []chan<- estimator.State

	// MQTT is needed to read telemetry or to publish to Home Assistant
	var mqttSender *MQTTSender
	if args.Broker != "" {
		mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})
		mqttSender = NewMQTTSender(mqttOutgoingChan)

		log.Println("Creating Home Assistant entities...")
		if err := createBatteryEntities(mqttSender, args.DeviceName, batteryConfig); err != nil {
			cancel()
			log.Fatalf("Failed to create Home Assistant entities: %v", err)
		}
		log.Println("Home Assistant entities created")

		haStateChan := make(chan estimator.State, 10)
		downstreamChans = append(downstreamChans, haStateChan)
		SafeGo(ctx, cancel, "state-publisher", func(ctx context.Context) {
			statePublishWorker(ctx, haStateChan, args.DeviceName, mqttSender)
		})

		var topics []string
		if args.Source == SourceMQTT {
			topics = telemetryTopics(args.PortalID)
		}
		mqttConfig := MQTTConfig{
			Broker:   args.Broker,
			Username: args.MQTTUsername,
			Password: args.MQTTPassword,
			ClientID: args.ClientID,
		}
		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, mqttConfig, topics, updateChan, mqttClientChan)
		})
		log.Println("MQTT worker started")

		if args.Source == SourceMQTT {
			SafeGo(ctx, cancel, "keepalive-worker", func(ctx context.Context) {
				keepaliveWorker(ctx, args.PortalID, keepaliveInterval, mqttSender)
			})
		}
	}

	if args.Source == SourceDBus {
		reader, err := dbusConnection()
		if err != nil {
			cancel()
			log.Fatalf("Failed to start D-Bus source: %v", err)
		}
		SafeGo(ctx, cancel, "dbus-poller", func(ctx context.Context) {
			dbusPollWorker(ctx, reader, args.TickInterval, updateChan)
		})
	}

	if args.RedisAddr != "" {
		publisher, err := NewRedisPublisher(ctx, RedisConfig{
			Addr:     args.RedisAddr,
			Password: args.RedisPassword,
			DB:       args.RedisDB,
			Key:      args.RedisKey,
		})
		if err != nil {
			cancel()
			log.Fatalf("Failed to start Redis publisher: %v", err)
		}
		redisChan := make(chan estimator.State, 10)
		downstreamChans = append(downstreamChans, redisChan)
		SafeGo(ctx, cancel, "redis-publisher", func(ctx context.Context) {
			redisPublishWorker(ctx, redisChan, publisher)
		})
	}

	alarmChan := make(chan estimator.State, 10)
	downstreamChans = append(downstreamChans, alarmChan)
	alarmConfig := AlarmConfig{Name: args.DeviceName, ShedSwitches: args.ShedSwitches}
	SafeGo(ctx, cancel, "alarm-worker", func(ctx context.Context) {
		alarmWorker(ctx, alarmChan, alarmConfig, mqttSender)
	})

	if args.Debug {
		debugChan := make(chan estimator.State, 10)
		downstreamChans = append(downstreamChans, debugChan)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan)
		})
	}

	// Launch broadcast worker (fans out to all downstream workers)
	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, statsChan, downstreamChans)
	})
	log.Println("Broadcast worker started")

	estimatorConfig := EstimatorWorkerConfig{
		Name:            args.DeviceName,
		TickInterval:    args.TickInterval,
		PublishInterval: args.PublishInterval,
		StaleAfter:      args.StaleAfter,
	}
	SafeGo(ctx, cancel, "estimator-worker", func(ctx context.Context) {
		estimatorWorker(ctx, est, updateChan, statsChan, estimatorConfig)
	})

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()
}
