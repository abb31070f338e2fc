package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// mqttWorker manages the MQTT connection and forwards device telemetry to a channel
func mqttWorker(
	ctx context.Context,
	config MQTTConfig,
	topics []string,
	updateChan chan<- TelemetryUpdate,
	clientChan chan<- mqtt.Client,
) {
	// Connect to MQTT broker
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", config.Broker))
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", config.Broker)

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
			log.Println("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}

		for _, topic := range topics {
			token := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
				update, ok := telemetryUpdateFromMessage(msg.Topic(), msg.Payload(), time.Now())
				if !ok {
					return
				}
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			})

			if token.Wait() && token.Error() != nil {
				log.Printf("Failed to subscribe to topic %s: %v\n", topic, token.Error())
			} else {
				log.Printf("Subscribed to topic: %s\n", topic)
			}
		}
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...\n", config.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	// Keep worker alive until context is done
	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}

// telemetryUpdateFromMessage converts a Venus OS MQTT message into a TelemetryUpdate
func telemetryUpdateFromMessage(topic string, payload []byte, now time.Time) (TelemetryUpdate, bool) {
	serviceType, instance, path, ok := parseVenusTopic(topic)
	if !ok {
		return TelemetryUpdate{}, false
	}

	value, valid, err := parseVenusPayload(payload)
	if err != nil {
		log.Printf("Skipping %s: %v\n", topic, err)
		return TelemetryUpdate{}, false
	}

	return TelemetryUpdate{
		ServiceType: serviceType,
		Instance:    instance,
		Path:        path,
		Value:       value,
		Valid:       valid,
		Timestamp:   now,
	}, true
}

// keepaliveWorker asks Venus OS to keep publishing N/ topics
func keepaliveWorker(ctx context.Context, portalID string, interval time.Duration, sender *MQTTSender) {
	topic := "R/" + portalID + "/keepalive"
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sender.Send(MQTTMessage{Topic: topic, QoS: 0})

	for {
		select {
		case <-ticker.C:
			sender.Send(MQTTMessage{Topic: topic, QoS: 0})
		case <-ctx.Done():
			return
		}
	}
}
