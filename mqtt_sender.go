package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// CallService sends a Home Assistant service call via the Node-RED proxy
func (s *MQTTSender) CallService(domain, service, entityID string) {
	payload, _ := json.Marshal(map[string]string{
		"domain":    domain,
		"service":   service,
		"entity_id": entityID,
	})

	s.ch <- MQTTMessage{
		Topic:   "nodered/proxy/call_service",
		Payload: payload,
		QoS:     1,
		Retain:  false,
	}
}

// BatteryEntity describes one Home Assistant sensor read from the battery state document
type BatteryEntity struct {
	Name             string
	DeviceClass      string
	Unit             string
	JSONKey          string
	StateClass       string
	DisplayPrecision int
}

// deviceID turns a display name into a Home Assistant identifier
func deviceID(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// stateTopic returns the topic the battery state document is published on
func stateTopic(deviceName string) string {
	return "homeassistant/sensor/" + deviceID(deviceName) + "/state"
}

// CreateBatteryEntity creates a Home Assistant battery entity via MQTT discovery
func (s *MQTTSender) CreateBatteryEntity(deviceName, model, manufacturer string, entity BatteryEntity) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		DeviceClass      string         `json:"device_class,omitempty"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		ExpireAfter      uint           `json:"expire_after,omitempty"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	id := deviceID(deviceName)

	config := haEntityConfig{
		Name:             entity.Name,
		DeviceClass:      entity.DeviceClass,
		StateTopic:       stateTopic(deviceName),
		UnitOfMeasure:    entity.Unit,
		ValueTemplate:    "{{ value_json." + entity.JSONKey + " }}",
		UniqueId:         id + "_" + entity.JSONKey,
		ExpireAfter:      60 * 5, // 5 minutes
		StateClass:       entity.StateClass,
		DisplayPrecision: entity.DisplayPrecision,
		Device: haDeviceConfig{
			Identifiers:  []string{id},
			Name:         deviceName,
			Manufacturer: manufacturer,
			Model:        model,
		},
	}

	configTopic := "homeassistant/sensor/" + id + "_" + entity.JSONKey + "/config"

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   configTopic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})

	return nil
}

// mqttSenderWorker publishes outgoing MQTT messages, queuing them while disconnected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
					token.Wait()
					if token.Error() != nil {
						log.Printf("Failed to publish queued message to %s: %v\n", msg.Topic, token.Error())
					}
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
				token.Wait()
				if token.Error() != nil {
					log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
				}
				continue
			}

			// Fire-and-forget messages are dropped while disconnected
			if !msg.Retain && msg.QoS == 0 {
				continue
			}
			messageQueue = append(messageQueue, msg)
			log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}
