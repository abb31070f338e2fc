package main

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ryansname/battery-proxy/estimator"
)

// Device service types, as named by Venus OS
const (
	ServiceSolarCharger = "solarcharger"
	ServiceDCSource     = "dcsource"
	ServiceDCLoad       = "dcload"
	ServiceTemperature  = "temperature"
)

// Paths read from each device
const (
	PathCurrent         = "Dc/0/Current"
	PathVoltage         = "Dc/0/Voltage"
	PathPower           = "Dc/0/Power"
	PathState           = "State"
	PathTemperature     = "Temperature"
	PathTemperatureType = "TemperatureType"
)

// batteryTemperatureSensor is the TemperatureType of a battery temperature probe
const batteryTemperatureSensor = 0

// servicePaths lists the paths read for each supported service type
var servicePaths = map[string][]string{
	ServiceSolarCharger: {PathCurrent, PathVoltage, PathPower, PathState},
	ServiceDCSource:     {PathCurrent, PathVoltage, PathPower},
	ServiceDCLoad:       {PathCurrent, PathVoltage, PathPower},
	ServiceTemperature:  {PathTemperature, PathTemperatureType},
}

// TelemetryUpdate is one value reported by one device
type TelemetryUpdate struct {
	ServiceType string
	Instance    string
	Path        string
	Value       float64
	Valid       bool // false clears the value
	Timestamp   time.Time
}

// DeviceID returns the registry key for the device that sent the update
func (u TelemetryUpdate) DeviceID() string {
	return u.ServiceType + "/" + u.Instance
}

// deviceTelemetry holds the latest values of one device
type deviceTelemetry struct {
	serviceType string
	values      map[string]float64
	lastSeen    time.Time
}

// TelemetryRegistry keeps the latest reading of every device and turns it into
// estimator snapshots. It is owned by a single goroutine.
type TelemetryRegistry struct {
	devices    map[string]*deviceTelemetry
	staleAfter time.Duration
}

// NewTelemetryRegistry creates a registry dropping devices silent for longer than staleAfter
func NewTelemetryRegistry(staleAfter time.Duration) *TelemetryRegistry {
	return &TelemetryRegistry{
		devices:    make(map[string]*deviceTelemetry),
		staleAfter: staleAfter,
	}
}

// Apply records an update. Updates for unknown service types are ignored.
func (r *TelemetryRegistry) Apply(u TelemetryUpdate) {
	if _, ok := servicePaths[u.ServiceType]; !ok {
		return
	}

	id := u.DeviceID()
	dev, exists := r.devices[id]
	if !exists {
		dev = &deviceTelemetry{serviceType: u.ServiceType, values: make(map[string]float64)}
		r.devices[id] = dev
		log.Printf("Discovered %s\n", id)
	}

	if u.Timestamp.After(dev.lastSeen) {
		dev.lastSeen = u.Timestamp
	}
	if u.Valid {
		dev.values[u.Path] = u.Value
	} else {
		delete(dev.values, u.Path)
	}
}

// Len returns the number of known devices
func (r *TelemetryRegistry) Len() int {
	return len(r.devices)
}

// Snapshot drops stale devices and returns the readings of the rest
func (r *TelemetryRegistry) Snapshot(now time.Time) estimator.Snapshot {
	for id, dev := range r.devices {
		if now.Sub(dev.lastSeen) > r.staleAfter {
			log.Printf("Removing %s: no data for %v\n", id, now.Sub(dev.lastSeen).Round(time.Second))
			delete(r.devices, id)
		}
	}

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	snapshot := estimator.Snapshot{Readings: make(map[string]estimator.DeviceReading)}
	temperatureFound := false

	for _, id := range ids {
		dev := r.devices[id]

		if dev.serviceType == ServiceTemperature {
			sensorType, ok := dev.values[PathTemperatureType]
			if temperatureFound || !ok || int(sensorType) != batteryTemperatureSensor {
				continue
			}
			// First battery probe wins, even if it has no value yet
			temperatureFound = true
			if t, ok := dev.values[PathTemperature]; ok {
				snapshot.Temperature = t
				snapshot.HasTemperature = true
			}
			continue
		}

		snapshot.Readings[id] = dev.reading()
	}

	return snapshot
}

// reading converts stored values into a DeviceReading, defaulting absent values to zero
func (d *deviceTelemetry) reading() estimator.DeviceReading {
	reading := estimator.DeviceReading{
		Role:    estimator.RoleSource,
		Current: d.values[PathCurrent],
		Voltage: d.values[PathVoltage],
	}
	if d.serviceType == ServiceDCLoad {
		reading.Role = estimator.RoleLoad
	}
	if power, ok := d.values[PathPower]; ok {
		reading.Power = power
		reading.PowerReported = true
	}
	if d.serviceType == ServiceSolarCharger {
		if state, ok := d.values[PathState]; ok {
			reading.ChargerState = int(state)
			reading.HasChargerState = true
		}
	}
	return reading
}

// parseVenusTopic splits N/<portal>/<service>/<instance>/<path...>
func parseVenusTopic(topic string) (serviceType, instance, path string, ok bool) {
	parts := strings.SplitN(topic, "/", 5)
	if len(parts) != 5 || parts[0] != "N" {
		return "", "", "", false
	}
	if _, known := servicePaths[parts[2]]; !known {
		return "", "", "", false
	}
	return parts[2], parts[3], parts[4], true
}

// parseVenusPayload decodes {"value": x}. A null value is valid JSON but not a reading.
func parseVenusPayload(payload []byte) (value float64, valid bool, err error) {
	var msg struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, false, fmt.Errorf("invalid payload %q: %w", payload, err)
	}
	if msg.Value == nil {
		return 0, false, nil
	}
	return *msg.Value, true, nil
}

// telemetryTopics returns the MQTT subscriptions for every device path we read
func telemetryTopics(portal string) []string {
	serviceTypes := make([]string, 0, len(servicePaths))
	for serviceType := range servicePaths {
		serviceTypes = append(serviceTypes, serviceType)
	}
	sort.Strings(serviceTypes)

	var topics []string //nolint:prealloc // small slice
	for _, serviceType := range serviceTypes {
		for _, path := range servicePaths[serviceType] {
			topics = append(topics, fmt.Sprintf("N/%s/%s/+/%s", portal, serviceType, path))
		}
	}
	return topics
}
