package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/ryansname/battery-proxy/estimator"
)

// batteryEntities are the Home Assistant sensors created for the battery
var batteryEntities = []BatteryEntity{
	{Name: "Voltage", DeviceClass: "voltage", Unit: "V", JSONKey: "voltage", StateClass: "measurement", DisplayPrecision: 2},
	{Name: "Current", DeviceClass: "current", Unit: "A", JSONKey: "current", StateClass: "measurement", DisplayPrecision: 2},
	{Name: "Power", DeviceClass: "power", Unit: "W", JSONKey: "power", StateClass: "measurement", DisplayPrecision: 0},
	{Name: "State of Charge", DeviceClass: "battery", Unit: "%", JSONKey: "soc", StateClass: "measurement", DisplayPrecision: 0},
	{Name: "Remaining Capacity", Unit: "Ah", JSONKey: "remaining_ah", StateClass: "measurement", DisplayPrecision: 1},
	{Name: "Time to Go", DeviceClass: "duration", Unit: "s", JSONKey: "time_to_go", StateClass: "measurement"},
	{Name: "Temperature", DeviceClass: "temperature", Unit: "°C", JSONKey: "temperature", StateClass: "measurement", DisplayPrecision: 1},
	{Name: "Minimum Voltage", DeviceClass: "voltage", Unit: "V", JSONKey: "min_voltage", DisplayPrecision: 2},
	{Name: "Maximum Voltage", DeviceClass: "voltage", Unit: "V", JSONKey: "max_voltage", DisplayPrecision: 2},
	{Name: "Charged Energy", DeviceClass: "energy", Unit: "kWh", JSONKey: "charged_energy", StateClass: "total_increasing", DisplayPrecision: 3},
	{Name: "Discharged Energy", DeviceClass: "energy", Unit: "kWh", JSONKey: "discharged_energy", StateClass: "total_increasing", DisplayPrecision: 3},
	{Name: "Total Ah Drawn", Unit: "Ah", JSONKey: "total_ah_drawn", StateClass: "total_increasing", DisplayPrecision: 1},
	{Name: "Deepest Discharge", DeviceClass: "battery", Unit: "%", JSONKey: "deepest_discharge"},
	{Name: "Full Discharges", JSONKey: "full_discharges", StateClass: "total_increasing"},
	{Name: "Low Voltage Alarm", JSONKey: "alarm_low_voltage"},
	{Name: "High Voltage Alarm", JSONKey: "alarm_high_voltage"},
	{Name: "Low SOC Alarm", JSONKey: "alarm_low_soc"},
	{Name: "Max Charge Voltage", DeviceClass: "voltage", Unit: "V", JSONKey: "max_charge_voltage", DisplayPrecision: 2},
}

// createBatteryEntities registers every battery sensor with Home Assistant
func createBatteryEntities(sender *MQTTSender, deviceName string, config estimator.Config) error {
	model := fmt.Sprintf("%.0f Ah", config.CapacityAh)
	for _, entity := range batteryEntities {
		if err := sender.CreateBatteryEntity(deviceName, model, "Battery Proxy", entity); err != nil {
			return fmt.Errorf("failed to create %s entity: %w", entity.Name, err)
		}
	}
	return nil
}

// buildStatePayload returns the published fields of a state. Fields that depend on a voltage
// reading are left out until one has been seen.
func buildStatePayload(s estimator.State) map[string]any {
	payload := map[string]any{
		"current":            s.Current,
		"power":              s.Power,
		"temperature":        s.Temperature,
		"remaining_ah":       s.RemainingAh,
		"capacity_ah":        s.CapacityAh,
		"time_to_go":         s.TimeToGoSeconds,
		"charged_energy":     s.ChargedEnergyKWh,
		"discharged_energy":  s.DischargedEnergyKWh,
		"total_ah_drawn":     s.TotalAhDrawn,
		"full_discharges":    s.FullDischarges,
		"alarm_low_voltage":  s.Alarms.LowVoltage.String(),
		"alarm_high_voltage": s.Alarms.HighVoltage.String(),
		"alarm_low_soc":      s.Alarms.LowSoc.String(),
		"float_charging":     s.FloatCharging,
		"max_charge_voltage": s.MaxChargeVoltage,
		// The estimator never restricts the chargers
		"allow_to_charge":    1,
		"allow_to_discharge": 1,
		"allow_to_balance":   1,
	}

	if s.VoltageValid {
		payload["voltage"] = math.Round(s.Voltage*1000) / 1000
		payload["soc"] = s.Soc
	}
	if s.HistoryValid {
		payload["min_voltage"] = s.MinVoltage
		payload["max_voltage"] = s.MaxVoltage
		payload["deepest_discharge"] = s.DeepestDischargeSoc
	}
	if s.MaxChargeCurrent > 0 {
		payload["max_charge_current"] = s.MaxChargeCurrent
	}
	if s.MaxDischargeCurrent > 0 {
		payload["max_discharge_current"] = s.MaxDischargeCurrent
	}

	return payload
}

// statePublishWorker publishes each battery state to Home Assistant
func statePublishWorker(
	ctx context.Context,
	stateChan <-chan estimator.State,
	deviceName string,
	sender *MQTTSender,
) {
	log.Printf("%s state publisher started\n", deviceName)
	topic := stateTopic(deviceName)

	for {
		select {
		case state := <-stateChan:
			payloadBytes, err := json.Marshal(buildStatePayload(state))
			if err != nil {
				log.Printf("%s: Failed to marshal state payload: %v\n", deviceName, err)
				continue
			}

			sender.Send(MQTTMessage{
				Topic:   topic,
				Payload: payloadBytes,
				QoS:     0,
				Retain:  false,
			})

		case <-ctx.Done():
			log.Printf("%s state publisher stopped\n", deviceName)
			return
		}
	}
}
