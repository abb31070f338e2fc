package main

import (
	"context"
	"log"

	"github.com/ryansname/battery-proxy/estimator"
)

// AlarmConfig holds the alarm worker settings
type AlarmConfig struct {
	Name         string
	ShedSwitches []string // switch entities turned off when the low voltage alarm is raised
}

// alarmTransition is one alarm changing level between two states
type alarmTransition struct {
	Alarm string
	From  estimator.AlarmState
	To    estimator.AlarmState
}

// alarmTransitions lists the alarms whose level differs between prev and next
func alarmTransitions(prev, next estimator.Alarms) []alarmTransition {
	var transitions []alarmTransition
	check := func(name string, from, to estimator.AlarmState) {
		if from != to {
			transitions = append(transitions, alarmTransition{Alarm: name, From: from, To: to})
		}
	}
	check("low voltage", prev.LowVoltage, next.LowVoltage)
	check("high voltage", prev.HighVoltage, next.HighVoltage)
	check("low soc", prev.LowSoc, next.LowSoc)
	return transitions
}

// alarmWorker logs alarm changes and sheds loads when the low voltage alarm is raised.
// sender may be nil, in which case nothing is shed.
func alarmWorker(
	ctx context.Context,
	stateChan <-chan estimator.State,
	config AlarmConfig,
	sender *MQTTSender,
) {
	log.Printf("%s alarm worker started (%d shed switches)\n", config.Name, len(config.ShedSwitches))

	var prev estimator.Alarms

	for {
		select {
		case state := <-stateChan:
			for _, t := range alarmTransitions(prev, state.Alarms) {
				log.Printf("%s: %s alarm %s -> %s (%.2fV, soc %.0f%%)\n",
					config.Name, t.Alarm, t.From, t.To, state.FilteredVoltage, state.Soc)
			}

			if state.Alarms.LowVoltage == estimator.AlarmAlarm && prev.LowVoltage != estimator.AlarmAlarm {
				shedLoads(config, sender)
			}
			prev = state.Alarms

		case <-ctx.Done():
			log.Printf("%s alarm worker stopped\n", config.Name)
			return
		}
	}
}

// shedLoads turns off every configured shed switch
func shedLoads(config AlarmConfig, sender *MQTTSender) {
	if sender == nil || len(config.ShedSwitches) == 0 {
		return
	}

	log.Printf("%s: LOW VOLTAGE - turning off %d switches\n", config.Name, len(config.ShedSwitches))
	for _, entityID := range config.ShedSwitches {
		sender.CallService("switch", "turn_off", entityID)
		log.Printf("%s: Sent turn_off command for %s\n", config.Name, entityID)
	}
}
