package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ryansname/battery-proxy/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarmTransitions(t *testing.T) {
	prev := estimator.Alarms{}
	next := estimator.Alarms{LowVoltage: estimator.AlarmAlarm, LowSoc: estimator.AlarmAlarm}

	transitions := alarmTransitions(prev, next)
	require.Len(t, transitions, 2)
	assert.Equal(t, alarmTransition{"low voltage", estimator.AlarmOk, estimator.AlarmAlarm}, transitions[0])
	assert.Equal(t, alarmTransition{"low soc", estimator.AlarmOk, estimator.AlarmAlarm}, transitions[1])

	assert.Empty(t, alarmTransitions(next, next))
}

func lowVoltageState(level estimator.AlarmState) estimator.State {
	return estimator.State{Alarms: estimator.Alarms{LowVoltage: level}}
}

func TestAlarmWorker_ShedsOnceOnLowVoltage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateChan := make(chan estimator.State)
	outgoing := make(chan MQTTMessage, 10)
	config := AlarmConfig{Name: "Test", ShedSwitches: []string{"switch.inverter_1", "switch.inverter_2"}}
	go alarmWorker(ctx, stateChan, config, NewMQTTSender(outgoing))

	stateChan <- lowVoltageState(estimator.AlarmOk)
	stateChan <- lowVoltageState(estimator.AlarmAlarm)
	stateChan <- lowVoltageState(estimator.AlarmAlarm)
	// Unbuffered, so this returns once the previous state has been handled
	stateChan <- lowVoltageState(estimator.AlarmAlarm)

	require.Len(t, outgoing, 2)
	msg := <-outgoing
	assert.Equal(t, "nodered/proxy/call_service", msg.Topic)

	var call map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &call))
	assert.Equal(t, map[string]string{
		"domain":    "switch",
		"service":   "turn_off",
		"entity_id": "switch.inverter_1",
	}, call)
}

func TestAlarmWorker_ShedsAgainAfterRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateChan := make(chan estimator.State)
	outgoing := make(chan MQTTMessage, 10)
	config := AlarmConfig{Name: "Test", ShedSwitches: []string{"switch.inverter_1"}}
	go alarmWorker(ctx, stateChan, config, NewMQTTSender(outgoing))

	stateChan <- lowVoltageState(estimator.AlarmAlarm)
	stateChan <- lowVoltageState(estimator.AlarmOk)
	stateChan <- lowVoltageState(estimator.AlarmAlarm)
	stateChan <- lowVoltageState(estimator.AlarmAlarm)

	assert.Len(t, outgoing, 2)
}

func TestAlarmWorker_NilSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stateChan := make(chan estimator.State)
	done := make(chan struct{})
	go func() {
		alarmWorker(ctx, stateChan, AlarmConfig{Name: "Test", ShedSwitches: []string{"switch.x"}}, nil)
		close(done)
	}()

	stateChan <- lowVoltageState(estimator.AlarmAlarm)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("alarm worker did not stop")
	}
}
