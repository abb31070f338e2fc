package main

import (
	"fmt"
	"time"

	arg "github.com/alexflint/go-arg"
)

const (
	SourceMQTT = "mqtt"
	SourceDBus = "dbus"
)

// Args holds process configuration. Every option can also come from the environment
// (or a .env file).
type Args struct {
	ConfigFile      string        `arg:"--config,env:BATTERY_CONFIG" default:"/data/setupOptions/BatteryProxy/config.json" help:"battery config JSON file"`
	Source          string        `arg:"--source,env:TELEMETRY_SOURCE" default:"mqtt" help:"where device telemetry comes from: mqtt or dbus"`
	Broker          string        `arg:"--broker,env:MQTT_BROKER" help:"MQTT broker host, required for the mqtt source"`
	MQTTUsername    string        `arg:"--mqtt-username,env:MQTT_USERNAME"`
	MQTTPassword    string        `arg:"--mqtt-password,env:MQTT_PASSWORD"`
	ClientID        string        `arg:"--client-id,env:MQTT_CLIENT_ID" default:"battery-proxy"`
	PortalID        string        `arg:"--portal-id,env:VENUS_PORTAL_ID" help:"Venus OS portal id, required for the mqtt source"`
	TickInterval    time.Duration `arg:"--tick-interval,env:TICK_INTERVAL" default:"200ms" help:"estimator tick period"`
	PublishInterval time.Duration `arg:"--publish-interval,env:PUBLISH_INTERVAL" default:"1s" help:"state publishing period"`
	StaleAfter      time.Duration `arg:"--stale-after,env:STALE_AFTER" default:"60s" help:"drop devices not heard from for this long"`
	RedisAddr       string        `arg:"--redis-addr,env:REDIS_ADDR" help:"mirror state into this Redis server"`
	RedisPassword   string        `arg:"--redis-password,env:REDIS_PASSWORD"`
	RedisDB         int           `arg:"--redis-db,env:REDIS_DB"`
	RedisKey        string        `arg:"--redis-key,env:REDIS_KEY" default:"battery:proxy"`
	DeviceName      string        `arg:"--name,env:DEVICE_NAME" default:"Battery Proxy" help:"Home Assistant device name"`
	ShedSwitches    []string      `arg:"--shed-switch,separate" help:"switch entity to turn off on low voltage (repeatable)"`
	Debug           bool          `arg:"--debug" help:"interactive watch console"`
}

func (Args) Description() string {
	return "Estimates the state of an unmonitored battery bank from charger and load telemetry."
}

func (Args) Version() string {
	return "battery-proxy " + version
}

var version = "<not set>"

// validate checks option combinations go-arg can't express
func (a Args) validate() error {
	switch a.Source {
	case SourceMQTT:
		if a.Broker == "" {
			return fmt.Errorf("--broker is required for the %s source", SourceMQTT)
		}
		// Venus OS only publishes N/ topics while a keepalive for the portal is received
		if a.PortalID == "" {
			return fmt.Errorf("--portal-id is required for the %s source", SourceMQTT)
		}
	case SourceDBus:
	default:
		return fmt.Errorf("unknown telemetry source %q (want %s or %s)", a.Source, SourceMQTT, SourceDBus)
	}

	if a.TickInterval <= 0 || a.PublishInterval <= 0 {
		return fmt.Errorf("tick and publish intervals must be positive")
	}
	if a.StaleAfter <= a.TickInterval {
		return fmt.Errorf("--stale-after (%v) must be longer than --tick-interval (%v)", a.StaleAfter, a.TickInterval)
	}
	return nil
}

// parseArgs parses argv into Args and validates them. The parser is returned so callers
// can print help or usage errors.
func parseArgs(argv []string) (Args, *arg.Parser, error) {
	var args Args
	p, err := arg.NewParser(arg.Config{Program: "battery-proxy"}, &args)
	if err != nil {
		return Args{}, nil, err
	}
	if err := p.Parse(argv); err != nil {
		return Args{}, p, err
	}
	if err := args.validate(); err != nil {
		return Args{}, p, err
	}
	return args, p, nil
}
