package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus"
)

const (
	victronServicePrefix = "com.victronenergy."
	busItemGetValue      = "com.victronenergy.BusItem.GetValue"
)

// busReader is the part of the D-Bus connection the poller needs
type busReader interface {
	ListNames() ([]string, error)
	GetValue(service, path string) (any, error)
}

// dbusBusReader reads Venus OS BusItem values over a D-Bus connection
type dbusBusReader struct {
	conn *dbus.Conn
}

// dbusConnection connects to the session bus when one is configured, otherwise the system bus
func dbusConnection() (*dbusBusReader, error) {
	var conn *dbus.Conn
	var err error
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" {
		conn, err = dbus.SessionBus()
	} else {
		conn, err = dbus.SystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to D-Bus: %w", err)
	}
	return &dbusBusReader{conn: conn}, nil
}

func (r *dbusBusReader) ListNames() ([]string, error) {
	var names []string
	err := r.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}
	return names, nil
}

func (r *dbusBusReader) GetValue(service, path string) (any, error) {
	var value dbus.Variant
	err := r.conn.Object(service, dbus.ObjectPath("/"+path)).Call(busItemGetValue, 0).Store(&value)
	if err != nil {
		return nil, err
	}
	return value.Value(), nil
}

// parseServiceName splits com.victronenergy.<type>.<instance>
func parseServiceName(name string) (serviceType, instance string, ok bool) {
	rest, found := strings.CutPrefix(name, victronServicePrefix)
	if !found {
		return "", "", false
	}
	serviceType, instance, found = strings.Cut(rest, ".")
	if !found || instance == "" {
		return "", "", false
	}
	if _, known := servicePaths[serviceType]; !known {
		return "", "", false
	}
	return serviceType, instance, true
}

// toFloat converts a BusItem value to a float. Venus OS reports invalid values as an
// empty array, which is not a number.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// pollBus reads every supported path of every Victron service on the bus
func pollBus(reader busReader, now time.Time) ([]TelemetryUpdate, error) {
	names, err := reader.ListNames()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var updates []TelemetryUpdate
	for _, name := range names {
		serviceType, instance, ok := parseServiceName(name)
		if !ok {
			continue
		}

		for _, path := range servicePaths[serviceType] {
			raw, err := reader.GetValue(name, path)
			if err != nil {
				// Not every device publishes every path
				continue
			}
			value, valid := toFloat(raw)
			updates = append(updates, TelemetryUpdate{
				ServiceType: serviceType,
				Instance:    instance,
				Path:        path,
				Value:       value,
				Valid:       valid,
				Timestamp:   now,
			})
		}
	}
	return updates, nil
}

// dbusPollWorker polls the bus every interval and forwards the readings
func dbusPollWorker(
	ctx context.Context,
	reader busReader,
	interval time.Duration,
	updateChan chan<- TelemetryUpdate,
) {
	log.Printf("D-Bus poller started (every %v)\n", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false

	for {
		select {
		case now := <-ticker.C:
			updates, err := pollBus(reader, now)
			if err != nil {
				if !failing {
					log.Printf("D-Bus poll failed: %v\n", err)
				}
				failing = true
				continue
			}
			failing = false

			for _, update := range updates {
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			}

		case <-ctx.Done():
			log.Println("D-Bus poller stopped")
			return
		}
	}
}
