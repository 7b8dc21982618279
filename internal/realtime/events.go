package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
)

// ConnectionState state of the push channel
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// EventKind closed set of events listeners can register for
type EventKind int

const (
	EventReading EventKind = iota
	EventAlert
	EventSensor
	EventConnect
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventReading:
		return "reading"
	case EventAlert:
		return "alert"
	case EventSensor:
		return "sensor"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// wire event names
const (
	WireNewReading        = "new_reading"
	WireNewAlert          = "new_alert"
	WireSensorCreated     = "sensor_created"
	WireSensorUpdated     = "sensor_updated"
	WireSubscribeSensor   = "subscribe_sensor"
	WireUnsubscribeSensor = "unsubscribe_sensor"
)

// SensorChangeType created or updated
type SensorChangeType string

const (
	SensorCreated SensorChangeType = "created"
	SensorUpdated SensorChangeType = "updated"
)

// SensorChange payload of EventSensor
type SensorChange struct {
	Type   SensorChangeType
	Sensor models.Sensor
}

// Event a dispatched event. Exactly one payload is set for data kinds;
// connect and disconnect carry none.
type Event struct {
	Kind    EventKind
	Reading *models.Reading
	Alert   *models.Alert
	Sensor  *SensorChange
}

// SensorID the sensor referenced by a data event, "" for connect/disconnect
func (e Event) SensorID() string {
	switch {
	case e.Reading != nil:
		return e.Reading.SensorID
	case e.Alert != nil:
		return e.Alert.SensorID
	case e.Sensor != nil:
		return e.Sensor.Sensor.SensorID
	default:
		return ""
	}
}

// decodeFrame maps a wire event name and payload to a typed Event.
// ok is false for event names the channel does not consume.
func decodeFrame(name string, data json.RawMessage) (ev Event, ok bool, err error) {
	switch name {
	case WireNewReading:
		var r models.Reading
		if err := json.Unmarshal(data, &r); err != nil {
			return Event{}, true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return Event{Kind: EventReading, Reading: &r}, true, nil
	case WireNewAlert:
		var a models.Alert
		if err := json.Unmarshal(data, &a); err != nil {
			return Event{}, true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return Event{Kind: EventAlert, Alert: &a}, true, nil
	case WireSensorCreated, WireSensorUpdated:
		var s models.Sensor
		if err := json.Unmarshal(data, &s); err != nil {
			return Event{}, true, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		change := &SensorChange{Type: SensorCreated, Sensor: s}
		if name == WireSensorUpdated {
			change.Type = SensorUpdated
		}
		return Event{Kind: EventSensor, Sensor: change}, true, nil
	default:
		return Event{}, false, nil
	}
}
