package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertLevel alert level derived for a reading
type AlertLevel string

const (
	AlertLevelNormal   AlertLevel = "normal"
	AlertLevelLow      AlertLevel = "low"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelCritical AlertLevel = "critical"
)

// AlertLevels all buckets of the alert-level distribution
var AlertLevels = []AlertLevel{AlertLevelNormal, AlertLevelLow, AlertLevelHigh, AlertLevelCritical}

// criticalDeviation points outside a threshold at which a reading becomes critical
const criticalDeviation = 20

// ParseAlertLevel normalizes a wire alert level ("Critical", "critical", ...)
func ParseAlertLevel(s string) (AlertLevel, error) {
	level := AlertLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AlertLevels {
		if level == known {
			return level, nil
		}
	}
	return "", fmt.Errorf("unknown alert level %q", s)
}

// ClassifyHumidity derives the alert level of a humidity value against a
// sensor's thresholds, the same rule the backend applies when it stores a reading.
func ClassifyHumidity(humidity, minThreshold, maxThreshold int) AlertLevel {
	switch {
	case humidity < minThreshold:
		if minThreshold-humidity >= criticalDeviation {
			return AlertLevelCritical
		}
		return AlertLevelLow
	case humidity > maxThreshold:
		if humidity-maxThreshold >= criticalDeviation {
			return AlertLevelCritical
		}
		return AlertLevelHigh
	default:
		return AlertLevelNormal
	}
}

// Reading a single humidity reading. Immutable once created.
type Reading struct {
	ID                 string     `json:"id,omitempty"`
	SensorID           string     `json:"sensor_id"`
	HumidityPercentage float64    `json:"humidity_percentage"`
	TemperatureCelsius *float64   `json:"temperature_celsius,omitempty"`
	BatteryLevel       *float64   `json:"battery_level,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	AlertLevel         AlertLevel `json:"alert_level"`
	TxHash             *string    `json:"tx_hash,omitempty"`
}

type readingWire struct {
	ID                 json.RawMessage `json:"id"`
	SensorID           string          `json:"sensor_id"`
	HumidityPercentage float64         `json:"humidity_percentage"`
	TemperatureCelsius *float64        `json:"temperature_celsius"`
	BatteryLevel       *float64        `json:"battery_level"`
	Timestamp          Timestamp       `json:"timestamp"`
	AlertLevel         string          `json:"alert_level"`
	TxHash             *string         `json:"tx_hash"`
}

// UnmarshalJSON accepts numeric or string ids and case-insensitive alert levels
func (r *Reading) UnmarshalJSON(data []byte) error {
	var w readingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Reading{
		ID:                 rawID(w.ID),
		SensorID:           w.SensorID,
		HumidityPercentage: w.HumidityPercentage,
		TemperatureCelsius: w.TemperatureCelsius,
		BatteryLevel:       w.BatteryLevel,
		Timestamp:          w.Timestamp.Time,
		TxHash:             w.TxHash,
	}
	if w.AlertLevel != "" {
		level, err := ParseAlertLevel(w.AlertLevel)
		if err != nil {
			return err
		}
		out.AlertLevel = level
	}
	if out.TxHash != nil && *out.TxHash == "" {
		out.TxHash = nil
	}

	*r = out
	return nil
}

// Validate checks the humidity range
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return fmt.Errorf("sensor_id is required")
	}
	if r.HumidityPercentage < 0 || r.HumidityPercentage > 100 {
		return fmt.Errorf("humidity_percentage %.1f out of range 0-100", r.HumidityPercentage)
	}
	return nil
}

// ReadingCreate request body for POST /readings
type ReadingCreate struct {
	SensorID           string   `json:"sensor_id"`
	HumidityPercentage int      `json:"humidity_percentage"`
	TemperatureCelsius *int     `json:"temperature_celsius,omitempty"`
	BatteryLevel       *float64 `json:"battery_level,omitempty"`
}

// rawID renders a JSON id (string or number) as a string
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
