package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SensorStatus operational status of a sensor
type SensorStatus string

const (
	SensorActive      SensorStatus = "active"
	SensorInactive    SensorStatus = "inactive"
	SensorMaintenance SensorStatus = "maintenance"
	SensorError       SensorStatus = "error"
)

// SensorStatuses all known statuses, in display order
var SensorStatuses = []SensorStatus{SensorActive, SensorInactive, SensorMaintenance, SensorError}

// ParseSensorStatus normalizes a wire status ("Active", "active", ...)
func ParseSensorStatus(s string) (SensorStatus, error) {
	status := SensorStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SensorStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown sensor status %q", s)
}

// Location sensor geolocation
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ZoneName  string  `json:"zone_name"`
}

// Sensor a registered humidity sensor
type Sensor struct {
	SensorID               string       `json:"sensor_id"`
	Location               Location     `json:"location"`
	Status                 SensorStatus `json:"status"`
	MinHumidityThreshold   int          `json:"min_humidity_threshold"`
	MaxHumidityThreshold   int          `json:"max_humidity_threshold"`
	ReadingIntervalMinutes int          `json:"reading_interval_minutes"`
	InstalledDate          time.Time    `json:"installed_date"`
	Owner                  string       `json:"owner,omitempty"`
}

// sensorWire accepts both the nested location object and the flat
// latitude/longitude/zone_name fields some endpoints return.
type sensorWire struct {
	SensorID               string    `json:"sensor_id"`
	Location               *Location `json:"location"`
	Latitude               *float64  `json:"latitude"`
	Longitude              *float64  `json:"longitude"`
	ZoneName               *string   `json:"zone_name"`
	Status                 string    `json:"status"`
	MinHumidityThreshold   int       `json:"min_humidity_threshold"`
	MaxHumidityThreshold   int       `json:"max_humidity_threshold"`
	ReadingIntervalMinutes int       `json:"reading_interval_minutes"`
	InstalledDate          Timestamp `json:"installed_date"`
	Owner                  string    `json:"owner"`
}

// UnmarshalJSON decodes a sensor from either wire shape
func (s *Sensor) UnmarshalJSON(data []byte) error {
	var w sensorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Sensor{
		SensorID:               w.SensorID,
		MinHumidityThreshold:   w.MinHumidityThreshold,
		MaxHumidityThreshold:   w.MaxHumidityThreshold,
		ReadingIntervalMinutes: w.ReadingIntervalMinutes,
		InstalledDate:          w.InstalledDate.Time,
		Owner:                  w.Owner,
	}
	if w.Location != nil {
		out.Location = *w.Location
	}
	if w.Latitude != nil {
		out.Location.Latitude = *w.Latitude
	}
	if w.Longitude != nil {
		out.Location.Longitude = *w.Longitude
	}
	if w.ZoneName != nil {
		out.Location.ZoneName = *w.ZoneName
	}
	if w.Status != "" {
		status, err := ParseSensorStatus(w.Status)
		if err != nil {
			return err
		}
		out.Status = status
	}

	*s = out
	return nil
}

// Validate checks threshold ordering and sampling interval
func (s *Sensor) Validate() error {
	if s.SensorID == "" {
		return fmt.Errorf("sensor_id is required")
	}
	if s.MinHumidityThreshold < 0 || s.MaxHumidityThreshold > 100 {
		return fmt.Errorf("humidity thresholds must be within 0-100")
	}
	if s.MinHumidityThreshold > s.MaxHumidityThreshold {
		return fmt.Errorf("min_humidity_threshold %d exceeds max_humidity_threshold %d",
			s.MinHumidityThreshold, s.MaxHumidityThreshold)
	}
	if s.ReadingIntervalMinutes <= 0 {
		return fmt.Errorf("reading_interval_minutes must be positive")
	}
	return nil
}

// IsActive reports whether the sensor status is active
func (s *Sensor) IsActive() bool {
	return s.Status == SensorActive
}

// SensorCreate request body for POST /sensors. SensorID is optional: the
// server assigns the next sequential id when it is empty.
type SensorCreate struct {
	SensorID               string   `json:"sensor_id,omitempty"`
	Location               Location `json:"location"`
	MinHumidityThreshold   int      `json:"min_humidity_threshold"`
	MaxHumidityThreshold   int      `json:"max_humidity_threshold"`
	ReadingIntervalMinutes int      `json:"reading_interval_minutes"`
}

// SensorUpdate request body for PUT /sensors/{id}
type SensorUpdate struct {
	MinHumidityThreshold   *int      `json:"min_humidity_threshold,omitempty"`
	MaxHumidityThreshold   *int      `json:"max_humidity_threshold,omitempty"`
	ReadingIntervalMinutes *int      `json:"reading_interval_minutes,omitempty"`
	Location               *Location `json:"location,omitempty"`
	Status                 *string   `json:"status,omitempty"`
}
