package models

import "time"

// DashboardView derived view computed from the latest snapshots.
// Returned to readers as a copy; never mutated after publication.
type DashboardView struct {
	// sensor counts (from the sensors snapshot)
	TotalSensors             int                  `json:"total_sensors"`
	ActiveSensors            int                  `json:"active_sensors"`
	InactiveSensors          int                  `json:"inactive_sensors"`
	SensorStatusDistribution map[SensorStatus]int `json:"sensor_status_distribution"`

	// reading window (from the readings snapshot)
	TotalReadings          int                `json:"total_readings"`
	TodayReadings          int                `json:"today_readings"`
	HumidityStats          Stats              `json:"humidity_stats"`
	TemperatureStats       Stats              `json:"temperature_stats"`
	AlertLevelDistribution map[AlertLevel]int `json:"alert_level_distribution"`
	ReadingsPerSensor      map[string]int     `json:"readings_per_sensor"`
	Series                 map[string][]Point `json:"series"`

	// alerts (from the active alerts snapshot)
	ActiveAlerts int     `json:"active_alerts"`
	Alerts       []Alert `json:"alerts"`

	// bookkeeping
	ReferentialAnomalies int64     `json:"referential_anomalies"`
	Degraded             bool      `json:"degraded"`
	ComputedAt           time.Time `json:"computed_at"`
}

// Stats min / max / average of a measurement over the snapshot window
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Point one charted sample of a per-sensor series
type Point struct {
	ReadingID          string     `json:"reading_id,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	HumidityPercentage float64    `json:"humidity_percentage"`
	TemperatureCelsius *float64   `json:"temperature_celsius,omitempty"`
	AlertLevel         AlertLevel `json:"alert_level"`
}

// Clone deep-copies the view so callers cannot reach engine-owned state
func (v *DashboardView) Clone() *DashboardView {
	if v == nil {
		return nil
	}
	out := *v
	out.SensorStatusDistribution = make(map[SensorStatus]int, len(v.SensorStatusDistribution))
	for k, n := range v.SensorStatusDistribution {
		out.SensorStatusDistribution[k] = n
	}
	out.AlertLevelDistribution = make(map[AlertLevel]int, len(v.AlertLevelDistribution))
	for k, n := range v.AlertLevelDistribution {
		out.AlertLevelDistribution[k] = n
	}
	out.ReadingsPerSensor = make(map[string]int, len(v.ReadingsPerSensor))
	for k, n := range v.ReadingsPerSensor {
		out.ReadingsPerSensor[k] = n
	}
	out.Series = make(map[string][]Point, len(v.Series))
	for k, points := range v.Series {
		out.Series[k] = append([]Point(nil), points...)
	}
	out.Alerts = append([]Alert(nil), v.Alerts...)
	return &out
}
