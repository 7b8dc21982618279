package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertStatus lifecycle status of an alert
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// ParseAlertStatus normalizes a wire alert status
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch status := AlertStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case AlertActive, AlertAcknowledged, AlertResolved:
		return status, nil
	default:
		return "", fmt.Errorf("unknown alert status %q", s)
	}
}

// Alert raised by the server when a reading breaches a sensor's thresholds
type Alert struct {
	AlertID   string      `json:"alert_id"`
	SensorID  string      `json:"sensor_id"`
	AlertType string      `json:"alert_type"`
	Severity  string      `json:"severity"`
	Message   string      `json:"message"`
	Status    AlertStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type alertWire struct {
	AlertID   json.RawMessage `json:"alert_id"`
	ID        json.RawMessage `json:"id"`
	SensorID  string          `json:"sensor_id"`
	AlertType string          `json:"alert_type"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Status    string          `json:"status"`
	CreatedAt Timestamp       `json:"created_at"`
}

// UnmarshalJSON accepts alert_id or id, and case-insensitive status
func (a *Alert) UnmarshalJSON(data []byte) error {
	var w alertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Alert{
		AlertID:   rawID(w.AlertID),
		SensorID:  w.SensorID,
		AlertType: w.AlertType,
		Severity:  strings.ToLower(w.Severity),
		Message:   w.Message,
		CreatedAt: w.CreatedAt.Time,
	}
	if out.AlertID == "" {
		out.AlertID = rawID(w.ID)
	}
	if w.Status != "" {
		status, err := ParseAlertStatus(w.Status)
		if err != nil {
			return err
		}
		out.Status = status
	}

	*a = out
	return nil
}

// IsActive reports whether the alert is still active
func (a *Alert) IsActive() bool {
	return a.Status == AlertActive
}
