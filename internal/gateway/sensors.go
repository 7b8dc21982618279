package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
)

// TransactionResult response of mutating endpoints that anchor a ledger transaction
type TransactionResult struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash"`
	ExplorerURL string `json:"explorer_url"`
	Message     string `json:"message"`
}

// ListSensors GET /sensors[?filters]
func (c *Client) ListSensors(ctx context.Context, filters url.Values) ([]models.Sensor, error) {
	return getList[models.Sensor](ctx, c, withQuery("/sensors", filters))
}

// GetSensor GET /sensors/{id}
func (c *Client) GetSensor(ctx context.Context, sensorID string) (*models.Sensor, error) {
	var sensor models.Sensor
	if err := c.getJSON(ctx, sensorPath(sensorID), &sensor); err != nil {
		return nil, err
	}
	return &sensor, nil
}

// CreateSensor POST /sensors
func (c *Client) CreateSensor(ctx context.Context, req models.SensorCreate) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.sendJSON(ctx, http.MethodPost, "/sensors", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSensor PUT /sensors/{id}
func (c *Client) UpdateSensor(ctx context.Context, sensorID string, req models.SensorUpdate) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.sendJSON(ctx, http.MethodPut, sensorPath(sensorID), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ToggleSensorStatus PUT /sensors/{id}/toggle-status
func (c *Client) ToggleSensorStatus(ctx context.Context, sensorID string) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.sendJSON(ctx, http.MethodPut, sensorPath(sensorID)+"/toggle-status", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteSensor DELETE /sensors/{id} (the backend deactivates, it never deletes)
func (c *Client) DeleteSensor(ctx context.Context, sensorID string) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.sendJSON(ctx, http.MethodDelete, sensorPath(sensorID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SensorStats GET /sensors/{id}/stats?period=
func (c *Client) SensorStats(ctx context.Context, sensorID, period string) (map[string]any, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	var stats map[string]any
	if err := c.getJSON(ctx, withQuery(sensorPath(sensorID)+"/stats", q), &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// SensorReadings GET /sensors/{id}/readings?limit=
func (c *Client) SensorReadings(ctx context.Context, sensorID string, limit int) ([]models.Reading, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return getList[models.Reading](ctx, c, withQuery(sensorPath(sensorID)+"/readings", q))
}

func sensorPath(sensorID string) string {
	return "/sensors/" + url.PathEscape(sensorID)
}
