package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
)

// ActiveAlerts GET /alerts?status=active
func (c *Client) ActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return c.ListAlerts(ctx, url.Values{"status": {string(models.AlertActive)}})
}

// ListAlerts GET /alerts[?filters]
func (c *Client) ListAlerts(ctx context.Context, filters url.Values) ([]models.Alert, error) {
	return getList[models.Alert](ctx, c, withQuery("/alerts", filters))
}

// SensorAlerts GET /alerts?sensor_id=
func (c *Client) SensorAlerts(ctx context.Context, sensorID string) ([]models.Alert, error) {
	return c.ListAlerts(ctx, url.Values{"sensor_id": {sensorID}})
}

// ResolveAlert PUT /alerts/{id}/resolve
func (c *Client) ResolveAlert(ctx context.Context, alertID string) error {
	return c.sendJSON(ctx, http.MethodPut, alertPath(alertID)+"/resolve", struct{}{}, nil)
}

// AcknowledgeAlert PUT /alerts/{id}/acknowledge
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string) error {
	return c.sendJSON(ctx, http.MethodPut, alertPath(alertID)+"/acknowledge", struct{}{}, nil)
}

func alertPath(alertID string) string {
	return "/alerts/" + url.PathEscape(alertID)
}
