package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
)

// ListReadings GET /readings[?filters]; the backend returns most recent first
func (c *Client) ListReadings(ctx context.Context, filters url.Values) ([]models.Reading, error) {
	return getList[models.Reading](ctx, c, withQuery("/readings", filters))
}

// RecentReadings GET /readings?limit=
func (c *Client) RecentReadings(ctx context.Context, limit int) ([]models.Reading, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.ListReadings(ctx, q)
}

// CreateReading POST /readings
func (c *Client) CreateReading(ctx context.Context, req models.ReadingCreate) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.sendJSON(ctx, http.MethodPost, "/readings", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetReading GET /readings/{id}
func (c *Client) GetReading(ctx context.Context, readingID string) (*models.Reading, error) {
	var reading models.Reading
	if err := c.getJSON(ctx, "/readings/"+url.PathEscape(readingID), &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// ReadingStats GET /readings/stats[?filters]
func (c *Client) ReadingStats(ctx context.Context, filters url.Values) (map[string]any, error) {
	var stats map[string]any
	if err := c.getJSON(ctx, withQuery("/readings/stats", filters), &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
