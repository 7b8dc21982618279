package gateway

import "context"

// HealthStatus body of GET /health
type HealthStatus struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"-"`
}

// Health GET /health. Any error means the backend is unusable.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var details map[string]any
	if err := c.getJSON(ctx, "/health", &details); err != nil {
		return nil, err
	}
	status := &HealthStatus{Details: details}
	if s, ok := details["status"].(string); ok {
		status.Status = s
	}
	return status, nil
}
