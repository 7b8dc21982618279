package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/caat-at/sistema-sensores-humedad-agricola/common/redis"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"

	"go.uber.org/zap"
)

const (
	// ViewKey key holding the latest dashboard view JSON
	ViewKey = "humidity:view:dashboard"
	// ViewEventsStream stream receiving a notification per published view
	ViewEventsStream = "humidity:view:events"

	defaultViewTTL      = 5 * time.Minute
	viewEventsStreamLen = 1000
)

// ViewChange notification published after a view is cached
type ViewChange struct {
	Scope        string    `json:"scope"`
	RefreshID    string    `json:"refresh_id"`
	ComputedAt   time.Time `json:"computed_at"`
	ActiveAlerts int       `json:"active_alerts"`
	Readings     int       `json:"readings"`
}

// ViewCache writes published views to a KVStore and announces them on a
// Redis stream. The stream is optional.
type ViewCache struct {
	kv     KVStore
	stream rediscommon.StreamAdder
	ttl    time.Duration
	logger *zap.Logger
}

// NewViewCache creates a view cache; stream may be nil
func NewViewCache(kv KVStore, stream rediscommon.StreamAdder, ttl time.Duration, logger *zap.Logger) *ViewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &ViewCache{
		kv:     kv,
		stream: stream,
		ttl:    ttl,
		logger: logger,
	}
}

// Store caches view and publishes change
func (c *ViewCache) Store(ctx context.Context, view *models.DashboardView, change ViewChange) error {
	jsonData, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard view: %w", err)
	}

	if err := c.kv.Set(ctx, ViewKey, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated dashboard view cache",
		zap.String("key", ViewKey),
		zap.String("refresh_id", change.RefreshID),
	)

	if c.stream == nil {
		return nil
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, c.stream, ViewEventsStream, viewEventsStreamLen, change); err != nil {
		return fmt.Errorf("failed to publish view change: %w", err)
	}
	return nil
}

// Load reads the cached view; ErrCacheMiss when absent
func (c *ViewCache) Load(ctx context.Context) (*models.DashboardView, error) {
	raw, err := c.kv.Get(ctx, ViewKey)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var view models.DashboardView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dashboard view: %w", err)
	}
	return &view, nil
}
