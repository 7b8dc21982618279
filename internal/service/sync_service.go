package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/aggregator"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/config"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/gateway"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/httpapi"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/metrics"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime/mqtttransport"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime/wstransport"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/caat-at/sistema-sensores-humedad-agricola/common/redis"
)

const shutdownTimeout = 10 * time.Second

// SyncService wires the gateway, push channel, engine and view API
type SyncService struct {
	config      *config.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	gateway     *gateway.Client
	channel     *realtime.Channel
	engine      *Engine
	redisClient *redis.Client
	server      *http.Server
}

// NewSyncService builds every component from cfg. Nothing touches the
// network until Start.
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	m := metrics.New()

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, logger.Named("gateway"),
		gateway.WithObserver(m.GatewayCall),
	)

	provider, err := newProvider(cfg, logger.Named("transport"))
	if err != nil {
		return nil, err
	}
	channel, err := realtime.NewChannel(provider, logger.Named("channel"),
		realtime.WithStateObserver(m.ChannelState),
	)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithMetrics(m)}

	var redisClient *redis.Client
	if cfg.ViewCache.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache := aggregator.NewViewCache(aggregator.NewRedisKVStore(redisClient), redisClient, cfg.ViewCache.TTL, logger.Named("view_cache"))
		opts = append(opts, WithViewCache(cache))
	}

	engine := NewEngine(Config{
		RefreshInterval: cfg.Sync.RefreshInterval,
		ReadingsLimit:   cfg.Sync.ReadingsLimit,
		SeriesLength:    cfg.Sync.SeriesLength,
	}, gw, channel, logger.Named("engine"), opts...)

	router := httpapi.NewRouter(httpapi.NewDashboardHandler(engine, logger.Named("http")), m)

	return &SyncService{
		config:      cfg,
		logger:      logger,
		metrics:     m,
		gateway:     gw,
		channel:     channel,
		engine:      engine,
		redisClient: redisClient,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.WithMiddleware(router, logger.Named("access")),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newProvider(cfg *config.Config, logger *zap.Logger) (realtime.Provider, error) {
	switch cfg.Channel.Transport {
	case config.TransportWebSocket:
		return wstransport.NewProvider(wstransport.Config{
			URL:            cfg.Channel.WebSocketURL,
			ReconnectDelay: cfg.Channel.ReconnectDelay,
		}, logger), nil
	case config.TransportMQTT:
		return mqtttransport.NewProvider(cfg.MQTT, cfg.Channel.TopicPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unsupported channel transport: %s", cfg.Channel.Transport)
	}
}

// Engine the aggregation engine behind the service
func (s *SyncService) Engine() *Engine {
	return s.engine
}

// Start runs until ctx is cancelled or the HTTP server fails
func (s *SyncService) Start(ctx context.Context) error {
	s.logger.Info("Starting humidity sync service",
		zap.String("gateway", s.gateway.BaseURL()),
		zap.String("transport", s.config.Channel.Transport),
		zap.Bool("view_cache", s.config.ViewCache.Enabled),
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	for _, sensorID := range s.config.Sync.SubscribeSensors {
		s.channel.SubscribeSensor(ctx, sensorID)
	}
	go s.connectLoop(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// connectLoop retries the first dial; once a link exists the transport
// re-establishes it on its own.
func (s *SyncService) connectLoop(ctx context.Context) {
	for {
		err := s.channel.Connect(ctx)
		if err == nil {
			return
		}
		s.logger.Warn("Push channel unavailable, retrying",
			zap.Duration("delay", s.config.Channel.ReconnectDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.Channel.ReconnectDelay):
		}
	}
}

// Stop detaches the engine, closes the push channel and drains the server
func (s *SyncService) Stop(ctx context.Context) error {
	s.engine.Stop()

	var errs []error
	if err := s.channel.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect push channel: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
