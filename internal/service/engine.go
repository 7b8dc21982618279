package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/aggregator"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/gateway"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/metrics"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultReadingsLimit   = 100

	cacheWriteTimeout = 5 * time.Second
)

// Source backend snapshot pulls (gateway.Client in production)
type Source interface {
	Health(ctx context.Context) (*gateway.HealthStatus, error)
	ListSensors(ctx context.Context, filters url.Values) ([]models.Sensor, error)
	RecentReadings(ctx context.Context, limit int) ([]models.Reading, error)
	ActiveAlerts(ctx context.Context) ([]models.Alert, error)
}

// EventBus push event registration (realtime.Channel in production)
type EventBus interface {
	On(kind realtime.EventKind, fn realtime.Listener) *realtime.Subscription
}

// Config engine tuning
type Config struct {
	RefreshInterval time.Duration
	ReadingsLimit   int
	SeriesLength    int
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for the "today" boundary
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithViewCache publishes every derived view to cache
func WithViewCache(cache *aggregator.ViewCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithMetrics records refresh outcomes and anomalies
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Stats engine counters
type Stats struct {
	Refreshes      uint64
	StaleDiscarded uint64
	FailedPulls    uint64
	Anomalies      int64
}

// Engine keeps the derived dashboard view in sync with the backend.
//
// Every pull of a snapshot takes a new generation number; its result is
// applied only if no newer pull of the same snapshot was initiated in the
// meantime. Push and timer triggers are merged into a pending scope drained by
// a single worker, so a burst of events costs at most one follow-up refresh.
type Engine struct {
	cfg     Config
	source  Source
	bus     EventBus
	cache   *aggregator.ViewCache
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	initiated [numSnapshots]uint64
	snapshot  aggregator.Snapshot
	known     map[string]models.Sensor
	view      *models.DashboardView
	viewSeq   uint64
	degraded  bool
	stats     Stats
	pending   Scope
	subs      []*realtime.Subscription
	started   bool
	stopped   bool

	cacheMu   sync.Mutex
	cachedSeq uint64
	wake      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEngine creates an engine pulling from source and listening on bus.
// bus may be nil, leaving the timer as the only trigger.
func NewEngine(cfg Config, source Source, bus EventBus, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.ReadingsLimit <= 0 {
		cfg.ReadingsLimit = DefaultReadingsLimit
	}
	if cfg.SeriesLength <= 0 {
		cfg.SeriesLength = aggregator.DefaultSeriesLength
	}
	e := &Engine{
		cfg:    cfg,
		source: source,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		known:  make(map[string]models.Sensor),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start checks backend health, derives the initial view, attaches the push
// listeners and starts the refresh worker. A failed health check puts the
// engine in degraded mode instead of failing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.logger.Info("Starting aggregation engine",
		zap.Duration("refresh_interval", e.cfg.RefreshInterval),
		zap.Int("readings_limit", e.cfg.ReadingsLimit),
		zap.Int("series_length", e.cfg.SeriesLength),
	)

	if health, err := e.source.Health(ctx); err != nil {
		e.setDegraded(true)
		e.logger.Error("Backend health check failed, running in degraded mode", zap.Error(err))
	} else {
		e.logger.Info("Backend health check passed", zap.String("status", health.Status))
	}

	if err := e.Refresh(ctx, ScopeAll); err != nil {
		e.logger.Error("Initial refresh incomplete", zap.Error(err))
	}

	e.attach()

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	go e.run(runCtx)
	return nil
}

// Stop detaches every push listener and stops the worker. No listener
// callback reaches the engine once Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	subs := e.subs
	e.subs = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	if cancel != nil {
		cancel()
		<-e.done
	}
	e.logger.Info("Aggregation engine stopped")
}

func (e *Engine) attach() {
	if e.bus == nil {
		return
	}
	subs := []*realtime.Subscription{
		e.bus.On(realtime.EventReading, e.onReading),
		e.bus.On(realtime.EventAlert, e.onAlert),
		e.bus.On(realtime.EventSensor, e.onSensor),
		// events may have been missed while disconnected
		e.bus.On(realtime.EventConnect, func(realtime.Event) { e.Trigger(ScopeAll) }),
	}
	e.mu.Lock()
	e.subs = subs
	e.mu.Unlock()
}

func (e *Engine) onReading(ev realtime.Event) {
	e.metrics.PushEvent(ev.Kind)
	if e.referencesKnownSensor(ev) {
		e.Trigger(ScopeReadings)
	}
}

func (e *Engine) onAlert(ev realtime.Event) {
	e.metrics.PushEvent(ev.Kind)
	if e.referencesKnownSensor(ev) {
		e.Trigger(ScopeAlerts)
	}
}

func (e *Engine) onSensor(ev realtime.Event) {
	e.metrics.PushEvent(ev.Kind)
	e.Trigger(ScopeSensors)
}

// referencesKnownSensor counts an anomaly when ev names a sensor missing from
// the sensors snapshot
func (e *Engine) referencesKnownSensor(ev realtime.Event) bool {
	sensorID := ev.SensorID()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	_, ok := e.known[sensorID]
	if !ok {
		e.stats.Anomalies++
	}
	e.mu.Unlock()

	if !ok {
		e.metrics.Anomaly()
		e.logger.Warn("Push event references unknown sensor, dropped",
			zap.String("kind", ev.Kind.String()),
			zap.String("sensor_id", sensorID),
		)
	}
	return ok
}

// Trigger schedules a refresh of scope on the worker. Triggers arriving
// while a refresh runs are merged into one follow-up refresh.
func (e *Engine) Trigger(scope Scope) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.pending |= scope
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) setDegraded(degraded bool) {
	e.mu.Lock()
	e.degraded = degraded
	if e.view != nil {
		e.view.Degraded = degraded
	}
	e.mu.Unlock()
}

// recheckHealth leaves degraded mode once the backend passes its health check
func (e *Engine) recheckHealth(ctx context.Context) {
	if _, err := e.source.Health(ctx); err != nil {
		e.logger.Debug("Backend still unhealthy", zap.Error(err))
		return
	}
	e.setDegraded(false)
	e.logger.Info("Backend health check passed, leaving degraded mode")
}

func (e *Engine) takePending() Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	scope := e.pending
	e.pending = 0
	return scope
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Degraded() {
				e.recheckHealth(ctx)
			}
			e.Trigger(ScopeAll)
		case <-e.wake:
			scope := e.takePending()
			if scope == 0 {
				continue
			}
			if err := e.Refresh(ctx, scope); err != nil {
				e.logger.Warn("Refresh incomplete, keeping last good view",
					zap.Stringer("scope", scope),
					zap.Error(err),
				)
			}
		}
	}
}

// Refresh re-pulls the snapshots in scope and re-derives the view. Safe to
// call concurrently; only the most recently initiated pull of a snapshot is
// ever applied. A failed pull keeps the previous snapshot.
func (e *Engine) Refresh(ctx context.Context, scope Scope) error {
	refreshID := uuid.NewString()
	logger := e.logger.With(zap.String("refresh_id", refreshID), zap.Stringer("scope", scope))
	logger.Debug("Refresh started")

	var errs []error
	applied := false
	limit := e.cfg.ReadingsLimit

	if scope&ScopeSensors != 0 {
		ok, err := pull(ctx, e, logger, snapSensors, func(ctx context.Context) ([]models.Sensor, error) {
			return e.source.ListSensors(ctx, nil)
		}, e.applySensors)
		applied = applied || ok
		errs = appendErr(errs, err)
	}
	if scope&ScopeReadings != 0 {
		ok, err := pull(ctx, e, logger, snapReadings, func(ctx context.Context) ([]models.Reading, error) {
			return e.source.RecentReadings(ctx, limit)
		}, e.applyReadings)
		applied = applied || ok
		errs = appendErr(errs, err)
	}
	if scope&ScopeAlerts != 0 {
		ok, err := pull(ctx, e, logger, snapAlerts, e.source.ActiveAlerts, e.applyAlerts)
		applied = applied || ok
		errs = appendErr(errs, err)
	}

	if applied {
		e.rederive(ctx, logger, scope, refreshID)
	}
	return errors.Join(errs...)
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

// pull fetches one snapshot under a fresh generation and applies it if that
// generation is still the newest initiated one
func pull[T any](
	ctx context.Context,
	e *Engine,
	logger *zap.Logger,
	kind snapshotKind,
	fetch func(context.Context) ([]T, error),
	apply func([]T),
) (bool, error) {
	e.mu.Lock()
	e.initiated[kind]++
	generation := e.initiated[kind]
	e.mu.Unlock()

	items, err := fetch(ctx)
	if err != nil {
		e.mu.Lock()
		e.stats.FailedPulls++
		e.mu.Unlock()
		e.metrics.Refresh(kind.String(), "failed")
		return false, fmt.Errorf("failed to pull %s: %w", kind, err)
	}

	e.mu.Lock()
	if generation != e.initiated[kind] {
		latest := e.initiated[kind]
		e.stats.StaleDiscarded++
		e.mu.Unlock()

		e.metrics.Refresh(kind.String(), "stale")
		logger.Debug("Discarding stale snapshot",
			zap.Stringer("snapshot", kind),
			zap.Uint64("generation", generation),
			zap.Uint64("latest_generation", latest),
		)
		return false, nil
	}
	apply(items)
	e.mu.Unlock()

	e.metrics.Refresh(kind.String(), "applied")
	return true, nil
}

// apply* run with e.mu held

func (e *Engine) applySensors(sensors []models.Sensor) {
	e.snapshot.Sensors = sensors
	e.known = aggregator.SensorIndex(sensors)
}

func (e *Engine) applyReadings(readings []models.Reading) {
	e.snapshot.Readings = readings
	_, dropped := aggregator.FilterReadings(e.known, readings)
	e.addAnomaliesLocked(dropped)
}

func (e *Engine) applyAlerts(alerts []models.Alert) {
	e.snapshot.Alerts = alerts
	_, dropped := aggregator.FilterAlerts(e.known, alerts)
	e.addAnomaliesLocked(dropped)
}

func (e *Engine) addAnomaliesLocked(n int) {
	if n == 0 {
		return
	}
	e.stats.Anomalies += int64(n)
	e.metrics.AddAnomalies(n)
	e.logger.Warn("Snapshot contains records of unknown sensors, excluded", zap.Int("count", n))
}

// rederive recomputes the view from the current snapshots
func (e *Engine) rederive(ctx context.Context, logger *zap.Logger, scope Scope, refreshID string) {
	e.mu.Lock()
	derived := aggregator.Derive(e.snapshot, e.now(), e.cfg.SeriesLength)
	view := derived.View
	view.ReferentialAnomalies = e.stats.Anomalies
	view.Degraded = e.degraded
	e.view = view
	e.viewSeq++
	seq := e.viewSeq
	e.stats.Refreshes++
	published := view.Clone()
	e.mu.Unlock()

	logger.Info("Dashboard view updated",
		zap.Int("sensors", published.TotalSensors),
		zap.Int("readings", published.TotalReadings),
		zap.Int("active_alerts", published.ActiveAlerts),
	)

	if e.cache != nil {
		e.storeView(ctx, logger, published, seq, ViewChangeFor(scope, refreshID, published))
	}
}

// ViewChangeFor builds the cache notification of a published view
func ViewChangeFor(scope Scope, refreshID string, view *models.DashboardView) aggregator.ViewChange {
	return aggregator.ViewChange{
		Scope:        scope.String(),
		RefreshID:    refreshID,
		ComputedAt:   view.ComputedAt,
		ActiveAlerts: view.ActiveAlerts,
		Readings:     view.TotalReadings,
	}
}

// storeView writes view unless a newer one was already cached. Cache
// failures are logged only.
func (e *Engine) storeView(ctx context.Context, logger *zap.Logger, view *models.DashboardView, seq uint64, change aggregator.ViewChange) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if seq <= e.cachedSeq {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := e.cache.Store(ctx, view, change); err != nil {
		logger.Warn("Failed to cache dashboard view", zap.Error(err))
		return
	}
	e.cachedSeq = seq
}

// View copy of the current view, nil before the first derivation
func (e *Engine) View() *models.DashboardView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.Clone()
}

// Series copy of one sensor's series
func (e *Engine) Series(sensorID string) ([]models.Point, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return nil, false
	}
	points, ok := e.view.Series[sensorID]
	if !ok {
		return nil, false
	}
	return append([]models.Point(nil), points...), true
}

// Degraded reports whether the backend failed its health check
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Stats snapshot of the engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
