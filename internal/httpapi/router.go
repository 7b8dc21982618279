package httpapi

import (
	"fmt"
	"net/http"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/export"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/metrics"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ViewSource read side of the aggregation engine
type ViewSource interface {
	View() *models.DashboardView
	Series(sensorID string) ([]models.Point, bool)
	Degraded() bool
}

// DashboardHandler read-only view API
type DashboardHandler struct {
	views  ViewSource
	logger *zap.Logger
}

func NewDashboardHandler(views ViewSource, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{views: views, logger: logger}
}

// NewRouter wires the view API, health and metrics endpoints
func NewRouter(h *DashboardHandler, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1/dashboard").Subrouter()
	api.Handle("", m.WrapHandler("/api/v1/dashboard", http.HandlerFunc(h.GetDashboard))).Methods(http.MethodGet)
	api.Handle("/series/{sensorID}", m.WrapHandler("/api/v1/dashboard/series", http.HandlerFunc(h.GetSeries))).Methods(http.MethodGet)
	api.Handle("/export.xlsx", m.WrapHandler("/api/v1/dashboard/export", http.HandlerFunc(h.ExportSeries))).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	return r
}

// WithMiddleware adds access logging, panic recovery and gzip
func WithMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	stdLog := zap.NewStdLog(logger)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(stdLog),
		handlers.PrintRecoveryStack(false),
	)(handlers.CompressHandler(handlers.CombinedLoggingHandler(stdLog.Writer(), next)))
}

// GetDashboard GET /api/v1/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view := h.views.View()
	if view == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard view not ready"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// GetSeries GET /api/v1/dashboard/series/{sensorID}
func (h *DashboardHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensorID"]
	points, ok := h.views.Series(sensorID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("no series for sensor %s", sensorID)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"sensor_id": sensorID,
		"points":    points,
	}))
}

// ExportSeries GET /api/v1/dashboard/export.xlsx[?sensor_id=...]
func (h *DashboardHandler) ExportSeries(w http.ResponseWriter, r *http.Request) {
	view := h.views.View()
	if view == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard view not ready"))
		return
	}

	excelData, err := export.GenerateSeriesWorkbook(view, r.URL.Query()["sensor_id"]...)
	if err != nil {
		h.logger.Error("GenerateSeriesWorkbook failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=humidity-series.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

// Health GET /healthz. Degraded mode is reported, not failed.
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.views.Degraded() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"status":     status,
		"view_ready": h.views.View() != nil,
	}))
}
