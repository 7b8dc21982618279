package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api", 2*time.Second, zap.NewNop()), srv
}

func TestCall_SendsJSONAndHeaders(t *testing.T) {
	var gotPath, gotContentType, gotTrace string
	var gotBody map[string]any

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotTrace = r.Header.Get("X-Trace-Id")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "tx_hash": "abc"}`))
	})

	raw, err := c.Call(context.Background(), http.MethodPost, "/readings",
		map[string]any{"sensor_id": "S1", "humidity_percentage": 40},
		map[string]string{"X-Trace-Id": "t-1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"success": true, "tx_hash": "abc"}`, string(raw))

	require.Equal(t, "/api/readings", gotPath)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "t-1", gotTrace)
	require.Equal(t, "S1", gotBody["sensor_id"])
}

func TestCall_ProtocolFailureSurfacesMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "sensor already registered"}`))
	})

	_, err := c.Call(context.Background(), http.MethodPost, "/sensors", map[string]any{}, nil)
	require.Error(t, err)
	require.True(t, IsProtocol(err))
	require.False(t, IsNetwork(err))
	require.Equal(t, http.StatusBadRequest, StatusCode(err))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, "sensor already registered", gwErr.Message)
}

func TestCall_ProtocolFailureDetailField(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "Sensor SENSOR_9 no encontrado"}`))
	})

	_, err := c.GetSensor(context.Background(), "SENSOR_9")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, ProtocolFailure, gwErr.Kind)
	require.Equal(t, "Sensor SENSOR_9 no encontrado", gwErr.Message)
}

func TestCall_ProtocolFailureFallbackMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/health", nil, nil)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, ProtocolFailure, gwErr.Kind)
	require.Equal(t, "HTTP 502", gwErr.Message)
}

func TestCall_SingleAttempt(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/sensors", nil, nil)
	require.True(t, IsProtocol(err))
	require.Equal(t, int32(1), hits.Load())

	_, err = c.Call(context.Background(), http.MethodPut, "/sensors/S1", map[string]any{}, nil)
	require.True(t, IsProtocol(err))
	require.Equal(t, int32(2), hits.Load())
}

func TestCall_ConnectionRefusedIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, zap.NewNop())
	_, err := c.Call(context.Background(), http.MethodGet, "/health", nil, nil)
	require.Error(t, err)
	require.True(t, IsNetwork(err))
	require.Zero(t, StatusCode(err))
}

func TestCall_TimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(srv.URL, 50*time.Millisecond, zap.NewNop())
	_, err := c.Call(context.Background(), http.MethodGet, "/sensors", nil, nil)
	require.True(t, IsNetwork(err))
}

func TestCall_InvalidJSONIsNetworkFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [`))
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/readings", nil, nil)
	require.True(t, IsNetwork(err))
}

func TestCall_EmptyBodyIsNull(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	raw, err := c.Call(context.Background(), http.MethodPut, "/alerts/a1/resolve", struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))
}

func TestCall_ObserverSeesOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var gotStatus int
	var gotKind Kind
	c := NewClient(srv.URL, time.Second, zap.NewNop(), WithObserver(func(method string, status int, kind Kind, elapsed time.Duration) {
		gotStatus = status
		gotKind = kind
	}))

	_, _ = c.Call(context.Background(), http.MethodGet, "/sensors", nil, nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, ProtocolFailure, gotKind)
}

func TestListSensors_BareArrayAndEnvelope(t *testing.T) {
	bodies := []string{
		`[{"sensor_id":"S1","status":"Active","min_humidity_threshold":30,"max_humidity_threshold":70,"reading_interval_minutes":60}]`,
		`{"data":[{"sensor_id":"S1","status":"active","min_humidity_threshold":30,"max_humidity_threshold":70,"reading_interval_minutes":60}]}`,
	}
	for _, body := range bodies {
		body := body
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})

		sensors, err := c.ListSensors(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, sensors, 1)
		require.Equal(t, models.SensorActive, sensors[0].Status)
	}
}

func TestActiveAlerts_Query(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"alert_id":"a1","sensor_id":"S1","status":"active"}]`))
	})

	alerts, err := c.ActiveAlerts(context.Background())
	require.NoError(t, err)
	require.Equal(t, "status=active", gotQuery)
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].IsActive())
}

func TestRecentReadings_LimitAndShape(t *testing.T) {
	var gotPath, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data": null}`))
	})

	readings, err := c.RecentReadings(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, readings)
	require.NotNil(t, readings)
	require.Equal(t, "/api/readings", gotPath)
	require.Equal(t, "limit=100", gotQuery)
}

func TestListSensors_UnexpectedShapeIsNetworkFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"not a list"`))
	})

	_, err := c.ListSensors(context.Background(), nil)
	require.True(t, IsNetwork(err))
}

func TestSensorEndpoints_Paths(t *testing.T) {
	type call struct{ method, path, query string }
	var calls []call
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	ctx := context.Background()

	_, err := c.ToggleSensorStatus(ctx, "S1")
	require.NoError(t, err)
	_, err = c.DeleteSensor(ctx, "S1")
	require.NoError(t, err)
	_, err = c.SensorStats(ctx, "S1", "24h")
	require.NoError(t, err)
	require.NoError(t, c.AcknowledgeAlert(ctx, "a1"))

	require.Equal(t, []call{
		{http.MethodPut, "/api/sensors/S1/toggle-status", ""},
		{http.MethodDelete, "/api/sensors/S1", ""},
		{http.MethodGet, "/api/sensors/S1/stats", "period=24h"},
		{http.MethodPut, "/api/alerts/a1/acknowledge", ""},
	}, calls)
}
