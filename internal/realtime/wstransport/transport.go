// Package wstransport carries the push channel over a WebSocket connection
// exchanging JSON frames of the form {"event": "...", "data": ...}.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	defaultPong    = 60 * time.Second
	maxMessageSize = 1 << 20
)

// Config WebSocket transport settings
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	PongWait       time.Duration
	Header         http.Header
}

// Frame wire frame in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Provider dials WebSocket sessions. A dropped link is redialed every
// ReconnectDelay until the session is closed.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewProvider creates a provider for cfg.URL
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPong
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Dial opens the first link synchronously; OnConnected is reported before
// Dial returns.
func (p *Provider) Dial(ctx context.Context, h realtime.Handler) (realtime.Conn, error) {
	ws, err := p.open(ctx)
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		provider: p,
		handler:  h,
		ctx:      sessionCtx,
		cancel:   cancel,
	}
	s.attach(ws)
	h.OnConnected(s)

	go s.run(ws)
	return s, nil
}

func (p *Provider) open(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := p.dialer.DialContext(ctx, p.cfg.URL, p.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.cfg.URL, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return ws, nil
}

type session struct {
	provider *Provider
	handler  realtime.Handler
	ctx      context.Context
	cancel   context.CancelFunc

	mu sync.Mutex
	ws *websocket.Conn
}

func (s *session) attach(ws *websocket.Conn) {
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()
}

func (s *session) detach(ws *websocket.Conn) {
	s.mu.Lock()
	if s.ws == ws {
		s.ws = nil
	}
	s.mu.Unlock()
	ws.Close()
}

// Emit sends {"event": event, "data": sensorID}
func (s *session) Emit(_ context.Context, event, sensorID string) error {
	data, err := json.Marshal(sensorID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return realtime.ErrNotConnected
	}
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.ws.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}
	return nil
}

// Close stops the redial loop and closes the current link
func (s *session) Close() error {
	s.cancel()

	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	if ws != nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	s.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	return nil
}

// run reads the current link, reports its loss and redials until closed
func (s *session) run(ws *websocket.Conn) {
	logger := s.provider.logger

	for {
		err := s.readLoop(ws)
		s.detach(ws)
		if s.ctx.Err() != nil {
			return
		}
		s.handler.OnDisconnected(s, err)

		ws = s.redial()
		if ws == nil {
			return
		}
		s.attach(ws)
		logger.Info("WebSocket link re-established", zap.String("url", s.provider.cfg.URL))
		s.handler.OnConnected(s)
	}
}

func (s *session) redial() *websocket.Conn {
	cfg := s.provider.cfg
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(cfg.ReconnectDelay):
		}

		ws, err := s.provider.open(s.ctx)
		if err == nil {
			return ws
		}
		if s.ctx.Err() != nil {
			return nil
		}
		s.provider.logger.Warn("WebSocket redial failed",
			zap.String("url", cfg.URL),
			zap.Duration("retry_in", cfg.ReconnectDelay),
			zap.Error(err),
		)
	}
}

func (s *session) readLoop(ws *websocket.Conn) error {
	pongWait := s.provider.cfg.PongWait
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(ws, pongWait*9/10, stopPing)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.provider.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return err
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			s.provider.logger.Debug("Ignoring non-event WebSocket message", zap.ByteString("message", message))
			continue
		}
		s.handler.OnFrame(s, frame.Event, frame.Data)
	}
}

func (s *session) pingLoop(ws *websocket.Conn, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.ws != ws {
				s.mu.Unlock()
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.provider.logger.Debug("WebSocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
