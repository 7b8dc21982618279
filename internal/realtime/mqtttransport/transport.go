// Package mqtttransport carries the push channel over an MQTT broker.
//
// Upstream publishes events to <prefix>/events/<event> with the event data as
// the JSON payload; control messages go to <prefix>/control/<event> with the
// JSON-encoded sensor id as payload.
package mqtttransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/caat-at/sistema-sensores-humedad-agricola/common/config"
	"github.com/caat-at/sistema-sensores-humedad-agricola/common/mqtt"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime"

	"go.uber.org/zap"
)

// DefaultTopicPrefix used when none is configured
const DefaultTopicPrefix = "humidity"

// Provider dials MQTT sessions; reconnection is paho's auto-reconnect
type Provider struct {
	cfg    config.MQTTConfig
	prefix string
	logger *zap.Logger
}

// NewProvider creates a provider for the broker in cfg
func NewProvider(cfg config.MQTTConfig, topicPrefix string, logger *zap.Logger) *Provider {
	topicPrefix = strings.Trim(topicPrefix, "/")
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &Provider{cfg: cfg, prefix: topicPrefix, logger: logger}
}

// EventsTopic wildcard topic carrying upstream events
func EventsTopic(prefix string) string {
	return prefix + "/events/+"
}

// ControlTopic topic a control message is published to
func ControlTopic(prefix, event string) string {
	return prefix + "/control/" + event
}

// EventFromTopic extracts the event name from <prefix>/events/<event>
func EventFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/events/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Dial connects to the broker. OnConnected is reported from paho's connect
// callback once the events subscription is in place, on the first connect
// and after every automatic reconnect.
func (p *Provider) Dial(_ context.Context, h realtime.Handler) (realtime.Conn, error) {
	s := &session{
		provider: p,
		handler:  h,
		ready:    make(chan struct{}),
	}

	client, err := mqtt.NewClient(&p.cfg, mqtt.ConnectionHandlers{
		OnConnect:        func() { go s.onConnect() },
		OnConnectionLost: s.onConnectionLost,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	s.client = client
	close(s.ready)
	return s, nil
}

type session struct {
	provider *Provider
	handler  realtime.Handler
	client   *mqtt.Client
	// closed once client is set; paho may fire OnConnect before NewClient returns
	ready chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) onConnect() {
	<-s.ready
	if s.isClosed() {
		return
	}

	prefix := s.provider.prefix
	topic := EventsTopic(prefix)
	err := s.client.Subscribe(topic, s.provider.cfg.QoS, func(topic string, payload []byte) error {
		if s.isClosed() {
			return nil
		}
		event, ok := EventFromTopic(prefix, topic)
		if !ok {
			return fmt.Errorf("unexpected topic %s", topic)
		}
		if !json.Valid(payload) {
			return fmt.Errorf("payload on %s is not JSON", topic)
		}
		s.handler.OnFrame(s, event, json.RawMessage(payload))
		return nil
	})
	if err != nil {
		s.provider.logger.Error("Failed to subscribe to push events", zap.String("topic", topic), zap.Error(err))
		return
	}

	s.provider.logger.Info("Subscribed to push events", zap.String("topic", topic))
	s.handler.OnConnected(s)
}

func (s *session) onConnectionLost(err error) {
	if s.isClosed() {
		return
	}
	s.handler.OnDisconnected(s, err)
}

// Emit publishes the JSON-encoded sensor id to the control topic of event
func (s *session) Emit(_ context.Context, event, sensorID string) error {
	if s.isClosed() || !s.client.IsConnected() {
		return realtime.ErrNotConnected
	}
	payload, err := json.Marshal(sensorID)
	if err != nil {
		return err
	}
	return s.client.Publish(ControlTopic(s.provider.prefix, event), s.provider.cfg.QoS, false, payload)
}

// Close disconnects from the broker
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Disconnect()
	return nil
}
