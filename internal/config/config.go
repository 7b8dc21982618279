package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/common/config"
)

const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config humidity sync service configuration
type Config struct {
	Redis config.RedisConfig
	MQTT  config.MQTTConfig

	Gateway struct {
		BaseURL string
		Timeout time.Duration
	}

	Channel struct {
		// Transport "websocket" or "mqtt"
		Transport      string
		WebSocketURL   string
		ReconnectDelay time.Duration
		TopicPrefix    string
	}

	Sync struct {
		RefreshInterval time.Duration
		ReadingsLimit   int
		SeriesLength    int
		// sensors subscribed on the push channel at startup
		SubscribeSensors []string
	}

	ViewCache struct {
		Enabled bool
		TTL     time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load loads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", "http://localhost:3002/api")
	cfg.Gateway.Timeout = time.Duration(getEnvInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second

	cfg.Channel.Transport = strings.ToLower(getEnv("CHANNEL_TRANSPORT", TransportWebSocket))
	cfg.Channel.WebSocketURL = getEnv("CHANNEL_WS_URL", "ws://localhost:3002/ws")
	cfg.Channel.ReconnectDelay = time.Duration(getEnvInt("CHANNEL_RECONNECT_SECONDS", 5)) * time.Second
	cfg.Channel.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "humidity")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "humidity-sync"
	cfg.MQTT.QoS = 1
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Sync.RefreshInterval = getEnvDuration("SYNC_REFRESH_INTERVAL", 30*time.Second)
	cfg.Sync.ReadingsLimit = getEnvInt("SYNC_READINGS_LIMIT", 100)
	cfg.Sync.SeriesLength = getEnvInt("SYNC_SERIES_LENGTH", 20)
	cfg.Sync.SubscribeSensors = splitList(os.Getenv("SYNC_SUBSCRIBE_SENSORS"))

	cfg.ViewCache.Enabled = getEnv("VIEW_CACHE_ENABLED", "false") == "true"
	cfg.ViewCache.TTL = getEnvDuration("VIEW_CACHE_TTL", 5*time.Minute)

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid GATEWAY_BASE_URL %q", c.Gateway.BaseURL)
	}

	switch c.Channel.Transport {
	case TransportWebSocket:
		u, err := url.Parse(c.Channel.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("invalid CHANNEL_WS_URL %q", c.Channel.WebSocketURL)
		}
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT_BROKER is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("unsupported CHANNEL_TRANSPORT %q", c.Channel.Transport)
	}

	if c.Sync.RefreshInterval <= 0 {
		return fmt.Errorf("SYNC_REFRESH_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("45s") or plain seconds ("45")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if v, err := strconv.Atoi(value); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
