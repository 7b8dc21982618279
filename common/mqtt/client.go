package mqtt

import (
	"fmt"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler message handler
type MessageHandler func(topic string, payload []byte) error

// ConnectionHandlers callbacks for broker connection changes.
// OnConnect also fires after every automatic reconnect.
type ConnectionHandlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
}

// Client MQTT client wrapper
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient creates an MQTT client and connects to the broker.
// Reconnection after a drop is left to paho's auto-reconnect.
func NewClient(cfg *config.MQTTConfig, handlers ConnectionHandlers, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	if handlers.OnConnect != nil {
		opts.SetOnConnectHandler(func(mqtt.Client) {
			handlers.OnConnect()
		})
	}
	if handlers.OnConnectionLost != nil {
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			handlers.OnConnectionLost(err)
		})
	}

	client := mqtt.NewClient(opts)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker: timed out after %s", timeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Subscribe subscribes to a topic
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// keep consuming
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish publishes a message
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe unsubscribes from topics
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect disconnects from the broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms quiesce
}

// IsConnected reports the connection state
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
