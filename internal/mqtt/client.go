// Package mqtt publishes alert payloads to an MQTT broker. Connection loss
// triggers a bounded exponential backoff reconnect; once the attempt budget
// is exhausted the client stays disconnected until Connect is called again.
package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/observability/metrics"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Client is the broker-facing surface used by the alert relay.
type Client interface {
	// Connect establishes the broker connection.
	Connect(ctx context.Context) error
	// Publish sends a payload to the topic. Returns an error when not
	// connected; it never blocks beyond the publish timeout.
	Publish(ctx context.Context, topic, payload string) error
	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
	// Disconnect closes the connection and stops any pending reconnect.
	Disconnect()
}

type client struct {
	broker            string
	clientID          string
	username          string
	password          string
	maxReconnectTries int
	reconnectDelay    time.Duration

	mu             sync.Mutex
	internalClient pahomqtt.Client
	reconnectStop  chan struct{}

	metrics *metrics.MQTTMetrics
	logger  *slog.Logger
}

// New creates an MQTT client from the configuration. mqttMetrics may be nil.
func New(settings *conf.Settings, mqttMetrics *metrics.MQTTMetrics) (Client, error) {
	if settings.MQTT.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	tries := settings.MQTT.MaxReconnectTries
	if tries < 1 {
		tries = 5
	}
	delay := settings.MQTT.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &client{
		broker:            settings.MQTT.Broker,
		clientID:          settings.Main.Name,
		username:          settings.MQTT.Username,
		password:          settings.MQTT.Password,
		maxReconnectTries: tries,
		reconnectDelay:    delay,
		reconnectStop:     make(chan struct{}),
		metrics:           mqttMetrics,
		logger:            logging.ForService("mqtt"),
	}, nil
}

// Connect establishes the broker connection. Automatic reconnection is
// handled by this client, not by the underlying library, so the retry
// budget can be enforced.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *client) connectLocked(ctx context.Context) error {
	// A prior Disconnect leaves the stop channel closed; reconnects after
	// this connection need a live one.
	select {
	case <-c.reconnectStop:
		c.reconnectStop = make(chan struct{})
	default:
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.username)
	opts.SetPassword(c.password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			NetworkContext(c.broker, connectTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			NetworkContext(c.broker, connectTimeout).
			Build()
	}

	if c.metrics != nil {
		c.metrics.SetConnected(true)
	}
	if c.logger != nil {
		c.logger.Info("connected to mqtt broker", "broker", c.broker)
	}
	return nil
}

// onConnectionLost starts a bounded reconnect loop in the background.
func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	if c.metrics != nil {
		c.metrics.SetConnected(false)
	}
	if c.logger != nil {
		c.logger.Warn("mqtt connection lost", "broker", c.broker, "error", err)
	}
	go c.reconnectWithBackoff()
}

// reconnectWithBackoff retries the connection with exponentially growing
// delays. After maxReconnectTries failed attempts it gives up; the client
// then stays disconnected until Connect is called again.
func (c *client) reconnectWithBackoff() {
	backoff := c.reconnectDelay

	c.mu.Lock()
	stop := c.reconnectStop
	c.mu.Unlock()

	for attempt := 1; attempt <= c.maxReconnectTries; attempt++ {
		select {
		case <-time.After(backoff):
		case <-stop:
			return
		}

		if c.metrics != nil {
			c.metrics.IncrementReconnectAttempts()
		}

		c.mu.Lock()
		err := c.connectLocked(context.Background())
		c.mu.Unlock()
		if err == nil {
			if c.logger != nil {
				c.logger.Info("reconnected to mqtt broker",
					"broker", c.broker, "attempt", attempt)
			}
			return
		}

		if c.logger != nil {
			c.logger.Warn("mqtt reconnect attempt failed",
				"broker", c.broker, "attempt", attempt,
				"max_attempts", c.maxReconnectTries, "next_backoff", nextBackoff(backoff))
		}
		backoff = nextBackoff(backoff)
	}

	if c.logger != nil {
		c.logger.Error("mqtt reconnect attempts exhausted, giving up",
			"broker", c.broker, "attempts", c.maxReconnectTries)
	}
}

// nextBackoff doubles the delay, capped at maxBackoff.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// Publish sends a payload to the topic with QoS 0.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	internal := c.internalClient
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		if c.metrics != nil {
			c.metrics.IncrementPublishErrors()
		}
		return errors.Newf("not connected to mqtt broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	token := internal.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		if c.metrics != nil {
			c.metrics.IncrementPublishErrors()
		}
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Timing("publish", publishTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementPublishErrors()
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.IncrementMessagesPublished()
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection and cancels any in-progress reconnect.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.reconnectStop:
	default:
		close(c.reconnectStop)
	}

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
		if c.metrics != nil {
			c.metrics.SetConnected(false)
		}
	}
}
