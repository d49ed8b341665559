package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
)

// Client is the bridge's connection to the broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscriptions are replayed after every reconnect.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// statusTopic carries the retained online/offline status and the LWT.
	statusTopic string

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. topic is the concrete topic, with
// wildcards resolved. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect connects to the broker and returns once the session is up.
//
// statusTopic receives a retained "online" message on every (re)connect,
// a retained "offline" message on Close, and is registered as the LWT so
// the broker marks the bridge offline if the process dies.
//
// Parameters:
//   - cfg: mqtt section of config.yaml
//   - statusTopic: Retained status/LWT topic, e.g. graylogic/health/x10
//
// Returns:
//   - *Client: Connected client
//   - error: ErrInvalidTopic, or ErrConnectionFailed if the broker is unreachable
func Connect(cfg config.MQTTConfig, statusTopic string) (*Client, error) {
	if statusTopic == "" {
		return nil, fmt.Errorf("%w: status topic is required", ErrInvalidTopic)
	}

	c := newClient(cfg, statusTopic)
	c.options.
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT reconnecting", "broker", c.cfg.Broker.Host)
			}
		})

	c.client = pahomqtt.NewClient(c.options)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s:%d: no answer within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the session up now so
	// the caller can subscribe straight away.
	c.setConnected(true)
	return c, nil
}

// newClient builds an unconnected client with its options and LWT.
func newClient(cfg config.MQTTConfig, statusTopic string) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, statusTopic, cfg.Broker.ClientID)

	return &Client{
		cfg:           cfg,
		options:       opts,
		statusTopic:   statusTopic,
		subscriptions: make(map[string]subscription),
	}
}

func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		// Best effort; a failed resubscribe waits for the next reconnect.
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.statusTopic, byte(c.cfg.QoS), true,
		buildStatusPayload(statusOnline, c.cfg.Broker.ClientID, ""))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Close publishes a retained graceful "offline" status and disconnects.
// It is safe to call on a client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, byte(c.cfg.QoS), true,
			buildStatusPayload(statusOffline, c.cfg.Broker.ClientID, reasonShutdown))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every connect and reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback run when the session is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for handler errors and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging returned errors and
// recovering panics so one bad message cannot stop delivery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
