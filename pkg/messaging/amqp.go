package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/util"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	ExchangeName string
	ExchangeType string
	// QueueName, when set, is declared and bound to every event routing key
	QueueName string
	// MessageTTL expires queued events nobody consumed
	MessageTTL time.Duration
}

// AMQPClient publishes events to a topic exchange and reconnects when the
// broker drops the connection.
type AMQPClient struct {
	logger    *logrus.Entry
	panics    *util.PanicHandler
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	closed    bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.ExchangeName == "" {
		config.ExchangeName = "crisis.events"
	}
	if config.ExchangeType == "" {
		config.ExchangeType = amqp.ExchangeTopic
	}
	if config.MessageTTL <= 0 {
		config.MessageTTL = 12 * time.Hour
	}

	return &AMQPClient{
		logger:   logger.WithField("component", "amqp"),
		panics:   util.NewPanicHandler(logger),
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker and declares the exchange and optional queue
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	c.closed = false
	return c.connectLocked()
}

func (c *AMQPClient) connectLocked() error {
	if c.connected {
		return nil
	}
	if c.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	dialChan := make(chan dialResult, 1)
	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case dialChan <- dialResult{conn, err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()

	var conn *amqp.Connection
	select {
	case result := <-dialChan:
		if result.err != nil {
			return fmt.Errorf("failed to connect to AMQP server: %w", result.err)
		}
		conn = result.conn
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP exchange: %w", err)
	}

	if c.config.QueueName != "" {
		if err := c.declareQueue(channel); err != nil {
			channel.Close()
			conn.Close()
			return err
		}
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"url":      c.config.URL,
		"exchange": c.config.ExchangeName,
		"queue":    c.config.QueueName,
	}).Info("Connected to AMQP server")

	stop := c.stopChan
	c.panics.SafeGo("amqp_monitor", func() { c.monitorConnection(conn, stop) })
	return nil
}

func (c *AMQPClient) declareQueue(channel *amqp.Channel) error {
	_, err := channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-message-ttl": int32(c.config.MessageTTL / time.Millisecond)},
	)
	if err != nil {
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	for _, key := range []string{"assessment.*", RoutingKeyEscalation, RoutingKeySessionEnded} {
		if err := channel.QueueBind(c.config.QueueName, key, c.config.ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind AMQP queue to %s: %w", key, err)
		}
	}
	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	c.closed = true
	if !c.connected {
		return
	}

	close(c.stopChan)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Publish sends a persistent JSON message with the given routing key
func (c *AMQPClient) Publish(routingKey string, body []byte) error {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	err := c.channel.Publish(
		c.config.ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to AMQP: %w", err)
	}
	return nil
}

// monitorConnection waits for the broker to drop conn and reconnects with
// exponential backoff.
func (c *AMQPClient) monitorConnection(conn *amqp.Connection, stop chan struct{}) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-stop:
		return
	case closeErr, ok := <-closeChan:
		if !ok {
			// closed by Disconnect
			return
		}

		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)

		c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 10; attempt++ {
			c.connMutex.Lock()
			if c.closed {
				c.connMutex.Unlock()
				return
			}
			err := c.connectLocked()
			c.connMutex.Unlock()
			if err == nil {
				c.logger.WithField("attempt", attempt).Info("Reconnected to AMQP server")
				return
			}
			c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			time.Sleep(backoff)
		}
		c.logger.Error("Giving up on AMQP reconnection")
	}
}
