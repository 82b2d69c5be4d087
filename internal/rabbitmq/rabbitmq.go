package rabbitmq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boscod/parkmate/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Runs wait in WaitingQueueName until their per-message TTL expires, then
// dead-letter into ProcessingQueueName where the worker consumes them.
const (
	ExchangeName        = "parkmate.direct"
	WaitingQueueName    = "automation.wait"
	ProcessingQueueName = "automation.process"
	RoutingKeyWait      = "wait"
	RoutingKeyProcess   = "process"
	ReconnectDelay      = 5 * time.Second
)

type Client struct {
	url string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// Setup connects and declares the topology
func Setup(url string) (*Client, error) {
	c := &Client{url: url}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	log.Info().Msg("Connecting to RabbitMQ")
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	go c.watchConnection(conn)

	log.Info().Msg("RabbitMQ connected")
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ExchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Processing queue, the worker listens here
	_, err = ch.QueueDeclare(
		ProcessingQueueName, // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare processing queue: %w", err)
	}

	err = ch.QueueBind(ProcessingQueueName, RoutingKeyProcess, ExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind processing queue: %w", err)
	}

	// Waiting queue (TTL + DLX)
	args := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": RoutingKeyProcess,
	}
	_, err = ch.QueueDeclare(
		WaitingQueueName, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		args,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare waiting queue: %w", err)
	}

	err = ch.QueueBind(WaitingQueueName, RoutingKeyWait, ExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind waiting queue: %w", err)
	}

	return nil
}

func (c *Client) watchConnection(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	log.Warn().Err(err).Msg("RabbitMQ connection closed, reconnecting")
	c.reconnect()
}

func (c *Client) reconnect() {
	for {
		time.Sleep(ReconnectDelay)

		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		if err := c.connect(); err != nil {
			log.Warn().Err(err).Dur("retry_in", ReconnectDelay).Msg("Failed to reconnect to RabbitMQ")
			continue
		}
		log.Info().Msg("RabbitMQ reconnected")
		return
	}
}

// Close closes the connection and channel
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Channel returns the current channel, or nil while disconnected.
func (c *Client) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

// EncodeRun serialises a run for the queue.
func EncodeRun(run models.ScheduledRun) ([]byte, error) {
	return json.Marshal(run)
}

// DecodeRun parses a message body produced by EncodeRun.
func DecodeRun(body []byte) (models.ScheduledRun, error) {
	var run models.ScheduledRun
	if err := json.Unmarshal(body, &run); err != nil {
		return run, fmt.Errorf("invalid run payload: %w", err)
	}
	if run.ScheduleID == "" {
		return run, fmt.Errorf("invalid run payload: missing schedule_id")
	}
	return run, nil
}

// PublishScheduledRun publishes a run to the waiting queue with a TTL equal
// to delay
func (c *Client) PublishScheduledRun(run models.ScheduledRun, delay time.Duration) error {
	ch := c.Channel()
	if ch == nil {
		return fmt.Errorf("RabbitMQ client not (yet) connected")
	}

	body, err := EncodeRun(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	if delay < 0 {
		delay = 0
	}

	err = ch.Publish(
		ExchangeName,   // exchange
		RoutingKeyWait, // routing key (send to waiting queue)
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10), // TTL in milliseconds
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}
