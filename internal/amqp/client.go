// Package amqp fans ledger change notifications out over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"rhledger/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
	maxBackoff  = 30 * time.Second
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrPublishOnly = errors.New("client was created without a queue")
)

// Client publishes to a fanout exchange and consumes from one queue bound to
// it. Every consumer queue sees every change.
type Client struct {
	url          string
	exchangeName string
	queueName    string // as configured, empty for a private queue
	publishOnly  bool
	origin       string
	logger       *log.Logger

	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared string

	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewClient connects and declares the topology. An empty queueName declares a
// private queue that is removed when the connection closes.
func NewClient(url, exchangeName, queueName, origin string, logger *log.Logger) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		origin:       origin,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewPublisher connects and declares only the exchange. The returned client
// cannot consume.
func NewPublisher(url, exchangeName, origin string, logger *log.Logger) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		publishOnly:  true,
		origin:       origin,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// topology is the part of a channel that declares exchanges and queues.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	queue, err := c.setup(channel)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel, c.declared = conn, channel, queue
	c.mu.Unlock()
	return nil
}

// setup declares the exchange and, unless publish-only, the queue. It always
// starts from the configured queue name: a server-named queue gets a fresh
// name on every connection.
func (c *Client) setup(ch topology) (string, error) {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare exchange: %w", err)
	}
	if c.publishOnly {
		return "", nil
	}

	private := c.queueName == ""
	q, err := ch.QueueDeclare(
		c.queueName, // name, server-named when empty
		!private,    // durable
		private,     // delete when unused
		private,     // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", c.exchangeName, false, nil); err != nil {
		return "", fmt.Errorf("bind queue: %w", err)
	}
	return q.Name, nil
}

// PublishChange announces a committed write.
func (c *Client) PublishChange(ctx context.Context, msg *ChangeMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish change: %w", ErrCircuitOpen)
	}
	if msg.Origin == "" {
		msg.Origin = c.origin
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.publish(ctx, msg, body)
	if err != nil && isConnectionError(err) {
		c.logger.WarnContext(ctx, "AMQP connection lost, reconnecting", log.FieldError, err)
		if rerr := c.reconnect(ctx); rerr == nil {
			err = c.publish(ctx, msg, body)
		}
	}
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish change: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published change message",
		log.FieldMessageID, msg.ID,
		log.FieldCollection, msg.Collection,
		log.FieldRecordID, msg.RecordID,
		log.FieldOperation, string(msg.Op))
	return nil
}

func (c *Client) publish(ctx context.Context, msg *ChangeMessage, body []byte) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return errors.New("connection closed")
	}

	return ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		msg.Collection, // routing key, ignored by fanout but useful in traces
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
}

// ConsumeChanges blocks, handing each message to handler until ctx is done.
// Undecodable messages are dropped; handler errors requeue the message.
// A lost connection is re-established with exponential backoff.
func (c *Client) ConsumeChanges(ctx context.Context, handler func(context.Context, *ChangeMessage) error) error {
	if c.publishOnly {
		return ErrPublishOnly
	}
	attempt := 0
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "Consumer stopped, retrying", log.FieldError, err, "retry_in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if rerr := c.reconnect(ctx); rerr != nil {
			attempt++
			continue
		}
		attempt = 0
	}
}

func (c *Client) consume(ctx context.Context, handler func(context.Context, *ChangeMessage) error) error {
	c.mu.Lock()
	ch, queue := c.channel, c.declared
	c.mu.Unlock()
	if ch == nil {
		return errors.New("connection closed")
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming change messages", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := ChangeMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Dropping undecodable message", log.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle change message",
					log.FieldError, err,
					log.FieldMessageID, msg.ID,
					log.FieldCollection, msg.Collection)
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.closeConn()
	if err := c.connect(); err != nil {
		c.recordFailure()
		return err
	}
	c.logger.InfoContext(ctx, "AMQP reconnected")
	return nil
}

// Origin identifies this process in published messages.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) Close() error {
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff doubles from one second, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
