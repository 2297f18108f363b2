// Package rabbitmq provides the AMQP 0-9-1 queue transport.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/ibs-source/ledger-consumer/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers written on dead-lettered copies.
const (
	HeaderReason        = "x-ledger-reason"
	HeaderSourceQueue   = "x-ledger-source-queue"
	HeaderDeliveryCount = "x-ledger-delivery-count"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("rabbitmq client closed")

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	IsClosed() bool
	Close() error
}

// Connection opens channels on a broker connection.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a new broker connection.
type Dialer func() (Connection, error)

var _ Channel = (*amqp.Channel)(nil)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Client consumes one queue with basic.get.
//
// Complete acks, Abandon nacks with requeue, DeadLetter publishes a copy
// carrying the reason to the dead-letter exchange and then acks. Deliveries
// without a message id cannot be applied idempotently and are dead-lettered
// inside Peek.
//
// A closed channel or connection is reopened on the next Peek or Ping.
// Deliveries taken on the old channel are already back on the queue, so
// their tags are forgotten and settling them is a no-op.
type Client struct {
	dial Dialer
	cfg  *config.RabbitMQConfig
	log  *log.Logger

	mu       sync.Mutex
	conn     Connection
	ch       Channel
	closed   bool
	inflight map[uint64]string // delivery tag -> message id
}

var _ queue.Client = (*Client)(nil)

// NewClient dials the broker, opens a channel and declares topology if configured.
func NewClient(cfg *config.RabbitMQConfig, logger *log.Logger) (*Client, error) {
	dial := func() (Connection, error) {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			return nil, err
		}
		return amqpConnection{Connection: conn}, nil
	}
	return newClient(dial, cfg, logger)
}

func newClient(dial Dialer, cfg *config.RabbitMQConfig, logger *log.Logger) (*Client, error) {
	c := &Client{
		dial:     dial,
		cfg:      cfg,
		log:      logger,
		inflight: make(map[uint64]string),
	}
	if _, err := c.ensureChannel(); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.InfoWithFields(log.Fields{
		"queue": cfg.Queue,
		"dlx":   cfg.DeadLetterExchange,
	}, "RabbitMQ client ready")
	return c, nil
}

// ensureChannel returns the open channel, redialing and redeclaring
// topology when the channel or its connection has closed.
func (c *Client) ensureChannel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	reopen := c.ch != nil
	if reopen {
		_ = c.ch.Close()
		c.ch = nil
		if n := len(c.inflight); n > 0 {
			c.log.WarnWithFields(log.Fields{"deliveries": n}, "Channel closed with unsettled deliveries, broker will redeliver")
		}
		c.inflight = make(map[uint64]string)
	}

	if c.conn == nil || c.conn.IsClosed() {
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		conn, err := c.dial()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if c.cfg.DeclareTopology {
		if err := declareTopology(ch, c.cfg); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	c.ch = ch

	if reopen {
		c.log.InfoWithFields(log.Fields{"queue": c.cfg.Queue}, "RabbitMQ channel reopened")
	}
	return ch, nil
}

// Ping reopens the channel if needed and reports whether the broker is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.ensureChannel()
	return err
}

// declareTopology declares the dead-letter exchange and queue, then the
// source queue pointing rejected messages at the exchange.
func declareTopology(ch Channel, cfg *config.RabbitMQConfig) error {
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %q: %w", cfg.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %q: %w", cfg.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, "", cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue %q: %w", cfg.DeadLetterQueue, err)
	}
	args := amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}
	return nil
}

// Peek fetches one delivery without auto-ack. The channel has no blocking
// get, so an empty queue returns immediately and the caller idles.
func (c *Client) Peek(ctx context.Context) (*message.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ch, err := c.ensureChannel()
		if err != nil {
			return nil, err
		}

		d, ok, err := ch.Get(c.cfg.Queue, false)
		if err != nil {
			return nil, fmt.Errorf("basic.get %q: %w", c.cfg.Queue, err)
		}
		if !ok {
			return nil, nil
		}

		msg := toMessage(c.cfg.Queue, d)
		if !c.track(ch, d.DeliveryTag, msg.ID) {
			continue
		}

		if msg.ID == "" {
			if err := c.DeadLetter(ctx, msg, "missing message id"); err != nil {
				return nil, err
			}
			c.log.WarnWithFields(log.Fields{"delivery_tag": d.DeliveryTag}, "Dead-lettered delivery without message id")
			continue
		}
		return msg, nil
	}
}

func toMessage(queueName string, d amqp.Delivery) *message.Message {
	return &message.Message{
		ID:            d.MessageId,
		Stream:        queueName,
		Body:          d.Body,
		DeliveryCount: deliveryCount(d),
		Receipt:       d.DeliveryTag,
	}
}

// deliveryCount prefers the quorum queue x-delivery-count header, which
// counts previous deliveries, and falls back to the redelivered flag.
func deliveryCount(d amqp.Delivery) int {
	if v, ok := d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// Complete acks the delivery.
func (c *Client) Complete(_ context.Context, msg *message.Message) error {
	ch, ok := c.settle(msg)
	if !ok {
		return nil
	}
	if err := ch.Ack(msg.Receipt, false); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

// Abandon returns the delivery to the queue.
func (c *Client) Abandon(_ context.Context, msg *message.Message) error {
	ch, ok := c.settle(msg)
	if !ok {
		return nil
	}
	if err := ch.Nack(msg.Receipt, false, true); err != nil {
		return fmt.Errorf("nack %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetter publishes the body with the reason to the dead-letter exchange
// and acks the original. If the publish fails the delivery is rejected
// without requeue, which routes it to the same exchange without the reason.
func (c *Client) DeadLetter(ctx context.Context, msg *message.Message, reason string) error {
	ch, ok := c.settle(msg)
	if !ok {
		return nil
	}

	pub := amqp.Publishing{
		MessageId:    msg.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
		Headers: amqp.Table{
			HeaderReason:        reason,
			HeaderSourceQueue:   c.cfg.Queue,
			HeaderDeliveryCount: int64(msg.DeliveryCount),
		},
	}
	if err := ch.PublishWithContext(ctx, c.cfg.DeadLetterExchange, "", false, false, pub); err != nil {
		c.log.WarnWithFields(log.Fields{
			"message_id": msg.ID,
			"error":      err.Error(),
		}, "Dead-letter publish failed, rejecting delivery")
		if nackErr := ch.Nack(msg.Receipt, false, false); nackErr != nil {
			return fmt.Errorf("reject %s: %w", msg.ID, nackErr)
		}
		return nil
	}

	if err := ch.Ack(msg.Receipt, false); err != nil {
		return fmt.Errorf("ack dead-lettered %s: %w", msg.ID, err)
	}
	return nil
}

// Close closes the channel and the connection. The client does not
// reconnect afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var chErr, connErr error
	if c.ch != nil {
		chErr = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		connErr = c.conn.Close()
		c.conn = nil
	}
	if chErr != nil {
		return chErr
	}
	return connErr
}

// track records an unsettled delivery. It reports false when ch has been
// replaced since the delivery was fetched.
func (c *Client) track(ch Channel, tag uint64, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != ch {
		return false
	}
	c.inflight[tag] = id
	return true
}

// settle marks msg settled and returns the channel its tag belongs to.
// It reports false for a delivery that was already settled or whose channel
// has since closed. A second ack of the same tag would close the channel.
func (c *Client) settle(msg *message.Message) (Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.inflight[msg.Receipt]
	if !ok || id != msg.ID || c.ch == nil {
		return nil, false
	}
	delete(c.inflight, msg.Receipt)
	return c.ch, true
}
