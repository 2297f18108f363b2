// Package redis provides the Redis Streams queue transport and consumer
// group housekeeping.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

// BodyField is the stream entry field holding the notification JSON.
const BodyField = "body"

// Client consumes one Redis stream through a consumer group.
//
// Peek first reclaims one entry that has sat in the pending list for at
// least claimIdle (abandoned messages, or messages of crashed consumers),
// and otherwise reads one new entry. Complete acknowledges and deletes the
// entry. Abandon leaves it pending so a later Peek reclaims it. DeadLetter
// copies it to the dead-letter stream and then acknowledges and deletes it.
type Client struct {
	rdb          *redis.Client
	stream       string
	group        string
	dlqStream    string
	consumer     string
	pendingScan  int64
	blockTimeout time.Duration
	claimIdle    time.Duration
	consumerIdle time.Duration
	log          *log.Logger
}

var _ queue.Client = (*Client)(nil)

// NewClient connects to Redis and makes sure the consumer group exists.
func NewClient(cfg *config.RedisConfig, logger *log.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  readTimeout(cfg),
		WriteTimeout: cfg.WriteTimeout,
		// No extra handshake commands; keeps the client compatible with
		// proxies and test servers.
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		rdb:          rdb,
		stream:       cfg.Stream,
		group:        groupName(cfg.Stream),
		dlqStream:    cfg.DeadLetterStream,
		consumer:     cfg.Consumer,
		pendingScan:  int64(cfg.PendingScan),
		blockTimeout: cfg.BlockTimeout,
		claimIdle:    cfg.ClaimIdle,
		consumerIdle: cfg.ConsumerIdleTimeout,
		log:          logger,
	}
	if client.dlqStream == "" {
		client.dlqStream = cfg.Stream + ":dlq"
	}
	if client.pendingScan < 1 {
		client.pendingScan = 10
	}

	if err := client.ensureGroup(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	logger.Info("Consuming stream '%s' as '%s' in group '%s' (dead letters: '%s')",
		client.stream, client.consumer, client.group, client.dlqStream)
	return client, nil
}

// readTimeout must outlast the XREADGROUP block or every empty read times out.
func readTimeout(cfg *config.RedisConfig) time.Duration {
	if cfg.BlockTimeout > 0 && cfg.ReadTimeout > 0 && cfg.ReadTimeout <= cfg.BlockTimeout {
		return cfg.BlockTimeout + cfg.ReadTimeout
	}
	return cfg.ReadTimeout
}

func groupName(stream string) string {
	return "group-" + stream
}

func (c *Client) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			c.log.Info("Consumer group '%s' already exists for stream '%s', joining existing group", c.group, c.stream)
			return nil
		}
		return fmt.Errorf("failed to create consumer group for stream %s: %w", c.stream, err)
	}
	c.log.Info("Created consumer group '%s' for stream '%s'", c.group, c.stream)
	return nil
}

// Peek returns the next message or nil when nothing is available.
func (c *Client) Peek(ctx context.Context) (*message.Message, error) {
	msg, err := c.claimOne(ctx)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		return msg, nil
	}
	return c.readOne(ctx)
}

// claimOne takes over the oldest pending entry idle for at least claimIdle.
func (c *Client) claimOne(ctx context.Context) (*message.Message, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  c.pendingScan,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xpending failed: %w", err)
	}

	for _, p := range pending {
		if p.Idle < c.claimIdle {
			continue
		}

		claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("xclaim failed: %w", err)
		}
		if len(claimed) == 0 {
			// another consumer claimed it first
			continue
		}

		c.log.Debug("Reclaimed pending message %s (previous owner %s, idle %s)", p.ID, p.Consumer, p.Idle)
		return c.toMessage(claimed[0], int(p.RetryCount)+1), nil
	}

	return nil, nil
}

func (c *Client) readOne(ctx context.Context) (*message.Message, error) {
	block := c.blockTimeout
	if block <= 0 {
		// go-redis sends BLOCK 0 (forever) for a zero duration
		block = -1
	}

	result, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	for _, streamResult := range result {
		if len(streamResult.Messages) > 0 {
			return c.toMessage(streamResult.Messages[0], 1), nil
		}
	}
	return nil, nil
}

func (c *Client) toMessage(entry redis.XMessage, deliveries int) *message.Message {
	var body []byte
	if v, ok := entry.Values[BodyField].(string); ok {
		body = []byte(v)
	}
	return &message.Message{
		ID:            entry.ID,
		Stream:        c.stream,
		Body:          body,
		DeliveryCount: deliveries,
	}
}

// Complete acknowledges and deletes the entry.
func (c *Client) Complete(ctx context.Context, msg *message.Message) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.stream, c.group, msg.ID)
		pipe.XDel(ctx, c.stream, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete failed for message %s in stream %s: %w", msg.ID, c.stream, err)
	}
	return nil
}

// Abandon leaves the entry in the pending list; once it has been idle for
// claimIdle any consumer in the group picks it up again.
func (c *Client) Abandon(_ context.Context, msg *message.Message) error {
	c.log.Debug("Message %s left pending for redelivery after %s", msg.ID, c.claimIdle)
	return nil
}

// DeadLetter copies the entry to the dead-letter stream, then acknowledges
// and deletes it. The entry is only acknowledged once the copy is written;
// if the copy fails it stays pending and is delivered again.
func (c *Client) DeadLetter(ctx context.Context, msg *message.Message, reason string) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.dlqStream,
		Values: map[string]interface{}{
			"id":             msg.ID,
			"stream":         c.stream,
			BodyField:        string(msg.Body),
			"reason":         reason,
			"delivery_count": strconv.Itoa(msg.DeliveryCount),
			"dead_lettered":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("dead-letter copy failed for message %s to stream %s: %w", msg.ID, c.dlqStream, err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.stream, c.group, msg.ID)
		pipe.XDel(ctx, c.stream, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter ack failed for message %s in stream %s: %w", msg.ID, c.stream, err)
	}
	return nil
}

// Publish appends a notification body to the stream. Used by tooling and tests.
func (c *Client) Publish(ctx context.Context, body []byte) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{BodyField: string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed for stream %s: %w", c.stream, err)
	}
	return id, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
