package redis

import (
	"context"
	"fmt"
)

// Maintain removes consumers that have been idle longer than the configured
// consumer idle timeout and hold no pending entries. Consumers that still
// own pending entries are kept: their entries are reclaimed by Peek, and
// deleting the consumer would drop them from the pending list.
func (c *Client) Maintain(ctx context.Context) error {
	if c.consumerIdle <= 0 {
		return nil
	}

	removed, err := c.cleanupDeadConsumers(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("Cleaned up %d dead consumers from group '%s'", removed, c.group)
	}
	return nil
}

func (c *Client) cleanupDeadConsumers(ctx context.Context) (int, error) {
	consumers, err := c.rdb.XInfoConsumers(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get consumers info: %w", err)
	}

	var removedCount int

	for _, consumer := range consumers {
		if consumer.Name == c.consumer {
			continue
		}

		if consumer.Idle <= c.consumerIdle {
			c.log.Debug("Consumer %s is active (idle for %s)", consumer.Name, consumer.Idle)
			continue
		}
		if consumer.Pending > 0 {
			c.log.Debug("Keeping idle consumer %s: %d pending entries await reclaim", consumer.Name, consumer.Pending)
			continue
		}

		if _, err := c.rdb.XGroupDelConsumer(ctx, c.stream, c.group, consumer.Name).Result(); err != nil {
			c.log.Error("Failed to delete consumer %s from stream %s: %v", consumer.Name, c.stream, err)
			continue
		}
		c.log.Info("Removed dead consumer %s from stream %s (idle for %s)", consumer.Name, c.stream, consumer.Idle)
		removedCount++
	}

	return removedCount, nil
}
