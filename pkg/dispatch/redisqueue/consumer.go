// Package redisqueue feeds batches from a Redis stream consumer group into
// the event dispatcher.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/pkg/bus/redisbus"
	"parley/pkg/dispatch"
)

const (
	defaultBatchSize = 10
	retryDelay       = time.Second
)

// BatchHandler is satisfied by *dispatch.Dispatcher.
type BatchHandler interface {
	HandleBatch(ctx context.Context, records []dispatch.Record) (dispatch.BatchResult, error)
}

type Options struct {
	Stream   string
	Group    string
	Consumer string
	// BatchSize caps entries per read.
	BatchSize int
	// Block is how long a read waits for new entries. Zero waits forever and
	// a negative value returns immediately.
	Block time.Duration
	Log   *slog.Logger
}

// Consumer reads with XREADGROUP and acknowledges every delivered entry once
// the batch has been handled. Per-record failures are reported by the
// dispatcher and are not redelivered. A batch the handler rejects stays in
// this consumer's pending list and is read again, from ID "0", before any new
// entries.
type Consumer struct {
	client  *redis.Client
	handler BatchHandler
	opts    Options
	log     *slog.Logger

	// recovering is set until the pending list has been read back empty.
	recovering bool
}

func New(client *redis.Client, handler BatchHandler, opts Options) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if handler == nil {
		return nil, errors.New("batch handler is required")
	}
	if strings.TrimSpace(opts.Group) == "" || strings.TrimSpace(opts.Consumer) == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	if opts.Stream == "" {
		opts.Stream = redisbus.DefaultStream
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Consumer{
		client:     client,
		handler:    handler,
		opts:       opts,
		recovering: true,
		log:        log.With("component", "dispatch.redisqueue", "stream", opts.Stream, "group", opts.Group, "consumer", opts.Consumer),
	}, nil
}

// Setup creates the consumer group (and the stream) when missing.
func (c *Consumer) Setup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Poll reads one batch, hands it to the dispatcher and acknowledges it.
// While entries delivered earlier are still pending for this consumer, those
// are read first. It returns the number of entries read.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	messages, err := c.read(ctx)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	var (
		records []dispatch.Record
		ids     []string
	)
	for _, message := range messages {
		ids = append(ids, message.ID)
		// Pending entries trimmed from the stream come back without values.
		if message.Values == nil {
			continue
		}
		records = append(records, toRecord(message))
	}

	var result dispatch.BatchResult
	if len(records) > 0 {
		result, err = c.handler.HandleBatch(ctx, records)
		if err != nil {
			c.recovering = true
			return len(messages), fmt.Errorf("handling batch: %w", err)
		}
	}

	if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, ids...).Err(); err != nil {
		return len(messages), fmt.Errorf("acknowledging batch: %w", err)
	}

	c.log.Debug("Batch acknowledged", "entries", len(ids), "failed", len(result.Failures))
	return len(messages), nil
}

// read returns this consumer's pending entries while recovering, and new
// entries otherwise.
func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	if c.recovering {
		messages, err := c.readGroup(ctx, "0", 0)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			c.log.Info("Redelivering pending entries", "entries", len(messages))
			return messages, nil
		}
		c.recovering = false
	}
	return c.readGroup(ctx, ">", c.opts.Block)
}

func (c *Consumer) readGroup(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	if id != ">" {
		// Pending reads never wait.
		block = -1
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, id},
		Count:    int64(c.opts.BatchSize),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

// Run polls until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}
	c.log.Info("Queue consumer started")

	for {
		if ctx.Err() != nil {
			c.log.Info("Queue consumer stopping")
			return nil
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("Failed to poll stream", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
		}
	}
}

// toRecord prefers the stored envelope; entries written by other producers
// are passed through as a flat JSON object of their fields.
func toRecord(message redis.XMessage) dispatch.Record {
	if raw, ok := message.Values[redisbus.EnvelopeField].(string); ok {
		return dispatch.Record{ID: message.ID, Body: []byte(raw)}
	}

	body, err := json.Marshal(message.Values)
	if err != nil {
		body = []byte("{}")
	}
	return dispatch.Record{ID: message.ID, Body: body}
}
