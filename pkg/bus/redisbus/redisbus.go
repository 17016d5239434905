// Package redisbus publishes bus envelopes onto a Redis stream.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"parley/pkg/bus"

	"github.com/redis/go-redis/v9"
)

const (
	// EnvelopeField holds the JSON envelope in each stream entry.
	EnvelopeField   = "envelope"
	detailTypeField = "detail-type"

	DefaultStream = "parley:events"

	errorCodeMarshal = "MarshalFailed"
	errorCodeXAdd    = "StreamWriteFailed"
)

// Connect parses a redis:// URL and verifies the server answers PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// Bus appends envelopes to a stream with XADD, one pipeline per PutEvents call.
type Bus struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ bus.EventBus = (*Bus)(nil)

// New returns a stream-backed bus. A positive maxLen enables approximate trimming.
func New(client *redis.Client, stream string, maxLen int64) *Bus {
	if stream == "" {
		stream = DefaultStream
	}

	return &Bus{client: client, stream: stream, maxLen: maxLen}
}

func (b *Bus) Stream() string { return b.stream }

// PutEvents reports per-entry failures instead of failing the whole call.
func (b *Bus) PutEvents(ctx context.Context, entries []bus.Entry) (bus.PutResult, error) {
	result := bus.PutResult{Entries: make([]bus.EntryResult, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))

	for i, entry := range entries {
		envelope := bus.NewEnvelope(entry)
		data, err := json.Marshal(envelope)
		if err != nil {
			result.Entries[i] = bus.EntryResult{ErrorCode: errorCodeMarshal, ErrorMessage: err.Error()}
			continue
		}

		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: b.maxLen,
			Approx: b.maxLen > 0,
			Values: map[string]any{
				EnvelopeField:   string(data),
				detailTypeField: entry.DetailType,
			},
		})
		result.Entries[i] = bus.EntryResult{EventID: envelope.ID}
	}

	// Exec reports only the first failure; each command is inspected below.
	_, _ = pipe.Exec(ctx)

	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if err := cmd.Err(); err != nil {
			result.Entries[i] = bus.EntryResult{ErrorCode: errorCodeXAdd, ErrorMessage: err.Error()}
		}
	}

	for _, entry := range result.Entries {
		if entry.Failed() {
			result.FailedCount++
		}
	}

	return result, nil
}
