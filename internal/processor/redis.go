package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fraser-isbester/cdfwd/internal/logger"
	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

// StreamClient is the subset of *redis.Client used by RedisPublisher.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisPublisher appends events to a Redis stream. Each entry carries the
// routing fields next to the full event JSON.
type RedisPublisher struct {
	client StreamClient
	stream string
	maxLen int64
	log    zerolog.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher trims the stream to roughly maxLen entries when maxLen
// is positive.
func NewRedisPublisher(client StreamClient, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		log:    logger.GetLogger("processor").With().Str("stream", stream).Logger(),
	}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, e cdevents.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":      e.Context.ID,
			"type":    string(e.Context.Type),
			"source":  e.Context.Source,
			"subject": e.Subject.ID,
			"event":   string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	entryID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.log.Debug().Str("event_id", e.Context.ID).Str("entry_id", entryID).Msg("appended event")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
