// Package bus wraps Redis Streams with the consumer-group pattern every
// executor shares: XADD with an approximate maxlen cap, idempotent
// XGROUP CREATE ... MKSTREAM, and an at-most-once XREADGROUP loop that
// acknowledges each message before invoking the handler. A dropped message
// is judged strictly less harmful than a duplicate order, so pending
// entries older than 60s are reclaimed once at startup and nothing retries
// automatically afterward.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	pendingIdleThreshold = 60 * time.Second
	readBlockDuration    = 5 * time.Second
	readBatchCount       = 50
)

// TypedStreamPublisher appends JSON-encoded values of type T to a single stream.
type TypedStreamPublisher[T any] struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewTypedStreamPublisher binds a publisher to one stream with an approximate maxlen cap.
func NewTypedStreamPublisher[T any](client *redis.Client, stream string, maxLen int64) *TypedStreamPublisher[T] {
	return &TypedStreamPublisher[T]{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends one message, approximately trimming the stream to maxLen.
func (p *TypedStreamPublisher[T]) Publish(ctx context.Context, value T) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("bus: marshal for %s: %w", p.stream, err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus: xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// Handler processes one decoded message; a returned error is logged but
// never blocks the pump or triggers a retry (the message is already acked).
type Handler[T any] func(ctx context.Context, msg T) error

// TypedStreamConsumer reads one stream through one consumer group with
// ack-before-handle semantics.
type TypedStreamConsumer[T any] struct {
	client       *redis.Client
	stream       string
	group        string
	consumerName string
	log          zerolog.Logger
}

// NewTypedStreamConsumer creates (idempotently) the consumer group and
// returns a bound consumer.
func NewTypedStreamConsumer[T any](ctx context.Context, client *redis.Client, stream, group, consumerName string, log zerolog.Logger) (*TypedStreamConsumer[T], error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("bus: create group %s/%s: %w", stream, group, err)
	}
	return &TypedStreamConsumer[T]{
		client:       client,
		stream:       stream,
		group:        group,
		consumerName: consumerName,
		log:          log,
	}, nil
}

// Run recovers idle-pending entries once, then loops XREADGROUP until ctx
// is cancelled, acking each message before invoking handle.
func (c *TypedStreamConsumer[T]) Run(ctx context.Context, handle Handler[T]) error {
	c.recoverPending(ctx, handle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    readBatchCount,
			Block:    readBlockDuration,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.Warn().Err(err).Str("stream", c.stream).Msg("⚠️ stream read failed")
			continue
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				c.ackThenHandle(ctx, msg, handle)
			}
		}
	}
}

func (c *TypedStreamConsumer[T]) recoverPending(ctx context.Context, handle Handler[T]) {
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumerName,
		MinIdle:  pendingIdleThreshold,
		Start:    "0-0",
		Count:    readBatchCount,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("stream", c.stream).Msg("⚠️ pending recovery failed")
		}
		return
	}
	for _, msg := range claimed {
		c.ackThenHandle(ctx, msg, handle)
	}
}

func (c *TypedStreamConsumer[T]) ackThenHandle(ctx context.Context, msg redis.XMessage, handle Handler[T]) {
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.log.Warn().Err(err).Str("id", msg.ID).Msg("⚠️ ack failed")
	}
	c.decodeAndHandle(ctx, msg, handle)
}

func (c *TypedStreamConsumer[T]) decodeAndHandle(ctx context.Context, msg redis.XMessage, handle Handler[T]) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		c.log.Warn().Str("id", msg.ID).Msg("⚠️ message missing payload field, dropped")
		return
	}
	var decoded T
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		c.log.Warn().Err(err).Str("id", msg.ID).Msg("⚠️ message failed to deserialize, dropped")
		return
	}
	if err := handle(ctx, decoded); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Str("stream", c.stream).Msg("❌ handler failed")
	}
}

// Stream name constants, stable wire contracts shared by every component.
const (
	StreamPrices             = "kis:prices"
	StreamBuySignals         = "stream:buy-signals"
	StreamSellOrders         = "stream:sell-orders"
	StreamTradeNotifications = "stream:trade-notifications"

	GroupMonitor       = "monitor-group"
	GroupBuyExecutor   = "group_buy_executor"
	GroupSellExecutor  = "group_sell_executor"
	GroupNotifier      = "group_notifier"
	GroupBarEngine     = "group_bar_engine"
)
