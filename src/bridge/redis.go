package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisEnvelope wraps a delivery with the originating instance ID
// so that a node can skip its own published deliveries.
type redisEnvelope struct {
	InstanceID string         `json:"instance_id"`
	Delivery   types.Delivery `json:"delivery"`
}

// RedisBridge relays room deliveries between relay instances via Redis pub/sub.
// Envelopes are msgpack encoded so chunk bytes travel without base64.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance delivery.
func NewRedisBridge(cfg *RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     cfg.NewClient(),
		channel:    cfg.Prefix + "relay",
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the Redis relay channel and begins forwarding deliveries.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		sub.Close()
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish sends a delivery to all other instances via Redis.
func (b *RedisBridge) Publish(d types.Delivery) error {
	data, err := b.encode(d)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, b.channel, data).Err()
}

func (b *RedisBridge) encode(d types.Delivery) ([]byte, error) {
	return codec.MarshalMsgpack(redisEnvelope{InstanceID: b.instanceID, Delivery: d})
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads messages from the Redis subscription and forwards to the local hub.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handlePayload([]byte(msg.Payload))
		case <-b.ctx.Done():
			return
		}
	}
}

// handlePayload decodes an envelope and forwards deliveries from other instances.
func (b *RedisBridge) handlePayload(payload []byte) {
	var env redisEnvelope
	if err := codec.UnmarshalMsgpack(payload, &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip deliveries that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("room", env.Delivery.Room).
		Str("type", env.Delivery.Envelope.Type).
		Msg("relaying delivery from redis")

	b.hub.BroadcastToLocal(env.Delivery)
}
