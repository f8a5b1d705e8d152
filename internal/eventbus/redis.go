/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus mirrors the in-process bus across instances over Redis pub/sub.
// Local subscribers always hang off the in-process bus; remote messages are
// republished into it, and messages from this node are not echoed back.
type RedisBus struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string
	prefix   string

	mu       sync.Mutex
	refs     map[events.EventType]int
	channels map[events.EventType]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	useFallback   bool
	failCount     int
	maxFails      int
	lastCheck     time.Time
	checkInterval time.Duration
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Channel prefix so several stations can share one Redis.
	ChannelPrefix string

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "sxnics.",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus. If Redis cannot be reached
// the bus starts in fallback mode and only delivers locally.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBus{
		client:        client,
		logger:        logger,
		fallback:      events.NewBus(),
		nodeID:        nodeID,
		prefix:        cfg.ChannelPrefix,
		refs:          make(map[events.EventType]int),
		channels:      make(map[events.EventType]*redis.PubSub),
		ctx:           ctx,
		cancel:        cancel,
		maxFails:      cfg.MaxFailures,
		checkInterval: cfg.CheckInterval,
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 1
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, using in-memory event bus")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis event bus initialized")
	return rb
}

func (rb *RedisBus) channel(eventType events.EventType) string {
	return rb.prefix + string(eventType)
}

// Subscribe registers a local subscriber and makes sure the node listens on
// the matching Redis channel.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.fallback.Subscribe(eventType)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.refs[eventType]++
	if !rb.useFallback {
		rb.listenLocked(eventType)
	}
	return sub
}

// listenLocked opens the Redis subscription for eventType if missing.
func (rb *RedisBus) listenLocked(eventType events.EventType) {
	if _, exists := rb.channels[eventType]; exists {
		return
	}
	pubsub := rb.client.Subscribe(rb.ctx, rb.channel(eventType))

	// Wait for the subscription confirmation so publishes that follow are seen.
	recvCtx, cancel := context.WithTimeout(rb.ctx, 3*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(recvCtx); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("redis subscribe failed")
		_ = pubsub.Close()
		rb.failCount++
		return
	}

	rb.channels[eventType] = pubsub
	rb.wg.Add(1)
	go rb.receive(eventType, pubsub)
}

func (rb *RedisBus) receive(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := unmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				rb.logger.Warn().Err(err).Msg("dropping malformed redis event")
				continue
			}
			if env.NodeID == rb.nodeID {
				continue
			}
			rb.fallback.Publish(eventType, env.Payload)
			rb.logger.Debug().
				Str("event_type", string(eventType)).
				Str("source_node", env.NodeID).
				Msg("delivered remote event")
		}
	}
}

// Publish delivers locally and, unless the breaker is open, to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.fallback.Publish(eventType, payload)

	rb.mu.Lock()
	fallback := rb.useFallback
	rb.mu.Unlock()
	if fallback {
		if err := rb.tryReconnect(); err != nil {
			return
		}
	}

	data, err := marshalEnvelope(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, rb.channel(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Unsubscribe removes a local subscriber and drops the Redis subscription
// once nobody on this node listens for the event type.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.fallback.Unsubscribe(eventType, sub)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.refs[eventType] > 0 {
		rb.refs[eventType]--
	}
	if rb.refs[eventType] > 0 {
		return
	}
	delete(rb.refs, eventType)
	if pubsub, exists := rb.channels[eventType]; exists {
		_ = pubsub.Close()
		delete(rb.channels, eventType)
	}
}

// Fallback reports whether the breaker is open.
func (rb *RedisBus) Fallback() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

// Close stops receivers and closes the client.
func (rb *RedisBus) Close() error {
	rb.cancel()

	rb.mu.Lock()
	for eventType, pubsub := range rb.channels {
		_ = pubsub.Close()
		delete(rb.channels, eventType)
	}
	rb.mu.Unlock()

	rb.wg.Wait()
	return rb.client.Close()
}

// handleFailure opens the breaker after maxFails consecutive failures.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("redis failure threshold reached, delivering locally only")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		for eventType, pubsub := range rb.channels {
			_ = pubsub.Close()
			delete(rb.channels, eventType)
		}
	}
}

// tryReconnect closes the breaker if Redis answers again. Attempts are
// spaced by checkInterval.
func (rb *RedisBus) tryReconnect() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.useFallback {
		return nil
	}
	if time.Since(rb.lastCheck) < rb.checkInterval {
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.useFallback = false
	rb.failCount = 0
	for eventType := range rb.refs {
		rb.listenLocked(eventType)
	}
	rb.logger.Info().Msg("reconnected to redis")
	return nil
}
