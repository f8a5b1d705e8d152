/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "sxnics.events.",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus mirrors the in-process bus across instances over core NATS
// subjects. The client library handles reconnection; while disconnected
// publishes are buffered by the client and local delivery continues.
type NATSBus struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string
	prefix   string

	mu   sync.Mutex
	refs map[events.EventType]int
	subs map[events.EventType]*nats.Subscription
}

// NewNATSBus connects to NATS. If the server is unreachable the bus only
// delivers locally.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		prefix:   cfg.SubjectPrefix,
		refs:     make(map[events.EventType]int),
		subs:     make(map[events.EventType]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name("sxnics-radio " + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("nats unavailable, using in-memory event bus")
		return nb
	}
	nb.conn = conn
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats event bus initialized")
	return nb
}

func (nb *NATSBus) subject(eventType events.EventType) string {
	return nb.prefix + string(eventType)
}

// Subscribe registers a local subscriber and listens on the matching subject.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.fallback.Subscribe(eventType)

	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.refs[eventType]++
	if nb.conn == nil {
		return sub
	}
	if _, exists := nb.subs[eventType]; exists {
		return sub
	}

	ns, err := nb.conn.Subscribe(nb.subject(eventType), func(msg *nats.Msg) {
		env, err := unmarshalEnvelope(msg.Data)
		if err != nil {
			nb.logger.Warn().Err(err).Msg("dropping malformed nats event")
			return
		}
		if env.NodeID == nb.nodeID {
			return
		}
		nb.fallback.Publish(eventType, env.Payload)
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("nats subscribe failed")
		return sub
	}
	nb.subs[eventType] = ns
	return sub
}

// Publish delivers locally and to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.fallback.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}

	data, err := marshalEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(nb.subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to nats")
	}
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.fallback.Unsubscribe(eventType, sub)

	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.refs[eventType] > 0 {
		nb.refs[eventType]--
	}
	if nb.refs[eventType] > 0 {
		return
	}
	delete(nb.refs, eventType)
	if ns, exists := nb.subs[eventType]; exists {
		_ = ns.Unsubscribe()
		delete(nb.subs, eventType)
	}
}

// Connected reports whether the bus has a live NATS connection.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Close drains the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	return nb.conn.Drain()
}
