/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"

	"github.com/friendsincode/sxnics_radio/internal/models"
)

// EventType enumerates event categories.
type EventType string

const (
	EventNowPlaying    EventType = "now_playing"
	EventListenerStats EventType = "listener_stats"
	EventCatalogUpdate EventType = "catalog_update"
	EventTrackSkipped  EventType = "track_skipped"
	EventHealth        EventType = "health"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the write side of a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is implemented by the in-process bus and the distributed buses.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather
// than stalling the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes and closes the subscriber. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SubscriberCount reports the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// NowPlayingPayload converts a now-playing notification to a bus payload.
func NowPlayingPayload(np models.NowPlaying) Payload {
	return Payload{
		"id":               np.ID,
		"display_name":     np.DisplayName,
		"duration_seconds": np.DurationSeconds,
		"scheduled":        np.Scheduled,
		"started_at":       np.StartedAt,
	}
}
