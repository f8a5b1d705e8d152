/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast fans the paced audio stream out to every connected
// listener without letting a slow listener hold up the others.
package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
)

// ErrListenerWriteFailed is reported when a listener's connection rejects
// a chunk; the listener is disconnected.
var ErrListenerWriteFailed = errors.New("listener write failed")

// DefaultQueueChunks is the per-listener queue depth (~1MB at 4KB chunks).
const DefaultQueueChunks = 256

const keepaliveInterval = 30 * time.Second

// Drop reasons reported in metrics and listener_stats events.
const (
	reasonQueueFull  = "queue_full"
	reasonWriteError = "write_error"
	reasonClosed     = "closed"
	reasonDisconnect = "disconnect"
)

// Listener is one connected sink. Chunks are delivered in publish order on
// C until the listener is removed, at which point C is closed.
type Listener struct {
	ID string
	C  <-chan []byte

	ch     chan []byte
	once   sync.Once
	closed chan struct{}
}

// Done is closed when the listener has been removed from the hub.
func (l *Listener) Done() <-chan struct{} {
	return l.closed
}

func (l *Listener) close() {
	l.once.Do(func() {
		close(l.closed)
		close(l.ch)
	})
}

// Config holds hub settings.
type Config struct {
	Name        string
	ContentType string
	BitrateKbps int
	QueueChunks int
}

// Hub is the set of connected listeners.
type Hub struct {
	cfg    Config
	bus    events.Publisher
	logger zerolog.Logger

	mu        sync.RWMutex
	listeners map[string]*Listener
	closed    bool
}

// NewHub creates an empty hub. bus may be nil.
func NewHub(cfg Config, bus events.Publisher, logger zerolog.Logger) *Hub {
	if cfg.QueueChunks <= 0 {
		cfg.QueueChunks = DefaultQueueChunks
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/mpeg"
	}
	return &Hub{
		cfg:       cfg,
		bus:       bus,
		logger:    logging.Component(logger, "broadcast"),
		listeners: make(map[string]*Listener),
	}
}

// AddListener registers a new listener. It receives chunks published from
// now on; nothing already sent is replayed.
func (h *Hub) AddListener() (string, *Listener) {
	ch := make(chan []byte, h.cfg.QueueChunks)
	l := &Listener{
		ID:     uuid.NewString(),
		C:      ch,
		ch:     ch,
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		l.close()
		return l.ID, l
	}
	h.listeners[l.ID] = l
	count := len(h.listeners)
	h.mu.Unlock()

	telemetry.ListenersActive.Set(float64(count))
	h.logger.Info().Str("listener", l.ID).Int("listeners", count).Msg("listener connected")
	h.publishStats(count, "connect", "")
	return l.ID, l
}

// RemoveListener disconnects a listener. Removing an unknown or already
// removed id is a no-op.
func (h *Hub) RemoveListener(id string) {
	h.remove(id, reasonDisconnect)
}

func (h *Hub) remove(id, reason string) bool {
	h.mu.Lock()
	l, ok := h.listeners[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.listeners, id)
	count := len(h.listeners)
	// Closing under the write lock keeps Publish from sending on a closed channel.
	l.close()
	h.mu.Unlock()

	telemetry.ListenersActive.Set(float64(count))
	if reason != reasonDisconnect {
		telemetry.ListenersDroppedTotal.WithLabelValues(reason).Inc()
	}
	h.logger.Info().Str("listener", id).Str("reason", reason).Int("listeners", count).Msg("listener removed")
	h.publishStats(count, "disconnect", reason)
	return true
}

// Publish delivers chunk to every listener. A listener whose queue is full
// is removed rather than silently skipped.
func (h *Hub) Publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	var full []string
	h.mu.RLock()
	for id, l := range h.listeners {
		select {
		case l.ch <- chunk:
		default:
			full = append(full, id)
		}
	}
	h.mu.RUnlock()

	telemetry.BroadcastBytesTotal.Add(float64(len(chunk)))
	for _, id := range full {
		h.remove(id, reasonQueueFull)
	}
}

// Write implements io.Writer so a pacer can copy straight into the hub.
// The chunk is copied because callers reuse their buffers.
func (h *Hub) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	h.Publish(chunk)
	return len(p), nil
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close removes every listener and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id, reasonClosed)
	}
}

// ServeHTTP streams the broadcast to an HTTP client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", h.cfg.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "keep-alive")
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Del("Content-Length")
	w.Header().Set("icy-br", strconv.Itoa(h.cfg.BitrateKbps))
	w.Header().Set("icy-name", h.cfg.Name)

	rc := http.NewResponseController(w)
	id, l := h.AddListener()
	defer h.RemoveListener(id)

	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				h.logger.Debug().Err(fmt.Errorf("%w: %v", ErrListenerWriteFailed, err)).Str("listener", id).Msg("disconnecting listener")
				h.remove(id, reasonWriteError)
				return
			}
			_ = rc.Flush()
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(keepaliveInterval)
		case <-keepalive.C:
			// Nothing to send between tracks; keep proxies from timing out.
			_ = rc.Flush()
			keepalive.Reset(keepaliveInterval)
		}
	}
}

// Stats is the listener summary exposed by the status endpoint.
type Stats struct {
	Name        string `json:"name"`
	BitrateKbps int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	Listeners   int    `json:"listeners"`
}

// Stats returns the current listener summary.
func (h *Hub) Stats() Stats {
	return Stats{
		Name:        h.cfg.Name,
		BitrateKbps: h.cfg.BitrateKbps,
		ContentType: h.cfg.ContentType,
		Listeners:   h.Count(),
	}
}

func (h *Hub) publishStats(count int, event, reason string) {
	if h.bus == nil {
		return
	}
	payload := events.Payload{
		"mount":        h.cfg.Name,
		"bitrate":      h.cfg.BitrateKbps,
		"listeners":    count,
		"event":        event,
		"content_type": h.cfg.ContentType,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	h.bus.Publish(events.EventListenerStats, payload)
}
