/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// handleNowPlayingWS pushes a now_playing message on every track start,
// starting with the current track. Subscribers need no audio connection.
func (s *Server) handleNowPlayingWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketClients.Inc()
	defer telemetry.WebsocketClients.Dec()

	sub := s.bus.Subscribe(events.EventNowPlaying)
	defer s.bus.Unsubscribe(events.EventNowPlaying, sub)

	// Clients only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	if np := s.status.Status().NowPlaying; np != nil {
		if err := writeEvent(ctx, conn, events.EventNowPlaying, events.NowPlayingPayload(*np)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(ctx, conn, events.EventNowPlaying, payload); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := writeMessage(ctx, conn, []byte(`{"type":"ping"}`)); err != nil {
				s.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return writeMessage(ctx, conn, data)
}

func writeMessage(ctx context.Context, conn *ws.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}
