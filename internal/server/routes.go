/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/broadcast"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
)

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// The broadcast stream. Listeners join at the next chunk.
	s.router.Get("/stream", s.hub.ServeHTTP)

	s.router.Get("/api/now-playing", s.handleNowPlaying)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/ws/now-playing", s.handleNowPlayingWS)

	if s.cfg == nil || s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"state":     s.status.Status().State,
		"listeners": s.hub.Count(),
	})
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if st.NowPlaying == nil {
		writeError(w, http.StatusNotFound, "nothing_playing")
		return
	}
	writeJSON(w, http.StatusOK, st.NowPlaying)
}

type catalogSummary struct {
	Appointments int       `json:"appointments"`
	Rotation     int       `json:"rotation"`
	LoadedAt     time.Time `json:"loaded_at"`
}

type statusResponse struct {
	State      string          `json:"state"`
	NowPlaying any             `json:"now_playing"`
	NextID     string          `json:"next_id,omitempty"`
	WaitUntil  *time.Time      `json:"wait_until,omitempty"`
	Broadcast  broadcast.Stats `json:"broadcast"`
	Catalog    *catalogSummary `json:"catalog,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := statusResponse{
		State:     st.State,
		NextID:    st.NextID,
		WaitUntil: st.WaitUntil,
		Broadcast: s.hub.Stats(),
	}
	if st.NowPlaying != nil {
		resp.NowPlaying = st.NowPlaying
	}
	if v := s.catalog.Current(); v != nil {
		resp.Catalog = &catalogSummary{
			Appointments: len(v.Appointments),
			Rotation:     len(v.Rotation),
			LoadedAt:     v.LoadedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
