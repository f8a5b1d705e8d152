/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/sxnics_radio/internal/broadcast"
	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/models"
	"github.com/friendsincode/sxnics_radio/internal/playout"
)

type stubStatus struct {
	mu sync.Mutex
	st playout.Status
}

func (s *stubStatus) Status() playout.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *stubStatus) set(st playout.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
}

type stubView struct {
	view *catalog.View
}

func (s stubView) Current() *catalog.View { return s.view }

type testEnv struct {
	srv    *Server
	hub    *broadcast.Hub
	bus    *events.Bus
	status *stubStatus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := events.NewBus()
	hub := broadcast.NewHub(broadcast.Config{Name: "sxnics", BitrateKbps: 128}, bus, zerolog.Nop())
	start := time.Now().Add(time.Hour)
	view, _ := catalog.Build([]models.Track{
		{ID: "r1", Locator: "r1.mp3", DurationSeconds: 120},
		{ID: "r2", Locator: "r2.mp3", DurationSeconds: 120},
		{ID: "show", Locator: "show.mp3", DurationSeconds: 3600, Schedule: models.Schedule{Start: start, End: start.Add(time.Hour)}},
	}, time.Now())

	status := &stubStatus{st: playout.Status{State: "idle"}}
	s := &Server{
		cfg:     &config.Config{},
		logger:  zerolog.Nop(),
		router:  newRouter(zerolog.Nop(), "*"),
		bus:     bus,
		hub:     hub,
		status:  status,
		catalog: stubView{view: view},
	}
	s.configureRoutes()
	t.Cleanup(hub.Close)
	return &testEnv{srv: s, hub: hub, bus: bus, status: status}
}

func playing(id string) playout.Status {
	np := models.NewNowPlaying(models.Track{ID: id, Artist: "Artist", Title: strings.ToUpper(id), DurationSeconds: 120}, time.Now())
	return playout.Status{State: "playing", NowPlaying: &np}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["state"] != "idle" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestNowPlayingEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/now-playing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 while idle, got %d", rr.Code)
	}

	env.status.set(playing("a"))
	rr = httptest.NewRecorder()
	env.srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/now-playing", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var np models.NowPlaying
	if err := json.Unmarshal(rr.Body.Bytes(), &np); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if np.ID != "a" || np.DisplayName != "Artist - A" || np.DurationSeconds != 120 {
		t.Fatalf("unexpected now playing %+v", np)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.status.set(playing("a"))
	_, _ = env.hub.AddListener()

	rr := httptest.NewRecorder()
	env.srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		State     string          `json:"state"`
		Broadcast broadcast.Stats `json:"broadcast"`
		Catalog   struct {
			Appointments int `json:"appointments"`
			Rotation     int `json:"rotation"`
		} `json:"catalog"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "playing" || body.Broadcast.Listeners != 1 {
		t.Fatalf("unexpected status %+v", body)
	}
	if body.Catalog.Appointments != 1 || body.Catalog.Rotation != 2 {
		t.Fatalf("unexpected catalog summary %+v", body.Catalog)
	}
}

func TestStreamRouteFlushesThroughMiddleware(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	for env.hub.Count() == 0 && ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	env.hub.Publish([]byte("mp3!"))

	buf := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "mp3!" {
		t.Fatalf("got %q", buf)
	}
}

func TestNowPlayingWebsocket(t *testing.T) {
	env := newTestEnv(t)
	env.status.set(playing("a"))
	ts := httptest.NewServer(env.srv.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/now-playing", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	type message struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	read := func() message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}

	if m := read(); m.Type != string(events.EventNowPlaying) || m.Payload["id"] != "a" {
		t.Fatalf("expected current track first, got %+v", m)
	}

	np := models.NewNowPlaying(models.Track{ID: "b", Title: "B", DurationSeconds: 60}, time.Now())
	env.bus.Publish(events.EventNowPlaying, events.NowPlayingPayload(np))

	if m := read(); m.Payload["id"] != "b" || m.Payload["display_name"] != "B" {
		t.Fatalf("unexpected push %+v", m)
	}
}

func TestCORSOnAPIRoutes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{name: "preflight", method: http.MethodOptions, path: "/api/now-playing", code: http.StatusNoContent},
		{name: "status", method: http.MethodGet, path: "/api/status", code: http.StatusOK},
		{name: "idle now playing", method: http.MethodGet, path: "/api/now-playing", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.Header.Set("Origin", "https://player.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		env.srv.router.ServeHTTP(rr, req)

		if rr.Code != tt.code {
			t.Fatalf("%s: status=%d, want %d", tt.name, rr.Code, tt.code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: Access-Control-Allow-Origin=%q", tt.name, got)
		}
	}
}

func TestCORSMiddlewareConfiguredOrigin(t *testing.T) {
	called := false
	h := corsMiddleware("https://player.example")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/stream", nil))

	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://player.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary=%q, want Origin", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Fatalf("Access-Control-Allow-Methods=%q", got)
	}
}
