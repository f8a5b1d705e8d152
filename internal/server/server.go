/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/friendsincode/sxnics_radio/internal/broadcast"
	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/encoder"
	"github.com/friendsincode/sxnics_radio/internal/eventbus"
	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/media"
	"github.com/friendsincode/sxnics_radio/internal/playout"
	"github.com/friendsincode/sxnics_radio/internal/prefetch"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
	"github.com/friendsincode/sxnics_radio/internal/transition"
)

type statusSource interface {
	Status() playout.Status
}

type viewSource interface {
	Current() *catalog.View
}

// Server bundles the HTTP transport and the playout services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	bus       events.Broker
	refresher *catalog.Refresher
	fetcher   media.Fetcher
	cache     *prefetch.Cache
	hub       *broadcast.Hub
	director  *playout.Director

	// Route dependencies, set from the services above.
	status  statusSource
	catalog viewSource

	bgCancel context.CancelFunc
	bg       *errgroup.Group
}

// New constructs the server and wires dependencies. Background workers are
// running when it returns.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: newRouter(logger, cfg.CORSAllowedOrigin),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Streams are long-lived; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func newRouter(logger zerolog.Logger, corsOrigin string) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(corsOrigin))
	router.Use(securityHeadersMiddleware)
	router.Use(otelhttp.NewMiddleware("sxnics-radio-http"))
	router.Use(telemetry.MetricsMiddleware)
	return router
}

func (s *Server) initDependencies() error {
	ctx := context.Background()

	bus := eventbus.New(s.cfg, s.logger)
	s.bus = bus
	s.DeferClose(bus.Close)

	source, database, err := OpenCatalog(s.cfg)
	if err != nil {
		return err
	}
	if database != nil {
		s.db = database
		s.DeferClose(func() error { return closeDB(database) })
	}
	s.refresher = catalog.NewRefresher(source, s.cfg.CatalogRefreshInterval, bus, s.logger)

	s.fetcher, err = media.NewFetcher(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("media fetcher: %w", err)
	}
	s.cache = prefetch.New(s.fetcher, s.cfg.FetchTimeout, s.logger)

	s.hub = broadcast.NewHub(broadcast.Config{
		Name:        s.cfg.StationName,
		ContentType: "audio/mpeg",
		BitrateKbps: s.cfg.BitrateKbps,
		QueueChunks: s.cfg.ListenerQueueChunks,
	}, bus, s.logger)

	enc := encoder.NewFFmpeg(encoder.Config{
		Bin:        s.cfg.EncoderBin,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		ExtraArgs:  s.cfg.EncoderExtraArgs,
	}, s.logger)
	planner := transition.NewPlanner(s.cfg.FadeSeconds, s.cfg.PreemptFade, s.cfg.PreemptFadeSteps)

	s.director = playout.NewDirector(playout.Config{
		BitrateKbps:   s.cfg.BitrateKbps,
		GapBuffer:     s.cfg.GapBuffer,
		CrossfadeWait: s.cfg.CrossfadeWait,
		RetryDelay:    s.cfg.RetryDelay,
	}, s.refresher, s.cache, planner, enc, s.hub, bus, s.logger)

	s.status = s.director
	s.catalog = s.refresher
	return nil
}

// HTTPServer exposes the listener-facing net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus server, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close stops playout, disconnects listeners and releases owned resources
// in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.hub != nil {
		s.hub.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.bg = g

	if _, _, err := s.refresher.Load(gctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial catalog load failed, starting with an empty catalog")
	}
	if c, ok := s.fetcher.(media.Checker); ok {
		if err := c.CheckAccess(gctx); err != nil {
			s.logger.Warn().Err(err).Msg("media backend check failed")
		}
	}

	g.Go(func() error {
		return ignoreCanceled(s.refresher.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(s.director.Run(gctx))
	})
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	if err := s.bg.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("background worker exited")
	}
	s.bgCancel = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// corsMiddleware lets browser players on other origins read the stream and
// the status endpoints. Preflight requests are answered here.
func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Icy-MetaData")
			if allowedOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs completed requests; streams are logged when they end.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
