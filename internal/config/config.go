/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// CatalogBackend selects where the track catalog is read from.
type CatalogBackend string

const (
	CatalogDB   CatalogBackend = "db"
	CatalogFile CatalogBackend = "file"
)

// MediaBackend selects how raw audio bytes are retrieved.
type MediaBackend string

const (
	MediaFilesystem MediaBackend = "fs"
	MediaS3         MediaBackend = "s3"
	MediaHTTP       MediaBackend = "http"
)

// EventBusBackend selects the now-playing fan-out transport.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	InstanceID  string
	StationName string

	// CORSAllowedOrigin is sent as Access-Control-Allow-Origin on every route.
	CORSAllowedOrigin string

	// Catalog
	CatalogBackend         CatalogBackend
	CatalogFile            string
	CatalogRefreshInterval time.Duration
	DBBackend              DatabaseBackend
	DBDSN                  string

	// Media retrieval
	MediaBackend  MediaBackend
	MediaRoot     string
	FetchTimeout  time.Duration
	HTTPMediaURL  string // base URL of the file service (e.g. https://api.github.com/repos/o/r/contents)
	HTTPMediaAuth string // token sent as "Authorization: token <value>"

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Encoder and pacing
	EncoderBin       string
	EncoderExtraArgs []string
	BitrateKbps      int
	SampleRate       int
	Channels         int

	// Scheduling
	FadeSeconds      float64
	GapBuffer        time.Duration
	PreemptFade      time.Duration
	PreemptFadeSteps int
	CrossfadeWait    time.Duration
	RetryDelay       time.Duration

	// Broadcast
	ListenerQueueChunks int

	// Event bus
	EventBusBackend EventBusBackend
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NATSURL         string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"SXNICS_ENV", "RADIO_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SXNICS_HTTP_BIND", "RADIO_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SXNICS_HTTP_PORT", "PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"SXNICS_METRICS_BIND", "RADIO_METRICS_BIND"}, "127.0.0.1:9000"),

		CORSAllowedOrigin: getEnvAny([]string{"SXNICS_CORS_ALLOWED_ORIGIN", "CORS_ALLOWED_ORIGIN"}, "*"),
		InstanceID:  getEnvAny([]string{"SXNICS_INSTANCE_ID", "HOSTNAME"}, "sxnics-1"),
		StationName: getEnvAny([]string{"SXNICS_STATION_NAME"}, "sxnics radio"),

		CatalogBackend:         CatalogBackend(getEnvAny([]string{"SXNICS_CATALOG_BACKEND"}, string(CatalogDB))),
		CatalogFile:            getEnvAny([]string{"SXNICS_CATALOG_FILE"}, "./catalog.yaml"),
		CatalogRefreshInterval: getEnvDurationAny([]string{"SXNICS_CATALOG_REFRESH"}, time.Minute),
		DBBackend:              DatabaseBackend(getEnvAny([]string{"SXNICS_DB_BACKEND", "RADIO_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:                  getEnvAny([]string{"SXNICS_DB_DSN", "RADIO_DB_DSN"}, ""),

		MediaBackend:  MediaBackend(getEnvAny([]string{"SXNICS_MEDIA_BACKEND"}, string(MediaFilesystem))),
		MediaRoot:     getEnvAny([]string{"SXNICS_MEDIA_ROOT", "RADIO_MEDIA_ROOT"}, "./media"),
		FetchTimeout:  getEnvDurationAny([]string{"SXNICS_FETCH_TIMEOUT"}, 30*time.Second),
		HTTPMediaURL:  getEnvAny([]string{"SXNICS_HTTP_MEDIA_URL"}, ""),
		HTTPMediaAuth: getEnvAny([]string{"SXNICS_HTTP_MEDIA_TOKEN", "GITHUB_TOKEN"}, ""),

		S3AccessKeyID:     getEnvAny([]string{"SXNICS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"SXNICS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"SXNICS_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"SXNICS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"SXNICS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"SXNICS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		EncoderBin:       getEnvAny([]string{"SXNICS_ENCODER_BIN", "FFMPEG_BIN"}, "ffmpeg"),
		EncoderExtraArgs: strings.Fields(getEnvAny([]string{"SXNICS_ENCODER_EXTRA_ARGS"}, "")),
		BitrateKbps:      getEnvIntAny([]string{"SXNICS_BITRATE_KBPS", "RADIO_BITRATE"}, 128),
		SampleRate:       getEnvIntAny([]string{"SXNICS_SAMPLE_RATE"}, 44100),
		Channels:         getEnvIntAny([]string{"SXNICS_CHANNELS"}, 2),

		FadeSeconds:      getEnvFloatAny([]string{"SXNICS_FADE_SECONDS"}, 5),
		GapBuffer:        time.Duration(getEnvIntAny([]string{"SXNICS_GAP_BUFFER_MS"}, 5000)) * time.Millisecond,
		PreemptFade:      getEnvDurationAny([]string{"SXNICS_PREEMPT_FADE"}, time.Second),
		PreemptFadeSteps: getEnvIntAny([]string{"SXNICS_PREEMPT_FADE_STEPS"}, 10),
		CrossfadeWait:    getEnvDurationAny([]string{"SXNICS_CROSSFADE_WAIT"}, 3*time.Second),
		RetryDelay:       getEnvDurationAny([]string{"SXNICS_RETRY_DELAY"}, 5*time.Second),

		ListenerQueueChunks: getEnvIntAny([]string{"SXNICS_LISTENER_QUEUE"}, 256),

		EventBusBackend: EventBusBackend(getEnvAny([]string{"SXNICS_EVENTBUS"}, string(EventBusMemory))),
		RedisAddr:       getEnvAny([]string{"SXNICS_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:   getEnvAny([]string{"SXNICS_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvIntAny([]string{"SXNICS_REDIS_DB", "REDIS_DB"}, 0),
		NATSURL:         getEnvAny([]string{"SXNICS_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		TracingEnabled:    getEnvBoolAny([]string{"SXNICS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SXNICS_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SXNICS_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks backend selections and the settings each backend needs.
func (c *Config) Validate() error {
	switch c.CatalogBackend {
	case CatalogDB:
		if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
			return fmt.Errorf("unsupported database backend %q", c.DBBackend)
		}
		if c.DBDSN == "" {
			return fmt.Errorf("SXNICS_DB_DSN or RADIO_DB_DSN must be provided for the db catalog")
		}
	case CatalogFile:
		if c.CatalogFile == "" {
			return fmt.Errorf("SXNICS_CATALOG_FILE must be provided for the file catalog")
		}
	default:
		return fmt.Errorf("unsupported catalog backend %q", c.CatalogBackend)
	}

	switch c.MediaBackend {
	case MediaFilesystem:
	case MediaS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("SXNICS_S3_BUCKET must be provided for the s3 media backend")
		}
	case MediaHTTP:
		if c.HTTPMediaURL == "" {
			return fmt.Errorf("SXNICS_HTTP_MEDIA_URL must be provided for the http media backend")
		}
	default:
		return fmt.Errorf("unsupported media backend %q", c.MediaBackend)
	}

	switch c.EventBusBackend {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBusBackend)
	}

	if c.BitrateKbps <= 0 {
		return fmt.Errorf("bitrate must be positive, got %d", c.BitrateKbps)
	}
	if c.FadeSeconds < 0 {
		return fmt.Errorf("fade seconds must not be negative, got %v", c.FadeSeconds)
	}
	if c.CatalogRefreshInterval <= 0 {
		return fmt.Errorf("catalog refresh interval must be positive")
	}
	return nil
}

// BytesPerSecond is the real-time byte rate of the encoded stream.
func (c *Config) BytesPerSecond() int {
	return c.BitrateKbps * 1000 / 8
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"REPO_OWNER":  "use SXNICS_HTTP_MEDIA_URL with the full contents URL",
		"REPO_NAME":   "use SXNICS_HTTP_MEDIA_URL with the full contents URL",
		"MONGODB_URI": "the catalog is read from SXNICS_DB_DSN or SXNICS_CATALOG_FILE",
		"RADIO_ENV":   "use SXNICS_ENV",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
