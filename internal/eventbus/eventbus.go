/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"io"

	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/rs/zerolog"
)

// Bus is an event broker that owns network resources.
type Bus interface {
	events.Broker
	io.Closer
}

type memoryBus struct {
	*events.Bus
}

func (memoryBus) Close() error { return nil }

// New builds the event bus selected by configuration.
func New(cfg *config.Config, logger zerolog.Logger) Bus {
	switch cfg.EventBusBackend {
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, cfg.InstanceID, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, cfg.InstanceID, logger)
	default:
		return memoryBus{events.NewBus()}
	}
}
