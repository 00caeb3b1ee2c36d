/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus gives the Room Registry an optional cross-instance
// broadcast transport. A single-process deployment never needs this
// package — broadcast() fans out to local websocket peers directly — but
// a pool of orchestrator processes behind a shared SFU can use it to
// mirror a room's broadcasts across instances.
package eventbus

import (
	"fmt"

	"github.com/example/voxegress/internal/config"
	"github.com/rs/zerolog"
)

// Message is a broadcast as it crosses the bus: a room id and the raw
// signaling envelope bytes the Room Registry already serialized for its
// local peers.
type Message struct {
	RoomID  string
	Payload []byte
}

// Bus mirrors room broadcasts across orchestrator instances. Publish is
// called after a local broadcast has already been delivered to this
// instance's own peers; implementations must not invoke the receive
// callback for messages this instance itself published.
type Bus interface {
	Publish(msg Message) error
	Close() error
}

// Receiver is invoked for every message published by another instance.
type Receiver func(msg Message)

// New selects a Bus implementation per cfg.EventBus. If the NATS or Redis
// broker cannot be reached at startup, the returned bus logs a warning
// and stays disabled, with a no-op Publish. Startup never blocks on a
// missing broker.
func New(cfg *config.Config, nodeID string, logger zerolog.Logger, recv Receiver) (Bus, error) {
	switch cfg.EventBus {
	case config.EventBusLocal:
		return NewLocalBus(), nil
	case config.EventBusNATS:
		return NewNATSBus(cfg.NATSURL, nodeID, logger, recv), nil
	case config.EventBusRedis:
		return NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nodeID, logger, recv), nil
	default:
		return nil, fmt.Errorf("unsupported event bus driver %q", cfg.EventBus)
	}
}

// LocalBus is the zero-dependency default: a single process has nothing
// to mirror broadcasts to, so Publish is a no-op.
type LocalBus struct{}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(Message) error { return nil }

func (b *LocalBus) Close() error { return nil }
