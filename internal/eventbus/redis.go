/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisBroadcastChannel = "voxegress:rooms:broadcast"

// RedisBus mirrors room broadcasts over Redis Pub/Sub, for deployments
// that already run Redis and would rather not add a NATS server.
type RedisBus struct {
	logger zerolog.Logger
	nodeID string

	mu       sync.RWMutex
	client   *redis.Client
	cancel   context.CancelFunc
	disabled bool
}

type redisEnvelope struct {
	NodeID  string `json:"nodeId"`
	RoomID  string `json:"roomId"`
	Payload []byte `json:"payload"`
}

// NewRedisBus connects to addr and subscribes to the broadcast channel.
// On connection failure it logs a warning and returns a disabled bus, the
// same circuit-breaker fallback the teacher's cache package uses for its
// own Redis connection.
func NewRedisBus(addr, password string, db int, nodeID string, logger zerolog.Logger, recv Receiver) *RedisBus {
	rb := &RedisBus{logger: logger, nodeID: nodeID}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis event bus unavailable, cross-instance broadcast disabled")
		rb.disabled = true
		return rb
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(subCtx, redisBroadcastChannel)

	rb.client = client
	rb.cancel = subCancel

	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn().Err(err).Msg("discarding malformed redis broadcast")
				continue
			}
			if env.NodeID == nodeID {
				continue
			}
			recv(Message{RoomID: env.RoomID, Payload: env.Payload})
		}
	}()

	logger.Info().Str("addr", addr).Msg("redis event bus connected")
	return rb
}

func (b *RedisBus) isAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.disabled && b.client != nil
}

func (b *RedisBus) Publish(msg Message) error {
	if !b.isAvailable() {
		return nil
	}

	data, err := json.Marshal(redisEnvelope{NodeID: b.nodeID, RoomID: msg.RoomID, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("marshal redis envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, redisBroadcastChannel, data).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("redis publish failed, disabling cross-instance broadcast")
		b.mu.Lock()
		b.disabled = true
		b.mu.Unlock()
		return fmt.Errorf("publish redis broadcast: %w", err)
	}
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
