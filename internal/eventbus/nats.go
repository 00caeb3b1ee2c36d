/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const natsBroadcastSubject = "voxegress.rooms.broadcast"

// NATSBus mirrors room broadcasts over core NATS pub/sub. Broadcasts are
// fire-and-forget per the Room Registry's semantics, so this deliberately
// skips JetStream durability — a message missed by an instance that was
// briefly disconnected is not replayed, matching the in-memory bus'
// behavior on a single process.
type NATSBus struct {
	logger zerolog.Logger
	nodeID string
	recv   Receiver

	mu   sync.RWMutex
	conn *nats.Conn
	sub  *nats.Subscription
}

type natsEnvelope struct {
	NodeID  string `json:"nodeId"`
	RoomID  string `json:"roomId"`
	Payload []byte `json:"payload"`
}

// NewNATSBus connects to url and subscribes to the shared broadcast
// subject. If the connection fails, it logs a warning and returns a bus
// whose Publish is a no-op — callers keep working off local fanout only.
func NewNATSBus(url, nodeID string, logger zerolog.Logger, recv Receiver) *NATSBus {
	nb := &NATSBus{logger: logger, nodeID: nodeID, recv: recv}

	conn, err := nats.Connect(url,
		nats.Name(fmt.Sprintf("voxegress-%s", nodeID)),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("nats connection failed, cross-instance broadcast disabled")
		return nb
	}

	sub, err := conn.Subscribe(natsBroadcastSubject, func(msg *nats.Msg) {
		var env natsEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Warn().Err(err).Msg("discarding malformed nats broadcast")
			return
		}
		if env.NodeID == nodeID {
			return
		}
		recv(Message{RoomID: env.RoomID, Payload: env.Payload})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("nats subscribe failed, cross-instance broadcast disabled")
		conn.Close()
		return nb
	}

	nb.conn = conn
	nb.sub = sub
	logger.Info().Str("url", url).Msg("nats event bus connected")
	return nb
}

func (b *NATSBus) Publish(msg Message) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return nil
	}

	data, err := json.Marshal(natsEnvelope{NodeID: b.nodeID, RoomID: msg.RoomID, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("marshal nats envelope: %w", err)
	}
	if err := conn.Publish(natsBroadcastSubject, data); err != nil {
		return fmt.Errorf("publish nats broadcast: %w", err)
	}
	return nil
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}
