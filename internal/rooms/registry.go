/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rooms implements the Room Registry (spec.md §4.E): peer/room
// membership and broadcast fanout, optionally mirrored across orchestrator
// instances via internal/eventbus.
package rooms

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/example/voxegress/internal/eventbus"
	"github.com/rs/zerolog"
)

// Peer is the narrow interface the registry needs from a signaling
// channel: an id and a way to push a serialized event to it. Per-peer
// send errors are swallowed by Broadcast so one broken socket never
// starves the fanout.
type Peer interface {
	ID() string
	Send(payload []byte) error
}

// Registry tracks peer<->room membership and fans broadcasts out to
// every live peer in a room.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]map[string]Peer
	peerRoom map[string]string

	bus    eventbus.Bus
	logger zerolog.Logger
}

// New creates an empty registry. Call SetBus to attach a cross-instance
// broadcast transport; an unset bus behaves exactly like a single
// instance deployment (broadcast only reaches this process' own peers).
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]Peer),
		peerRoom: make(map[string]string),
		logger:   logger.With().Str("component", "room-registry").Logger(),
	}
}

// SetBus attaches the cross-instance broadcast transport. Call
// ReceiveRemote as the bus' Receiver so broadcasts from other instances
// reach this instance's own peers.
func (r *Registry) SetBus(bus eventbus.Bus) {
	r.mu.Lock()
	r.bus = bus
	r.mu.Unlock()
}

// JoinRoom atomically removes peer from its prior room (deleting it if
// now empty) and adds it to roomId (creating it if absent). roomId must
// be non-empty.
func (r *Registry) JoinRoom(peer Peer, roomID string) error {
	if roomID == "" {
		return errors.New("roomId must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(peer.ID())

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]Peer)
	}
	r.rooms[roomID][peer.ID()] = peer
	r.peerRoom[peer.ID()] = roomID
	return nil
}

// LeaveRoom removes peerID from whatever room it belongs to, garbage
// collecting the room if it becomes empty. A no-op for a peer that
// belongs to no room.
func (r *Registry) LeaveRoom(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(peerID)
}

func (r *Registry) removeLocked(peerID string) {
	roomID, ok := r.peerRoom[peerID]
	if !ok {
		return
	}
	delete(r.peerRoom, peerID)
	if members, ok := r.rooms[roomID]; ok {
		delete(members, peerID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// RoomOf returns the room a peer currently belongs to, or "" if none.
func (r *Registry) RoomOf(peerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerRoom[peerID]
}

// Broadcast serializes payload to JSON and writes it to every live peer
// in roomId, swallowing per-peer send errors. It also mirrors the
// broadcast across instances via the attached event bus, if any.
// Satisfies analysis.Broadcaster.
func (r *Registry) Broadcast(roomID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal broadcast payload")
		return
	}
	r.broadcastLocal(roomID, data)

	r.mu.Lock()
	bus := r.bus
	r.mu.Unlock()
	if bus != nil {
		if err := bus.Publish(eventbus.Message{RoomID: roomID, Payload: data}); err != nil {
			r.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to mirror broadcast across instances")
		}
	}
}

func (r *Registry) broadcastLocal(roomID string, data []byte) {
	r.mu.Lock()
	members := r.rooms[roomID]
	peers := make([]Peer, 0, len(members))
	for _, p := range members {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		if err := p.Send(data); err != nil {
			r.logger.Debug().Err(err).Str("peer_id", p.ID()).Msg("broadcast send failed, skipping peer")
		}
	}
}

// ReceiveRemote is wired as the event bus' Receiver: it fans a remote
// instance's broadcast out to this instance's own peers only, never
// re-publishing it back onto the bus.
func (r *Registry) ReceiveRemote(msg eventbus.Message) {
	r.broadcastLocal(msg.RoomID, msg.Payload)
}

// PeerCount returns the number of peers currently in roomId, for tests
// and diagnostics.
func (r *Registry) PeerCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}
