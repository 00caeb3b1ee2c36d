/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signaling

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/example/voxegress/internal/sfu"
)

// Peer is one signaling channel's server-side state: the websocket
// connection plus every SFU object this peer owns. It satisfies
// rooms.Peer so the Room Registry can broadcast to it directly.
type Peer struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context

	writeMu sync.Mutex

	mu         sync.Mutex
	role       string
	transports map[string]*sfu.WebRtcTransport
	producers  map[string]*sfu.Producer
}

func newPeer(id string, conn *websocket.Conn, ctx context.Context) *Peer {
	return &Peer{
		id:         id,
		conn:       conn,
		ctx:        ctx,
		transports: make(map[string]*sfu.WebRtcTransport),
		producers:  make(map[string]*sfu.Producer),
	}
}

// ID satisfies rooms.Peer.
func (p *Peer) ID() string { return p.id }

// Send writes a pre-serialized event to this peer's socket. Writes are
// serialized with a mutex because broadcasts from other goroutines (room
// fanout, analysis verdicts) can race this peer's own reply writes.
func (p *Peer) Send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(p.ctx, websocket.MessageText, payload)
}

func (p *Peer) setRole(role string) {
	p.mu.Lock()
	p.role = role
	p.mu.Unlock()
}

func (p *Peer) getRole() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *Peer) addTransport(t *sfu.WebRtcTransport) {
	p.mu.Lock()
	p.transports[t.ID] = t
	p.mu.Unlock()
}

func (p *Peer) removeTransport(id string) {
	p.mu.Lock()
	delete(p.transports, id)
	p.mu.Unlock()
}

func (p *Peer) getTransport(id string) (*sfu.WebRtcTransport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[id]
	return t, ok
}

func (p *Peer) addProducer(prod *sfu.Producer) {
	p.mu.Lock()
	p.producers[prod.ID] = prod
	p.mu.Unlock()
}

func (p *Peer) removeProducer(id string) {
	p.mu.Lock()
	delete(p.producers, id)
	p.mu.Unlock()
}

func (p *Peer) getProducer(id string) (*sfu.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.producers[id]
	return prod, ok
}

// snapshot returns every transport and producer id this peer currently
// owns, for disconnect cleanup.
func (p *Peer) snapshot() (transports []*sfu.WebRtcTransport, producerIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	for id := range p.producers {
		producerIDs = append(producerIDs, id)
	}
	return transports, producerIDs
}
