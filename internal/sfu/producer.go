/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sfu

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Producer is a publisher's inbound audio track, bound to a transport's
// RTP receiver.
type Producer struct {
	ID   string
	Kind string

	mu       sync.Mutex
	receiver *webrtc.RTPReceiver
	closed   bool
	closeCBs []func()
}

func newProducer(id, kind string, receiver *webrtc.RTPReceiver) *Producer {
	return &Producer{ID: id, Kind: kind, receiver: receiver}
}

// Track returns the remote track carrying this producer's RTP stream, or
// nil if the receiver has no track yet.
func (p *Producer) Track() *webrtc.TrackRemote {
	tracks := p.receiver.Tracks()
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

// PayloadType, ClockRate and Channels describe the negotiated codec, used
// by the Egress Supervisor to configure the pipeline subprocess. They
// fall back to the router's single advertised Opus codec when no track
// has been negotiated yet.
func (p *Producer) PayloadType() uint8 {
	if t := p.Track(); t != nil {
		return uint8(t.PayloadType())
	}
	return OpusPayloadType
}

func (p *Producer) ClockRate() uint32 {
	if t := p.Track(); t != nil && t.Codec().ClockRate != 0 {
		return t.Codec().ClockRate
	}
	return OpusClockRate
}

func (p *Producer) Channels() uint16 {
	if t := p.Track(); t != nil && t.Codec().Channels != 0 {
		return t.Codec().Channels
	}
	return OpusChannels
}

// OnClose registers a callback invoked exactly once when the producer is
// closed, whichever path triggers it first (explicit Close, or transport
// teardown). This is how the Egress Supervisor learns to stop a session
// without holding a reference cycle back into the session registry — the
// callback closes over the producer id, not the session.
func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.mu.Unlock()
		fn()
		p.mu.Lock()
		return
	}
	p.closeCBs = append(p.closeCBs, fn)
}

// Close stops the underlying receiver and fires close callbacks. Safe to
// call more than once.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cbs := p.closeCBs
	p.closeCBs = nil
	p.mu.Unlock()

	err := p.receiver.Stop()
	for _, cb := range cbs {
		cb()
	}
	return err
}
