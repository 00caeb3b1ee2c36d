/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sfu

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Consumer reads RTP from a producer's track and re-writes it out a
// plain transport's UDP socket, rewriting the sequence number and SSRC
// for a continuous outbound stream the same way the teacher's broadcast
// RTP relay does across track changes.
type Consumer struct {
	ID string

	producer  *Producer
	transport *PlainTransport
	logger    zerolog.Logger

	mu        sync.Mutex
	closed    bool
	stopCh    chan struct{}
	done      chan struct{}
	closeCBs  []func()
	ssrc      uint32
	seqNum    uint16
}

// Consume starts relaying the producer's track out the plain transport.
// The producer must already have a negotiated track (i.e. Produce has
// received at least one RTP packet) before this is called.
func (t *PlainTransport) Consume(id string, producer *Producer, logger zerolog.Logger) (*Consumer, error) {
	track := producer.Track()
	if track == nil {
		return nil, errors.New("producer has no negotiated track yet")
	}

	c := &Consumer{
		ID:        id,
		producer:  producer,
		transport: t,
		logger:    logger.With().Str("consumer_id", id).Logger(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		ssrc:      uint32(track.SSRC()),
	}

	go c.run(track)
	return c, nil
}

func (c *Consumer) run(track *webrtc.TrackRemote) {
	defer close(c.done)

	packet := &rtp.Packet{}
	buf := make([]byte, 1500)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.markClosed()
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Debug().Err(err).Msg("consumer track read error")
			continue
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			c.logger.Debug().Err(err).Msg("invalid rtp packet")
			continue
		}

		c.mu.Lock()
		c.seqNum++
		packet.SequenceNumber = c.seqNum
		packet.SSRC = c.ssrc
		c.mu.Unlock()

		out, err := packet.Marshal()
		if err != nil {
			c.logger.Debug().Err(err).Msg("rtp marshal error")
			continue
		}

		if _, err := c.transport.rtpConn.Write(out); err != nil {
			c.logger.Debug().Err(err).Msg("rtp forward write error")
		}
	}
}

// markClosed flags the consumer closed from within its own relay
// goroutine (track EOF), without blocking on <-c.done the way Close
// does — that channel is only closed after this goroutine returns.
func (c *Consumer) markClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	cbs := c.closeCBs
	c.closeCBs = nil
	c.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// OnTransportClose registers a callback fired when the consumer stops,
// mirroring Producer.OnClose's fire-once, id-only-capture shape.
func (c *Consumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.closeCBs = append(c.closeCBs, fn)
	c.mu.Unlock()
}

// Close stops the relay goroutine and fires close callbacks. Safe to
// call more than once; subsequent calls are no-ops.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stopCh)
	cbs := c.closeCBs
	c.closeCBs = nil
	c.mu.Unlock()

	<-c.done
	for _, cb := range cbs {
		cb()
	}
	return nil
}
