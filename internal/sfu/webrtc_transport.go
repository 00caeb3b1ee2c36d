/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sfu

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// WebRtcTransport is the browser-facing half of a publisher's connection.
// It is built on pion's ORTC primitives (ICE/DTLS transports) rather than
// the SDP-offer PeerConnection API, because createWebRtcTransport's reply
// shape — iceParameters, iceCandidates, dtlsParameters, sctpParameters —
// is the mediasoup-style contract the browser client speaks.
type WebRtcTransport struct {
	ID string

	router *Router

	mu        sync.Mutex
	gatherer  *webrtc.ICEGatherer
	ice       *webrtc.ICETransport
	dtls      *webrtc.DTLSTransport
	sctp      *webrtc.SCTPTransport
	closeHook func()

	producers map[string]*Producer
}

// TransportDescriptor is the createWebRtcTransport response payload.
type TransportDescriptor struct {
	ID              string                  `json:"id"`
	ICEParameters   webrtc.ICEParameters    `json:"iceParameters"`
	ICECandidates   []webrtc.ICECandidate   `json:"iceCandidates"`
	DTLSParameters  webrtc.DTLSParameters   `json:"dtlsParameters"`
	SCTPParameters  webrtc.SCTPCapabilities `json:"sctpParameters"`
}

// CreateWebRtcTransport gathers local ICE candidates and builds the
// ICE/DTLS/SCTP transport stack, returning the descriptor to hand back to
// the browser over signaling.
func (r *Router) CreateWebRtcTransport() (*WebRtcTransport, TransportDescriptor, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("new ice gatherer: %w", err)
	}

	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("new dtls transport: %w", err)
	}
	sctp := r.api.NewSCTPTransport(dtls)

	gatherFinished := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherFinished)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("gather ice candidates: %w", err)
	}
	<-gatherFinished

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("get ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("get ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, TransportDescriptor{}, fmt.Errorf("get dtls parameters: %w", err)
	}

	id := uuid.NewString()
	t := &WebRtcTransport{
		ID:        id,
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		sctp:      sctp,
		producers: make(map[string]*Producer),
	}

	return t, TransportDescriptor{
		ID:             id,
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
		SCTPParameters: sctp.GetCapabilities(),
	}, nil
}

// Connect completes the ICE/DTLS handshake using the remote's
// dtlsParameters from the connectTransport signaling call.
func (t *WebRtcTransport) Connect(remoteDTLS webrtc.DTLSParameters) error {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("get local ice parameters: %w", err)
	}
	controlled := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &controlled); err != nil {
		return fmt.Errorf("start ice transport: %w", err)
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		return fmt.Errorf("start dtls transport: %w", err)
	}
	return nil
}

// OnClose registers a callback invoked when the transport is closed.
func (t *WebRtcTransport) OnClose(fn func()) {
	t.mu.Lock()
	t.closeHook = fn
	t.mu.Unlock()
}

// Produce creates a producer for an inbound audio track and returns a
// handle to it.
func (t *WebRtcTransport) Produce(kind string, ssrc webrtc.SSRC) (*Producer, error) {
	receiver, err := t.router.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}

	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: ssrc}}},
	}); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	p := newProducer(uuid.NewString(), kind, receiver)

	t.mu.Lock()
	t.producers[p.ID] = p
	t.mu.Unlock()

	return p, nil
}

// Close tears down the ICE/DTLS/SCTP stack and every producer it owns.
func (t *WebRtcTransport) Close() error {
	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.producers = make(map[string]*Producer)
	hook := t.closeHook
	t.mu.Unlock()

	for _, p := range producers {
		_ = p.Close()
	}

	var firstErr error
	if t.sctp != nil {
		if err := t.sctp.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.dtls != nil {
		if err := t.dtls.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.ice != nil {
		if err := t.ice.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if hook != nil {
		hook()
	}
	return firstErr
}
