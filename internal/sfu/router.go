/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sfu is a thin Selective Forwarding Unit built on pion/webrtc.
// It exposes the primitives the Egress Supervisor composes — a Router,
// WebRtcTransport, PlainTransport, Producer and Consumer — with the same
// shape a mediasoup-style SFU would, since the browser-facing wire
// contract (createWebRtcTransport's iceParameters/dtlsParameters
// response) is fixed by the signaling protocol and cannot be renegotiated
// to pion's higher-level SDP API.
package sfu

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const (
	OpusPayloadType uint8 = 111
	OpusClockRate    = 48000
	OpusChannels     = 2
)

// Config configures the router's ICE/port behavior.
type Config struct {
	RTCMinPort  uint16
	RTCMaxPort  uint16
	AnnouncedIP string
}

// Router holds the shared media engine and advertises a single Opus
// codec, matching the one codec the external pipeline (§6.4) expects.
type Router struct {
	mu  sync.Mutex
	cfg Config
	api *webrtc.API

	mediaEngine *webrtc.MediaEngine
	settings    webrtc.SettingEngine
}

// RtpCapabilities is the capabilities blob returned verbatim to clients
// over signaling in response to getRouterRtpCapabilities.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

type RtpCodecCapability struct {
	MimeType   string `json:"mimeType"`
	ClockRate  int    `json:"clockRate"`
	Channels   int    `json:"channels"`
	PayloadType uint8  `json:"payloadType"`
}

// NewRouter builds the shared MediaEngine/API used by every transport the
// router creates.
func NewRouter(cfg Config) (*Router, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   OpusClockRate,
			Channels:    OpusChannels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: webrtc.PayloadType(OpusPayloadType),
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	var settings webrtc.SettingEngine
	if cfg.RTCMinPort != 0 && cfg.RTCMaxPort != 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.RTCMinPort, cfg.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		settings.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(settings))

	return &Router{cfg: cfg, api: api, mediaEngine: m, settings: settings}, nil
}

// RtpCapabilities returns the single Opus codec this router advertises.
func (r *Router) RtpCapabilities() RtpCapabilities {
	return RtpCapabilities{Codecs: []RtpCodecCapability{{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   OpusClockRate,
		Channels:    OpusChannels,
		PayloadType: OpusPayloadType,
	}}}
}
