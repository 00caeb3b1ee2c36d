/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sfu

import (
	"fmt"
	"net"
)

// PlainTransport is the egress-side RTP/RTCP sink: a loopback UDP socket
// pair the router pushes a consumer's RTP onto, read by the external
// pipeline subprocess. Unlike WebRtcTransport this carries no DTLS/ICE —
// per spec this is "server pushes" mode, an SFU concept with no direct
// pion equivalent, so it is modeled directly as dialed UDP sockets.
type PlainTransport struct {
	ID string

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
}

// NewPlainTransport constructs an unconnected transport; call Connect to
// bind it to the pipeline's ports.
func NewPlainTransport(id string) *PlainTransport {
	return &PlainTransport{ID: id}
}

// Connect dials loopback UDP sockets for RTP and RTCP at the given ports.
func (t *PlainTransport) Connect(host string, rtpPort, rtcpPort int) error {
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("invalid host %q: not an IP address", host)
	}

	rtpAddr := &net.UDPAddr{IP: ip, Port: rtpPort}
	rtpConn, err := net.DialUDP("udp", nil, rtpAddr)
	if err != nil {
		return fmt.Errorf("dial rtp %s:%d: %w", host, rtpPort, err)
	}

	rtcpAddr := &net.UDPAddr{IP: ip, Port: rtcpPort}
	rtcpConn, err := net.DialUDP("udp", nil, rtcpAddr)
	if err != nil {
		rtpConn.Close()
		return fmt.Errorf("dial rtcp %s:%d: %w", host, rtcpPort, err)
	}

	t.rtpConn = rtpConn
	t.rtcpConn = rtcpConn
	return nil
}

// Close releases the underlying sockets. Safe to call on an unconnected
// transport, and a repeat call is a no-op.
func (t *PlainTransport) Close() error {
	var firstErr error
	if t.rtpConn != nil {
		if err := t.rtpConn.Close(); err != nil {
			firstErr = err
		}
		t.rtpConn = nil
	}
	if t.rtcpConn != nil {
		if err := t.rtcpConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.rtcpConn = nil
	}
	return firstErr
}
