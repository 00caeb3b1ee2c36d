/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signaling implements the Signaling Endpoint (spec.md §4.F):
// one bidirectional JSON-over-websocket channel per peer, dispatching
// actions to the SFU router, the Room Registry and the Egress
// Supervisor.
package signaling

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/example/voxegress/internal/egress"
	"github.com/example/voxegress/internal/rooms"
	"github.com/example/voxegress/internal/sfu"
)

// Request is the client->server envelope (spec.md §6.1).
type Request struct {
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Reply is the server->client response envelope.
type Reply struct {
	RequestID string `json:"requestId,omitempty"`
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type welcomeEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

const defaultRoomID = "global"

// Handler wires the signaling websocket endpoint to the SFU router, the
// Room Registry and the Egress Supervisor.
type Handler struct {
	router     *sfu.Router
	registry   *rooms.Registry
	egress     *egress.Supervisor
	autoEgress bool
	logger     zerolog.Logger
}

// New builds a signaling Handler.
func New(router *sfu.Router, registry *rooms.Registry, egressSup *egress.Supervisor, autoEgress bool, logger zerolog.Logger) *Handler {
	return &Handler{
		router:     router,
		registry:   registry,
		egress:     egressSup,
		autoEgress: autoEgress,
		logger:     logger.With().Str("component", "signaling").Logger(),
	}
}

// ServeHTTP upgrades the request to a websocket and runs the peer's read
// loop until disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	peerID := uuid.NewString()
	peer := newPeer(peerID, conn, ctx)
	log := h.logger.With().Str("peer_id", peerID).Logger()

	log.Info().Msg("peer connected")
	defer h.cleanup(peer, log)

	if err := wsjson.Write(ctx, conn, welcomeEvent{Type: "welcome", ID: peerID}); err != nil {
		log.Debug().Err(err).Msg("failed to send welcome event")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Info().Msg("peer disconnected")
			} else {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		reply := h.dispatch(ctx, peer, req, log)
		reply.RequestID = req.RequestID
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			log.Debug().Err(err).Msg("failed to write reply")
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, peer *Peer, req Request, log zerolog.Logger) Reply {
	switch req.Action {
	case "joinRoom":
		return h.handleJoinRoom(peer, req)
	case "setRole":
		return h.handleSetRole(peer, req)
	case "getRouterRtpCapabilities":
		return Reply{OK: true, Data: h.router.RtpCapabilities()}
	case "createWebRtcTransport":
		return h.handleCreateTransport(peer)
	case "connectTransport":
		return h.handleConnectTransport(peer, req)
	case "produce":
		return h.handleProduce(ctx, peer, req, log)
	case "startEgress":
		return h.handleStartEgress(ctx, peer, req)
	case "stopEgress":
		return h.handleStopEgress(peer, req)
	default:
		return Reply{OK: false, Error: "unknown_action"}
	}
}

type joinRoomData struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) handleJoinRoom(peer *Peer, req Request) Reply {
	var data joinRoomData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	if err := h.registry.JoinRoom(peer, data.RoomID); err != nil {
		return Reply{OK: false, Error: err.Error()}
	}
	return Reply{OK: true, Data: joinRoomData{RoomID: data.RoomID}}
}

type setRoleData struct {
	Role string `json:"role"`
}

func (h *Handler) handleSetRole(peer *Peer, req Request) Reply {
	var data setRoleData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	peer.setRole(data.Role)
	return Reply{OK: true, Data: data}
}

func (h *Handler) handleCreateTransport(peer *Peer) Reply {
	transport, descriptor, err := h.router.CreateWebRtcTransport()
	if err != nil {
		return Reply{OK: false, Error: err.Error()}
	}
	transport.OnClose(func() {
		peer.removeTransport(transport.ID)
	})
	peer.addTransport(transport)
	return Reply{OK: true, Data: descriptor}
}

type connectTransportData struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

func (h *Handler) handleConnectTransport(peer *Peer, req Request) Reply {
	var data connectTransportData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	transport, ok := peer.getTransport(data.TransportID)
	if !ok {
		return Reply{OK: false, Error: "unknown_transport"}
	}
	if err := transport.Connect(data.DTLSParameters); err != nil {
		return Reply{OK: false, Error: err.Error()}
	}
	return Reply{OK: true, Data: map[string]any{}}
}

type rtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type rtpParameters struct {
	Encodings []rtpEncoding `json:"encodings"`
}

type produceData struct {
	TransportID   string        `json:"transportId"`
	Kind          string        `json:"kind"`
	RtpParameters rtpParameters `json:"rtpParameters"`
}

func (h *Handler) handleProduce(ctx context.Context, peer *Peer, req Request, log zerolog.Logger) Reply {
	var data produceData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	transport, ok := peer.getTransport(data.TransportID)
	if !ok {
		return Reply{OK: false, Error: "unknown_transport"}
	}

	var ssrc webrtc.SSRC
	if len(data.RtpParameters.Encodings) > 0 {
		ssrc = webrtc.SSRC(data.RtpParameters.Encodings[0].SSRC)
	}

	producer, err := transport.Produce(data.Kind, ssrc)
	if err != nil {
		return Reply{OK: false, Error: err.Error()}
	}

	producer.OnClose(func() {
		peer.removeProducer(producer.ID)
	})
	peer.addProducer(producer)

	if h.autoEgress {
		roomID := h.registry.RoomOf(peer.id)
		if roomID == "" {
			roomID = defaultRoomID
		}
		go func() {
			if _, err := h.egress.StartEgress(ctx, roomID, peer.id, peer.getRole(), producer.ID, producer); err != nil {
				log.Warn().Err(err).Str("producer_id", producer.ID).Msg("auto-egress failed to start")
			}
		}()
	}

	return Reply{OK: true, Data: map[string]string{"id": producer.ID}}
}

type startEgressData struct {
	ProducerID string `json:"producerId"`
}

func (h *Handler) handleStartEgress(ctx context.Context, peer *Peer, req Request) Reply {
	var data startEgressData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	producer, ok := peer.getProducer(data.ProducerID)
	if !ok {
		return Reply{OK: false, Error: "unknown_producer"}
	}

	roomID := h.registry.RoomOf(peer.id)
	if roomID == "" {
		roomID = defaultRoomID
	}

	descriptor, err := h.egress.StartEgress(ctx, roomID, peer.id, peer.getRole(), data.ProducerID, producer)
	if err != nil {
		return Reply{OK: false, Error: err.Error()}
	}
	return Reply{OK: true, Data: descriptor}
}

type stopEgressData struct {
	ProducerID string `json:"producerId"`
}

func (h *Handler) handleStopEgress(peer *Peer, req Request) Reply {
	var data stopEgressData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reply{OK: false, Error: "invalid_data"}
	}
	result := h.egress.StopEgress(data.ProducerID)
	return Reply{OK: true, Data: result}
}

// cleanup runs on disconnect: stop every egress session the peer owns,
// close every transport (which in turn closes its producers), and
// remove the peer from its room.
func (h *Handler) cleanup(peer *Peer, log zerolog.Logger) {
	transports, producerIDs := peer.snapshot()

	for _, producerID := range producerIDs {
		h.egress.StopEgress(producerID)
	}
	for _, t := range transports {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("transport_id", t.ID).Msg("transport close error during cleanup")
		}
	}
	h.registry.LeaveRoom(peer.id)
	log.Info().Msg("peer cleaned up")
}
