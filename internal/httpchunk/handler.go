/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package httpchunk implements the HTTP Chunk Forwarder (spec.md §4.H):
// the single-shot compatibility upload endpoint that forwards one audio
// chunk to the analysis service without going through egress at all.
package httpchunk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/example/voxegress/internal/analysis"
)

const (
	maxUploadBytes = 64 << 20
	defaultRoomID  = "global"
)

// Handler serves POST /upload-audio.
type Handler struct {
	forwarder   *analysis.Forwarder
	broadcaster analysis.Broadcaster
	logger      zerolog.Logger
}

// New builds an httpchunk Handler.
func New(forwarder *analysis.Forwarder, broadcaster analysis.Broadcaster, logger zerolog.Logger) *Handler {
	return &Handler{
		forwarder:   forwarder,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "http-chunk-forwarder").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// ServeHTTP stages the upload to a temp file, forwards it, broadcasts
// the verdict, and always cleans up the temp file.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no_audio")
		return
	}
	defer file.Close()

	tmpPath, err := stageUpload(file)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to stage uploaded audio")
		writeError(w, http.StatusInternalServerError, "stage_failed")
		return
	}
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn().Err(err).Str("file", tmpPath).Msg("failed to remove staged upload")
		}
	}()

	roomID := r.FormValue("roomId")
	if roomID == "" {
		roomID = defaultRoomID
	}

	staged, err := os.Open(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stage_failed")
		return
	}
	defer staged.Close()

	fields := analysis.Fields{
		RoomID:      roomID,
		Seq:         r.FormValue("seq"),
		Timestamp:   r.FormValue("timestamp"),
		ClientID:    r.FormValue("clientId"),
		ContextHint: r.FormValue("context_hint"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.forwarder.Timeout())
	defer cancel()

	verdict, err := h.forwarder.ForwardAndBroadcast(ctx, analysis.Audio{Reader: staged, Filename: "chunk.wav"}, fields, roomID, h.broadcaster)
	if err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("analysis forward failed")
		if fe, ok := err.(*analysis.ForwardError); ok {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":         "forward_failed",
				"detail":        err.Error(),
				"python_status": fe.Status,
				"python_body":   fe.Body,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "forward_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

func stageUpload(src io.Reader) (string, error) {
	dst, err := os.CreateTemp("", "voxegress-upload-*.audio")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
