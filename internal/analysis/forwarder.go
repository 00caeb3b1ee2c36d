/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package analysis forwards audio segments/chunks to the downstream
// speech-analysis HTTP service and dispatches the resulting verdict to a
// room (spec.md §4.D).
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Fields are the string fields carried alongside the audio in every
// forward, per spec.md §6.3.
type Fields struct {
	RoomID      string
	Seq         string
	Timestamp   string
	ClientID    string
	ContextHint string
}

// Audio is the audio to forward: a reader over its bytes (an opened
// segment file or a staged upload) and the filename sent with it.
type Audio struct {
	Reader   io.Reader
	Filename string
}

// Verdict is the decoded JSON response from the analysis service. It is
// kept as a generic map rather than a fixed struct because spec.md §6.3
// requires unknown fields to pass through unchanged to the HTTP chunk
// forwarder's reply.
type Verdict map[string]any

// ChunkID, NewInsights and Gate pull out the fields this module acts on;
// everything else in the verdict is forwarded untouched by its caller.
func (v Verdict) ChunkID() string {
	s, _ := v["chunk_id"].(string)
	return s
}

func (v Verdict) NewInsights() []any {
	arr, _ := v["new_insights"].([]any)
	return arr
}

func (v Verdict) Gate() any {
	return v["gate"]
}

func (v Verdict) MemoryState() any {
	return v["memory_state"]
}

// ForwardError carries the upstream HTTP status and a body snippet, per
// spec.md §4.D's error contract.
type ForwardError struct {
	Status int
	Body   string
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("analysis service returned %d: %s", e.Status, e.Body)
}

// Forwarder posts audio to the configured analysis endpoint.
type Forwarder struct {
	url    string
	client *http.Client
}

// New builds a Forwarder with the given endpoint and end-to-end timeout
// (spec.md default 120s).
func New(url string, timeout time.Duration) *Forwarder {
	return &Forwarder{url: url, client: &http.Client{Timeout: timeout}}
}

// Timeout returns the end-to-end timeout this Forwarder was configured
// with, so callers can size their own request context to match
// PYTHON_TIMEOUT_MS instead of hardcoding a duration that would drift
// from it.
func (f *Forwarder) Timeout() time.Duration {
	return f.client.Timeout
}

// Forward POSTs the audio and fields as multipart/form-data and returns
// the parsed verdict.
func (f *Forwarder) Forward(ctx context.Context, audio Audio, fields Fields) (Verdict, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", audio.Filename)
	if err != nil {
		return nil, fmt.Errorf("create audio form field: %w", err)
	}
	if _, err := io.Copy(part, audio.Reader); err != nil {
		return nil, fmt.Errorf("copy audio into request body: %w", err)
	}

	for name, value := range map[string]string{
		"roomId":       fields.RoomID,
		"seq":          fields.Seq,
		"timestamp":    fields.Timestamp,
		"clientId":     fields.ClientID,
		"context_hint": fields.ContextHint,
	} {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, body)
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &ForwardError{Status: resp.StatusCode, Body: snippet}
	}

	var verdict Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return verdict, nil
}

// Broadcaster is the narrow slice of the Room Registry this package
// needs, kept local to avoid an import cycle between analysis and rooms.
type Broadcaster interface {
	Broadcast(roomID string, payload any)
}

// Broadcast is the server-initiated event shape dispatched to peers
// after a forward: type is "insights" when new_insights is non-empty,
// else "gate".
type Broadcast struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	ChunkID     string `json:"chunk_id"`
	Gate        any    `json:"gate,omitempty"`
	NewInsights []any  `json:"new_insights,omitempty"`
	MemoryState any    `json:"memory_state,omitempty"`
	ReceivedAt  string `json:"received_at"`
}

// ForwardAndBroadcast calls Forward, then dispatches the resulting
// verdict to roomId via registry.
func (f *Forwarder) ForwardAndBroadcast(ctx context.Context, audio Audio, fields Fields, roomID string, registry Broadcaster) (Verdict, error) {
	verdict, err := f.Forward(ctx, audio, fields)
	if err != nil {
		return nil, err
	}

	eventType := "gate"
	insights := verdict.NewInsights()
	if len(insights) > 0 {
		eventType = "insights"
	}

	registry.Broadcast(roomID, Broadcast{
		Type:        eventType,
		RoomID:      roomID,
		ChunkID:     verdict.ChunkID(),
		Gate:        verdict.Gate(),
		NewInsights: insights,
		MemoryState: verdict.MemoryState(),
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})

	return verdict, nil
}
