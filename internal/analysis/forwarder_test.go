package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeBroadcaster struct {
	roomID  string
	payload any
	calls   int
}

func (f *fakeBroadcaster) Broadcast(roomID string, payload any) {
	f.calls++
	f.roomID = roomID
	f.payload = payload
}

func TestForwardRoundTripsFieldsAndParsesVerdict(t *testing.T) {
	var gotRoomID, gotSeq string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("server parse multipart: %v", err)
		}
		gotRoomID = r.FormValue("roomId")
		gotSeq = r.FormValue("seq")
		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("server read audio field: %v", err)
		}
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chunk_id":"c1","gate":{"v":0},"new_insights":[],"memory_state":null}`))
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second)
	verdict, err := f.Forward(context.Background(), Audio{Reader: strings.NewReader("wav-bytes"), Filename: "chunk.webm"}, Fields{RoomID: "room-1", Seq: "1"})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if gotRoomID != "room-1" || gotSeq != "1" {
		t.Fatalf("fields did not round-trip: roomId=%q seq=%q", gotRoomID, gotSeq)
	}
	if verdict.ChunkID() != "c1" {
		t.Fatalf("unexpected chunk id: %q", verdict.ChunkID())
	}
	if len(verdict.NewInsights()) != 0 {
		t.Fatalf("expected no insights, got %v", verdict.NewInsights())
	}
}

func TestForwardReturnsForwardErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second)
	_, err := f.Forward(context.Background(), Audio{Reader: strings.NewReader("x"), Filename: "a.wav"}, Fields{})
	if err == nil {
		t.Fatal("expected error")
	}
	fe, ok := err.(*ForwardError)
	if !ok {
		t.Fatalf("expected *ForwardError, got %T", err)
	}
	if fe.Status != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", fe.Status)
	}
}

func TestForwardAndBroadcastDispatchesInsightsWhenPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chunk_id":"c2","new_insights":[{"type":"insight","text":"x"}]}`))
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second)
	b := &fakeBroadcaster{}
	_, err := f.ForwardAndBroadcast(context.Background(), Audio{Reader: strings.NewReader("x"), Filename: "a.wav"}, Fields{}, "room-9", b)
	if err != nil {
		t.Fatalf("forward and broadcast: %v", err)
	}
	if b.calls != 1 || b.roomID != "room-9" {
		t.Fatalf("expected one broadcast to room-9, got calls=%d room=%q", b.calls, b.roomID)
	}
	bc, ok := b.payload.(Broadcast)
	if !ok {
		t.Fatalf("expected Broadcast payload, got %T", b.payload)
	}
	if bc.Type != "insights" {
		t.Fatalf("expected insights event type, got %q", bc.Type)
	}
}

func TestForwardAndBroadcastDispatchesGateWhenNoInsights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chunk_id":"c3","new_insights":[],"gate":{"v":1}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second)
	b := &fakeBroadcaster{}
	if _, err := f.ForwardAndBroadcast(context.Background(), Audio{Reader: strings.NewReader("x"), Filename: "a.wav"}, Fields{}, "room-9", b); err != nil {
		t.Fatalf("forward and broadcast: %v", err)
	}
	bc := b.payload.(Broadcast)
	if bc.Type != "gate" {
		t.Fatalf("expected gate event type, got %q", bc.Type)
	}
}
