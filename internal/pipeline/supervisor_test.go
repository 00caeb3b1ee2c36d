package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBuildArgsIncludesNegotiatedCodecParams(t *testing.T) {
	cfg := Config{
		Bin: "gst-launch-1.0", RTPPort: 20123, PayloadType: 111, ClockRate: 48000, Channels: 2,
		JitterLatencyMs: 50, SpoolDir: "/tmp/spool", Prefix: "room_r1_prod_p1_", ChunkSeconds: 5,
	}
	args := buildArgs(cfg)

	found := map[string]bool{}
	for _, a := range args {
		found[a] = true
	}
	if !found["port=20123"] {
		t.Fatal("expected rtp port in args")
	}
	if !found["location=/tmp/spool/room_r1_prod_p1_%05d.wav"] {
		t.Fatalf("unexpected location arg: %v", args)
	}
	if !found["max-size-time=5000000000"] {
		t.Fatalf("expected max-size-time in ns, got: %v", args)
	}
}

func TestSupervisorWaitHealthyFailsWhenProcessExitsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{Bin: "/bin/false", RTPPort: 1, PayloadType: 111, ClockRate: 48000, Channels: 2, ChunkSeconds: 1, SpoolDir: "/tmp"}
	exitCh := make(chan error, 1)
	s, err := Spawn(ctx, "sess-1", cfg, zerolog.Nop(), func(err error) { exitCh <- err })
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case <-exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected /bin/false to exit quickly")
	}

	if err := s.WaitHealthy(10); err == nil {
		t.Fatal("expected WaitHealthy to fail after early exit")
	}
}

func TestSupervisorTerminateIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{Bin: "/bin/sleep", RTPPort: 1, PayloadType: 111, ClockRate: 48000, Channels: 2, ChunkSeconds: 1, SpoolDir: "/tmp"}
	s, err := Spawn(ctx, "sess-2", cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	s.Terminate()
	s.Terminate()
}
