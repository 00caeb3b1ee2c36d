package egress

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/example/voxegress/internal/pipeline"
	"github.com/example/voxegress/internal/sfu"
)

type fakeBroadcaster struct {
	calls int
}

func (f *fakeBroadcaster) Broadcast(roomID string, payload any) { f.calls++ }

// fakeConsumer and fakePipeline stand in for the real sfu.Consumer and
// pipeline.Supervisor so a test can drive StartEgress's retry loop
// without a bound UDP port, a negotiated RTP track or a real transcoder
// subprocess.
type fakeConsumer struct{}

func (fakeConsumer) Close() error            { return nil }
func (fakeConsumer) OnTransportClose(func()) {}

type fakePipeline struct{}

func (fakePipeline) WaitHealthy(int) error { return nil }
func (fakePipeline) Terminate()            {}

// audioProducer builds a real *sfu.Producer (Kind "audio", no negotiated
// track yet) via the exported Router/WebRtcTransport API, so
// provisionOnce's calls to producer.PayloadType/ClockRate/Channels hit
// the real fallback-to-Opus-defaults path instead of a nil receiver.
func audioProducer(t *testing.T) *sfu.Producer {
	t.Helper()
	router, err := sfu.NewRouter(sfu.Config{RTCMinPort: 21000, RTCMaxPort: 21050})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	transport, _, err := router.CreateWebRtcTransport()
	if err != nil {
		t.Fatalf("create webrtc transport: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })
	producer, err := transport.Produce("audio", webrtc.SSRC(1))
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	return producer
}

func TestStopEgressIsIdempotentForUnknownProducer(t *testing.T) {
	s := New(Config{MaxPortRetries: 1}, nil, &fakeBroadcaster{}, zerolog.Nop())

	first := s.StopEgress("no-such-producer")
	if !first.OK || !first.AlreadyStopped {
		t.Fatalf("expected already-stopped result for unknown producer, got %+v", first)
	}

	second := s.StopEgress("no-such-producer")
	if !second.AlreadyStopped {
		t.Fatalf("expected idempotent repeat call, got %+v", second)
	}
}

func TestStartEgressReturnsAlreadyRunningForExistingSession(t *testing.T) {
	s := New(Config{MaxPortRetries: 1}, nil, &fakeBroadcaster{}, zerolog.Nop())

	existing := &session{
		producerID: "p1",
		roomID:     "room-a",
		state:      StateRunning,
		descriptor: Descriptor{OK: true, ProducerID: "p1", RoomID: "room-a", Attempt: 1},
	}
	s.mu.Lock()
	s.sessions["p1"] = existing
	s.mu.Unlock()

	desc, err := s.StartEgress(context.Background(), "room-a", "peer-1", "publisher", "p1", nil)
	if err != nil {
		t.Fatalf("start egress: %v", err)
	}
	if !desc.AlreadyRunning {
		t.Fatalf("expected alreadyRunning=true, got %+v", desc)
	}
	if desc.ProducerID != "p1" || desc.RoomID != "room-a" {
		t.Fatalf("expected descriptor to reflect the existing session, got %+v", desc)
	}
}

func TestStopEgressRemovesSessionAndIsIdempotentAfterwards(t *testing.T) {
	s := New(Config{MaxPortRetries: 1}, nil, &fakeBroadcaster{}, zerolog.Nop())

	sess := &session{producerID: "p2", roomID: "room-a", state: StateRunning}
	s.mu.Lock()
	s.sessions["p2"] = sess
	s.mu.Unlock()

	first := s.StopEgress("p2")
	if first.AlreadyStopped {
		t.Fatal("expected the first stop call to report a fresh teardown")
	}
	if s.SessionCount() != 0 {
		t.Fatalf("expected session to be removed, count=%d", s.SessionCount())
	}

	second := s.StopEgress("p2")
	if !second.AlreadyStopped {
		t.Fatal("expected a repeat stop call to report alreadyStopped")
	}
}

func TestProvisionErrorWrapsCause(t *testing.T) {
	cause := errors.New("port bind race")
	err := &ProvisionError{ProducerID: "p3", Attempts: 10, Cause: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected ProvisionError to unwrap to its cause")
	}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

// TestStartEgressRejectsNonAudioProducer covers spec.md §8's boundary:
// startEgress on a non-audio producer must error rather than silently
// provisioning a pipeline for it.
func TestStartEgressRejectsNonAudioProducer(t *testing.T) {
	s := New(Config{MaxPortRetries: 1}, nil, &fakeBroadcaster{}, zerolog.Nop())

	router, err := sfu.NewRouter(sfu.Config{RTCMinPort: 21100, RTCMaxPort: 21150})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	transport, _, err := router.CreateWebRtcTransport()
	if err != nil {
		t.Fatalf("create webrtc transport: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })
	producer, err := transport.Produce("video", webrtc.SSRC(2))
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if _, err := s.StartEgress(context.Background(), "room-a", "peer-1", "publisher", "p-video", producer); err == nil {
		t.Fatal("expected an error for a non-audio producer")
	}
	if s.SessionCount() != 0 {
		t.Fatalf("expected no session to be created, count=%d", s.SessionCount())
	}
}

// TestStartEgressSucceedsOnAttemptThreeAfterPortContention drives the
// real StartEgress/provisionOnce retry loop (spec.md scenario S4): the
// first two attempts lose the port-allocation race, and the third
// succeeds, landing the session in StateRunning with attempt:3.
func TestStartEgressSucceedsOnAttemptThreeAfterPortContention(t *testing.T) {
	s := New(Config{
		Loopback:       "127.0.0.1",
		SpoolDir:       t.TempDir(),
		WatchPollMs:    50,
		MaxPortRetries: 5,
	}, nil, &fakeBroadcaster{}, zerolog.Nop())

	var calls int
	s.allocatePort = func(host string) (int, error) {
		calls++
		// A failed rtp allocation ends the attempt before the rtcp
		// allocation, so attempts 1 and 2 each make one call; fail those
		// two and succeed from attempt 3 on (rtp+rtcp, calls 3 and 4).
		if calls <= 2 {
			return 0, errors.New("port bind race")
		}
		return 30000 + calls, nil
	}
	s.buildConsumer = func(plain *sfu.PlainTransport, id string, producer *sfu.Producer, logger zerolog.Logger) (consumerHandle, error) {
		return fakeConsumer{}, nil
	}
	s.spawnPipeline = func(ctx context.Context, id string, cfg pipeline.Config, logger zerolog.Logger, onExit func(error)) (pipelineHandle, error) {
		return fakePipeline{}, nil
	}

	producer := audioProducer(t)
	desc, err := s.StartEgress(context.Background(), "room-a", "peer-1", "publisher", "p-retry", producer)
	if err != nil {
		t.Fatalf("start egress: %v", err)
	}
	if desc.Attempt != 3 {
		t.Fatalf("expected session to land on attempt 3, got %+v", desc)
	}
	if !desc.OK {
		t.Fatalf("expected ok descriptor, got %+v", desc)
	}

	s.StopEgress("p-retry")
}

// TestStartEgressReturnsProvisionErrorAfterExhaustingRetries covers
// spec.md §8 testable property 7: a start that fails every attempt
// returns a *ProvisionError reporting exactly MaxPortRetries attempts,
// and leaves no session behind.
func TestStartEgressReturnsProvisionErrorAfterExhaustingRetries(t *testing.T) {
	s := New(Config{
		Loopback:       "127.0.0.1",
		SpoolDir:       t.TempDir(),
		MaxPortRetries: 3,
	}, nil, &fakeBroadcaster{}, zerolog.Nop())

	s.allocatePort = func(host string) (int, error) {
		return 0, errors.New("port bind race")
	}

	producer := audioProducer(t)
	_, err := s.StartEgress(context.Background(), "room-a", "peer-1", "publisher", "p-exhaust", producer)
	if err == nil {
		t.Fatal("expected provisioning to fail after exhausting retries")
	}

	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("expected a *ProvisionError, got %T: %v", err, err)
	}
	if provisionErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", provisionErr.Attempts)
	}
	if s.SessionCount() != 0 {
		t.Fatalf("expected no session left behind, count=%d", s.SessionCount())
	}
}
