/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package egress implements the Egress Supervisor (spec.md §4.G): for
// one producer, it provisions a plain RTP receiver, a pipeline
// subprocess and a segment poller wired to the Analysis Forwarder, with
// bounded retry and idempotent teardown.
package egress

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/voxegress/internal/analysis"
	"github.com/example/voxegress/internal/pipeline"
	"github.com/example/voxegress/internal/portalloc"
	"github.com/example/voxegress/internal/sfu"
	"github.com/example/voxegress/internal/spool"
)

// State is the per-session lifecycle state (spec.md §4.G).
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

// Config covers the process-wide settings every session is built with.
type Config struct {
	Loopback        string
	GstBin          string
	SpoolDir        string
	ChunkSeconds    int
	WatchPollMs     int
	JitterLatencyMs int
	MaxPortRetries  int
	StartupGraceMs  int
}

// Descriptor is the startEgress response payload.
type Descriptor struct {
	OK             bool   `json:"ok"`
	ProducerID     string `json:"producerId"`
	RoomID         string `json:"roomId"`
	RTPPort        int    `json:"rtpPort"`
	RTCPPort       int    `json:"rtcpPort"`
	WavPrefix      string `json:"wavPrefix"`
	ChunkSeconds   int    `json:"chunkSeconds"`
	Engine         string `json:"engine"`
	PayloadType    uint8  `json:"payloadType"`
	Attempt        int    `json:"attempt"`
	AlreadyRunning bool   `json:"alreadyRunning,omitempty"`
}

// StopResult is the stopEgress response payload.
type StopResult struct {
	OK             bool   `json:"ok"`
	ProducerID     string `json:"producerId"`
	AlreadyStopped bool   `json:"alreadyStopped,omitempty"`
}

// ProvisionError carries the last underlying failure after the retry
// budget is exhausted.
type ProvisionError struct {
	ProducerID string
	Attempts   int
	Cause      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("egress provisioning failed for producer %s after %d attempts: %v", e.ProducerID, e.Attempts, e.Cause)
}

func (e *ProvisionError) Unwrap() error { return e.Cause }

// consumerHandle is the slice of *sfu.Consumer provisionOnce needs,
// narrowed so tests can drive the retry loop with a fake that never
// touches a real negotiated track.
type consumerHandle interface {
	Close() error
	OnTransportClose(func())
}

// pipelineHandle is the slice of *pipeline.Supervisor provisionOnce
// needs, for the same reason as consumerHandle.
type pipelineHandle interface {
	WaitHealthy(graceMs int) error
	Terminate()
}

// session holds everything constructed for one producer's egress run.
type session struct {
	mu sync.Mutex

	producerID string
	roomID     string
	peerID     string
	role       string

	state   State
	attempt int

	// inFlightAttempt is the attempt number currently being provisioned
	// (or, once provisioning succeeds, the attempt that is running). A
	// pipeline's onExit callback closes over the attempt number it was
	// spawned for and compares against this before tearing the session
	// down, so a late exit notification from an attempt the retry loop
	// has already abandoned can't delete a session a later attempt is
	// still building or has already handed to the caller.
	inFlightAttempt int

	descriptor Descriptor

	plain    *sfu.PlainTransport
	consumer consumerHandle
	pipe     pipelineHandle
	poller   *spool.Poller

	stopOnce sync.Once
}

// Supervisor tracks every session keyed by producer id.
type Supervisor struct {
	cfg         Config
	forwarder   *analysis.Forwarder
	broadcaster analysis.Broadcaster
	logger      zerolog.Logger

	// allocatePort, buildConsumer and spawnPipeline default to the real
	// portalloc/sfu/pipeline calls below; tests override them to drive
	// provisionOnce's retry loop without a bound port or a negotiated
	// RTP track.
	allocatePort  func(host string) (int, error)
	buildConsumer func(plain *sfu.PlainTransport, id string, producer *sfu.Producer, logger zerolog.Logger) (consumerHandle, error)
	spawnPipeline func(ctx context.Context, id string, cfg pipeline.Config, logger zerolog.Logger, onExit func(error)) (pipelineHandle, error)

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Supervisor. broadcaster is typically the Room Registry.
func New(cfg Config, forwarder *analysis.Forwarder, broadcaster analysis.Broadcaster, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		forwarder:   forwarder,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "egress-supervisor").Logger(),
		sessions:    make(map[string]*session),

		allocatePort: portalloc.AllocateUDPPort,
		buildConsumer: func(plain *sfu.PlainTransport, id string, producer *sfu.Producer, logger zerolog.Logger) (consumerHandle, error) {
			return plain.Consume(id, producer, logger)
		},
		spawnPipeline: func(ctx context.Context, id string, cfg pipeline.Config, logger zerolog.Logger, onExit func(error)) (pipelineHandle, error) {
			return pipeline.Spawn(ctx, id, cfg, logger, onExit)
		},
	}
}

// StartEgress provisions (or returns the existing) session for
// producerId. role feeds the analysis context hint; producer supplies
// the negotiated codec parameters and the close hook that triggers
// teardown.
func (s *Supervisor) StartEgress(ctx context.Context, roomID, peerID, role, producerID string, producer *sfu.Producer) (Descriptor, error) {
	s.mu.Lock()
	if existing, ok := s.sessions[producerID]; ok {
		s.mu.Unlock()
		existing.mu.Lock()
		d := existing.descriptor
		existing.mu.Unlock()
		d.AlreadyRunning = true
		return d, nil
	}

	if producer.Kind != "audio" {
		s.mu.Unlock()
		return Descriptor{}, fmt.Errorf("egress requires an audio producer, got kind %q", producer.Kind)
	}

	sess := &session{
		producerID: producerID,
		roomID:     roomID,
		peerID:     peerID,
		role:       role,
		state:      StateProvisioning,
	}
	s.sessions[producerID] = sess
	s.mu.Unlock()

	producer.OnClose(func() {
		_ = s.StopEgress(producerID)
	})

	maxRetries := s.cfg.MaxPortRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		descriptor, err := s.provisionOnce(ctx, sess, producer, attempt)
		if err == nil {
			sess.mu.Lock()
			sess.state = StateRunning
			sess.descriptor = descriptor
			sess.mu.Unlock()
			return descriptor, nil
		}

		lastErr = err
		s.logger.Warn().Err(err).Str("producer_id", producerID).Int("attempt", attempt).Msg("egress provisioning attempt failed, retrying")
		sess.releasePartial()
	}

	s.mu.Lock()
	delete(s.sessions, producerID)
	s.mu.Unlock()

	return Descriptor{}, &ProvisionError{ProducerID: producerID, Attempts: maxRetries, Cause: lastErr}
}

func (s *Supervisor) provisionOnce(ctx context.Context, sess *session, producer *sfu.Producer, attempt int) (Descriptor, error) {
	sess.mu.Lock()
	sess.inFlightAttempt = attempt
	sess.mu.Unlock()

	host := s.cfg.Loopback
	if host == "" {
		host = "127.0.0.1"
	}

	plain := sfu.NewPlainTransport(uuid.NewString())

	rtpPort, err := s.allocatePort(host)
	if err != nil {
		return Descriptor{}, fmt.Errorf("allocate rtp port: %w", err)
	}
	rtcpPort, err := s.allocatePort(host)
	if err != nil {
		return Descriptor{}, fmt.Errorf("allocate rtcp port: %w", err)
	}

	if err := plain.Connect(host, rtpPort, rtcpPort); err != nil {
		return Descriptor{}, fmt.Errorf("connect plain transport: %w", err)
	}

	consumer, err := s.buildConsumer(plain, uuid.NewString(), producer, s.logger)
	if err != nil {
		plain.Close()
		return Descriptor{}, fmt.Errorf("create consumer: %w", err)
	}

	wavPrefix := fmt.Sprintf("room_%s_prod_%s_", sess.roomID, sess.producerID)
	pipelineCfg := pipeline.Config{
		Bin:             s.cfg.GstBin,
		RTPPort:         rtpPort,
		PayloadType:     producer.PayloadType(),
		ClockRate:       producer.ClockRate(),
		Channels:        producer.Channels(),
		JitterLatencyMs: s.cfg.JitterLatencyMs,
		SpoolDir:        s.cfg.SpoolDir,
		Prefix:          wavPrefix,
		ChunkSeconds:    s.cfg.ChunkSeconds,
	}

	pipe, err := s.spawnPipeline(ctx, sess.producerID, pipelineCfg, s.logger, func(exitErr error) {
		if exitErr == nil {
			return
		}
		sess.mu.Lock()
		stale := sess.inFlightAttempt != attempt || sess.state != StateRunning
		sess.mu.Unlock()
		if stale {
			return
		}
		_ = s.StopEgress(sess.producerID)
	})
	if err != nil {
		consumer.Close()
		plain.Close()
		return Descriptor{}, fmt.Errorf("spawn pipeline: %w", err)
	}

	if err := pipe.WaitHealthy(s.cfg.StartupGraceMs); err != nil {
		pipe.Terminate()
		consumer.Close()
		plain.Close()
		return Descriptor{}, fmt.Errorf("pipeline failed startup health gate: %w", err)
	}

	contextHint := fmt.Sprintf("egress peer=%s producer=%s role=%s", sess.peerID, sess.producerID, sess.role)
	poller := spool.Start(s.cfg.SpoolDir, wavPrefix, s.cfg.WatchPollMs, func(path string) {
		s.forwardSegment(path, sess.roomID, contextHint)
	}, s.logger)

	consumer.OnTransportClose(func() {
		_ = s.StopEgress(sess.producerID)
	})

	sess.mu.Lock()
	sess.attempt = attempt
	sess.plain = plain
	sess.consumer = consumer
	sess.pipe = pipe
	sess.poller = poller
	sess.mu.Unlock()

	return Descriptor{
		OK:           true,
		ProducerID:   sess.producerID,
		RoomID:       sess.roomID,
		RTPPort:      rtpPort,
		RTCPPort:     rtcpPort,
		WavPrefix:    wavPrefix,
		ChunkSeconds: s.cfg.ChunkSeconds,
		Engine:       s.cfg.GstBin,
		PayloadType:  producer.PayloadType(),
		Attempt:      attempt,
	}, nil
}

func (s *Supervisor) forwardSegment(path, roomID, contextHint string) {
	f, err := openForForward(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("failed to open segment for forwarding")
		return
	}
	defer f.Close()

	nowMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	fields := analysis.Fields{
		RoomID:      roomID,
		Seq:         nowMs,
		Timestamp:   nowMs,
		ContextHint: contextHint,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.forwarder.Timeout())
	defer cancel()

	if _, err := s.forwarder.ForwardAndBroadcast(ctx, analysis.Audio{Reader: f, Filename: basename(path)}, fields, roomID, s.broadcaster); err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("segment forward failed")
	}
}

// releasePartial tears down whatever subset of step 1-6 resources a
// failed attempt managed to construct, in reverse acquisition order.
func (sess *session) releasePartial() {
	sess.mu.Lock()
	poller := sess.poller
	pipe := sess.pipe
	consumer := sess.consumer
	plain := sess.plain
	sess.poller = nil
	sess.pipe = nil
	sess.consumer = nil
	sess.plain = nil
	sess.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if pipe != nil {
		pipe.Terminate()
	}
	if consumer != nil {
		consumer.Close()
	}
	if plain != nil {
		plain.Close()
	}
}

// StopEgress tears down the named session. Idempotent: a repeat call (or
// a call for a producer with no session) reports alreadyStopped.
func (s *Supervisor) StopEgress(producerID string) StopResult {
	s.mu.Lock()
	sess, ok := s.sessions[producerID]
	if ok {
		delete(s.sessions, producerID)
	}
	s.mu.Unlock()

	if !ok {
		return StopResult{OK: true, ProducerID: producerID, AlreadyStopped: true}
	}

	alreadyStopping := true
	sess.stopOnce.Do(func() {
		alreadyStopping = false
		sess.mu.Lock()
		sess.state = StateStopping
		sess.mu.Unlock()
		sess.releasePartial()
		sess.mu.Lock()
		sess.state = StateStopped
		sess.mu.Unlock()
	})

	return StopResult{OK: true, ProducerID: producerID, AlreadyStopped: alreadyStopping}
}

// SessionCount reports the number of live sessions, for diagnostics and
// tests.
func (s *Supervisor) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
