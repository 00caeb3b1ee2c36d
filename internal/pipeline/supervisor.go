/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pipeline spawns, health-gates and terminates the external
// transcoder subprocess (spec.md §4.B / §6.4): a GStreamer pipeline that
// reads RTP/Opus from a UDP port and writes numbered 16kHz mono WAV
// segments to the spool directory.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the pipeline subprocess' lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Config describes one subprocess invocation.
type Config struct {
	Bin             string
	RTPPort         int
	PayloadType     uint8
	ClockRate       uint32
	Channels        uint16
	JitterLatencyMs int
	SpoolDir        string
	Prefix          string
	ChunkSeconds    int
}

// OutputPattern is the splitmuxsink location template this config will
// write segments to: "<spoolDir>/<prefix>%05d.wav".
func (c Config) OutputPattern() string {
	return fmt.Sprintf("%s/%s%%05d.wav", c.SpoolDir, c.Prefix)
}

func buildArgs(c Config) []string {
	maxSizeNs := int64(c.ChunkSeconds) * int64(time.Second)
	caps := fmt.Sprintf("application/x-rtp,media=audio,encoding-name=OPUS,payload=%d,clock-rate=%d,channels=%d",
		c.PayloadType, c.ClockRate, c.Channels)

	return []string{
		"udpsrc", "address=127.0.0.1", fmt.Sprintf("port=%d", c.RTPPort), "caps=" + caps,
		"!", "rtpjitterbuffer", fmt.Sprintf("latency=%d", c.JitterLatencyMs), "drop-on-latency=true",
		"!", "rtpopusdepay",
		"!", "opusdec",
		"!", "audioconvert",
		"!", "audioresample",
		"!", "audio/x-raw,rate=16000,channels=1",
		"!", "queue",
		"!", "splitmuxsink", "muxer=wavenc", "location=" + c.OutputPattern(), fmt.Sprintf("max-size-time=%d", maxSizeNs),
	}
}

// Supervisor owns one subprocess instance for the lifetime of an egress
// session attempt. A failed or exited subprocess is never restarted in
// place — the Egress Supervisor's retry loop constructs a fresh
// Supervisor for the next attempt.
type Supervisor struct {
	id     string
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	state      State
	stderrDone chan struct{}
	onExit     func(err error)
}

// Spawn starts the transcoder subprocess with the fixed argument vector
// from spec.md §6.4. Stderr is captured line-by-line and logged with the
// session id as a field; stdin/stdout are not attached.
func Spawn(ctx context.Context, id string, cfg Config, logger zerolog.Logger, onExit func(error)) (*Supervisor, error) {
	s := &Supervisor{
		id:         id,
		cfg:        cfg,
		logger:     logger.With().Str("session_id", id).Logger(),
		state:      StateIdle,
		stderrDone: make(chan struct{}),
		onExit:     onExit,
	}

	cmd := exec.CommandContext(ctx, cfg.Bin, buildArgs(cfg)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	s.cmd = cmd
	s.state = StateRunning
	s.logger.Info().Int("pid", cmd.Process.Pid).Int("rtp_port", cfg.RTPPort).Msg("pipeline started")

	go s.monitorStderr(stderr)
	go s.monitorProcess()

	return s, nil
}

// WaitHealthy is a best-effort startup gate: it sleeps graceMs and fails
// if the process has already exited. The external pipeline exposes no
// readiness protocol, so this is the only signal available.
func (s *Supervisor) WaitHealthy(graceMs int) error {
	time.Sleep(time.Duration(graceMs) * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("pipeline exited during startup grace period (state=%s)", s.state)
	}
	return nil
}

// Terminate sends an unconditional kill signal. Idempotent.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	cmd := s.cmd
	already := s.state == StateStopped || s.state == StateFailed || s.state == StateIdle
	s.mu.Unlock()

	if already || cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Kill(); err != nil {
		s.logger.Debug().Err(err).Msg("kill pipeline process failed (likely already exited)")
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) monitorStderr(stderr io.ReadCloser) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug().Str("source", "stderr").Msg(scanner.Text())
	}
}

func (s *Supervisor) monitorProcess() {
	err := s.cmd.Wait()
	<-s.stderrDone

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.logger.Warn().Err(err).Msg("pipeline exited with error")
	} else {
		s.state = StateStopped
		s.logger.Info().Msg("pipeline exited normally")
	}
	s.mu.Unlock()

	if s.onExit != nil {
		s.onExit(err)
	}
}
