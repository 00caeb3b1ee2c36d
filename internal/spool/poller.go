/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package spool watches the shared spool directory for newly finalized
// WAV segments belonging to one egress session and emits each exactly
// once (spec.md §4.C).
package spool

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	stabilityMinBytes   = 4096
	stabilitySampleGap  = 120 * time.Millisecond
	stabilityMaxWait    = 1200 * time.Millisecond
)

// OnSegment is invoked once per newly-stabilized segment, with its full
// path. The poller unlinks the file after this returns, whether or not
// the work it did with the file succeeded.
type OnSegment func(path string)

// Poller scans spoolDir every pollInterval for files matching prefix+
// ".wav", waits for each new name to stabilize, then emits it.
type Poller struct {
	spoolDir string
	prefix   string
	interval time.Duration
	onSegment OnSegment
	logger    zerolog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start begins polling in its own goroutine and returns a handle.
func Start(spoolDir, prefix string, pollIntervalMs int, onSegment OnSegment, logger zerolog.Logger) *Poller {
	p := &Poller{
		spoolDir:  spoolDir,
		prefix:    prefix,
		interval:  time.Duration(pollIntervalMs) * time.Millisecond,
		onSegment: onSegment,
		logger:    logger.With().Str("component", "spool-poller").Str("prefix", prefix).Logger(),
		seen:      make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Poller) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scanOnce()
		}
	}
}

func (p *Poller) scanOnce() {
	entries, err := os.ReadDir(p.spoolDir)
	if err != nil {
		p.logger.Debug().Err(err).Msg("spool directory scan failed, will retry")
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, p.prefix) && strings.HasSuffix(name, ".wav") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		_, already := p.seen[name]
		p.mu.Unlock()
		if already {
			continue
		}

		path := filepath.Join(p.spoolDir, name)
		if !p.waitStable(path) {
			p.logger.Debug().Str("file", path).Msg("segment never stabilized, skipping this pass")
			continue
		}

		p.mu.Lock()
		p.seen[name] = struct{}{}
		p.mu.Unlock()

		p.onSegment(path)

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn().Err(err).Str("file", path).Msg("failed to unlink forwarded segment")
		}
	}
}

// waitStable polls the file size every ~120ms for up to ~1.2s, declaring
// stability once the size is both >= 4096 bytes and unchanged between
// consecutive samples. This guards against forwarding a WAV the pipeline
// is still mid-flush on.
func (p *Poller) waitStable(path string) bool {
	deadline := time.Now().Add(stabilityMaxWait)
	var lastSize int64 = -1

	for {
		select {
		case <-p.stopCh:
			return false
		default:
		}

		info, err := os.Stat(path)
		if err != nil {
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(stabilitySampleGap)
			continue
		}

		size := info.Size()
		if size >= stabilityMinBytes && size == lastSize {
			return true
		}
		lastSize = size

		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(stabilitySampleGap)
	}
}

// Stop cancels the poll timer. Idempotent; blocks until the poll
// goroutine has observed the cancellation and returned, so no further
// onSegment calls occur after Stop returns.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.done
}
