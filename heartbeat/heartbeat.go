// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package heartbeat runs a periodic keep-alive alongside fuzzing on the
// same persistent connection.
package heartbeat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

// SendRecvFunc sends b over the shared connection and, if expectResponse,
// waits for a reply. The caller supplies this so the scheduler doesn't
// need to know about connection.Connection directly; it must acquire
// whatever per-connection lock fuzz sends also use.
type SendRecvFunc func(ctx context.Context, b []byte, expectResponse bool) error

// Status is the scheduler's running counters, safe to read via Snapshot.
type Status struct {
	LastSentAt time.Time
	LastAckAt  time.Time
	TotalSent  int
	Failures   int
	Failed     bool // true once OnFailure.Action == "stop" has fired
}

// Scheduler runs one HeartbeatSpec against a connection, serialized by
// sendRecv's own locking.
type Scheduler struct {
	spec     blockmodel.HeartbeatSpec
	build    func() ([]byte, error)
	sendRecv SendRecvFunc
	onFail   func(action string) // "reconnect" bubbles up so the caller can re-run bootstrap
	log      log.Logger

	mu     sync.Mutex
	status Status
}

// New builds a Scheduler. build produces the current heartbeat message
// bytes (with from_context values injected); onFail is invoked once
// Failures reaches the configured threshold, naming the configured
// action ("reconnect" or "stop").
func New(spec blockmodel.HeartbeatSpec, build func() ([]byte, error), sendRecv SendRecvFunc, onFail func(string), logger log.Logger) *Scheduler {
	return &Scheduler{spec: spec, build: build, sendRecv: sendRecv, onFail: onFail, log: logger}
}

// Run blocks, firing a heartbeat every interval±jitter until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.spec.Interval + jitter(s.spec.Jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.fire(ctx)
		}
	}
}

func jitter(j time.Duration) time.Duration {
	if j <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(2*j))) - j
}

func (s *Scheduler) fire(ctx context.Context) {
	msg, err := s.build()
	if err != nil {
		s.recordFailure()
		return
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if s.spec.ExpectResponse {
		sendCtx, cancel = context.WithTimeout(ctx, s.spec.Interval)
		defer cancel()
	}

	if err := s.sendRecv(sendCtx, msg, s.spec.ExpectResponse); err != nil {
		s.log.Warn("heartbeat failed", "error", err)
		s.recordFailure()
		return
	}
	s.recordSuccess()
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.status.LastSentAt = now
	s.status.LastAckAt = now
	s.status.TotalSent++
	s.status.Failures = 0
}

func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	s.status.Failures++
	threshold := s.spec.OnFailure.Threshold
	action := s.spec.OnFailure.Action
	crossed := threshold > 0 && s.status.Failures >= threshold
	if crossed && action == "stop" {
		s.status.Failed = true
	}
	if crossed {
		s.status.Failures = 0
	}
	s.mu.Unlock()

	if crossed && s.onFail != nil {
		s.onFail(action)
	}
}

// Snapshot returns a copy of the scheduler's current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
