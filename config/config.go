// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the engine-wide runtime parameters: concurrency
// caps, checkpoint cadence, and the HTTP control surface's CORS policy.
// Per-session mutation/timing knobs live on each plugin's declared
// config, not here.
package config

import (
	"fmt"
	"time"
)

// Parameters is the engine's top-level runtime configuration.
type Parameters struct {
	// MaxConcurrentSessions caps how many sessions may be in the
	// "running" state at once; StartSession rejects beyond this.
	MaxConcurrentSessions int

	// CheckpointInterval is the number of iterations between session
	// checkpoints; cmd/protofuzzd copies it into every session's
	// orchestrator.Config.
	CheckpointInterval int

	// SessionTTL bounds how long a paused session's checkpoint is kept
	// before the store is free to garbage-collect it.
	SessionTTL time.Duration

	// FindingMaxBytes is passed by cmd/protofuzzd as each session
	// connection's receive cap (the most bytes one Recv returns).
	// Reproducers persisted with a finding are stored in full; nothing
	// truncates them to this size.
	FindingMaxBytes int

	// CORSEnabled/CORSOrigins configure the control HTTP surface's
	// cross-origin policy.
	CORSEnabled bool
	CORSOrigins []string
}

// Default returns the parameters a freshly started daemon uses absent
// any overriding flags or config file.
func Default() Parameters {
	return Parameters{
		MaxConcurrentSessions: 1,
		CheckpointInterval:    100,
		SessionTTL:            24 * time.Hour,
		FindingMaxBytes:       1 << 20,
		CORSEnabled:           false,
	}
}

// Validate checks p's invariants, returning every violation joined into
// one error.
func (p Parameters) Validate() error {
	var errs []string
	if p.MaxConcurrentSessions < 1 {
		errs = append(errs, "max_concurrent_sessions must be >= 1")
	}
	if p.CheckpointInterval < 1 {
		errs = append(errs, "checkpoint_interval must be >= 1")
	}
	if p.FindingMaxBytes < 1 {
		errs = append(errs, "finding_max_bytes must be >= 1")
	}
	if p.CORSEnabled && len(p.CORSOrigins) == 0 {
		errs = append(errs, "cors_enabled requires at least one cors_origin")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %v", errs)
}
