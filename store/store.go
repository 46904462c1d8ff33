// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists session checkpoints and findings to a
// database.Database-backed key/value store, using codec.SnapshotCodec
// for the on-disk envelope.
package store

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"

	"github.com/fuzzframe/protofuzz/codec"
)

const (
	sessionPrefix = "session/"
	findingPrefix = "finding/"
)

// Store wraps a database.Database with the session/finding schema this
// engine needs.
type Store struct {
	db database.Database
}

// New wraps db.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// SessionSnapshot is the persisted form of one session's resumable
// state: mutation/transition RNG seed, state machine position and
// coverage, protocol context, behavior counters.
type SessionSnapshot struct {
	SessionID            string
	PluginID             string
	Seed                 int64
	CurrentState         string
	StateCoverage        map[string]int
	TransitionCoverage    map[string]int
	IterationsSinceReset int
	CurrentIteration     int
	TotalTests           int
	Crashes              int
	Hangs                int
	Anomalies            int
	Context              map[string][]byte
	BehaviorState        map[string]int64
	Status               string
}

// SaveSession persists s under its SessionID, overwriting any prior
// checkpoint. Per spec.md's atomic-write requirement, callers relying on
// a transactional DB write get it for free from database.Database's
// underlying implementation (e.g. a LevelDB/Badger batch commit); this
// layer performs a single Put.
func (s *Store) SaveSession(snap SessionSnapshot) error {
	buf, err := codec.SnapshotCodec.Marshal(codec.CurrentVersion, snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	return s.db.Put([]byte(sessionPrefix+snap.SessionID), buf)
}

// LoadSession returns the persisted snapshot for sessionID, or
// database.ErrNotFound if none exists.
func (s *Store) LoadSession(sessionID string) (SessionSnapshot, error) {
	var snap SessionSnapshot
	raw, err := s.db.Get([]byte(sessionPrefix + sessionID))
	if err != nil {
		return snap, err
	}
	_, err = codec.SnapshotCodec.Unmarshal(raw, &snap)
	return snap, err
}

// DeleteSession removes a persisted checkpoint.
func (s *Store) DeleteSession(sessionID string) error {
	return s.db.Delete([]byte(sessionPrefix + sessionID))
}

// Finding is the persisted record for a CRASH/HANG/LOGICAL_FAILURE/ANOMALY
// outcome.
type Finding struct {
	ID             string
	SessionID      string
	TimestampUnix  int64
	Outcome        string
	Reproducer     []byte
	SessionSnap    SessionSnapshot
	StatePath      []string
}

// SaveFinding persists f keyed by its ID.
func (s *Store) SaveFinding(f Finding) error {
	buf, err := codec.SnapshotCodec.Marshal(codec.CurrentVersion, f)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}
	return s.db.Put([]byte(findingPrefix+f.ID), buf)
}

// LoadFinding returns the persisted finding for id.
func (s *Store) LoadFinding(id string) (Finding, error) {
	var f Finding
	raw, err := s.db.Get([]byte(findingPrefix + id))
	if err != nil {
		return f, err
	}
	_, err = codec.SnapshotCodec.Unmarshal(raw, &f)
	return f, err
}

// ListFindings iterates every persisted finding. It uses
// database.Database's iterator rather than a range scan helper, since
// the teacher's own store code drives iteration the same way.
func (s *Store) ListFindings() ([]Finding, error) {
	iter := s.db.NewIteratorWithPrefix([]byte(findingPrefix))
	defer iter.Release()

	var out []Finding
	for iter.Next() {
		var f Finding
		if _, err := codec.SnapshotCodec.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("unmarshal finding: %w", err)
		}
		out = append(out, f)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions returns every persisted session snapshot. Callers use this
// on process start to resume checkpointed sessions (spec.md §6: any
// session whose persisted status was "running" becomes "paused").
func (s *Store) ListSessions() ([]SessionSnapshot, error) {
	iter := s.db.NewIteratorWithPrefix([]byte(sessionPrefix))
	defer iter.Release()

	var out []SessionSnapshot
	for iter.Next() {
		var snap SessionSnapshot
		if _, err := codec.SnapshotCodec.Unmarshal(iter.Value(), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsNotFound reports whether err is database.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
