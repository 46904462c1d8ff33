// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package control defines the operations an external caller (the CLI,
// an RPC surface, a future HTTP API) uses to drive sessions without
// reaching into orchestrator/session internals directly.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/connection"
	"github.com/fuzzframe/protofuzz/orchestrator"
	"github.com/fuzzframe/protofuzz/plugin"
	"github.com/fuzzframe/protofuzz/protocolctx"
	"github.com/fuzzframe/protofuzz/stage"
	"github.com/fuzzframe/protofuzz/store"
)

// ErrSessionLimitReached is returned by StartSession once
// max_concurrent_sessions running sessions already exist.
var ErrSessionLimitReached = errors.New("concurrent session limit reached")

// ErrUnknownSession is returned when a session id isn't registered.
var ErrUnknownSession = errors.New("unknown session")

// SessionInfo is the read-only view Controller exposes for a running or
// completed session.
type SessionInfo struct {
	ID       string
	PluginID string
	Status   string
}

type managedSession struct {
	info    SessionInfo
	session *orchestrator.Session
	plugin  *blockmodel.Plugin
	conn    *connection.Connection
	runner  *stage.Runner
	cancel  context.CancelFunc
}

// connSender adapts a connection.Connection to stage.Sender, fixing the
// per-message timeout bootstrap/teardown stages use since stage.Sender's
// Recv takes none.
type connSender struct {
	conn    *connection.Connection
	timeout time.Duration
}

func (s connSender) Send(b []byte) error { return s.conn.Send(b) }

func (s connSender) Recv() ([]byte, bool, error) {
	return s.conn.Recv(s.timeout, nil)
}

// Controller implements spec.md §6's abstract control interface.
type Controller struct {
	mu                    sync.Mutex
	loader                *plugin.Loader
	store                 *store.Store
	log                   log.Logger
	maxConcurrentSessions int
	sessions              map[string]*managedSession
	newConfig             func(p *blockmodel.Plugin) (orchestrator.Config, error)
}

// New builds a Controller. newConfig builds the orchestrator.Config for
// a freshly loaded plugin (wiring its connection, metrics, and logger);
// it's supplied by the caller since those depend on runtime flags the
// control package doesn't own.
func New(loader *plugin.Loader, st *store.Store, maxConcurrentSessions int, newConfig func(*blockmodel.Plugin) (orchestrator.Config, error)) *Controller {
	return &Controller{
		loader:                loader,
		store:                 st,
		log:                   log.NewNoOpLogger(),
		maxConcurrentSessions: maxConcurrentSessions,
		sessions:              make(map[string]*managedSession),
		newConfig:             newConfig,
	}
}

// WithLogger overrides the Controller's logger, used for the short-lived
// connections ExecuteOneOff opens.
func (c *Controller) WithLogger(l log.Logger) *Controller {
	c.log = l
	return c
}

// Resume loads every persisted session checkpoint and registers it as a
// managed session without starting its loop, per spec.md §6: a session
// whose persisted status was "running" comes back as "paused". It
// returns one explanatory message per session that needed that
// downgrade, for the caller to log.
func (c *Controller) Resume() ([]string, error) {
	snaps, err := c.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list persisted sessions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var messages []string
	for _, snap := range snaps {
		if _, exists := c.sessions[snap.SessionID]; exists {
			continue
		}
		p, err := c.loader.Load(snap.PluginID)
		if err != nil {
			return messages, fmt.Errorf("resume session %s: load plugin %s: %w", snap.SessionID, snap.PluginID, err)
		}
		cfg, err := c.newConfig(p)
		if err != nil {
			return messages, fmt.Errorf("resume session %s: build config: %w", snap.SessionID, err)
		}

		sess := orchestrator.Restore(snap.SessionID, cfg, snap, nil)
		if msg := orchestrator.RestoreMessage(snap); msg != "" {
			messages = append(messages, msg)
		}
		m := &managedSession{
			info:    SessionInfo{ID: snap.SessionID, PluginID: snap.PluginID, Status: sess.Status()},
			session: sess,
			plugin:  p,
			conn:    cfg.Conn,
		}
		if p.HasProtocolStack() {
			sender := connSender{conn: cfg.Conn, timeout: time.Duration(cfg.TimeoutPerTestMS) * time.Millisecond}
			m.runner = stage.New(p, sess.Context(), sender, sess.Run, cfg.Log)
		}
		c.sessions[snap.SessionID] = m
	}
	return messages, nil
}

func (c *Controller) runningCount() int {
	n := 0
	for _, m := range c.sessions {
		if m.info.Status == "running" {
			n++
		}
	}
	return n
}

// CreateSession loads pluginID and registers a new session under id,
// without starting its loop.
func (c *Controller) CreateSession(id, pluginID string, seed int64) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[id]; exists {
		return SessionInfo{}, fmt.Errorf("session %q already exists", id)
	}

	p, err := c.loader.Load(pluginID)
	if err != nil {
		return SessionInfo{}, err
	}
	cfg, err := c.newConfig(p)
	if err != nil {
		return SessionInfo{}, err
	}

	pctx := protocolctx.New()
	sess := orchestrator.New(id, cfg, pctx, seed, nil)
	info := SessionInfo{ID: id, PluginID: pluginID, Status: "paused"}
	m := &managedSession{info: info, session: sess, plugin: p, conn: cfg.Conn}
	if p.HasProtocolStack() {
		sender := connSender{conn: cfg.Conn, timeout: time.Duration(cfg.TimeoutPerTestMS) * time.Millisecond}
		m.runner = stage.New(p, pctx, sender, sess.Run, cfg.Log)
	}
	c.sessions[id] = m
	return info, nil
}

// StartSession begins (or resumes) a created session's loop in the
// background, rejecting the start if max_concurrent_sessions running
// sessions already exist.
func (c *Controller) StartSession(ctx context.Context, id string) error {
	c.mu.Lock()
	m, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if c.runningCount() >= c.maxConcurrentSessions {
		running := c.runningIDsLocked()
		c.mu.Unlock()
		return fmt.Errorf("%w: limit %d, running sessions: %v", ErrSessionLimitReached, c.maxConcurrentSessions, running)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.info.Status = "running"
	c.mu.Unlock()

	go func() {
		err := m.conn.Open(runCtx)
		if err == nil {
			if m.runner != nil {
				err = m.runner.Run(runCtx)
			} else {
				err = m.session.Run(runCtx)
			}
			m.conn.Close()
		}
		c.mu.Lock()
		if err != nil {
			m.info.Status = "failed"
		} else if m.info.Status == "running" {
			m.info.Status = "completed"
		}
		c.mu.Unlock()
	}()
	return nil
}

func (c *Controller) runningIDsLocked() []string {
	var ids []string
	for id, m := range c.sessions {
		if m.info.Status == "running" {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopSession requests a running session pause at its next iteration
// boundary.
func (c *Controller) StopSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	m.session.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// GetSession returns the current info for id.
func (c *Controller) GetSession(id string) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[id]
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if st := m.session.Status(); st != "running" {
		m.info.Status = st
	}
	return m.info, nil
}

// GetStateGraph returns id's plugin's declared StateModel, for
// visualization callers.
func (c *Controller) GetStateGraph(id string) (*blockmodel.StateModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return m.plugin.StateModel, nil
}

// ListFindings returns every persisted finding across all sessions.
func (c *Controller) ListFindings() ([]store.Finding, error) {
	return c.store.ListFindings()
}

// GetFinding returns one persisted finding by id.
func (c *Controller) GetFinding(id string) (store.Finding, error) {
	return c.store.LoadFinding(id)
}

// ExecuteOneOff loads pluginID, dials endpoint over a short-lived
// connection (closed when the call returns), sends payload, and
// classifies the reply exactly as the fuzz loop would for a single
// test — the control interface's ExecuteOneOff operation (spec.md §6),
// independent of any registered session's state machine.
func (c *Controller) ExecuteOneOff(pluginID, endpoint string, payload []byte) (orchestrator.Outcome, []byte, error) {
	p, err := c.loader.Load(pluginID)
	if err != nil {
		return "", nil, err
	}

	transport := connection.TransportTCP
	if p.ConnectionSpec != nil && p.ConnectionSpec.Transport == string(connection.TransportUDP) {
		transport = connection.TransportUDP
	}
	conn := connection.New(transport, endpoint, false, 0, c.log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Open(ctx); err != nil {
		return "", nil, err
	}
	defer conn.Close()

	return orchestrator.ExecuteOneOff(conn, p, payload, 2000)
}
