// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orchestrator implements the fuzz loop: select an input,
// mutate it, apply behaviors, transmit it, classify the response, and
// persist findings and checkpoints.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fuzzframe/protofuzz/behavior"
	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
	"github.com/fuzzframe/protofuzz/connection"
	"github.com/fuzzframe/protofuzz/internal/sampler"
	"github.com/fuzzframe/protofuzz/mutate"
	"github.com/fuzzframe/protofuzz/protocolctx"
	"github.com/fuzzframe/protofuzz/response"
	"github.com/fuzzframe/protofuzz/session"
	"github.com/fuzzframe/protofuzz/store"
)

// Outcome classifies one test's result per spec.md §4.11.
type Outcome string

const (
	OutcomeNormal          Outcome = "NORMAL"
	OutcomeHang            Outcome = "HANG"
	OutcomeCrash           Outcome = "CRASH"
	OutcomeLogicalFailure  Outcome = "LOGICAL_FAILURE"
	OutcomeAnomaly         Outcome = "ANOMALY"
	OutcomeParseError      Outcome = "PARSE_ERROR"
)

// IsFinding reports whether o warrants persisting a Finding.
func (o Outcome) IsFinding() bool {
	switch o {
	case OutcomeCrash, OutcomeHang, OutcomeLogicalFailure, OutcomeAnomaly:
		return true
	}
	return false
}

// Validator inspects a NORMAL-looking response and decides whether it's
// actually a logical failure or an anomaly. Returning (false, nil) means
// LOGICAL_FAILURE; returning (_, err) means ANOMALY. Config.Validator, if
// set, overrides the plugin's own declared validator (blockmodel's
// ValidatorFunc, which sees raw response bytes rather than parsed
// fields); the override exists for callers that want field-aware
// validation the plugin schema alone can't express.
type Validator func(parsed codec.FieldMap) (bool, error)

// Config bundles everything one session's loop needs that isn't session
// state itself.
type Config struct {
	Plugin              *blockmodel.Plugin
	Conn                *connection.Connection
	Store               *store.Store
	Log                 log.Logger
	Registerer          prometheus.Registerer
	Mode                mutate.Mode
	SessionMode         session.Mode
	TargetState         string
	TimeoutPerTestMS    int
	RateLimitPerSecond  float64
	CheckpointInterval  int
	MaxIterations       int
	Validator           Validator
}

// Metrics are the prometheus.Registerer-backed counters the orchestrator
// updates per test.
type Metrics struct {
	TotalTests *prometheus.CounterVec
	Crashes    prometheus.Counter
	Hangs      prometheus.Counter
	Anomalies  prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics set.
func NewMetrics(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TotalTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protofuzz_tests_total",
			Help: "Total number of fuzz tests executed, by outcome.",
		}, []string{"outcome"}),
		Crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protofuzz_crashes_total",
			Help: "Total number of CRASH outcomes.",
		}),
		Hangs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protofuzz_hangs_total",
			Help: "Total number of HANG outcomes.",
		}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protofuzz_anomalies_total",
			Help: "Total number of ANOMALY outcomes.",
		}),
	}
	for _, c := range []prometheus.Collector{m.TotalTests, m.Crashes, m.Hangs, m.Anomalies} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Session runs Config.Plugin's fuzz_target loop for one connection.
type Session struct {
	id      string
	cfg     Config
	metrics *Metrics
	rng     *sampler.RNG
	state   *session.State
	ctx     *protocolctx.Context
	proc    *behavior.Processor
	classed map[string][][]byte

	pendingOverlay codec.FieldMap

	currentIteration int
	totalTests        int
	crashes           int
	hangs             int
	anomalies         int
	status            string // "running", "paused", "completed", "failed"

	reconnectFailWindow []time.Time
}

// New builds a Session. seed seeds the per-session RNG for reproducible
// replay from a persisted checkpoint. A nil pctx is replaced by a fresh,
// empty protocolctx.Context.
func New(id string, cfg Config, pctx *protocolctx.Context, seed int64, metrics *Metrics) *Session {
	if pctx == nil {
		pctx = protocolctx.New()
	}
	m := &cfg.Plugin.DataModel
	s := &Session{
		id:      id,
		cfg:     cfg,
		metrics: metrics,
		rng:     sampler.NewRNG(seed),
		ctx:     pctx,
		proc:    behavior.New(m),
		classed: session.ClassifySeeds(m),
		status:  "running",
	}
	if cfg.Plugin.StateModel != nil {
		s.state = session.NewState(cfg.Plugin.StateModel)
	}
	return s
}

// Restore rebuilds a Session from a persisted checkpoint (spec.md §6:
// "iteration counters, coverage dicts, and current state resume
// exactly; the iteration cursor continues from total_tests"). Per
// spec.md §6, a session whose persisted status was "running" comes back
// as "paused" with an explanatory message rather than silently
// resuming — the caller must call StartSession again to continue it.
func Restore(id string, cfg Config, snap store.SessionSnapshot, metrics *Metrics) *Session {
	m := &cfg.Plugin.DataModel
	pctx := protocolctx.New()
	pctx.Restore(snap.Context)

	proc := behavior.New(m)
	proc.Restore(snap.BehaviorState)

	status := snap.Status
	if status == "running" {
		status = "paused"
	}

	s := &Session{
		id:                id,
		cfg:               cfg,
		metrics:           metrics,
		rng:               sampler.NewRNG(snap.Seed),
		ctx:               pctx,
		proc:              proc,
		classed:           session.ClassifySeeds(m),
		status:            status,
		currentIteration:  snap.CurrentIteration,
		totalTests:        snap.TotalTests,
		crashes:           snap.Crashes,
		hangs:             snap.Hangs,
		anomalies:         snap.Anomalies,
	}
	if cfg.Plugin.StateModel != nil {
		s.state = session.Restore(cfg.Plugin.StateModel, snap.CurrentState, snap.StateCoverage, snap.TransitionCoverage, snap.IterationsSinceReset)
	}
	return s
}

// RestoreMessage explains why a resumed session's status no longer
// matches its persisted value, for the caller to surface to an operator.
func RestoreMessage(snap store.SessionSnapshot) string {
	if snap.Status == "running" {
		return fmt.Sprintf("session %s was running when the process stopped; resumed as paused", snap.SessionID)
	}
	return ""
}

// Run sets a "paused" session (stopped, or restored from a checkpoint)
// back to "running", then executes the loop until max_iterations is
// reached or status stops being "running".
func (s *Session) Run(ctx context.Context) error {
	if s.status == "paused" {
		s.status = "running"
	}
	for s.currentIteration < s.cfg.MaxIterations && s.status == "running" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.iterate(ctx); err != nil {
			return err
		}
		s.currentIteration++

		if s.cfg.CheckpointInterval > 0 && s.currentIteration%s.cfg.CheckpointInterval == 0 {
			if err := s.checkpoint(); err != nil {
				s.cfg.Log.Warn("checkpoint failed", "error", err)
			}
		}
		if s.cfg.RateLimitPerSecond > 0 {
			time.Sleep(time.Duration(float64(time.Second) / s.cfg.RateLimitPerSecond))
		}
	}
	return s.checkpoint()
}

func (s *Session) iterate(ctx context.Context) error {
	m := &s.cfg.Plugin.DataModel

	seed, transition := s.selectBase()
	if seed == nil {
		return fmt.Errorf("no seed available to mutate")
	}

	fields, err := codec.Parse(m, seed)
	if err != nil {
		fields = codec.FieldMap{}
	}
	if s.pendingOverlay != nil {
		for name, v := range s.pendingOverlay {
			fields[name] = v
		}
		s.pendingOverlay = nil
	}
	if err := s.injectContext(m, fields); err != nil {
		return err
	}

	engine := mutate.NewEngine(s.cfg.Mode, m)
	engine.Seeds = m.Seeds
	preMutate, err := codec.Serialize(m, fields)
	if err != nil {
		return fmt.Errorf("serialize pre-mutation fields: %w", err)
	}
	result := engine.Mutate(s.rng, preMutate)
	mutated, err := codec.Parse(m, result.Bytes)
	if err != nil {
		mutated = fields
	}

	s.proc.Apply(mutated)

	out, err := codec.Serialize(m, mutated)
	if err != nil {
		return fmt.Errorf("serialize test case: %w", err)
	}

	outcome, raw, parsed, plan := s.transmitAndClassify(out)
	s.recordOutcome(outcome)

	if s.state != nil && transition != nil {
		s.applyTransitionResult(*transition, outcome, raw)
	}
	if plan != nil && plan.Handler != nil {
		s.pendingOverlay = response.BuildNext(plan.Handler, mutated, plan.Parsed)
	}

	if outcome.IsFinding() {
		if err := s.persistFinding(outcome, out); err != nil {
			s.cfg.Log.Warn("persist finding failed", "error", err)
		}
	}
	return nil
}

func (s *Session) selectBase() ([]byte, *blockmodel.Transition) {
	if s.state == nil {
		seeds := s.classed[""]
		if len(seeds) == 0 {
			return nil, nil
		}
		return seeds[s.rng.Choice(len(seeds))], nil
	}

	t, ok := s.state.SelectTransition(s.rng, s.cfg.SessionMode, s.cfg.TargetState)
	if !ok {
		return nil, nil
	}
	seed := session.SeedFor(s.classed, t.MessageType, s.rng.Choice)
	return seed, &t
}

func (s *Session) injectContext(m *blockmodel.DataModel, fields codec.FieldMap) error {
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if b.FromContext == "" {
			continue
		}
		v, err := s.ctx.Get(b.FromContext)
		if err != nil {
			return err
		}
		if b.Type.IsInteger() {
			one := &blockmodel.DataModel{Blocks: []blockmodel.Block{*b}}
			if parsed, perr := codec.Parse(one, v); perr == nil {
				fields[b.Name] = parsed[b.Name]
				continue
			}
		}
		fields[b.Name] = codec.BytesValue(b.Type, v)
	}
	return nil
}

func (s *Session) transmitAndClassify(out []byte) (Outcome, []byte, codec.FieldMap, *response.Plan) {
	outcome, raw, parsed, plan := classifyOnce(s.cfg.Conn, &s.cfg.Plugin.DataModel, s.cfg.Plugin.Validator, s.cfg.Validator, out, s.cfg.TimeoutPerTestMS)
	if outcome == OutcomeCrash && raw == nil {
		s.recordReconnectFailure()
	}
	return outcome, raw, parsed, plan
}

// classifyOnce sends out over conn and classifies the reply per spec.md
// §4.11 step 7, returning the outcome, the raw response bytes (if any
// were received), the parsed field map, and the matched response plan.
// override, if non-nil, replaces pluginValidator; it exists for callers
// that want field-aware validation the plugin schema alone can't
// express. Neither validator present means every parseable response is
// NORMAL.
func classifyOnce(conn *connection.Connection, m *blockmodel.DataModel, pluginValidator blockmodel.ValidatorFunc, override Validator, out []byte, timeoutPerTestMS int) (Outcome, []byte, codec.FieldMap, *response.Plan) {
	if err := conn.Send(out); err != nil {
		return OutcomeCrash, nil, nil, nil
	}

	timeout := time.Duration(timeoutPerTestMS) * time.Millisecond
	raw, terminal, err := conn.Recv(timeout, nil)
	// Recv reports a peer close (or other terminal transport error, e.g.
	// io.EOF/net.ErrClosed) as err != nil with terminal == true; a mere
	// read timeout (nothing received within timeoutPerTestMS) instead
	// comes back as err == nil, terminal == false, raw empty. Check
	// err/terminal first so a genuine peer-close classifies as CRASH, not
	// HANG.
	if err != nil || terminal {
		return OutcomeCrash, raw, nil, nil
	}
	if len(raw) == 0 {
		return OutcomeHang, nil, nil, nil
	}

	plan, perr := response.Match(m, raw)
	if perr != nil {
		return OutcomeParseError, raw, nil, nil
	}

	ok, verr := runValidator(plan.Parsed, raw, pluginValidator, override)
	if verr != nil {
		return OutcomeAnomaly, raw, plan.Parsed, plan
	}
	if !ok {
		return OutcomeLogicalFailure, raw, plan.Parsed, plan
	}
	return OutcomeNormal, raw, plan.Parsed, plan
}

func runValidator(parsed codec.FieldMap, raw []byte, pluginValidator blockmodel.ValidatorFunc, override Validator) (bool, error) {
	if override != nil {
		return override(parsed)
	}
	if pluginValidator != nil {
		return pluginValidator(raw)
	}
	return true, nil
}

// ExecuteOneOff sends payload once over conn, classifies the reply, and
// returns the outcome alongside any response bytes received — the
// control interface's ExecuteOneOff operation (spec.md §6), replaying a
// single hand-built message outside any session's fuzz loop or state
// machine.
func ExecuteOneOff(conn *connection.Connection, plugin *blockmodel.Plugin, payload []byte, timeoutPerTestMS int) (Outcome, []byte, error) {
	outcome, raw, _, _ := classifyOnce(conn, &plugin.DataModel, plugin.Validator, nil, payload, timeoutPerTestMS)
	return outcome, raw, nil
}

func (s *Session) recordReconnectFailure() {
	now := time.Now()
	s.reconnectFailWindow = append(s.reconnectFailWindow, now)
	cutoff := now.Add(-10 * time.Second)
	kept := s.reconnectFailWindow[:0]
	for _, t := range s.reconnectFailWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.reconnectFailWindow = kept
}

func (s *Session) applyTransitionResult(t blockmodel.Transition, outcome Outcome, raw []byte) {
	matched := outcome == OutcomeNormal && matchesExpectedResponse(t, raw)
	if matched {
		s.state.Advance(t)
	} else {
		s.state.Stay()
	}
	if s.state.NeedsReset(s.cfg.SessionMode, s.cfg.TargetState) {
		s.state.Reset()
	}
}

// matchesExpectedResponse reports whether a response matches a
// transition's declared expectation. Per spec.md §9 ("implementation-
// defined but documented"), this implementation treats ExpectedResponse
// as a byte prefix the raw response must start with; an empty/unset
// ExpectedResponse only requires that a response was received at all.
func matchesExpectedResponse(t blockmodel.Transition, raw []byte) bool {
	if len(t.ExpectedResponse) == 0 {
		return raw != nil
	}
	return bytes.HasPrefix(raw, t.ExpectedResponse)
}

func (s *Session) recordOutcome(o Outcome) {
	s.totalTests++
	switch o {
	case OutcomeCrash:
		s.crashes++
	case OutcomeHang:
		s.hangs++
	case OutcomeAnomaly:
		s.anomalies++
	}
	if s.metrics != nil {
		s.metrics.TotalTests.WithLabelValues(string(o)).Inc()
		switch o {
		case OutcomeCrash:
			s.metrics.Crashes.Inc()
		case OutcomeHang:
			s.metrics.Hangs.Inc()
		case OutcomeAnomaly:
			s.metrics.Anomalies.Inc()
		}
	}
}

func (s *Session) persistFinding(outcome Outcome, reproducer []byte) error {
	if s.cfg.Store == nil {
		return nil
	}
	var statePath []string
	if s.state != nil {
		statePath = append(statePath, s.state.History...)
	}
	f := store.Finding{
		ID:            ids.GenerateTestID().String(),
		SessionID:     s.id,
		TimestampUnix: time.Now().Unix(),
		Outcome:       string(outcome),
		Reproducer:    reproducer,
		SessionSnap:   s.snapshot(),
		StatePath:     statePath,
	}
	return s.cfg.Store.SaveFinding(f)
}

func (s *Session) snapshot() store.SessionSnapshot {
	snap := store.SessionSnapshot{
		SessionID:            s.id,
		PluginID:             s.cfg.Plugin.ID,
		Seed:                 s.rng.Seed(),
		IterationsSinceReset: 0,
		CurrentIteration:     s.currentIteration,
		TotalTests:           s.totalTests,
		Crashes:              s.crashes,
		Hangs:                s.hangs,
		Anomalies:            s.anomalies,
		Context:              s.ctx.Snapshot(),
		BehaviorState:        s.proc.Snapshot(),
		Status:               s.status,
	}
	if s.state != nil {
		snap.CurrentState = s.state.CurrentState
		snap.StateCoverage = s.state.StateCoverage.Snapshot()
		snap.TransitionCoverage = s.state.TransitionCoverage.Snapshot()
		snap.IterationsSinceReset = s.state.IterationsSinceReset
	}
	return snap
}

func (s *Session) checkpoint() error {
	if s.cfg.Store == nil {
		return nil
	}
	return s.cfg.Store.SaveSession(s.snapshot())
}

// Stop requests the loop exit at its next iteration boundary.
func (s *Session) Stop() {
	if s.status == "running" {
		s.status = "paused"
	}
}

// Status returns the session's current status string.
func (s *Session) Status() string {
	return s.status
}

// Context returns the session's protocol context, for a caller (e.g. a
// stage.Runner) that needs to share bootstrap-exported values with the
// fuzz loop.
func (s *Session) Context() *protocolctx.Context {
	return s.ctx
}
