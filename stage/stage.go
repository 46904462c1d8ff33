// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stage runs a plugin's ordered bootstrap/fuzz_target/teardown
// stages, handing control to the fuzz orchestrator for fuzz_target
// stages. Every stage uses the Runner's own plugin data model; a Stage's
// Plugin name is not consulted.
package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/luxfi/log"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
	"github.com/fuzzframe/protofuzz/protocolctx"
	"github.com/fuzzframe/protofuzz/response"
)

// Kind names one of the three documented stage roles.
type Kind string

const (
	KindBootstrap  Kind = "bootstrap"
	KindFuzzTarget Kind = "fuzz_target"
	KindTeardown   Kind = "teardown"
)

// Sender is the minimal connection surface a stage needs: send one
// message and read one reply.
type Sender interface {
	Send(b []byte) error
	Recv() ([]byte, bool, error) // (bytes, terminal, error)
}

// FuzzTargetRunner hands control to the fuzz orchestrator for the
// duration of a fuzz_target stage; it blocks until the session's run
// budget (max_iterations, stop request) is exhausted.
type FuzzTargetRunner func(ctx context.Context) error

// Runner drives one plugin's ProtocolStack for a single session.
type Runner struct {
	plugin   *blockmodel.Plugin
	ctx      *protocolctx.Context
	sender   Sender
	fuzzMain FuzzTargetRunner
	log      log.Logger
}

// New builds a Runner.
func New(p *blockmodel.Plugin, pctx *protocolctx.Context, sender Sender, fuzzMain FuzzTargetRunner, logger log.Logger) *Runner {
	return &Runner{plugin: p, ctx: pctx, sender: sender, fuzzMain: fuzzMain, log: logger}
}

// Run executes every declared stage in order, stopping at the first
// error.
func (r *Runner) Run(ctx context.Context) error {
	for _, st := range r.plugin.ProtocolStack.Stages {
		r.log.Info("stage starting", "name", st.Name)
		var err error
		switch Kind(st.Name) {
		case KindBootstrap:
			err = r.runBootstrap(ctx)
		case KindFuzzTarget:
			err = r.fuzzMain(ctx)
		case KindTeardown:
			err = r.runTeardown()
		default:
			err = fmt.Errorf("unknown stage kind %q", st.Name)
		}
		if err != nil {
			return fmt.Errorf("stage %q: %w", st.Name, err)
		}
	}
	return nil
}

// runBootstrap sends the message built from the plugin's data model and
// reads one reply, repeating until every declared export has been
// resolved from a reply; it fails once 66 exchanges leave an export
// unresolved. It does not consult the state model, and it sends nothing
// when the plugin declares no exports.
func (r *Runner) runBootstrap(ctx context.Context) error {
	m := &r.plugin.DataModel
	remaining := make(map[string]blockmodel.Export, len(r.plugin.Exports))
	for name, e := range r.plugin.Exports {
		remaining[name] = e
	}

	fields := codec.FieldMap{}
	var lastParsed codec.FieldMap

	for step := 0; len(remaining) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.injectContext(m, fields); err != nil {
			return err
		}
		out, err := codec.Serialize(m, fields)
		if err != nil {
			return fmt.Errorf("serialize bootstrap message: %w", err)
		}
		if err := r.sender.Send(out); err != nil {
			return fmt.Errorf("send bootstrap message: %w", err)
		}
		raw, terminal, err := r.sender.Recv()
		if err != nil {
			return fmt.Errorf("recv bootstrap reply: %w", err)
		}
		if terminal {
			return fmt.Errorf("peer closed during bootstrap")
		}

		plan, err := response.Match(m, raw)
		if err != nil {
			return fmt.Errorf("parse bootstrap reply: %w", err)
		}
		lastParsed = plan.Parsed

		responseModel := m.ResponseModel
		if responseModel == nil {
			responseModel = m
		}
		for key, exp := range remaining {
			if v, ok := resolveExportField(exp.FromField, responseModel, lastParsed); ok {
				r.ctx.Set(key, v)
				delete(remaining, key)
			}
		}

		if len(remaining) == 0 {
			break
		}
		if step > 64 {
			return fmt.Errorf("bootstrap did not converge after %d steps", step)
		}
	}
	return nil
}

func (r *Runner) runTeardown() error {
	m := &r.plugin.DataModel
	out, err := codec.Serialize(m, codec.FieldMap{})
	if err != nil {
		return err
	}
	if err := r.sender.Send(out); err != nil {
		return err
	}
	return nil
}

func (r *Runner) injectContext(m *blockmodel.DataModel, fields codec.FieldMap) error {
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if b.FromContext == "" {
			continue
		}
		v, err := r.ctx.Get(b.FromContext)
		if err != nil {
			return fmt.Errorf("stage %s: %w", b.Name, err)
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

// resolveExportField resolves a dotted "response.<field>" path against a
// parsed field map. Everything up to the first '.' is dropped whatever it
// says, so "response.token" and "request.token" both name field "token";
// a path with no '.' is used whole as the field name. Integer fields are rendered as their declared block's
// raw byte width/endianness so the exported value can be injected straight
// back into a from_context field of the same type.
func resolveExportField(path string, model *blockmodel.DataModel, parsed codec.FieldMap) ([]byte, bool) {
	name := path
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		name = path[idx+1:]
	}
	v, ok := parsed[name]
	if !ok {
		return nil, false
	}
	if v.Raw != nil {
		return v.Raw, true
	}
	b := model.BlockByName(name)
	if b == nil {
		return []byte(fmt.Sprintf("%d", v.Int)), true
	}
	return codec.EncodeIntValue(b.Type, b.EffectiveEndian(), v.Int), true
}
