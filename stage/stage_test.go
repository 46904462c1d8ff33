// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stage

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/protocolctx"
)

// scriptedSender replays a fixed sequence of replies, one per Send call,
// and records every message sent to it.
type scriptedSender struct {
	replies [][]byte
	sent    [][]byte
}

func (s *scriptedSender) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *scriptedSender) Recv() ([]byte, bool, error) {
	if len(s.replies) == 0 {
		return nil, true, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, false, nil
}

func bootstrapPlugin() *blockmodel.Plugin {
	dm := blockmodel.DataModel{
		Blocks: []blockmodel.Block{
			{Name: "cmd", Type: blockmodel.TypeUint8, Size: 1, Default: []byte{0x01}},
		},
		ResponseModel: &blockmodel.DataModel{
			Blocks: []blockmodel.Block{
				{Name: "status", Type: blockmodel.TypeUint8, Size: 1},
				{Name: "token", Type: blockmodel.TypeUint32, Size: 4, Endian: blockmodel.BigEndian},
			},
		},
	}
	return &blockmodel.Plugin{
		ID:        "bootstrap-demo",
		DataModel: dm,
		ProtocolStack: &blockmodel.ProtocolStack{
			Stages: []blockmodel.Stage{
				{Name: "bootstrap", Plugin: "bootstrap-demo"},
				{Name: "fuzz_target", Plugin: "bootstrap-demo"},
				{Name: "teardown", Plugin: "bootstrap-demo"},
			},
		},
		Exports: map[string]blockmodel.Export{
			"session_token": {FromField: "response.token", Type: "bytes"},
		},
	}
}

func TestRunner_BootstrapExportsContextThenRunsFuzzAndTeardown(t *testing.T) {
	p := bootstrapPlugin()
	pctx := protocolctx.New()
	sender := &scriptedSender{
		replies: [][]byte{{0x00, 0x12, 0x34, 0x56, 0x78}},
	}

	var fuzzCalled bool
	fuzzMain := func(ctx context.Context) error {
		fuzzCalled = true
		v, err := pctx.Get("session_token")
		require.NoError(t, err)
		require.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, v)
		return nil
	}

	r := New(p, pctx, sender, fuzzMain, log.NewNoOpLogger())
	require.NoError(t, r.Run(context.Background()))
	require.True(t, fuzzCalled)

	// bootstrap send + teardown send
	require.Len(t, sender.sent, 2)
}

func TestRunner_BootstrapFailsOnPeerClose(t *testing.T) {
	p := bootstrapPlugin()
	pctx := protocolctx.New()
	sender := &scriptedSender{} // no replies queued: Recv returns terminal=true immediately

	r := New(p, pctx, sender, func(ctx context.Context) error {
		t.Fatal("fuzz_target must not run when bootstrap fails")
		return nil
	}, log.NewNoOpLogger())

	err := r.Run(context.Background())
	require.Error(t, err)
}

func TestRunner_UnknownStageKindErrors(t *testing.T) {
	p := bootstrapPlugin()
	p.ProtocolStack.Stages = []blockmodel.Stage{{Name: "warmup"}}
	pctx := protocolctx.New()

	r := New(p, pctx, &scriptedSender{}, func(ctx context.Context) error { return nil }, log.NewNoOpLogger())
	err := r.Run(context.Background())
	require.Error(t, err)
}

func TestRunner_MissingContextFieldFailsBootstrap(t *testing.T) {
	p := bootstrapPlugin()
	p.DataModel.Blocks = append(p.DataModel.Blocks, blockmodel.Block{
		Name: "token", Type: blockmodel.TypeUint32, Size: 4, FromContext: "session_token",
	})
	pctx := protocolctx.New() // session_token never set

	r := New(p, pctx, &scriptedSender{replies: [][]byte{{0x00, 0, 0, 0, 0}}},
		func(ctx context.Context) error { return nil }, log.NewNoOpLogger())

	err := r.Run(context.Background())
	require.ErrorIs(t, err, protocolctx.ErrMissingContext)
}
