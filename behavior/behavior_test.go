// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
)

func TestProcessor_Increment(t *testing.T) {
	m := &blockmodel.DataModel{Blocks: []blockmodel.Block{
		{Name: "seq", Type: blockmodel.TypeUint8, Size: 1,
			Behavior: &blockmodel.Behavior{Operation: blockmodel.BehaviorIncrement, Initial: 0, Step: 1}},
	}}
	p := New(m)

	fields := codec.FieldMap{}
	p.Apply(fields)
	require.Equal(t, int64(0), fields["seq"].Int)
	p.Apply(fields)
	require.Equal(t, int64(1), fields["seq"].Int)
	p.Apply(fields)
	require.Equal(t, int64(2), fields["seq"].Int)
}

func TestProcessor_IncrementWraps(t *testing.T) {
	m := &blockmodel.DataModel{Blocks: []blockmodel.Block{
		{Name: "seq", Type: blockmodel.TypeUint8, Size: 1,
			Behavior: &blockmodel.Behavior{Operation: blockmodel.BehaviorIncrement, Initial: 254, Step: 1}},
	}}
	p := New(m)
	fields := codec.FieldMap{}
	p.Apply(fields) // 254
	p.Apply(fields) // 255
	p.Apply(fields) // wraps to 0
	require.Equal(t, int64(0), fields["seq"].Int)
}

func TestProcessor_AddConstant(t *testing.T) {
	m := &blockmodel.DataModel{Blocks: []blockmodel.Block{
		{Name: "offset", Type: blockmodel.TypeUint32, Size: 4,
			Behavior: &blockmodel.Behavior{Operation: blockmodel.BehaviorAddConstant, Value: 10}},
	}}
	p := New(m)
	fields := codec.FieldMap{}
	p.Apply(fields)
	require.Equal(t, int64(10), fields["offset"].Int)
	p.Apply(fields)
	require.Equal(t, int64(20), fields["offset"].Int)
}

func TestProcessor_SnapshotRestore(t *testing.T) {
	m := &blockmodel.DataModel{Blocks: []blockmodel.Block{
		{Name: "seq", Type: blockmodel.TypeUint8, Size: 1,
			Behavior: &blockmodel.Behavior{Operation: blockmodel.BehaviorIncrement, Initial: 0, Step: 1}},
	}}
	p := New(m)
	fields := codec.FieldMap{}
	p.Apply(fields)
	p.Apply(fields)
	snap := p.Snapshot()

	p2 := New(m)
	p2.Restore(snap)
	p2.Apply(fields)
	require.Equal(t, int64(2), fields["seq"].Int)
}
