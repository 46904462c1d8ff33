// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const demoPluginJSON = `{
	"data_model": {
		"blocks": [
			{"name": "magic", "type": "bytes", "size": 4, "mutable": false, "default": "SIMP"},
			{"name": "len", "type": "uint16", "size": 2,
			 "is_size_field": true, "size_of": "payload", "size_unit": "bytes"},
			{"name": "payload", "type": "bytes", "max_size": 64}
		],
		"seeds": ["53494d50000548454c4c4f"]
	}
}`

const brokenPluginJSON = `{
	"data_model": {
		"blocks": [
			{"name": "len", "type": "uint16", "size": 2, "is_size_field": true, "size_of": "nope"}
		]
	}
}`

func writePlugin(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(contents), 0o644))
}

func TestLoader_LoadValidatesAndDecodes(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "demo", demoPluginJSON)

	l := NewLoader(DefaultSearchPath(dir))
	p, err := l.Load("demo")
	require.NoError(t, err)
	require.Equal(t, "demo", p.ID)
	require.Len(t, p.DataModel.Blocks, 3)
	require.Len(t, p.DataModel.Seeds, 1)
}

func TestLoader_LoadRejectsStructurallyInvalidPlugin(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "broken", brokenPluginJSON)

	l := NewLoader(DefaultSearchPath(dir))
	_, err := l.Load("broken")
	require.Error(t, err)
}

func TestLoader_LoadNotFound(t *testing.T) {
	l := NewLoader(DefaultSearchPath(t.TempDir()))
	_, err := l.Load("missing")
	require.Error(t, err)
}

func TestLoader_CustomDirTakesPriorityOverExamples(t *testing.T) {
	root := t.TempDir()
	custom := filepath.Join(root, "custom")
	examples := filepath.Join(root, "plugins", "examples")
	writePlugin(t, custom, "demo", demoPluginJSON)
	writePlugin(t, examples, "demo", brokenPluginJSON)

	sp := SearchPath{custom, examples}
	l := NewLoader(sp)
	p, err := l.Load("demo")
	require.NoError(t, err)
	require.Len(t, p.DataModel.Blocks, 3) // resolved from custom, not the broken examples copy
}

func TestLoader_ListAvailable_DedupsByPriority(t *testing.T) {
	root := t.TempDir()
	custom := filepath.Join(root, "custom")
	examples := filepath.Join(root, "plugins", "examples")
	writePlugin(t, custom, "demo", demoPluginJSON)
	writePlugin(t, examples, "demo", brokenPluginJSON)
	writePlugin(t, examples, "other", demoPluginJSON)

	sp := SearchPath{custom, examples}
	l := NewLoader(sp)
	names, err := l.ListAvailable()
	require.NoError(t, err)
	require.Equal(t, []string{"demo", "other"}, names)
}
