// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package plugin loads protocol plugins from a priority search path
// (custom directories take precedence over bundled examples, which take
// precedence over the standard library) and validates them before they
// become usable.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

// SearchPath is an ordered list of directories to look for plugin
// definitions in; earlier entries win on a name collision.
type SearchPath []string

// DefaultSearchPath returns the documented priority order: a caller-
// supplied custom directory, then the bundled examples directory, then
// the bundled standard-protocol directory.
func DefaultSearchPath(customDir string) SearchPath {
	var sp SearchPath
	if customDir != "" {
		sp = append(sp, customDir)
	}
	sp = append(sp, "plugins/examples", "plugins/standard")
	return sp
}

// Loader discovers and validates plugins from a SearchPath.
type Loader struct {
	Path SearchPath
}

// NewLoader builds a Loader over path.
func NewLoader(path SearchPath) *Loader {
	return &Loader{Path: path}
}

// Load finds id.json in the search path (first directory that has it
// wins) and returns a validated Plugin.
func (l *Loader) Load(id string) (*blockmodel.Plugin, error) {
	for _, dir := range l.Path {
		full := filepath.Join(dir, id+".json")
		data, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read plugin %q: %w", id, err)
		}
		p, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode plugin %q: %w", id, err)
		}
		p.ID = id
		p.Source = full
		if err := blockmodel.ValidatePlugin(p); err != nil {
			return nil, fmt.Errorf("plugin %q failed validation: %w", id, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("plugin %q not found on search path %v", id, l.Path)
}

// ListAvailable returns every unique plugin id visible anywhere on the
// search path, sorted by name; an id present in several directories is
// listed once.
func (l *Loader) ListAvailable() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, dir := range l.Path {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if filepath.Ext(name) != ".json" {
				continue
			}
			id := name[:len(name)-len(".json")]
			if seen[id] {
				continue
			}
			seen[id] = true
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names, nil
}

// decode is the wire format for a plugin definition file. It's a plain
// JSON document; blockmodel types whose JSON shape differs from the Go
// shape (hex seeds, block defaults, behaviors) decode through their own
// UnmarshalJSON methods in blockmodel/json.go.
func decode(data []byte) (*blockmodel.Plugin, error) {
	var p blockmodel.Plugin
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
