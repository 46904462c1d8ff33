// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs collects multiple independent validation failures (e.g. a
// plugin whose data model violates several invariants at once) into a
// single error, so callers can report everything wrong with a plugin in
// one pass instead of failing on the first block.
package errs

import (
	"strings"
	"sync"
)

// Collector is a thread-safe collection of errors.
type Collector struct {
	mu   sync.RWMutex
	errs []error
}

// Add appends err to the collection. A nil err is a no-op.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Errored reports whether any error has been added.
func (c *Collector) Errored() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errs) > 0
}

// Err returns all collected errors joined into one, or nil if none.
func (c *Collector) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.errs) == 0 {
		return nil
	}
	msgs := make([]string, len(c.errs))
	for i, e := range c.errs {
		msgs[i] = e.Error()
	}
	return &multiError{msgs: msgs, errs: append([]error(nil), c.errs...)}
}

type multiError struct {
	msgs []string
	errs []error
}

func (m *multiError) Error() string {
	return strings.Join(m.msgs, "; ")
}

// Unwrap exposes the collected errors so errors.Is/errors.As can match any
// of them.
func (m *multiError) Unwrap() []error {
	return m.errs
}
