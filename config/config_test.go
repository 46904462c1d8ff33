// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsZeroConcurrency(t *testing.T) {
	p := Default()
	p.MaxConcurrentSessions = 0
	require.Error(t, p.Validate())
}

func TestValidate_RejectsCORSWithoutOrigins(t *testing.T) {
	p := Default()
	p.CORSEnabled = true
	require.Error(t, p.Validate())

	p.CORSOrigins = []string{"https://example.com"}
	require.NoError(t, p.Validate())
}
