// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/connection"
	"github.com/fuzzframe/protofuzz/mutate"
	"github.com/fuzzframe/protofuzz/orchestrator"
	"github.com/fuzzframe/protofuzz/plugin"
	"github.com/fuzzframe/protofuzz/session"
	"github.com/fuzzframe/protofuzz/store"
)

const echoPluginJSON = `{
	"data_model": {
		"blocks": [{"name": "cmd", "type": "uint8", "size": 1}],
		"seeds": ["01"]
	}
}`

// startEchoServer returns a listener that echoes back whatever it reads,
// for as many connections as are dialed against it.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 16)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func newTestController(t *testing.T, addr string, maxConcurrent int) *Controller {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "custom"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom", "echo.json"), []byte(echoPluginJSON), 0o644))

	loader := plugin.NewLoader(plugin.DefaultSearchPath(filepath.Join(dir, "custom")))
	st := store.New(memdb.New())

	newConfig := func(p *blockmodel.Plugin) (orchestrator.Config, error) {
		conn := connection.New(connection.TransportTCP, addr, true, 0, log.NewNoOpLogger())
		reg := prometheus.NewRegistry()
		return orchestrator.Config{
			Plugin:             p,
			Conn:               conn,
			Store:              st,
			Log:                log.NewNoOpLogger(),
			Registerer:         reg,
			Mode:               mutate.ModeByteLevel,
			SessionMode:        session.ModeRandom,
			TimeoutPerTestMS:   500,
			CheckpointInterval: 2,
			MaxIterations:      1000,
		}, nil
	}

	return New(loader, st, maxConcurrent, newConfig)
}

func TestController_CreateAndRunSessionToCompletion(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)

	info, err := c.CreateSession("s1", "echo", 1)
	require.NoError(t, err)
	require.Equal(t, "paused", info.Status)

	require.NoError(t, c.StartSession(context.Background(), "s1"))

	require.Eventually(t, func() bool {
		got, err := c.GetSession("s1")
		require.NoError(t, err)
		return got.Status == "completed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestController_ConcurrencyLimitRejectsSecondStart(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)

	_, err := c.CreateSession("s1", "echo", 1)
	require.NoError(t, err)
	_, err = c.CreateSession("s2", "echo", 2)
	require.NoError(t, err)

	require.NoError(t, c.StartSession(context.Background(), "s1"))
	err = c.StartSession(context.Background(), "s2")
	require.ErrorIs(t, err, ErrSessionLimitReached)
}

func TestController_StartUnknownSession(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)
	err := c.StartSession(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestController_StopSessionPausesLoop(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)

	_, err := c.CreateSession("s1", "echo", 1)
	require.NoError(t, err)
	require.NoError(t, c.StartSession(context.Background(), "s1"))
	require.NoError(t, c.StopSession("s1"))

	require.Eventually(t, func() bool {
		got, err := c.GetSession("s1")
		require.NoError(t, err)
		return got.Status != "running"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestController_ExecuteOneOff(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)

	outcome, raw, err := c.ExecuteOneOff("echo", ln.Addr().String(), []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, orchestrator.OutcomeNormal, outcome)
	require.Equal(t, []byte{0x01}, raw)
}

func TestController_ListAndGetFindingsEmpty(t *testing.T) {
	ln := startEchoServer(t)
	c := newTestController(t, ln.Addr().String(), 1)
	findings, err := c.ListFindings()
	require.NoError(t, err)
	require.Empty(t, findings)
}
