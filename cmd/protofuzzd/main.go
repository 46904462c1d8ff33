// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command protofuzzd is the daemon that loads a protocol plugin and
// drives fuzzing sessions against it, persisting checkpoints and
// findings as it goes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/config"
	"github.com/fuzzframe/protofuzz/connection"
	"github.com/fuzzframe/protofuzz/control"
	"github.com/fuzzframe/protofuzz/mutate"
	"github.com/fuzzframe/protofuzz/orchestrator"
	"github.com/fuzzframe/protofuzz/plugin"
	"github.com/fuzzframe/protofuzz/session"
	"github.com/fuzzframe/protofuzz/store"
)

var (
	pluginDir  string
	maxSess    int
	checkpoint int
)

var rootCmd = &cobra.Command{
	Use:   "protofuzzd",
	Short: "protofuzzd runs the stateful protocol fuzzing engine",
	Long: `protofuzzd loads a declarative protocol plugin, drives one or more
fuzzing sessions against a target endpoint, and persists findings and
checkpoints as it goes.`,
}

func main() {
	rootCmd.AddCommand(runCmd(), listPluginsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var targetAddr, transport string
	var persistent bool
	var maxIterations int
	var timeoutMS int
	var rateLimit float64
	var sessionID string
	var seed int64

	cmd := &cobra.Command{
		Use:   "run <plugin-id>",
		Short: "Run a fuzzing session against a plugin's target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pluginID := args[0]

			params := config.Default()
			params.MaxConcurrentSessions = maxSess
			params.CheckpointInterval = checkpoint
			if err := params.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := log.NewNoOpLogger()
			reg := prometheus.NewRegistry()
			st := store.New(memdb.New())
			loader := plugin.NewLoader(plugin.DefaultSearchPath(pluginDir))

			newConfig := func(p *blockmodel.Plugin) (orchestrator.Config, error) {
				conn := connection.New(connection.Transport(transport), targetAddr, persistent, params.FindingMaxBytes, logger)
				return orchestrator.Config{
					Plugin:             p,
					Conn:               conn,
					Store:              st,
					Log:                logger,
					Registerer:         reg,
					Mode:               mutate.ModeHybrid,
					SessionMode:        session.ModeRandom,
					TimeoutPerTestMS:   timeoutMS,
					RateLimitPerSecond: rateLimit,
					CheckpointInterval: params.CheckpointInterval,
					MaxIterations:      maxIterations,
				}, nil
			}

			ctl := control.New(loader, st, params.MaxConcurrentSessions, newConfig).WithLogger(logger)

			resumed, err := ctl.Resume()
			if err != nil {
				return fmt.Errorf("resume persisted sessions: %w", err)
			}
			for _, msg := range resumed {
				logger.Info("session resumed", "message", msg)
			}

			info, err := ctl.CreateSession(sessionID, pluginID, seed)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			logger.Info("session created", "id", info.ID, "plugin", info.PluginID)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := ctl.StartSession(ctx, info.ID); err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			logger.Info("session running", "id", info.ID, "target", targetAddr, "transport", transport)
			<-ctx.Done()
			ctl.StopSession(info.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetAddr, "target", "", "target endpoint (host:port)")
	cmd.Flags().StringVar(&transport, "transport", "tcp", "transport: tcp or udp")
	cmd.Flags().BoolVar(&persistent, "persistent", true, "keep one connection open across iterations instead of reconnecting per test")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 1_000_000, "maximum iterations before the session completes")
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 2000, "per-test response timeout in milliseconds")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "maximum tests per second, 0 for unlimited")
	cmd.Flags().StringVar(&sessionID, "session-id", "default", "identifier to register this session under")
	cmd.Flags().Int64Var(&seed, "seed", 1, "deterministic RNG seed")
	cmd.MarkFlagRequired("target")
	return cmd
}

func listPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-plugins",
		Short: "List every plugin visible on the search path",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := plugin.NewLoader(plugin.DefaultSearchPath(pluginDir))
			names, err := loader.ListAvailable()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "custom plugin directory, searched before bundled plugins")
	rootCmd.PersistentFlags().IntVar(&maxSess, "max-concurrent-sessions", 1, "maximum concurrent running sessions")
	rootCmd.PersistentFlags().IntVar(&checkpoint, "checkpoint-interval", 100, "iterations between session checkpoints")
}
