// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command protofuzzctl inspects and validates protocol plugins without
// running a fuzzing session: listing what's on the search path,
// validating a plugin's schemas, and printing its declared state graph
// and findings from a checkpoint store.
package main

import (
	"fmt"
	"os"

	"github.com/luxfi/database/memdb"
	"github.com/spf13/cobra"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/plugin"
	"github.com/fuzzframe/protofuzz/store"
)

var pluginDir string

var rootCmd = &cobra.Command{
	Use:   "protofuzzctl",
	Short: "protofuzzctl inspects and validates protocol plugins",
	Long: `protofuzzctl is a client for the fuzzing engine's plugin search path and
checkpoint store: list what plugins are available, validate one, and
inspect its declared state graph and persisted findings.`,
}

func main() {
	rootCmd.AddCommand(listPluginsCmd(), validateCmd(), graphCmd(), findingsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loader() *plugin.Loader {
	return plugin.NewLoader(plugin.DefaultSearchPath(pluginDir))
}

func listPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every plugin visible on the search path",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := loader().ListAvailable()
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

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin-id>",
		Short: "Load and validate a plugin's data, state, and connection schemas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loader().Load(args[0])
			if err != nil {
				return err
			}
			if err := blockmodel.ValidatePlugin(p); err != nil {
				return fmt.Errorf("plugin %q is invalid: %w", p.ID, err)
			}
			fmt.Printf("%s: valid (%d blocks, %d seeds", p.ID, len(p.DataModel.Blocks), len(p.DataModel.Seeds))
			if p.HasStateModel() {
				fmt.Printf(", %d states, %d transitions", len(p.StateModel.States), len(p.StateModel.Transitions))
			}
			if p.HasHeartbeat() {
				fmt.Printf(", heartbeat every %s", p.HeartbeatSpec.Interval)
			}
			fmt.Println(")")
			return nil
		},
	}
}

func graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <plugin-id>",
		Short: "Print a plugin's declared state transition graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loader().Load(args[0])
			if err != nil {
				return err
			}
			if !p.HasStateModel() {
				fmt.Printf("%s declares no state model\n", p.ID)
				return nil
			}
			fmt.Printf("initial: %s\n", p.StateModel.InitialState)
			for _, t := range p.StateModel.Transitions {
				fmt.Printf("  %s  [%s / %s]\n", t.Label(), t.Trigger, t.MessageType)
			}
			return nil
		},
	}
}

func findingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "findings",
		Short: "List findings persisted in the checkpoint store",
		Long: `findings lists persisted findings from an in-process store. Without a
shared persistent database backend wired between protofuzzd and
protofuzzctl, this command only sees findings written in this process;
running it against a live daemon's findings requires pointing both at
the same database.Database backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(memdb.New())
			findings, err := st.ListFindings()
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				fmt.Println("no findings")
				return nil
			}
			for _, f := range findings {
				fmt.Printf("%s  %s  session=%s\n", f.ID, f.Outcome, f.SessionID)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "custom plugin directory, searched before bundled plugins")
}
