// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autobrr/trawl/internal/definitions"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/plugins"
)

func RunTargetsCommand() *cobra.Command {
	var (
		configDir string
		available bool
	)

	command := &cobra.Command{
		Use:   "targets",
		Short: "List configured targets, or every definition a target can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, "", "", false)
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			conf := cfg.Current()

			catalog, err := definitions.Load(conf.DefinitionsDir)
			if err != nil {
				return err
			}
			factory := plugins.NewFactory(catalog)

			if available {
				for _, id := range factory.Available() {
					cmd.Println(id)
				}
				return nil
			}

			targets, buildErr := factory.BuildAll(conf.Targets)
			sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRIVACY\tENABLED\tMODES\tURL")
			for _, t := range targets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
					t.ID(), t.Definition.Name, t.Definition.Privacy, t.Enabled, modes(t.Definition), t.Definition.BaseURL())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return buildErr
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().BoolVar(&available, "available", false, "list every definition id instead of the configured targets")

	return command
}

func modes(def *indexer.Definition) string {
	out := make([]string, 0, len(def.Capabilities.Modes))
	for mode := range def.Capabilities.Modes {
		out = append(out, string(mode))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
