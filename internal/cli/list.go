// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roshan-srin/nidata/pkg/dataset"
)

func newListCmd(ro *RootOpts) *cobra.Command {
	var modality string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the datasets nidata can fetch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []dataset.Descriptor
			for _, d := range dataset.List() {
				if modality == "" || string(d.Modality) == modality {
					items = append(items, d)
				}
			}
			if ro.JSONOut {
				return writeJSON(cmd.OutOrStdout(), items)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Modality", "Description")
			for _, d := range items {
				if err := table.Append([]string{d.Name, string(d.Modality), d.Description}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&modality, "modality", "m", "", "Only list one modality: atlas, functional, localizer, resting_state")
	return cmd
}

func newInfoCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "info DATASET",
		Short: "Show a dataset's parameters and environment variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := dataset.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %q (available: %s)", dataset.ErrUnknownDataset, args[0], strings.Join(dataset.Names(), ", "))
			}
			if ro.JSONOut {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			return renderInfo(cmd.OutOrStdout(), d)
		},
	}
}

func renderInfo(w io.Writer, d dataset.Descriptor) error {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s", d.Name)
	fmt.Fprintf(w, " (%s)\n  %s\n", d.Modality, d.Description)

	env := append(append([]string(nil), d.EnvVars...), dataset.EnvSharedData, dataset.EnvDataPath)
	fmt.Fprintf(w, "  Data directory from: --data-dir, %s, ~/%s\n\n", strings.Join(env, ", "), dataset.DefaultRootName)

	if len(d.Params) == 0 {
		fmt.Fprintln(w, "No parameters.")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Parameter", "Default", "Description")
	for _, p := range d.Params {
		if err := table.Append([]string{p.Name, p.Default, p.Help}); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
