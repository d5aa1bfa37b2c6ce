// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/spf13/cobra"

	"github.com/roshan-srin/nidata/internal/server"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	cfg := server.DefaultConfig()
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for shared dataset fetching",
		Long: `Start an HTTP server that provides:
  - REST API to list datasets, plan and run fetches
  - WebSocket for live job progress
  - Prometheus metrics at /metrics

The data directory is configured server-side only (not via the API).

Example:
  nidata serve
  nidata serve --port 3000 --data-dir /shared/nidata`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fetcher.ParseSize(cfg.Settings.MultipartThreshold, 0); err != nil {
				return err
			}
			cfg.Version = version
			cfg.AllowedOrigins = origins
			cfg.Logger = ro.Logger()
			return server.New(cfg).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to bind to")
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	cmd.Flags().StringVarP(&cfg.DataDir, "data-dir", "d", "", "Data directory every job writes to")
	cmd.Flags().StringSliceVar(&origins, "allowed-origins", nil, "CORS origins allowed to call the API (default: any)")
	cmd.Flags().IntVarP(&cfg.Settings.Concurrency, "connections", "c", cfg.Settings.Concurrency, "Concurrent range requests per large download")
	cmd.Flags().IntVar(&cfg.Settings.MaxActiveDownloads, "max-active", cfg.Settings.MaxActiveDownloads, "Maximum number of URLs downloading at once per job")
	cmd.Flags().StringVar(&cfg.Settings.MultipartThreshold, "multipart-threshold", cfg.Settings.MultipartThreshold, "Use range requests only for files >= this size")
	cmd.Flags().IntVar(&cfg.Settings.Retries, "retries", cfg.Settings.Retries, "Max retry attempts per download")
	cmd.Flags().StringVar(&cfg.Settings.BackoffInitial, "backoff-initial", cfg.Settings.BackoffInitial, "Initial retry backoff duration")
	cmd.Flags().StringVar(&cfg.Settings.BackoffMax, "backoff-max", cfg.Settings.BackoffMax, "Maximum retry backoff duration")
	cmd.Flags().StringVar(&cfg.Settings.Timeout, "timeout", cfg.Settings.Timeout, "FTP dial and control timeout")
	cmd.Flags().StringVar(&cfg.Settings.Username, "username", "", "Username for servers requiring basic auth")
	cmd.Flags().StringVar(&cfg.Settings.Password, "password", "", "Password for servers requiring basic auth")
	cmd.Flags().BoolVar(&cfg.Settings.KeepArchives, "keep-archives", false, "Keep archives after extracting them")

	return cmd
}
