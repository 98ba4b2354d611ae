package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/GlobalSushrut/mcp-zero/internal/config"
)

func newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Inspect the running fabric",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show aggregate fabric status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/system/status", nil)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	resources := &cobra.Command{
		Use:   "resources",
		Short: "Show the resource monitor report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/system/resources", nil)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	logs := &cobra.Command{
		Use:   "logs",
		Short: "Print the service log file (MCP_LOG_PATH)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.LogPath == "" {
				return fmt.Errorf("MCP_LOG_PATH is not set")
			}
			f, err := os.Open(cfg.LogPath)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			_, err = io.Copy(os.Stdout, f)
			return err
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Probe the health endpoint (exit 2 on failure)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/health", nil)
			if err != nil {
				return exitErr{code: exitHealth, err: err}
			}
			if s, _ := out["status"].(string); s != "operational" {
				return exitErr{code: exitHealth, err: fmt.Errorf("service reports status %q", s)}
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(status, resources, logs, health)
	return cmd
}
