package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage the plugin registry",
	}

	var descriptorFile string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a plugin from a descriptor file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(descriptorFile)
			if err != nil {
				return fmt.Errorf("reading descriptor: %w", err)
			}
			var descriptor map[string]interface{}
			if err := json.Unmarshal(raw, &descriptor); err != nil {
				return fmt.Errorf("parsing descriptor: %w", err)
			}
			out, err := newClient().call(http.MethodPost, "/api/v1/plugins", descriptor)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	register.Flags().StringVarP(&descriptorFile, "file", "f", "plugin.json", "plugin descriptor JSON")

	var capability string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/plugins"
			if capability != "" {
				path += "?capability=" + capability
			}
			out, err := newClient().call(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(out["plugins"])
		},
	}
	list.Flags().StringVar(&capability, "capability", "", "filter by capability")

	info := &cobra.Command{
		Use:   "info <plugin-id>",
		Short: "Show one plugin's descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/plugins/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(register, list, info)
	return cmd
}
