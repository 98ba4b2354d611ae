package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}

	var cpu, memory float64
	spawn := &cobra.Command{
		Use:   "spawn <name>",
		Short: "Spawn a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"name": args[0],
				"constraints": map[string]float64{
					"cpu":    cpu,
					"memory": memory,
				},
			}
			out, err := newClient().call(http.MethodPost, "/api/v1/agents", body)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	spawn.Flags().Float64Var(&cpu, "cpu", 0, "CPU fraction (0 = ceiling default)")
	spawn.Flags().Float64Var(&memory, "memory", 0, "memory MB (0 = ceiling default)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/agents", nil)
			if err != nil {
				return err
			}
			return printJSON(out["agents"])
		},
	}

	cmd.AddCommand(spawn, list)
	return cmd
}

func newAgentOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent-ops",
		Short: "Operate on a running agent",
	}

	var pluginHash string
	attach := &cobra.Command{
		Use:   "attach <agent-id> <plugin-id>",
		Short: "Attach a registered plugin to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodPost,
				"/api/v1/agents/"+args[0]+"/plugins",
				map[string]string{"plugin_id": args[1], "plugin_hash": pluginHash})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	attach.Flags().StringVar(&pluginHash, "hash", "", "expected plugin hash")

	var inputsJSON string
	execute := &cobra.Command{
		Use:   "execute <agent-id> <intent>",
		Short: "Execute an intent on an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := map[string]interface{}{}
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
					return fmt.Errorf("parsing --inputs: %w", err)
				}
			}
			out, err := newClient().call(http.MethodPost,
				"/api/v1/agents/"+args[0]+"/execute",
				map[string]interface{}{"intent": args[1], "inputs": inputs})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	execute.Flags().StringVar(&inputsJSON, "inputs", "", "intent inputs as JSON")

	snapshot := &cobra.Command{
		Use:   "snapshot <agent-id>",
		Short: "Capture a recoverable snapshot of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodPost,
				"/api/v1/agents/"+args[0]+"/snapshot", nil)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	recover := &cobra.Command{
		Use:   "recover <snapshot-id>",
		Short: "Recover an agent from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodPost,
				"/api/v1/agents/recover",
				map[string]string{"snapshot_id": args[0]})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	status := &cobra.Command{
		Use:   "status <agent-id>",
		Short: "Show an agent's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().call(http.MethodGet, "/api/v1/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(attach, execute, snapshot, recover, status)
	return cmd
}
