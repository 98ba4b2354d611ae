// mcpzero is the MCP-ZERO fabric daemon and its operator CLI. `serve` runs
// the full service; the other commands talk to a running instance over HTTP.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 operational error, 2 failed health check.
const (
	exitOK     = 0
	exitError  = 1
	exitHealth = 2
)

func main() {
	root := &cobra.Command{
		Use:           "mcpzero",
		Short:         "MCP-ZERO governed agent fabric",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverAddr, "server", "", "base URL of a running instance (default from MCP_HOST/MCP_HTTP_PORT)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "bearer key (default: first key of MCP_ADMIN_KEYS, then MCP_API_KEYS)")

	root.AddCommand(
		newServeCmd(),
		newAgentCmd(),
		newAgentOpsCmd(),
		newPluginCmd(),
		newSystemCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		if code, ok := exitCodeOf(err); ok {
			os.Exit(code)
		}
		os.Exit(exitError)
	}
}

// exitErr carries an explicit exit code up to main.
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string { return e.err.Error() }
func (e exitErr) Unwrap() error { return e.err }

func exitCodeOf(err error) (int, bool) {
	if e, ok := err.(exitErr); ok {
		return e.code, true
	}
	return 0, false
}
