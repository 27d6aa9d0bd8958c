// Command sandbox runs untrusted Python snippets in isolated, resource-limited
// cells, either behind an HTTP API (serve) or once from the terminal (run).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/code-sandbox/internal/executor/process"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Sandbox - run untrusted Python code safely",
	Long: `Sandbox executes short Python programs in isolated cells with a time limit,
an output limit and a memory limit, using a restricted set of builtins and modules.

Configuration is read from sandbox.yaml (in the working directory or
$HOME/.sandbox) and SANDBOX_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (default: ./sandbox.yaml if present)")
}

// exitCodeError makes the process exit with code without printing anything.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	// The process runtime re-executes this binary as its cell jail.
	process.Jail()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
