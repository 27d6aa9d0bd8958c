package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-sandbox/internal/config"
	"github.com/sakif/code-sandbox/internal/executor"
)

var (
	timeLimitFlag   time.Duration
	outputLimitFlag int
	memoryLimitFlag int64
	jsonFlag        bool
)

var runCmd = &cobra.Command{
	Use:   "run [FILE|-]",
	Short: "Run one Python file in a sandbox cell",
	Long: `Run a Python program once, under the same limits the server applies, and print
its output. With no argument or "-" the program is read from standard input.

The exit status is 0 when the program completed, 1 otherwise.

Examples:
  sandbox run script.py
  echo 'print(1+1)' | sandbox run
  sandbox run --time-limit 2s --json script.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&timeLimitFlag, "time-limit", 0, "Wall-clock limit (default from config)")
	runCmd.Flags().IntVar(&outputLimitFlag, "output-limit", 0, "Bytes kept per output stream (default from config)")
	runCmd.Flags().Int64Var(&memoryLimitFlag, "memory-limit", 0, "Memory limit in bytes (default from config)")
	runCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the full execution result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	src, err := readSource(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Logs go to stderr so stdout carries only the program output.
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

	sup, err := newSupervisor(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer sup.Close()

	res, err := sup.Execute(cmd.Context(), executor.ExecutionRequest{
		Source: src,
		Limits: executor.Limits{
			TimeLimit:   timeLimitFlag,
			OutputLimit: outputLimitFlag,
			MemoryLimit: memoryLimitFlag,
		},
	})
	if err != nil {
		return err
	}

	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		if !res.OK() {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Status, describe(res))
		}
	}

	if !res.OK() {
		return &exitCodeError{code: 1}
	}
	return nil
}

func readSource(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func describe(res *executor.ExecutionResult) string {
	if res.ErrorType != "" && res.ErrorMessage != res.ErrorType {
		return res.ErrorType + ": " + res.ErrorMessage
	}
	return res.ErrorMessage
}
