package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pumpcast",
	Short: "Retail gasoline price forecasting data pipeline",
	Long:  "Ingests futures, EIA, NOAA and HURDAT2 data into Bronze, cleans it into Silver and builds the daily Gold modeling table for a 21-day retail gasoline forecast.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return exitWith(pipeline.ExitConfig, fmt.Errorf("load config: %w", err))
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return exitWith(pipeline.ExitConfig, fmt.Errorf("init logger: %w", err))
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps a command error onto the process exit code.
func exitCode(err error) int {
	if err == nil {
		return pipeline.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return pipeline.ExitCodeFor(err)
}

func main() {
	err := rootCmd.Execute()
	code := exitCode(err)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	os.Exit(code)
}
