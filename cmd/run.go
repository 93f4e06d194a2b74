package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/pipeline"
)

var (
	runAsOf  string
	runForce bool
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: Bronze ingest, Silver, Gold and validation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := runOptions()
		if err != nil {
			return err
		}
		env, err := initPipeline(ctx, initOpts{Sources: true, Publish: true})
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.RunFull(ctx, opts)
		return reportRun(run, err)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild and validate Gold from the committed Silver tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := runOptions()
		if err != nil {
			return err
		}
		env, err := initPipeline(ctx, initOpts{Publish: true})
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.RunGoldOnly(ctx, opts)
		return reportRun(run, err)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the committed Silver tables and the promoted Gold files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, initOpts{})
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.RunValidateOnly(ctx)
		return reportRun(run, err)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, refreshCmd} {
		c.Flags().StringVar(&runAsOf, "as-of", "", "build Gold from data published on or before this date (YYYY-MM-DD)")
		c.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	}
	runCmd.Flags().BoolVar(&runForce, "force", false, "fetch every source regardless of its schedule")
	validateCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(validateCmd)
}

func runOptions() (pipeline.RunOpts, error) {
	opts := pipeline.RunOpts{Force: runForce}
	if runAsOf != "" {
		d, err := model.ParseDay(runAsOf)
		if err != nil {
			return opts, exitWith(pipeline.ExitConfig, eris.Wrap(err, "invalid --as-of"))
		}
		opts.AsOf = d
	}
	return opts, nil
}

// reportRun prints the run and converts its exit code into the command
// error.
func reportRun(run *model.Run, err error) error {
	if err != nil {
		return err
	}
	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return eris.Wrap(err, "encode run")
		}
	} else {
		formatRunSummary(os.Stdout, run)
	}

	if run.Result == nil || run.Result.ExitCode == pipeline.ExitOK {
		return nil
	}
	zap.L().Warn("run finished with problems",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("exit_code", run.Result.ExitCode),
	)
	return exitWith(run.Result.ExitCode, nil)
}

// formatRunSummary writes a human-readable run report to out.
func formatRunSummary(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", run.Mode)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)

	res := run.Result
	if res == nil {
		_ = w.Flush()
		return
	}
	_, _ = fmt.Fprintf(w, "Exit code:\t%d\n", res.ExitCode)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", (time.Duration(res.TotalSeconds * float64(time.Second))).Round(time.Millisecond))
	if res.FailedStage != "" {
		_, _ = fmt.Fprintf(w, "Failed stage:\t%s\n", res.FailedStage)
	}
	if res.Cancelled {
		_, _ = fmt.Fprintf(w, "Cancelled:\tyes\n")
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", res.Error)
	}
	for _, s := range res.Sources {
		state := fmt.Sprintf("%d new", s.New)
		switch {
		case s.Error != "":
			state = "FAILED: " + s.Error
		case s.Skipped:
			state = "not due"
		}
		_, _ = fmt.Fprintf(w, "  source %s:\t%s\n", s.Source, state)
	}
	for _, name := range sortedKeys(res.SilverRows) {
		_, _ = fmt.Fprintf(w, "  silver %s:\t%s rows\n", name, printer.Sprintf("%d", res.SilverRows[name]))
	}
	for _, name := range sortedKeys(res.GoldRows) {
		_, _ = fmt.Fprintf(w, "  gold %s:\t%s rows\n", name, printer.Sprintf("%d", res.GoldRows[name]))
	}
	for _, rep := range res.Reports {
		verdict := "pass"
		if !rep.Passed() {
			verdict = "FAIL"
		}
		_, _ = fmt.Fprintf(w, "  check %s:\t%s (%d checks)\n", rep.Subject, verdict, len(rep.Checks))
		for _, c := range rep.Failures(model.SeverityError) {
			_, _ = fmt.Fprintf(w, "    %s:\t%s\n", c.Name, c.Detail)
		}
	}
	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(w, "  warning:\t%s\n", warn)
	}
	_ = w.Flush()
}
