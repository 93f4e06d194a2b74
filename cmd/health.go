package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/monitoring"
	"github.com/sells-group/pumpcast/internal/pipeline"
	"github.com/sells-group/pumpcast/internal/silver"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the freshness of every Silver table, Gold and the forecast",
	Long:  "Grades each layer against the configured freshness thresholds. Exits non-zero when any layer is stale or missing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cat, err := loadCatalog()
		if err != nil {
			return exitWith(pipeline.ExitConfig, err)
		}
		st, err := silver.OpenStore(ctx, cfg.Data.SilverPath())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewHealthChecker(cfg.Health, cat, st, gold.NewArtifacts(cfg.Data.GoldDir()),
			cfg.Data.ForecastPath(), disabledDatasets())
		report, err := checker.Check(ctx)
		if err != nil {
			return err
		}

		if healthJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "encode health report")
			}
		} else {
			formatHealth(os.Stdout, report)
		}

		if err := report.Err(); err != nil {
			return exitWith(healthExitCode(err), nil)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(healthCmd)
}

// healthExitCode is the worst stage exit code among the joined errors.
func healthExitCode(err error) int {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return pipeline.ExitCodeFor(err)
	}
	code := pipeline.ExitOK
	for _, e := range joined.Unwrap() {
		code = max(code, pipeline.ExitCodeFor(e))
	}
	return code
}

func formatHealth(out io.Writer, r *monitoring.HealthReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tCADENCE\tROWS\tLAST_DATE\tAGE_DAYS\tWARN/MAX\tLEVEL")
	for _, t := range r.Tables {
		last := "-"
		if !t.LastDate.IsZero() {
			last = t.LastDate.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%s\t%dd\t%s\t%s\t%d\t%d/%d\t%s\n",
			t.Name, t.CadenceDays, printer.Sprintf("%d", t.Rows), last, t.AgeDays,
			t.WarnAfterDays, t.MaxAgeDays, t.Level)
	}
	_, _ = fmt.Fprintln(w)
	for _, a := range []monitoring.ArtifactHealth{r.Gold, r.Forecast} {
		at := "-"
		if !a.At.IsZero() {
			at = a.At.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s:\t%s\t%.1fh old (max %dh)\t%s\n", a.Name, at, a.AgeHours, a.MaxAgeHours, a.Level)
		if a.Error != "" {
			_, _ = fmt.Fprintf(w, "\t%s\n", a.Error)
		}
	}
	_ = w.Flush()
}
