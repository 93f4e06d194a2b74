package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pumpcast/internal/db"
	"github.com/sells-group/pumpcast/internal/forecast"
	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/pipeline"
)

var exportTable string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export promoted Gold tables and the forecast",
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx <output.xlsx>",
	Short: "Write a promoted Gold table to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := gold.NewArtifacts(cfg.Data.GoldDir()).Load(cmd.Context(), exportTable)
		if err != nil {
			return err
		}

		out := args[0]
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return eris.Wrapf(err, "create %s", dir)
			}
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		if err := gold.WriteXLSX(f, t); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", out)
		}
		fmt.Printf("Wrote %s rows of %s to %s\n", printer.Sprintf("%d", len(t.Rows)), exportTable, out)
		return nil
	},
}

var exportPostgresCmd = &cobra.Command{
	Use:   "postgres",
	Short: "Replace the Postgres copy of a promoted Gold table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.Publish.DatabaseURL == "" {
			return exitWith(pipeline.ExitConfig, eris.New("publish.database_url is not set (PUMPCAST_PUBLISH_DATABASE_URL)"))
		}

		t, err := gold.NewArtifacts(cfg.Data.GoldDir()).Load(ctx, exportTable)
		if err != nil {
			return err
		}
		pool, err := db.Connect(ctx, cfg.Publish.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer pool.Close()

		target := publishTarget(cfg.Publish.Table, exportTable)
		n, err := gold.NewPublisher(pool, target).Publish(ctx, t)
		if err != nil {
			return err
		}
		fmt.Printf("Published %s rows to %s\n", printer.Sprintf("%d", n), target)
		return nil
	},
}

var exportForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Upsert the latest forecast artifact into Postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.Publish.DatabaseURL == "" {
			return exitWith(pipeline.ExitConfig, eris.New("publish.database_url is not set (PUMPCAST_PUBLISH_DATABASE_URL)"))
		}

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = cfg.Data.ForecastPath()
		}
		f, err := forecast.Read(path)
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, cfg.Publish.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer pool.Close()

		pub := forecast.NewPublisher(pool, cfg.Publish.ForecastTable)
		if err := pub.EnsureTable(ctx); err != nil {
			return err
		}
		n, err := pub.Publish(ctx, f)
		if err != nil {
			return err
		}
		fmt.Printf("Published %d predictions from %s to %s\n", n, f.Model, cfg.Publish.ForecastTable)
		return nil
	},
}

// publishTarget names the Postgres table for a Gold table: the configured
// table for master_daily, otherwise the Gold name in the configured schema.
func publishTarget(configured, name string) string {
	if name == gold.TableDaily {
		return configured
	}
	if schema, _, ok := strings.Cut(configured, "."); ok {
		return schema + "." + name
	}
	return name
}

func init() {
	for _, c := range []*cobra.Command{exportXLSXCmd, exportPostgresCmd} {
		c.Flags().StringVar(&exportTable, "table", gold.TableDaily,
			fmt.Sprintf("Gold table to export (%s, %s, %s)", gold.TableDaily, gold.TableOctober, gold.TableModelReady))
	}
	exportForecastCmd.Flags().String("file", "", "forecast artifact to publish (default data/forecast/latest.json)")

	exportCmd.AddCommand(exportXLSXCmd)
	exportCmd.AddCommand(exportPostgresCmd)
	exportCmd.AddCommand(exportForecastCmd)
	rootCmd.AddCommand(exportCmd)
}
