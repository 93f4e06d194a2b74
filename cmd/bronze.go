package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pumpcast/internal/bronze"
	"github.com/sells-group/pumpcast/internal/model"
)

var bronzeCmd = &cobra.Command{
	Use:   "bronze",
	Short: "Inspect the Bronze snapshot store",
}

var bronzeLsCmd = &cobra.Command{
	Use:   "ls [dataset]",
	Short: "List datasets, or the snapshots of one dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := bronze.Open(ctx, cfg.Data.BronzePath())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if history, _ := cmd.Flags().GetInt("history"); history > 0 {
			entries, err := st.IngestHistory(ctx, history)
			if err != nil {
				return eris.Wrap(err, "bronze ls history")
			}
			formatIngestHistory(os.Stdout, entries)
			return nil
		}

		if len(args) == 1 {
			recs, err := st.List(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "bronze ls")
			}
			if len(recs) == 0 {
				fmt.Fprintf(os.Stderr, "No snapshots for %s.\n", args[0])
				return nil
			}
			formatSnapshots(os.Stdout, recs)
			return nil
		}

		datasets, err := st.Datasets(ctx)
		if err != nil {
			return eris.Wrap(err, "bronze ls")
		}
		if len(datasets) == 0 {
			fmt.Fprintln(os.Stderr, "Bronze store is empty.")
			return nil
		}
		formatDatasets(os.Stdout, datasets)
		return nil
	},
}

func init() {
	bronzeLsCmd.Flags().Int("history", 0, "show the last N ingest log entries instead")
	bronzeCmd.AddCommand(bronzeLsCmd)
	rootCmd.AddCommand(bronzeCmd)
}

func formatDatasets(out io.Writer, datasets []bronze.DatasetSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tSNAPSHOTS\tBYTES\tLAST_RETRIEVED")
	for _, d := range datasets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.Dataset,
			printer.Sprintf("%d", d.Snapshots),
			printer.Sprintf("%d", d.Bytes),
			d.LastRetrieved.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatSnapshots(out io.Writer, recs []model.RawRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRETRIEVED\tSCHEMA\tCONTENT_TYPE\tSHA256\tRUN")
	for _, r := range recs {
		sum := r.SHA256
		if len(sum) > 12 {
			sum = sum[:12]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.RetrievedAt.Format("2006-01-02 15:04:05"),
			r.SchemaVersion,
			r.ContentType,
			sum,
			truncateID(r.RunID),
		)
	}
	_ = w.Flush()
}

func formatIngestHistory(out io.Writer, entries []bronze.IngestEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tSTARTED\tSNAPSHOTS\tNEW\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Source,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			e.Snapshots,
			e.New,
			e.Error,
		)
	}
	_ = w.Flush()
}
