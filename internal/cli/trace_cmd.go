package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/netplug/internal/store"
	"github.com/spf13/cobra"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect hook traces recorded in the trace database",
	}

	cmd.AddCommand(newTraceRunsCmd())
	cmd.AddCommand(newTraceShowCmd())
	cmd.AddCommand(newTraceSearchCmd())
	cmd.AddCommand(newTraceDeleteCmd())

	return cmd
}

// withTraceStore opens the trace database for the duration of fn.
func withTraceStore(fn func(ts *store.TraceStore) error) error {
	db, err := store.Open(paths.TracePath(&cfg), log)
	if err != nil {
		return fmt.Errorf("opening trace database: %w", err)
	}
	defer db.Close()
	return fn(store.NewTraceStore(db))
}

// resolveRun maps an empty id or "latest" to the newest run.
func resolveRun(ts *store.TraceStore, id string) (string, error) {
	if id != "" && id != "latest" {
		return id, nil
	}
	runs, err := ts.Runs(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", store.ErrRunNotFound
	}
	return runs[0].ID, nil
}

func newTraceRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(func(ts *store.TraceStore) error {
				runs, err := ts.Runs(limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No trace runs recorded.")
					return nil
				}
				for _, r := range runs {
					status := "running"
					if !r.FinishedAt.IsZero() {
						status = r.FinishedAt.Sub(r.StartedAt).String()
					}
					fmt.Fprintf(out, "%s  %s  %4d records  %-12s %s\n",
						r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
						r.Records, status, strings.Join(r.Plugins, ","))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func newTraceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the records of a run (default: latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(func(ts *store.TraceStore) error {
				id, err := resolveRun(ts, firstArg(args))
				if err != nil {
					return err
				}
				recs, err := ts.Records(id)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
}

func newTraceSearchCmd() *cobra.Command {
	var (
		run   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search a run's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(func(ts *store.TraceStore) error {
				id, err := resolveRun(ts, run)
				if err != nil {
					return err
				}
				recs, err := ts.Search(id, args[0], limit)
				if err != nil {
					return fmt.Errorf("searching run %s: %w", id, err)
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&run, "run", "", "run id (default: latest)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of records")
	return cmd
}

func newTraceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTraceStore(func(ts *store.TraceStore) error {
				if err := ts.DeleteRun(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func printRecords(w io.Writer, recs []store.TraceRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	for _, r := range recs {
		line := fmt.Sprintf("%5d %-4s %s(%s)", r.Seq, r.Phase, r.Hook, r.Args)
		if r.Result != "" {
			line += " -> " + r.Result
		}
		fmt.Fprintln(w, line)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
