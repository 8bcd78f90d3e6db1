package main

import (
	"context"
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

	"github.com/sells-group/taxbill-cli/internal/engine"
	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
	"github.com/sells-group/taxbill-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect extraction run history",
	Long:  "Commands for listing, viewing, and summarizing extraction runs and their results.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		label, _ := cmd.Flags().GetString("label")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Label:  label,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs results --

var runsResultsCmd = &cobra.Command{
	Use:   "results <run-id>",
	Short: "List per-item results for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		asJSON, _ := cmd.Flags().GetBool("json")

		results, err := st.ListResults(ctx, args[0], store.ResultFilter{
			Status:    model.ResultStatus(status),
			SourceKey: source,
		})
		if err != nil {
			return eris.Wrap(err, "runs results")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No results found.")
			return nil
		}
		formatResults(os.Stdout, results)
		return nil
	},
}

// -- runs dlq --

var runsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered work items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		kind, _ := cmd.Flags().GetString("kind")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
			ErrorKind: kind,
			SourceKey: source,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs dlq")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQ(os.Stdout, entries)
		return nil
	},
}

// -- runs retry-dlq --

var runsRetryDLQCmd = &cobra.Command{
	Use:   "retry-dlq",
	Short: "Re-run dead-lettered work items that have retries left",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind, _ := cmd.Flags().GetString("kind")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListDLQ(ctx, resilience.DLQFilter{
			ErrorKind: kind,
			SourceKey: source,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs retry-dlq")
		}

		items, byItem := planDLQRetry(entries)
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No retryable dead-letter entries.")
			return nil
		}

		outcome, err := env.Engine.Run(ctx, items, engine.RunOptions{
			Label:          "dlq-retry",
			SkipDeadLetter: true,
		})
		if err != nil {
			return eris.Wrap(err, "runs retry-dlq")
		}

		cleared, failedAgain, err := reconcileDLQ(ctx, env.Store, byItem, outcome.Results)
		if err != nil {
			return eris.Wrap(err, "runs retry-dlq")
		}

		formatRunReport(os.Stdout, outcome.RunID, outcome.Report)
		fmt.Printf("\nDead letter queue: %d cleared, %d failed again.\n", cleared, failedAgain)
		return nil
	},
}

// planDLQRetry selects entries with retries left and maps work item IDs
// back to their entry for post-run reconciliation. When the same item
// was dead-lettered more than once, only the first entry is replayed.
func planDLQRetry(entries []resilience.DLQEntry) ([]model.WorkItem, map[string]resilience.DLQEntry) {
	var items []model.WorkItem
	byItem := make(map[string]resilience.DLQEntry)
	for _, e := range entries {
		if !e.CanRetry() {
			continue
		}
		if _, dup := byItem[e.Item.ID]; dup {
			continue
		}
		items = append(items, e.Item)
		byItem[e.Item.ID] = e
	}
	return items, byItem
}

// reconcileDLQ applies retry outcomes to the original entries: items
// that resolved success or partial are cleared from the queue, items
// that failed again have their retry count advanced. Skipped items were
// never attempted and are left untouched.
func reconcileDLQ(ctx context.Context, st store.Store, byItem map[string]resilience.DLQEntry, results []model.ExtractionResult) (cleared, failedAgain int, err error) {
	for _, r := range results {
		entry, ok := byItem[r.WorkItemID]
		if !ok {
			continue
		}
		switch r.Status {
		case model.StatusSuccess, model.StatusPartial:
			if err := st.DeleteDLQEntry(ctx, entry.ID); err != nil {
				return cleared, failedAgain, err
			}
			cleared++
		case model.StatusFailed:
			if err := st.IncrementDLQRetry(ctx, entry.ID); err != nil {
				return cleared, failedAgain, err
			}
			failedAgain++
		}
	}
	return cleared, failedAgain, nil
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, aborted)")
	runsListCmd.Flags().String("label", "", "filter by run label")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsResultsCmd.Flags().String("status", "", "filter by result status (success, partial, failed, skipped)")
	runsResultsCmd.Flags().String("source", "", "filter by source key")
	runsResultsCmd.Flags().Bool("json", false, "emit raw JSON instead of a table")

	runsDLQCmd.Flags().String("kind", "", "filter by error kind (network, render_timeout, parse_not_found, ...)")
	runsDLQCmd.Flags().String("source", "", "filter by source key")
	runsDLQCmd.Flags().Int("limit", 50, "max number of entries to display")

	runsRetryDLQCmd.Flags().String("kind", "", "filter by error kind")
	runsRetryDLQCmd.Flags().String("source", "", "filter by source key")
	runsRetryDLQCmd.Flags().Int("limit", 50, "max number of entries to retry")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResultsCmd)
	runsCmd.AddCommand(runsDLQCmd)
	runsCmd.AddCommand(runsRetryDLQCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tITEMS\tSUCCESS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t-------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		items, success := "-", "-"
		if r.Report != nil {
			items = fmt.Sprintf("%d", r.Report.TotalItems)
			success = fmt.Sprintf("%d", r.Report.ByStatus[model.StatusSuccess])
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Label,
			r.Status,
			items,
			success,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatResults writes per-item results as a table.
func formatResults(out io.Writer, results []model.ExtractionResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ITEM\tSOURCE\tSTATUS\tAMOUNT\tATTEMPTS\tKIND")
	for _, r := range results {
		amount := "-"
		if r.AmountDue > 0 {
			amount = fmt.Sprintf("$%.2f", r.AmountDue)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.WorkItemID, r.SourceKey, r.Status, amount, r.Attempts, r.ErrorKind)
	}
	_ = w.Flush()
}

// formatDLQ writes dead letter entries as a table.
func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tITEM\tSOURCE\tKIND\tATTEMPTS\tRETRIES\tLAST FAILED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\n",
			truncateID(e.ID),
			e.Item.ID,
			e.Item.SourceKey,
			e.ErrorKind,
			e.Attempts,
			e.RetryCount, e.MaxRetries,
			e.LastFailedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
