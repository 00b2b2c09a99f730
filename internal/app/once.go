package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"market-watcher/internal/service"
)

// Once runs a single cycle over every watch and prints the report. A paused
// worker still aborts the cycle at the first listing.
func (a *App) Once(ctx context.Context, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := a.newPipeline(ctx, store, nil)
	if err != nil {
		return err
	}
	defer p.close()

	watches, err := store.ListWatches(ctx)
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}
	if len(watches) == 0 {
		fmt.Fprintln(out, "no watches configured")
		return nil
	}

	report := p.service.RunCycle(ctx, watches)
	writeReport(out, report)
	return nil
}

func writeReport(out io.Writer, report service.CycleReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Duration\t%s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Watches\t%d\n", report.Watches)
	fmt.Fprintf(w, "Listings seen\t%d\n", report.ListingsSeen)
	fmt.Fprintf(w, "New snapshots\t%d\n", report.NewSnapshots)
	fmt.Fprintf(w, "Suppressed\t%d\n", report.Suppressed)
	fmt.Fprintf(w, "Verified\t%d\n", report.Verified)
	fmt.Fprintf(w, "Verification skips\t%d\n", report.VerificationSkips)
	fmt.Fprintf(w, "Rejected\t%d\n", report.Rejected)
	fmt.Fprintf(w, "Alerts sent\t%d\n", report.AlertsSent)
	fmt.Fprintf(w, "Alert failures\t%d\n", report.AlertFailures)
	fmt.Fprintf(w, "Aborted\t%t\n", report.Aborted)

	ids := make([]int64, 0, len(report.Failed))
	for id := range report.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "Failed watch %d\t%s\n", id, sanitizeInline(report.Failed[id]))
	}
	w.Flush()
}
