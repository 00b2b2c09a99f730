package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"market-watcher/internal/domain"
)

// Show prints recent snapshots, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(out, "no alerts found")
			return nil
		}

		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Sent (UTC)\tWatch\tItem\tPrice\tFloat\tDelivery")
		for _, alert := range alerts {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%.6f\t%s\n",
				alert.SentAt.UTC().Format(time.RFC3339),
				alert.WatchID,
				sanitizeInline(alert.MarketHashName),
				formatCents(alert.PriceCents),
				alert.Verification.FloatValue,
				alert.DeliveryID,
			)
		}
		return writer.Flush()
	}

	snaps, err := store.ListRecentSnapshots(ctx, opts.WatchID, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Scraped (UTC)\tWatch\tListing\tPrice\tFloat\tSeed\tState")
	for _, snap := range snaps {
		floatValue, seed := "-", "-"
		if v := snap.Verification; v != nil {
			floatValue = fmt.Sprintf("%.6f", v.FloatValue)
			if v.PaintSeed != nil {
				seed = fmt.Sprint(*v.PaintSeed)
			}
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			snap.ScrapedAt.UTC().Format(time.RFC3339),
			snap.WatchID,
			sanitizeInline(snap.ListingKey),
			formatCents(snap.PriceCents),
			floatValue,
			seed,
			snapshotState(snap),
		)
	}
	return writer.Flush()
}

func snapshotState(snap domain.ListingSnapshot) string {
	switch {
	case snap.Alerted:
		return "alerted"
	case snap.Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
