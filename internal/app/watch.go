package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"market-watcher/internal/domain"
	"market-watcher/internal/marketplace"
	"market-watcher/internal/rules"
)

// WatchInput is a watch as entered on the command line.
type WatchInput struct {
	URL        string
	CurrencyID int
	Rules      domain.RuleSet
}

// AddWatch validates and stores a new watch.
func (a *App) AddWatch(ctx context.Context, in WatchInput) (domain.Watch, error) {
	appID, name, err := marketplace.ParseListingURL(in.URL)
	if err != nil {
		return domain.Watch{}, err
	}
	if err := in.Rules.Validate(); err != nil {
		return domain.Watch{}, err
	}
	if in.CurrencyID <= 0 {
		in.CurrencyID = 1
	}

	store, err := a.openDatabase(ctx)
	if err != nil {
		return domain.Watch{}, err
	}
	defer store.Close()

	watch, err := store.CreateWatch(ctx, domain.Watch{
		AppID:          appID,
		MarketHashName: name,
		URL:            strings.TrimSpace(in.URL),
		CurrencyID:     in.CurrencyID,
		Rules:          in.Rules,
	})
	if err != nil {
		return domain.Watch{}, err
	}
	a.Logger.Info().Int64("watch_id", watch.ID).Str("item", watch.MarketHashName).Msg("watch added")
	return watch, nil
}

// ListWatches prints every watch with its rule summary.
func (a *App) ListWatches(ctx context.Context, out io.Writer) error {
	store, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	watches, err := store.ListWatches(ctx)
	if err != nil {
		return err
	}
	if len(watches) == 0 {
		fmt.Fprintln(out, "no watches configured")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tApp\tItem\tRules")
	for _, w := range watches {
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\n", w.ID, w.AppID, sanitizeInline(w.MarketHashName), rules.Describe(w.Rules, a.fees()))
	}
	return writer.Flush()
}

// RemoveWatch deletes a watch and its snapshots.
func (a *App) RemoveWatch(ctx context.Context, id int64) error {
	store, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteWatch(ctx, id); err != nil {
		return fmt.Errorf("delete watch %d: %w", id, err)
	}
	a.Logger.Info().Int64("watch_id", id).Msg("watch removed")
	return nil
}
