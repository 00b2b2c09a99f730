package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-watcher/internal/alerting"
	"market-watcher/internal/domain"
	"market-watcher/internal/storage/memory"
)

// SimulateOptions describe the synthetic listing pushed through the alert path.
type SimulateOptions struct {
	WatchID    int64
	PriceCents int64
	Float      float64
	Seed       int
}

// SimulateAlert 用一条合成 listing 走一遍规则判定与告警发送, 不写入数据库。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (alerting.Decision, error) {
	watch, err := a.simulationWatch(ctx, opts.WatchID)
	if err != nil {
		return alerting.Decision{}, err
	}

	scratch := memory.New()
	watch, err = scratch.CreateWatch(ctx, watch)
	if err != nil {
		return alerting.Decision{}, err
	}

	inspectURL := fmt.Sprintf("steam://rungame/730/simulated/+csgo_econ_action_preview%%20S0A%dD0", time.Now().Unix())
	snap, _, err := scratch.InsertSnapshot(ctx, domain.ListingSnapshot{
		WatchID:    watch.ID,
		ListingKey: "simulated",
		PriceCents: opts.PriceCents,
		ListingURL: watch.URL,
		InspectURL: inspectURL,
		ScrapedAt:  time.Now().UTC(),
	})
	if err != nil {
		return alerting.Decision{}, err
	}

	seed := opts.Seed
	v := &domain.VerificationResult{FloatValue: opts.Float, PaintSeed: &seed, WearName: "Simulated"}

	dispatcher := alerting.NewDispatcher(scratch, a.newNotifier(), a.fees(), a.Logger)
	decision, err := dispatcher.MaybeAlert(ctx, watch, snap, v)
	if err != nil {
		return decision, err
	}
	if !decision.Passed {
		return decision, fmt.Errorf("listing rejected: %s", decision.Reason)
	}
	return decision, nil
}

func (a *App) simulationWatch(ctx context.Context, watchID int64) (domain.Watch, error) {
	if watchID <= 0 {
		return domain.Watch{
			AppID:          730,
			MarketHashName: "AK-47 | Redline (Field-Tested)",
			URL:            "https://steamcommunity.com/market/listings/730/AK-47%20%7C%20Redline%20%28Field-Tested%29",
			CurrencyID:     1,
			Rules: domain.RuleSet{
				TargetResaleUSD: decimal.NewFromInt(100),
				MinProfitUSD:    decimal.NewFromInt(5),
			},
		}, nil
	}

	store, err := a.openDatabase(ctx)
	if err != nil {
		return domain.Watch{}, err
	}
	defer store.Close()

	watch, err := store.GetWatch(ctx, watchID)
	if err != nil {
		return domain.Watch{}, fmt.Errorf("load watch %d: %w", watchID, err)
	}
	watch.ID = 0
	return watch, nil
}
