package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-watcher/internal/alerting"
	"market-watcher/internal/config"
	"market-watcher/internal/domain"
	"market-watcher/internal/service"
)

func testApp(cfg config.Config) *App {
	if cfg.Fees.Rate.IsZero() {
		cfg.Fees = config.FeesConfig{Rate: decimal.RequireFromString("0.15"), MinCents: 1}
	}
	return NewApp(&cfg, zerolog.Nop())
}

func TestNewNotifierSelection(t *testing.T) {
	a := testApp(config.Config{})
	assert.IsType(t, &alerting.LogNotifier{}, a.newNotifier())

	a = testApp(config.Config{Alerting: config.AlertingConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"},
	}})
	assert.IsType(t, &alerting.TelegramNotifier{}, a.newNotifier())

	a = testApp(config.Config{Alerting: config.AlertingConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"},
		Discord:  config.DiscordConfig{Enabled: true, WebhookURL: "http://x"},
	}})
	assert.IsType(t, &alerting.MultiNotifier{}, a.newNotifier())

	a = testApp(config.Config{Alerting: config.AlertingConfig{
		Enabled: false,
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: "http://x"},
	}})
	assert.IsType(t, &alerting.LogNotifier{}, a.newNotifier())
}

func TestDatabaseCommandsRequireDSN(t *testing.T) {
	a := testApp(config.Config{})
	ctx := context.Background()

	assert.Error(t, a.SetWorkerEnabled(ctx, false))
	assert.Error(t, a.RemoveWatch(ctx, 1))
	_, err := a.Migrate(ctx)
	assert.Error(t, err)

	store, err := a.openStore(ctx)
	require.NoError(t, err)
	store.Close()
}

func TestAddWatchRejectsBadInput(t *testing.T) {
	a := testApp(config.Config{})
	_, err := a.AddWatch(context.Background(), WatchInput{URL: "https://example.com/nope"})
	assert.Error(t, err)

	_, err = a.AddWatch(context.Background(), WatchInput{
		URL:   "https://steamcommunity.com/market/listings/730/AK-47%20%7C%20Redline",
		Rules: domain.RuleSet{TargetResaleUSD: decimal.Zero},
	})
	assert.Error(t, err)
}

func TestDownsamplePoints(t *testing.T) {
	points := make([]domain.PricePoint, 10)
	for i := range points {
		points[i] = domain.PricePoint{PriceCents: int64(i)}
	}

	assert.Len(t, downsamplePoints(points, 20), 10)

	out := downsamplePoints(points, 4)
	require.Len(t, out, 4)
	assert.Equal(t, int64(0), out[0].PriceCents)
	assert.Equal(t, int64(9), out[3].PriceCents)

	one := downsamplePoints(points, 1)
	require.Len(t, one, 1)
	assert.Equal(t, int64(9), one[0].PriceCents)
}

func TestWritePricesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prices.csv")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, writePricesCSV(path, []domain.PricePoint{
		{At: at, PriceCents: 4000, Alerted: true},
		{At: at.Add(time.Minute), PriceCents: 123456},
	}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"scraped_at", "price_cents", "price", "alerted"}, rows[0])
	assert.Equal(t, []string{"2026-03-01T12:00:00Z", "4000", "40.00", "true"}, rows[1])
	assert.Equal(t, "1234.56", rows[2][2])
}

func TestWritePricesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []domain.PricePoint{
		{At: at, PriceCents: 4000},
		{At: at.Add(time.Hour), PriceCents: 3900, Alerted: true},
		{At: at.Add(2 * time.Hour), PriceCents: 4100},
	}
	require.NoError(t, writePricesPNG(path, domain.Watch{MarketHashName: "AK-47"}, points, chartSize{Width: 320, Height: 200}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSimulateAlertSendsThroughTelegram(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	a := testApp(config.Config{Alerting: config.AlertingConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: srv.URL},
	}})

	decision, err := a.SimulateAlert(context.Background(), SimulateOptions{PriceCents: 4000, Float: 0.25, Seed: 7})
	require.NoError(t, err)
	assert.True(t, decision.Sent)
	assert.NotEmpty(t, decision.Alert.DeliveryID)
	assert.Contains(t, received["text"], "Price: $40.00")

	_, err = a.SimulateAlert(context.Background(), SimulateOptions{PriceCents: 9000, Float: 0.25})
	assert.ErrorContains(t, err, "unprofitable")
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeReport(&buf, service.CycleReport{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Watches:    2,
		AlertsSent: 1,
		Failed:     map[int64]string{2: "fetch listings:\nboom"},
	})

	out := buf.String()
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Alerts sent")
	assert.Contains(t, out, "Failed watch 2")
	assert.False(t, strings.Contains(out, "listings:\nboom"))
}
