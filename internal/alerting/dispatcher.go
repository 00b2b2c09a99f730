// Package alerting composes listing alerts and delivers them to chat channels.
package alerting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"market-watcher/internal/domain"
	"market-watcher/internal/rules"
	"market-watcher/internal/storage"
)

// deliveryNamespace scopes DeliveryID so ids are stable across restarts.
var deliveryNamespace = uuid.MustParse("5b0e7f3c-3c55-4b8e-9d57-6a1f6c2f0c11")

// DeliveryID derives the idempotency token for a snapshot's alert.
func DeliveryID(snapshotID int64) string {
	return uuid.NewSHA1(deliveryNamespace, []byte("snapshot:"+strconv.FormatInt(snapshotID, 10))).String()
}

// Decision is the outcome of MaybeAlert.
type Decision struct {
	Passed bool
	Reason rules.Reason
	Sent   bool
	Alert  domain.Alert
}

// Dispatcher evaluates listings and sends one alert per passing snapshot.
type Dispatcher struct {
	store    storage.AlertStore
	notifier Notifier
	fees     rules.Fees
	printer  *message.Printer
	logger   zerolog.Logger
}

// NewDispatcher wires the alert store and the outbound channel.
func NewDispatcher(store storage.AlertStore, notifier Notifier, fees rules.Fees, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		fees:     fees,
		printer:  message.NewPrinter(language.AmericanEnglish),
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// MaybeAlert evaluates the snapshot and, when it passes, sends the alert and
// then records it. A failed send leaves the snapshot un-alerted so a later
// cycle retries it; a crash between send and record can therefore alert
// twice, which the DeliveryID lets receivers detect.
func (d *Dispatcher) MaybeAlert(ctx context.Context, watch domain.Watch, snap domain.ListingSnapshot, v *domain.VerificationResult) (Decision, error) {
	if snap.Alerted {
		return Decision{Passed: true}, nil
	}

	passed, reason := rules.Check(watch.Rules, snap, v, d.fees)
	if !passed {
		return Decision{Reason: reason}, nil
	}

	note := Notification{
		DeliveryID: DeliveryID(snap.ID),
		Title:      watch.MarketHashName,
		Text:       d.Render(watch, snap, v),
		WatchID:    watch.ID,
		SnapshotID: snap.ID,
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		return Decision{Passed: true}, fmt.Errorf("send alert for snapshot %d: %w", snap.ID, err)
	}

	alert, err := d.store.RecordAlert(ctx, domain.Alert{
		SnapshotID:   snap.ID,
		DeliveryID:   note.DeliveryID,
		Message:      note.Text,
		Verification: *v,
	})
	if err != nil {
		return Decision{Passed: true, Sent: true}, fmt.Errorf("record alert for snapshot %d: %w", snap.ID, err)
	}

	d.logger.Info().Int64("watch_id", watch.ID).
		Int64("snapshot_id", snap.ID).
		Int64("price_cents", snap.PriceCents).
		Str("delivery_id", alert.DeliveryID).
		Msg("alert dispatched")
	return Decision{Passed: true, Sent: true, Alert: alert}, nil
}

// Render builds the Markdown alert text.
func (d *Dispatcher) Render(watch domain.Watch, snap domain.ListingSnapshot, v *domain.VerificationResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*%s*: candidate found\n", escapeMarkdown(watch.MarketHashName)))
	b.WriteString(fmt.Sprintf("Price: %s | Max buy: %s\n",
		d.money(snap.PriceCents), d.money(rules.MaxBuyPriceCents(watch.Rules, d.fees))))

	if v != nil {
		seed := "n/a"
		if v.PaintSeed != nil {
			seed = strconv.Itoa(*v.PaintSeed)
		}
		b.WriteString(fmt.Sprintf("Float: %.6f | Seed: %s", v.FloatValue, seed))
		if v.WearName != "" {
			b.WriteString(" | " + escapeMarkdown(v.WearName))
		}
		b.WriteString("\n")

		stickers := "None"
		if names := v.StickerNames(); len(names) > 0 {
			stickers = escapeMarkdown(strings.Join(names, ", "))
		}
		b.WriteString("Stickers: " + stickers + "\n")
	}

	listingURL := snap.ListingURL
	if listingURL == "" {
		listingURL = watch.URL
	}
	if listingURL != "" {
		b.WriteString(fmt.Sprintf("[Open Steam Listing](%s)\n", listingURL))
	}
	if snap.InspectURL != "" {
		b.WriteString(fmt.Sprintf("[Inspect Link](%s)\n", snap.InspectURL))
	}
	b.WriteString(fmt.Sprintf("ref `%s`", DeliveryID(snap.ID)[:8]))
	return b.String()
}

func (d *Dispatcher) money(cents int64) string {
	return d.printer.Sprintf("$%.2f", float64(cents)/100)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
