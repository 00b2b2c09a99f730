// Package domain holds the watcher's core records shared by the pipeline,
// the stores and the CLI.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Watch is a tracked marketplace item together with its acceptance rules.
type Watch struct {
	ID             int64
	AppID          int
	MarketHashName string
	URL            string
	CurrencyID     int
	Rules          RuleSet
	CreatedAt      time.Time
}

// RuleSet captures the per-watch acceptance rules. Nil/empty optional fields
// are not enforced.
type RuleSet struct {
	FloatMin        *float64        `json:"float_min,omitempty"`
	FloatMax        *float64        `json:"float_max,omitempty"`
	SeedWhitelist   []int           `json:"seed_whitelist,omitempty"`
	StickerAny      []string        `json:"sticker_any,omitempty"`
	TargetResaleUSD decimal.Decimal `json:"target_resale_usd"`
	MinProfitUSD    decimal.Decimal `json:"min_profit_usd"`
}

// Validate enforces the RuleSet invariants.
func (r RuleSet) Validate() error {
	if r.FloatMin != nil && (*r.FloatMin < 0 || *r.FloatMin > 1) {
		return fmt.Errorf("float_min must be within [0,1], got %v", *r.FloatMin)
	}
	if r.FloatMax != nil && (*r.FloatMax < 0 || *r.FloatMax > 1) {
		return fmt.Errorf("float_max must be within [0,1], got %v", *r.FloatMax)
	}
	if r.FloatMin != nil && r.FloatMax != nil && *r.FloatMin > *r.FloatMax {
		return fmt.Errorf("float_min %v exceeds float_max %v", *r.FloatMin, *r.FloatMax)
	}
	if !r.TargetResaleUSD.IsPositive() {
		return fmt.Errorf("target_resale_usd must be greater than zero")
	}
	if r.MinProfitUSD.IsNegative() {
		return fmt.Errorf("min_profit_usd cannot be negative")
	}
	return nil
}

// Sticker is an attribute attached to an inspected item.
type Sticker struct {
	Name string `json:"name"`
}

// VerificationResult is what the inspect service reports for one item instance.
type VerificationResult struct {
	FloatValue float64   `json:"float_value"`
	PaintSeed  *int      `json:"paint_seed,omitempty"`
	PaintIndex *int      `json:"paint_index,omitempty"`
	WearName   string    `json:"wear_name,omitempty"`
	Stickers   []Sticker `json:"stickers,omitempty"`
}

// StickerNames returns the non-empty sticker names in payload order.
func (v *VerificationResult) StickerNames() []string {
	if v == nil {
		return nil
	}
	names := make([]string, 0, len(v.Stickers))
	for _, s := range v.Stickers {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}

// ListingSnapshot is one observed (listing key, price) pair for a watch.
type ListingSnapshot struct {
	ID           int64
	WatchID      int64
	ListingKey   string
	PriceCents   int64
	ListingURL   string
	InspectURL   string
	Raw          map[string]string
	Verification *VerificationResult
	Alerted      bool
	Rejected     bool
	ScrapedAt    time.Time
}

// Pending reports whether the snapshot still needs work in a later cycle.
func (s ListingSnapshot) Pending() bool {
	return !s.Alerted && !s.Rejected
}

// VerificationRecord caches the last successful verification of a reference.
type VerificationRecord struct {
	InspectURL    string
	Result        VerificationResult
	LastInspected time.Time
	WatchID       *int64
}

// Alert is an emitted notification tied to the snapshot that triggered it.
type Alert struct {
	ID           int64
	SnapshotID   int64
	DeliveryID   string
	Message      string
	Verification VerificationResult
	SentAt       time.Time
}

// PricePoint is a (time, price) observation used for exports.
type PricePoint struct {
	At         time.Time
	PriceCents int64
	Alerted    bool
}
