// Package rules decides whether a verified listing satisfies a watch.
package rules

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"market-watcher/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Fees describe the marketplace's combined seller fee.
type Fees struct {
	Rate     decimal.Decimal
	MinCents int64
}

// DefaultFees is the Steam Community Market combined fee (15%, at least 1 cent).
func DefaultFees() Fees {
	return Fees{Rate: decimal.RequireFromString("0.15"), MinCents: 1}
}

// Reason names the first rule a listing failed.
type Reason string

const (
	ReasonPassed          Reason = ""
	ReasonUnverified      Reason = "unverified"
	ReasonFloatOutOfRange Reason = "float_out_of_range"
	ReasonSeedNotAllowed  Reason = "seed_not_allowed"
	ReasonNoSticker       Reason = "no_matching_sticker"
	ReasonUnprofitable    Reason = "unprofitable"
)

// Check applies the rules in order and stops at the first failure.
func Check(rules domain.RuleSet, snap domain.ListingSnapshot, v *domain.VerificationResult, fees Fees) (bool, Reason) {
	if v == nil {
		return false, ReasonUnverified
	}
	if rules.FloatMin != nil && v.FloatValue < *rules.FloatMin {
		return false, ReasonFloatOutOfRange
	}
	if rules.FloatMax != nil && v.FloatValue > *rules.FloatMax {
		return false, ReasonFloatOutOfRange
	}
	if len(rules.SeedWhitelist) > 0 {
		if v.PaintSeed == nil || !slices.Contains(rules.SeedWhitelist, *v.PaintSeed) {
			return false, ReasonSeedNotAllowed
		}
	}
	if len(rules.StickerAny) > 0 {
		names := v.StickerNames()
		if !slices.ContainsFunc(rules.StickerAny, func(want string) bool { return slices.Contains(names, want) }) {
			return false, ReasonNoSticker
		}
	}
	if !IsProfitable(snap.PriceCents, rules, fees) {
		return false, ReasonUnprofitable
	}
	return true, ReasonPassed
}

// Evaluate reports whether the listing passes every rule.
func Evaluate(rules domain.RuleSet, snap domain.ListingSnapshot, v *domain.VerificationResult, fees Fees) bool {
	ok, _ := Check(rules, snap, v, fees)
	return ok
}

// USDToCents rounds a dollar amount to cents, half to even.
func USDToCents(usd decimal.Decimal) int64 {
	return usd.Mul(hundred).RoundBank(0).IntPart()
}

// BuyerToProceeds converts a buyer-paid price into what the seller receives.
func BuyerToProceeds(buyerCents int64, fees Fees) int64 {
	gross := decimal.NewFromInt(buyerCents)
	proceeds := gross.Div(decimal.NewFromInt(1).Add(fees.Rate)).RoundBank(0).IntPart()
	return max(0, proceeds-fees.MinCents)
}

// MaxBuyPriceCents is the highest ask that still leaves the minimum profit
// after reselling at the target price.
func MaxBuyPriceCents(rules domain.RuleSet, fees Fees) int64 {
	proceeds := BuyerToProceeds(USDToCents(rules.TargetResaleUSD), fees)
	return max(0, proceeds-USDToCents(rules.MinProfitUSD))
}

// IsProfitable reports whether an ask at priceCents clears the watch's margin.
func IsProfitable(priceCents int64, rules domain.RuleSet, fees Fees) bool {
	return priceCents <= MaxBuyPriceCents(rules, fees)
}

// Describe renders the margin math for logs and the simulate command.
func Describe(rules domain.RuleSet, fees Fees) string {
	return fmt.Sprintf("resale=%d proceeds=%d max_buy=%d (fee %s, min %d)",
		USDToCents(rules.TargetResaleUSD),
		BuyerToProceeds(USDToCents(rules.TargetResaleUSD), fees),
		MaxBuyPriceCents(rules, fees),
		fees.Rate.String(), fees.MinCents)
}
