package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market-watcher/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMaxBuyPriceBoundary(t *testing.T) {
	rs := domain.RuleSet{TargetResaleUSD: usd("200.00"), MinProfitUSD: usd("10.00")}
	fees := DefaultFees()

	maxBuy := MaxBuyPriceCents(rs, fees)
	assert.Equal(t, int64(16390), maxBuy)
	assert.True(t, IsProfitable(maxBuy, rs, fees))
	assert.False(t, IsProfitable(maxBuy+1, rs, fees))
}

func TestBuyerToProceeds(t *testing.T) {
	fees := DefaultFees()
	assert.Equal(t, int64(17390), BuyerToProceeds(20000, fees))
	assert.Equal(t, int64(8695), BuyerToProceeds(10000, fees))
	assert.Equal(t, int64(0), BuyerToProceeds(1, fees))
	assert.Equal(t, int64(0), BuyerToProceeds(0, fees))
}

func TestMaxBuyPriceFloorsAtZero(t *testing.T) {
	rs := domain.RuleSet{TargetResaleUSD: usd("1.00"), MinProfitUSD: usd("5.00")}
	assert.Equal(t, int64(0), MaxBuyPriceCents(rs, DefaultFees()))
	assert.True(t, IsProfitable(0, rs, DefaultFees()))
}

func TestCheckOrder(t *testing.T) {
	base := domain.RuleSet{
		FloatMin:        ptr(0.0),
		FloatMax:        ptr(0.5),
		SeedWhitelist:   []int{661, 670},
		StickerAny:      []string{"Titan (Holo) | Katowice 2014"},
		TargetResaleUSD: usd("100"),
		MinProfitUSD:    usd("5"),
	}
	good := &domain.VerificationResult{
		FloatValue: 0.3,
		PaintSeed:  ptr(661),
		Stickers:   []domain.Sticker{{Name: "Crown (Foil)"}, {Name: "Titan (Holo) | Katowice 2014"}},
	}
	cheap := domain.ListingSnapshot{PriceCents: 4000}

	tests := []struct {
		name   string
		snap   domain.ListingSnapshot
		v      *domain.VerificationResult
		reason Reason
	}{
		{"passes", cheap, good, ReasonPassed},
		{"unverified", cheap, nil, ReasonUnverified},
		{"float too high", cheap, &domain.VerificationResult{FloatValue: 0.51, PaintSeed: ptr(661)}, ReasonFloatOutOfRange},
		{"seed missing", cheap, &domain.VerificationResult{FloatValue: 0.1}, ReasonSeedNotAllowed},
		{"seed not listed", cheap, &domain.VerificationResult{FloatValue: 0.1, PaintSeed: ptr(1)}, ReasonSeedNotAllowed},
		{"no sticker", cheap, &domain.VerificationResult{FloatValue: 0.1, PaintSeed: ptr(670)}, ReasonNoSticker},
		{"too expensive", domain.ListingSnapshot{PriceCents: 8196}, good, ReasonUnprofitable},
		{"at max buy", domain.ListingSnapshot{PriceCents: 8195}, good, ReasonPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Check(base, tt.snap, tt.v, DefaultFees())
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.reason == ReasonPassed, ok)
			assert.Equal(t, ok, Evaluate(base, tt.snap, tt.v, DefaultFees()))
		})
	}
}

func TestCheckWithoutOptionalRules(t *testing.T) {
	rs := domain.RuleSet{TargetResaleUSD: usd("100"), MinProfitUSD: usd("0")}
	ok, reason := Check(rs, domain.ListingSnapshot{PriceCents: 100}, &domain.VerificationResult{FloatValue: 0.99}, DefaultFees())
	assert.True(t, ok)
	assert.Equal(t, ReasonPassed, reason)
}
