package extract

import (
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-watcher/internal/domain"
)

const samplePage = `
<div class="market_listing_row" id="listing-123">
  <a class="market_listing_row_link" href="https://example.com/listing">
    <div class="market_listing_item_name_block" data-paintindex="700"></div>
    <span class="market_listing_price_with_fee">$123.45</span>
  </a>
  <a class="market_action_menu_item" href="steam://inspect/123"></a>
</div>
<div class="market_listing_row">
  <div class="market_listing_item_name_block" data-paintindex="44"></div>
  <span class="market_listing_price_with_fee">1 234,50€</span>
  <div class="market_listing_row_action">
    <a href="https://example.com/other">Inspect in Game...</a>
    <a href="steam://rungame/730/inspect/456">Inspect in Game...</a>
  </div>
</div>
<div class="market_listing_row" id="listing-sold">
  <span class="market_listing_price_with_fee">Sold!</span>
</div>
<div class="market_listing_row">
  <span class="market_listing_price_with_fee">$5.00</span>
</div>
`

func TestParseExtractsListings(t *testing.T) {
	listings := slices.Collect(Parse(samplePage))
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "listing-123", first.ListingKey)
	assert.Equal(t, int64(12345), first.PriceCents)
	assert.Equal(t, "steam://inspect/123", first.InspectURL)
	assert.Equal(t, "https://example.com/listing", first.ListingURL)
	assert.Equal(t, "market_listing_row", first.Raw["class"])

	second := listings[1]
	assert.Equal(t, "44", second.ListingKey)
	assert.Equal(t, int64(123450), second.PriceCents)
	assert.Equal(t, "steam://rungame/730/inspect/456", second.InspectURL)
	assert.Empty(t, second.ListingURL)
}

func TestParseIsRestartable(t *testing.T) {
	seq := Parse(samplePage)
	assert.Equal(t, slices.Collect(seq), slices.Collect(seq))

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestParseEmptyPage(t *testing.T) {
	assert.Empty(t, slices.Collect(Parse("")))
	assert.Empty(t, slices.Collect(Parse("<div>nothing here</div>")))
}

func TestParsePriceCentsEquivalentFormats(t *testing.T) {
	for _, raw := range []string{"$1.23", "1.23", "1,23", " $1.23 USD", "１.２３", "1.23 €"} {
		cents, err := ParsePriceCents(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, int64(123), cents, raw)
	}

	cents, err := ParsePriceCents(".50")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cents)
}

func TestParsePriceCentsSeparators(t *testing.T) {
	cases := map[string]int64{
		"$1,234.56":   123456,
		"1.234,56€":   123456,
		"1,234":       123400,
		"1.234.567":   123456700,
		"$40.00":      4000,
		"0.125":       12,
		"0.135":       14,
		"CDN$ 12,345": 1234500,
		"¥ 1,299.99":  129999,
	}
	for raw, want := range cases {
		cents, err := ParsePriceCents(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, cents, raw)
	}
}

func TestParsePriceCentsIdempotent(t *testing.T) {
	cents, err := ParsePriceCents("$1,234.56")
	require.NoError(t, err)

	again, err := ParsePriceCents("$" + decimal.New(cents, -2).StringFixed(2))
	require.NoError(t, err)
	assert.Equal(t, cents, again)
}

func TestParsePriceCentsRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "Sold!", "$", "--"} {
		_, err := ParsePriceCents(raw)
		assert.True(t, errors.Is(err, domain.ErrParseSkip), raw)
	}
}
