// Package extract turns a marketplace results_html fragment into listings.
package extract

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"market-watcher/internal/domain"
)

// ParsedListing is one listing row lifted from a results page.
type ParsedListing struct {
	ListingKey string
	PriceCents int64
	InspectURL string
	ListingURL string
	Raw        map[string]string
}

// Parser extracts listings. The zero value discards its logs.
type Parser struct {
	logger zerolog.Logger
}

// NewParser returns a Parser logging skipped rows and missing inspect links.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "extractor").Logger()}
}

// Parse returns the listings of a page. The sequence is lazy, finite and may
// be ranged over more than once; the document is parsed on first use.
func (p *Parser) Parse(html string) iter.Seq[ParsedListing] {
	load := sync.OnceValues(func() (*goquery.Document, error) {
		return goquery.NewDocumentFromReader(strings.NewReader(html))
	})

	return func(yield func(ParsedListing) bool) {
		doc, err := load()
		if err != nil {
			p.logger.Warn().Err(err).Msg("results html could not be parsed")
			return
		}

		rows := doc.Find("div.market_listing_row")
		for i := range rows.Length() {
			listing, err := p.parseRow(rows.Eq(i))
			if err != nil {
				p.logger.Debug().Err(err).Int("row", i).Msg("listing row skipped")
				continue
			}
			if !yield(listing) {
				return
			}
		}
	}
}

// Parse is Parser.Parse without logging.
func Parse(html string) iter.Seq[ParsedListing] {
	return (&Parser{logger: zerolog.Nop()}).Parse(html)
}

func (p *Parser) parseRow(row *goquery.Selection) (ParsedListing, error) {
	priceText := strings.TrimSpace(row.Find("span.market_listing_price_with_fee").First().Text())
	if priceText == "" {
		return ParsedListing{}, fmt.Errorf("%w: price missing", domain.ErrParseSkip)
	}
	price, err := ParsePriceCents(priceText)
	if err != nil {
		return ParsedListing{}, err
	}

	key := listingKey(row)
	if key == "" {
		return ParsedListing{}, fmt.Errorf("%w: listing key missing", domain.ErrParseSkip)
	}

	listingURL, _ := row.Find("a.market_listing_row_link").First().Attr("href")
	inspectURL := inspectLink(row)
	if inspectURL == "" {
		p.logger.Debug().Str("listing_key", key).Str("listing_url", listingURL).Msg("inspect link not found")
	}

	raw := make(map[string]string, len(row.Nodes[0].Attr))
	for _, attr := range row.Nodes[0].Attr {
		raw[attr.Key] = attr.Val
	}

	return ParsedListing{
		ListingKey: key,
		PriceCents: price,
		InspectURL: inspectURL,
		ListingURL: listingURL,
		Raw:        raw,
	}, nil
}

func listingKey(row *goquery.Selection) string {
	if id, ok := row.Attr("id"); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	if idx, ok := row.Find("div.market_listing_item_name_block[data-paintindex]").First().Attr("data-paintindex"); ok {
		return strings.TrimSpace(idx)
	}
	return ""
}

func inspectLink(row *goquery.Selection) string {
	var found string
	row.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(a.Text()), "inspect in game") {
			return true
		}
		if href, _ := a.Attr("href"); strings.HasPrefix(href, "steam://") {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	if href, _ := row.Find("a.market_action_menu_item").First().Attr("href"); strings.Contains(href, "steam://") {
		return href
	}
	return ""
}
