package extract

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"market-watcher/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ParsePriceCents converts a displayed price such as "$1,234.56 USD",
// "1 234,56€" or ".50" into integer cents.
func ParsePriceCents(raw string) (int64, error) {
	text := norm.NFKC.String(raw)

	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	number := strings.Trim(b.String(), ".,")
	if strings.HasPrefix(b.String(), ".") && number != "" {
		number = "0." + number
	}
	if number == "" {
		return 0, fmt.Errorf("%w: no digits in price %q", domain.ErrParseSkip, raw)
	}

	number = normaliseSeparators(number)
	amount, err := decimal.NewFromString(number)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", domain.ErrParseSkip, raw, err)
	}
	return amount.Mul(hundred).RoundBank(0).IntPart(), nil
}

// normaliseSeparators rewrites the number so that '.' is the only (decimal)
// separator. When both separators occur the last one is decimal. A lone comma
// is decimal only when exactly two digits follow it.
func normaliseSeparators(number string) string {
	lastDot := strings.LastIndexByte(number, '.')
	lastComma := strings.LastIndexByte(number, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			number = strings.ReplaceAll(number, ".", "")
			return strings.Replace(number, ",", ".", 1)
		}
		return strings.ReplaceAll(number, ",", "")
	case lastComma >= 0:
		if strings.Count(number, ",") == 1 && len(number)-lastComma-1 == 2 {
			return strings.Replace(number, ",", ".", 1)
		}
		return strings.ReplaceAll(number, ",", "")
	case strings.Count(number, ".") > 1:
		return strings.ReplaceAll(number, ".", "")
	}
	return number
}
