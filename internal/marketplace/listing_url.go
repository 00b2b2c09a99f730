package marketplace

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseListingURL extracts the app id and market hash name from a listing
// page URL such as https://steamcommunity.com/market/listings/730/<name>.
func ParseListingURL(raw string) (int, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return 0, "", fmt.Errorf("parse listing url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(parts) < 4 || parts[0] != "market" || parts[1] != "listings" {
		return 0, "", fmt.Errorf("not a market listing url: %q", raw)
	}

	appID, err := strconv.Atoi(parts[2])
	if err != nil || appID <= 0 {
		return 0, "", fmt.Errorf("invalid app id %q in listing url", parts[2])
	}

	name, err := url.PathUnescape(parts[3])
	if err != nil {
		return 0, "", fmt.Errorf("decode market hash name: %w", err)
	}
	if name == "" {
		return 0, "", fmt.Errorf("empty market hash name in %q", raw)
	}
	return appID, name, nil
}
