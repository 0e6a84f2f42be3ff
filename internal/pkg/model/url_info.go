package model

import (
	"fmt"
	"net/url"
)

// UrlInfo tracks a URL together with where it was discovered and how many
// cross-host hops separate it from its originating seed.
type UrlInfo struct {
	URL          *url.URL `json:"-"`
	RawURL       string   `json:"url"`
	DiscoveredIn string   `json:"discovered_in"`
	Hops         int      `json:"hops"`
}

// Seed builds the UrlInfo for a crawl entry point: discovered_in equals the
// URL itself and hops starts at zero.
func Seed(raw string) (*UrlInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing seed url %q: %w", raw, err)
	}
	return &UrlInfo{URL: u, RawURL: u.String(), DiscoveredIn: u.String(), Hops: 0}, nil
}

// Hop resolves newURL against the current URL (standard relative-URL joining)
// and returns the successor UrlInfo. Hops increases by one only when the
// resolved URL's host differs from the current one. If the join fails, ok is
// false and the hop must be silently dropped by the caller.
func (u *UrlInfo) Hop(newURL string) (info *UrlInfo, ok bool) {
	resolved, err := u.URL.Parse(newURL)
	if err != nil {
		return nil, false
	}

	hops := u.Hops
	if resolved.Hostname() != u.URL.Hostname() {
		hops++
	}

	return &UrlInfo{
		URL:          resolved,
		RawURL:       resolved.String(),
		DiscoveredIn: u.URL.String(),
		Hops:         hops,
	}, true
}

func (u *UrlInfo) String() string {
	return fmt.Sprintf("%s (discovered in %s, hops:%d)", u.RawURL, u.DiscoveredIn, u.Hops)
}

// MarshalJSON/UnmarshalJSON are handled via the exported RawURL field rather
// than custom (un)marshaling of *url.URL; call Parse after decoding to
// populate URL.

// Parse populates the URL field from RawURL after JSON decoding.
func (u *UrlInfo) Parse() error {
	parsed, err := url.Parse(u.RawURL)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", u.RawURL, err)
	}
	u.URL = parsed
	return nil
}
