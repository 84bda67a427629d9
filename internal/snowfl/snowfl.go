// Package snowfl is a client for the snowfl torrent aggregator.
//
// The site has no public API. Its JSON endpoints sit behind a token that is
// embedded in a versioned script served from the front page, and every
// request path is signed with that token plus a short nonce. The Client
// discovers the token lazily, memoizes it in memory and, when a cache is
// configured, persists it so later processes can skip discovery.
//
// Searching is a two-stage flow: Search returns a page of Items, and
// ResolveMagnet turns a single Item into its magnet link.
package snowfl

import (
	"fmt"
	"strings"
)

// SortFilter selects the upstream ranking of search results.
type SortFilter string

const (
	SortNone    SortFilter = "NONE"
	SortSeed    SortFilter = "SEED"
	SortSize    SortFilter = "SIZE"
	SortSizeAsc SortFilter = "SIZE_ASC"
	SortDate    SortFilter = "DATE"
	SortName    SortFilter = "NAME"
)

// DefaultSortFilter is used when a search is issued without a filter.
const DefaultSortFilter = SortSeed

// SortFilters lists every filter in display order.
var SortFilters = []SortFilter{SortSeed, SortSize, SortSizeAsc, SortDate, SortName, SortNone}

// ParseSortFilter maps a case-insensitive name to a SortFilter.
// An empty string yields the default.
func ParseSortFilter(s string) (SortFilter, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultSortFilter, nil
	}
	for _, f := range SortFilters {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort filter %q", s)
}

// Next returns the filter that follows f in SortFilters, wrapping around.
func (f SortFilter) Next() SortFilter {
	for i, sf := range SortFilters {
		if sf == f {
			return SortFilters[(i+1)%len(SortFilters)]
		}
	}
	return DefaultSortFilter
}

// Item is a single search result as returned by the search endpoint.
// Magnet is empty until the caller resolves it.
type Item struct {
	Age      string `json:"age"`
	Name     string `json:"name"`
	Size     string `json:"size"`
	Seeders  int    `json:"seeder"`
	Leechers int    `json:"leecher"`
	Type     string `json:"type"`
	Site     string `json:"site"`
	URL      string `json:"url"`
	Trusted  bool   `json:"trusted"`
	NSFW     bool   `json:"nsfw"`
	Magnet   string `json:"magnet,omitempty"`
}

// Health is the seeders' share of all peers as a whole percentage.
// Items without seeders score 0.
func (it Item) Health() int {
	peers := it.Seeders + it.Leechers
	if it.Seeders <= 0 || peers <= 0 {
		return 0
	}
	return it.Seeders * 100 / peers
}

// TokenResult is the outcome of a discovery run.
type TokenResult struct {
	Token string
	Found bool
}

// Found wraps a discovered token.
func Found(token string) TokenResult {
	return TokenResult{Token: token, Found: true}
}

// NotFound reports that discovery completed without locating a token.
func NotFound() TokenResult {
	return TokenResult{}
}
