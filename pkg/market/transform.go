package market

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
)

// History limits.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// ListingFilter selects marketplace listings. Empty fields match everything.
type ListingFilter struct {
	AssetType string
	Seller    string
	Status    Status
}

// Key returns the cache key of the filter.
func (f ListingFilter) Key() string {
	return ListingsKey(f.AssetType, f.Seller, string(f.Status))
}

// Query returns the backend query parameters of the filter. Status is applied
// locally since the backend does not know about derived states.
func (f ListingFilter) Query() url.Values {
	q := url.Values{}
	if v := normalizeValue(f.AssetType); v != "" {
		q.Set("asset_type", v)
	}
	if v := normalizeValue(f.Seller); v != "" {
		q.Set("seller", v)
	}
	return q
}

// HistoryQuery selects a transaction history.
type HistoryQuery struct {
	Citizen   string
	AssetType string
	Limit     int
}

// Key returns the cache key of the query. The limit is applied after the
// cache, so it is not part of the key.
func (q HistoryQuery) Key() string {
	return HistoryKey(q.Citizen, q.AssetType)
}

// Query returns the backend query parameters.
func (q HistoryQuery) Query() url.Values {
	v := url.Values{}
	if c := normalizeValue(q.Citizen); c != "" {
		v.Set("citizen", c)
	}
	if a := normalizeValue(q.AssetType); a != "" {
		v.Set("asset_type", a)
	}
	return v
}

// ListingsKey derives the marketplace cache key, e.g. "all_all_all".
func ListingsKey(assetType, seller, status string) string {
	return cache.NewKey(assetType, seller, status).String()
}

// HistoryKey derives the history cache key, e.g. "all_all".
func HistoryKey(citizen, assetType string) string {
	return cache.NewKey(citizen, assetType).String()
}

// ParseLimit parses a history limit. Empty yields DefaultHistoryLimit, values
// above MaxHistoryLimit are capped, anything but a positive integer is an error.
func ParseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultHistoryLimit, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", s)
	}
	return NormalizeLimit(n), nil
}

// NormalizeLimit maps non-positive limits to the default and caps large ones.
func NormalizeLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return n
	}
}

// ToListings derives listings from backend transactions, applies the filter
// and sorts them newest first.
func ToListings(txs []Transaction, filter ListingFilter) []Listing {
	listings := make([]Listing, 0, len(txs))
	for _, tx := range txs {
		l := Listing{Transaction: tx, Status: StatusOf(tx)}
		if !matchesListing(l, filter) {
			continue
		}
		listings = append(listings, l)
	}

	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
	return listings
}

// ToHistory returns the executed transactions involving citizen (all citizens
// if empty), newest first, capped at limit.
func ToHistory(txs []Transaction, citizen, assetType string, limit int) []HistoryEntry {
	citizen = normalizeValue(citizen)
	assetType = normalizeValue(assetType)
	limit = NormalizeLimit(limit)

	entries := make([]HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		if !tx.Executed() {
			continue
		}
		if assetType != "" && !strings.EqualFold(tx.AssetType, assetType) {
			continue
		}

		entry := HistoryEntry{Transaction: tx}
		if citizen != "" {
			switch {
			case tx.Seller == citizen:
				entry.Role = RoleSeller
			case tx.HasBuyer() && *tx.Buyer == citizen:
				entry.Role = RoleBuyer
			default:
				continue
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExecutedAt.After(*entries[j].ExecutedAt)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func matchesListing(l Listing, f ListingFilter) bool {
	if at := normalizeValue(f.AssetType); at != "" && !strings.EqualFold(l.AssetType, at) {
		return false
	}
	if s := normalizeValue(f.Seller); s != "" && l.Seller != s {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}

// normalizeValue trims a filter value and maps "all" to "".
func normalizeValue(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, cache.AllValues) {
		return ""
	}
	return s
}

// normalize is normalizeValue plus lower-casing, for enumerations.
func normalize(s string) string {
	return strings.ToLower(normalizeValue(s))
}
