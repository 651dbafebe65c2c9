package market

import (
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
)

// Advisory carries the degraded-response flags of a response body.
type Advisory struct {
	Cached bool   `json:"_cached,omitempty"`
	Stale  bool   `json:"_stale,omitempty"`
	Error  string `json:"_error,omitempty"`
}

// AdvisoryFor returns the flags for a cache result. Fresh results carry none.
func AdvisoryFor[T any](res cache.Result[T]) Advisory {
	switch res.Source {
	case cache.SourceStale:
		return Advisory{Cached: true, Stale: true, Error: res.ErrorMessage()}
	case cache.SourceDefault:
		return Advisory{Error: res.ErrorMessage()}
	default:
		return Advisory{}
	}
}

// ListingsBody is the response body of the marketplace endpoint.
type ListingsBody struct {
	Success  bool      `json:"success"`
	Listings []Listing `json:"listings"`
	Advisory
}

// EmptyListings is the body served when no listings are available at all.
func EmptyListings() ListingsBody {
	return ListingsBody{Success: false, Listings: []Listing{}}
}

// HistoryBody is the response body of the transaction history endpoint.
type HistoryBody struct {
	Success      bool           `json:"success"`
	Transactions []HistoryEntry `json:"transactions"`
	Advisory
}

// EmptyHistory is the body served when no history is available at all.
func EmptyHistory() HistoryBody {
	return HistoryBody{Success: false, Transactions: []HistoryEntry{}}
}

// Limit returns a copy of b holding at most n transactions.
func (b HistoryBody) Limit(n int) HistoryBody {
	if n >= 0 && len(b.Transactions) > n {
		b.Transactions = b.Transactions[:n:n]
	}
	return b
}
