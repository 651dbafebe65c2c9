package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/upstream"
)

// Backend paths.
const (
	AvailablePath = "/api/transactions/available"
	HistoryPath   = "/api/transactions/history"
)

// ErrBackendRejected is returned when the backend answers with success=false.
var ErrBackendRejected = errors.New("backend reported failure")

// Source provides backend transactions.
type Source interface {
	// Available returns the transactions currently on the market.
	Available(ctx context.Context, filter ListingFilter) ([]Transaction, error)

	// History returns the transactions relevant to a history query.
	History(ctx context.Context, query HistoryQuery) ([]Transaction, error)
}

// JSONGetter performs a JSON GET request. *upstream.Client implements it.
type JSONGetter interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
}

var _ JSONGetter = (*upstream.Client)(nil)

// BackendSource is a Source backed by the Serenissima backend service.
type BackendSource struct {
	client JSONGetter
}

// NewBackendSource creates a BackendSource.
func NewBackendSource(client JSONGetter) *BackendSource {
	if client == nil {
		panic("backend client cannot be nil")
	}
	return &BackendSource{client: client}
}

// Available implements Source.
func (s *BackendSource) Available(ctx context.Context, filter ListingFilter) ([]Transaction, error) {
	txs, err := s.get(ctx, AvailablePath, filter.Query())
	if err != nil {
		return nil, fmt.Errorf("fetch available transactions: %w", err)
	}
	return txs, nil
}

// History implements Source.
func (s *BackendSource) History(ctx context.Context, query HistoryQuery) ([]Transaction, error) {
	txs, err := s.get(ctx, HistoryPath, query.Query())
	if err != nil {
		return nil, fmt.Errorf("fetch transaction history: %w", err)
	}
	return txs, nil
}

// get accepts both a bare array and a {success, transactions} envelope.
func (s *BackendSource) get(ctx context.Context, path string, query url.Values) ([]Transaction, error) {
	var raw json.RawMessage
	if err := s.client.GetJSON(ctx, path, query, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var txs []Transaction
		if err := json.Unmarshal(raw, &txs); err != nil {
			return nil, fmt.Errorf("%w: %w", upstream.ErrMalformedResponse, err)
		}
		return txs, nil
	}

	var envelope struct {
		Success      *bool         `json:"success"`
		Transactions []Transaction `json:"transactions"`
		Error        string        `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", upstream.ErrMalformedResponse, err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("%w: %s", ErrBackendRejected, envelope.Error)
	}
	if envelope.Transactions == nil {
		return nil, fmt.Errorf("%w: missing transactions", upstream.ErrMalformedResponse)
	}
	return envelope.Transactions, nil
}

// ListingsFetcher returns the cache fetcher for a marketplace filter.
func ListingsFetcher(src Source, filter ListingFilter) cache.Fetcher[ListingsBody] {
	return func(ctx context.Context) (ListingsBody, error) {
		txs, err := src.Available(ctx, filter)
		if err != nil {
			return ListingsBody{}, err
		}
		return ListingsBody{Success: true, Listings: ToListings(txs, filter)}, nil
	}
}

// HistoryFetcher returns the cache fetcher for a history query. It keeps up to
// MaxHistoryLimit entries so every limit can be served from one entry.
func HistoryFetcher(src Source, query HistoryQuery) cache.Fetcher[HistoryBody] {
	return func(ctx context.Context) (HistoryBody, error) {
		txs, err := src.History(ctx, query)
		if err != nil {
			return HistoryBody{}, err
		}
		return HistoryBody{
			Success:      true,
			Transactions: ToHistory(txs, query.Citizen, query.AssetType, MaxHistoryLimit),
		}, nil
	}
}
