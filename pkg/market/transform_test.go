package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleTransactions() []Transaction {
	return []Transaction{
		{ID: NumberID(1), AssetType: "land", Seller: "ConsiglioDeiDieci", Price: 10, CreatedAt: base},
		{ID: NumberID(2), AssetType: "building", Seller: "BasstheWhale", Buyer: strPtr("NLTeam"), Price: 25, CreatedAt: base.Add(time.Hour)},
		{ID: NumberID(3), AssetType: "land", Seller: "NLTeam", Buyer: strPtr("BasstheWhale"), Price: 40, CreatedAt: base.Add(2 * time.Hour), ExecutedAt: timePtr(base.Add(3 * time.Hour))},
		{ID: NumberID(4), AssetType: "Land", Seller: "ConsiglioDeiDieci", Buyer: strPtr("NLTeam"), Price: 55, CreatedAt: base.Add(30 * time.Minute), ExecutedAt: timePtr(base.Add(5 * time.Hour))},
	}
}

func listingIDs(items []Listing) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID.String()
	}
	return out
}

func historyIDs(items []HistoryEntry) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID.String()
	}
	return out
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "all_all_all", ListingsKey("", "", ""))
	assert.Equal(t, "all_all_all", ListingFilter{}.Key())
	assert.Equal(t, "land_ConsiglioDeiDieci_active", ListingFilter{AssetType: "land", Seller: "ConsiglioDeiDieci", Status: StatusActive}.Key())
	assert.Equal(t, "all_all", HistoryKey("", "all"))
	assert.Equal(t, "NLTeam_all", HistoryQuery{Citizen: "NLTeam", Limit: 10}.Key())
	assert.Equal(t, HistoryQuery{Citizen: "NLTeam", Limit: 10}.Key(), HistoryQuery{Citizen: "NLTeam", Limit: 200}.Key())
}

func TestFilterQuery(t *testing.T) {
	q := ListingFilter{AssetType: "land", Seller: "all", Status: StatusSold}.Query()
	assert.Equal(t, "land", q.Get("asset_type"))
	assert.False(t, q.Has("seller"))
	assert.False(t, q.Has("status"))

	h := HistoryQuery{Citizen: " NLTeam ", AssetType: ""}.Query()
	assert.Equal(t, "citizen=NLTeam", h.Encode())
}

func TestToListings(t *testing.T) {
	tests := []struct {
		name   string
		filter ListingFilter
		want   []string
	}{
		{name: "no filter, newest first", filter: ListingFilter{}, want: []string{"3", "2", "4", "1"}},
		{name: "asset type is case-insensitive", filter: ListingFilter{AssetType: "LAND"}, want: []string{"3", "4", "1"}},
		{name: "seller", filter: ListingFilter{Seller: "ConsiglioDeiDieci"}, want: []string{"4", "1"}},
		{name: "status active", filter: ListingFilter{Status: StatusActive}, want: []string{"1"}},
		{name: "status pending", filter: ListingFilter{Status: StatusPending}, want: []string{"2"}},
		{name: "status sold", filter: ListingFilter{Status: StatusSold}, want: []string{"3", "4"}},
		{name: "all placeholder", filter: ListingFilter{AssetType: "all", Seller: "all"}, want: []string{"3", "2", "4", "1"}},
		{name: "nothing matches", filter: ListingFilter{Seller: "nobody"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToListings(sampleTransactions(), tt.filter)
			assert.Equal(t, tt.want, listingIDs(got))
		})
	}
}

func TestToListings_EmptyInputGivesEmptySlice(t *testing.T) {
	got := ToListings(nil, ListingFilter{})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestToHistory(t *testing.T) {
	tests := []struct {
		name      string
		citizen   string
		assetType string
		limit     int
		wantIDs   []string
		wantRoles []Role
	}{
		{name: "all executed, newest first", limit: 0, wantIDs: []string{"4", "3"}, wantRoles: []Role{"", ""}},
		{name: "citizen as buyer and seller", citizen: "NLTeam", wantIDs: []string{"4", "3"}, wantRoles: []Role{RoleBuyer, RoleSeller}},
		{name: "citizen as buyer only", citizen: "BasstheWhale", wantIDs: []string{"3"}, wantRoles: []Role{RoleBuyer}},
		{name: "asset type", assetType: "land", citizen: "ConsiglioDeiDieci", wantIDs: []string{"4"}, wantRoles: []Role{RoleSeller}},
		{name: "limit", limit: 1, wantIDs: []string{"4"}, wantRoles: []Role{""}},
		{name: "unknown citizen", citizen: "nobody", wantIDs: []string{}, wantRoles: []Role{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToHistory(sampleTransactions(), tt.citizen, tt.assetType, tt.limit)
			assert.Equal(t, tt.wantIDs, historyIDs(got))

			roles := make([]Role, len(got))
			for i, e := range got {
				roles[i] = e.Role
			}
			assert.Equal(t, tt.wantRoles, roles)
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "", want: DefaultHistoryLimit},
		{input: "25", want: 25},
		{input: "500", want: 500},
		{input: "9999", want: MaxHistoryLimit},
		{input: "0", wantErr: true},
		{input: "-3", wantErr: true},
		{input: "ten", wantErr: true},
		{input: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLimit(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHistoryBody_Limit(t *testing.T) {
	body := HistoryBody{Success: true, Transactions: ToHistory(sampleTransactions(), "", "", 0)}
	require.Len(t, body.Transactions, 2)

	limited := body.Limit(1)
	assert.Len(t, limited.Transactions, 1)
	assert.Len(t, body.Transactions, 2, "original body is untouched")

	assert.Len(t, body.Limit(10).Transactions, 2)
}
