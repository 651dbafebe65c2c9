// Package market holds the marketplace domain of La Serenissima: backend
// transaction records and the listing and history views derived from them.
package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a record identifier. The backend sends numeric or string ids and the
// original form is kept on output.
type ID struct {
	value   string
	numeric bool
}

// StringID returns a string identifier.
func StringID(s string) ID {
	return ID{value: s}
}

// NumberID returns a numeric identifier.
func NumberID(n int64) ID {
	return ID{value: strconv.FormatInt(n, 10), numeric: true}
}

// String returns the identifier without quoting.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}

// Transaction is a marketplace record as stored by the backend.
type Transaction struct {
	ID             ID         `json:"id"`
	Type           string     `json:"type"`
	Asset          string     `json:"asset"`
	AssetType      string     `json:"asset_type"`
	Seller         string     `json:"seller"`
	Buyer          *string    `json:"buyer"`
	Price          float64    `json:"price"`
	HistoricalName string     `json:"historical_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExecutedAt     *time.Time `json:"executed_at"`
}

// Executed reports whether the transaction has completed.
func (t Transaction) Executed() bool {
	return t.ExecutedAt != nil && !t.ExecutedAt.IsZero()
}

// HasBuyer reports whether a buyer has committed to the transaction.
func (t Transaction) HasBuyer() bool {
	return t.Buyer != nil && *t.Buyer != ""
}

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusSold    Status = "sold"
)

// ParseStatus parses a status filter value. Empty and "all" yield "".
func ParseStatus(s string) (Status, error) {
	switch Status(normalize(s)) {
	case "":
		return "", nil
	case StatusActive:
		return StatusActive, nil
	case StatusPending:
		return StatusPending, nil
	case StatusSold:
		return StatusSold, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// StatusOf derives the listing status of a transaction.
func StatusOf(t Transaction) Status {
	switch {
	case t.Executed():
		return StatusSold
	case t.HasBuyer():
		return StatusPending
	default:
		return StatusActive
	}
}

// Listing is a transaction as shown on the marketplace.
type Listing struct {
	Transaction
	Status Status `json:"status"`
}

// Role is the part a citizen played in a transaction.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// HistoryEntry is an executed transaction in a citizen's history.
type HistoryEntry struct {
	Transaction
	Role Role `json:"role,omitempty"`
}
