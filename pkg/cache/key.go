package cache

import (
	"net/url"
	"strings"
)

// AllValues is the placeholder rendered for an unset filter field.
const AllValues = "all"

// CacheKey identifies one logical query against a resource.
// Fields are the distinguishing filter values in a fixed order.
type CacheKey struct {
	Fields []string
}

// NewKey builds a CacheKey from filter values in order.
func NewKey(fields ...string) CacheKey {
	return CacheKey{Fields: fields}
}

// String generates a deterministic cache key string.
// Format: field1_field2_field3, with empty fields rendered as "all".
//
// Example:
//
//	CacheKey{Fields: []string{"", "", ""}}.String() == "all_all_all"
//	CacheKey{Fields: []string{"land", "ConsiglioDeiDieci", ""}}.String() == "land_ConsiglioDeiDieci_all"
//
// Field values are query-escaped and "_" is escaped as well, so the separator
// never appears inside a field.
func (k CacheKey) String() string {
	if len(k.Fields) == 0 {
		return AllValues
	}

	parts := make([]string, len(k.Fields))
	for i, field := range k.Fields {
		parts[i] = escapeField(field)
	}
	return strings.Join(parts, "_")
}

func escapeField(field string) string {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, AllValues) {
		return AllValues
	}
	return strings.ReplaceAll(url.QueryEscape(field), "_", "%5F")
}
