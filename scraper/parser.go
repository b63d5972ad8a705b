package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danthegoodman1/gojsonutils"
)

var (
	ErrNotFlatMap   = errors.New("not a flat map")
	ErrNoListings   = errors.New("no listings found in document")
	nonAlnum        = regexp.MustCompile(`[^a-z0-9]+`)
	listingArrayKey = []string{"listings", "results", "items", "data", "ads"}
)

// ParsedListing is what a listing page yields, before it is matched to a site or stored.
type ParsedListing struct {
	ExternalID string
	URL        string
	Title      *string
	Price      *float64
	Currency   *string
	MileageKM  *int64
	Year       *int64
	Location   *string
	Seller     *string
}

// Aliases lists, per field, the flattened keys tried in order. Keys are lowercase with nested
// objects joined by "_", e.g. {"price":{"amount":1}} is "price_amount".
type Aliases map[string][]string

func DefaultAliases() Aliases {
	return Aliases{
		"external_id": {"external_id", "id", "listing_id", "ad_id"},
		"url":         {"url", "link", "href", "permalink"},
		"title":       {"title", "name", "headline"},
		"price":       {"price_amount", "price_value", "price"},
		"currency":    {"currency", "price_currency", "price_currency_code"},
		"mileage_km":  {"mileage_km", "mileage", "km", "mileage_value"},
		"year":        {"year", "registration_year", "first_registration_year"},
		"location":    {"location_city", "location", "city"},
		"seller":      {"seller_name", "seller", "dealer_name", "dealer"},
	}
}

// ParseListings reads a JSON document holding one listing, an array of listings, or an object
// with the array under a well known key. Entries without an id or url are skipped.
func ParseListings(body []byte, aliases Aliases) ([]ParsedListing, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error in json.Unmarshal: %w", err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
		for _, k := range listingArrayKey {
			if arr, ok := v[k].([]any); ok {
				items = arr
				break
			}
		}
	default:
		return nil, ErrNoListings
	}

	out := make([]ParsedListing, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		flat, err := Flatten(m)
		if err != nil {
			return nil, fmt.Errorf("error flattening listing %d: %w", i, err)
		}
		l := parseListing(flat, aliases)
		if l.ExternalID == "" || l.URL == "" {
			logger.Debug().Int("index", i).Msg("skipping listing without id or url")
			continue
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, ErrNoListings
	}
	return out, nil
}

// Flatten flattens nested objects and normalizes the resulting keys to lowercase snake case.
func Flatten(m map[string]any) (map[string]any, error) {
	flat, err := gojsonutils.Flatten(m, nil)
	if err != nil {
		return nil, fmt.Errorf("error in gojsonutils.Flatten: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotFlatMap, flat)
	}
	out := make(map[string]any, len(flatMap))
	for k, v := range flatMap {
		out[NormalizeKey(k)] = v
	}
	return out, nil
}

func NormalizeKey(k string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(k), "_"), "_")
}

func parseListing(flat map[string]any, aliases Aliases) ParsedListing {
	pick := func(field string) any {
		for _, k := range aliases[field] {
			if v, ok := flat[k]; ok && v != nil {
				return v
			}
		}
		return nil
	}
	return ParsedListing{
		ExternalID: stringOf(pick("external_id")),
		URL:        stringOf(pick("url")),
		Title:      optString(pick("title")),
		Price:      optFloat(pick("price")),
		Currency:   optString(pick("currency")),
		MileageKM:  optInt(pick("mileage_km")),
		Year:       optInt(pick("year")),
		Location:   optString(pick("location")),
		Seller:     optString(pick("seller")),
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func optString(v any) *string {
	s := stringOf(v)
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, ok := ParseNumber(t); ok {
			return &f
		}
	}
	return nil
}

func optInt(v any) *int64 {
	f := optFloat(v)
	if f == nil {
		return nil
	}
	i := int64(*f)
	return &i
}

// ParseNumber reads human formatted numbers such as "12.500 €", "1,234.50" or "87 000 km".
// A lone separator followed by exactly three digits is taken as a thousands separator.
func ParseNumber(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	n := strings.Trim(b.String(), ".,")
	if n == "" {
		return 0, false
	}

	lastDot, lastComma := strings.LastIndex(n, "."), strings.LastIndex(n, ",")
	decimal := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal = lastDot
		if lastComma > lastDot {
			decimal = lastComma
		}
	case lastDot >= 0 || lastComma >= 0:
		sep := lastDot
		if lastComma > sep {
			sep = lastComma
		}
		if strings.Count(n, string(n[sep])) == 1 && len(n)-sep-1 != 3 {
			decimal = sep
		}
	}

	var digits strings.Builder
	for i, r := range n {
		switch {
		case i == decimal:
			digits.WriteByte('.')
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
