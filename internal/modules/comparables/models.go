// Package comparables maintains market statistics for normalized listing
// titles and serves them from an atomically swapped snapshot.
package comparables

import (
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a comparables bucket. Titles are scoped by category.
type Key struct {
	Category        string `json:"category"`
	NormalizedTitle string `json:"normalized_title"`
}

// String renders the key for logs and errors
func (k Key) String() string {
	if k.Category == "" {
		return k.NormalizedTitle
	}
	return k.Category + "/" + k.NormalizedTitle
}

// NewKey builds a Key from a raw title
func NewKey(category, title string) Key {
	return Key{Category: category, NormalizedTitle: NormalizeTitle(title)}
}

// Aggregate is the summary of sale prices in one bucket. Count is at least 1.
type Aggregate struct {
	Key            Key             `json:"key"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	MedianPrice    decimal.Decimal `json:"median_price"`
	StdDev         float64         `json:"stddev"`
	Count          int             `json:"count"`
	WindowStart    time.Time       `json:"window_start"`
	LastComputedAt time.Time       `json:"last_computed_at"`
}

// IsStale reports whether the aggregate is older than maxAge at now.
// A non-positive maxAge disables staleness.
func (a *Aggregate) IsStale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(a.LastComputedAt) > maxAge
}

// Sale is a historical sale used to build aggregates
type Sale struct {
	ID              int64           `json:"id"`
	ListingID       int64           `json:"listing_id,omitempty"`
	Source          string          `json:"source"`
	Category        string          `json:"category"`
	Title           string          `json:"title"`
	NormalizedTitle string          `json:"normalized_title"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	SoldAt          time.Time       `json:"sold_at"`
}
