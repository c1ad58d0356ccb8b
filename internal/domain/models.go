// Package domain provides core domain models and types shared across modules.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO currency code
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// ListingStatus is the lifecycle state of a marketplace listing
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusExpired  ListingStatus = "expired"
	ListingStatusArchived ListingStatus = "archived"
)

// IsTerminal reports whether the listing can no longer change hands.
func (s ListingStatus) IsTerminal() bool {
	return s == ListingStatusSold || s == ListingStatusExpired || s == ListingStatusArchived
}

// Valid reports whether s is a known listing status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusActive, ListingStatusSold, ListingStatusExpired, ListingStatusArchived:
		return true
	}
	return false
}

// Listing represents a marketplace listing as ingested from a crawler.
// BasePrice is the asking price; CurrentPrice is the valuated fair price and
// is only ever written together with an audit ledger record.
type Listing struct {
	ID              int64           `json:"id"`
	Source          string          `json:"source"`
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	Category        string          `json:"category"`
	BasePrice       decimal.Decimal `json:"base_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	Currency        Currency        `json:"currency"`
	Condition       string          `json:"condition"`
	CompletenessPct float64         `json:"completeness_pct"`
	ManufacturedAt  *time.Time      `json:"manufactured_at,omitempty"`
	ListedAt        time.Time       `json:"listed_at"`
	Status          ListingStatus   `json:"status"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	Metadata        string          `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AgeYears returns the item age at now, measured from the manufacture date
// when known and from the listing date otherwise. Never negative.
func (l Listing) AgeYears(now time.Time) float64 {
	from := l.ListedAt
	if l.ManufacturedAt != nil {
		from = *l.ManufacturedAt
	}
	if from.IsZero() || now.Before(from) {
		return 0
	}
	return now.Sub(from).Hours() / (24 * 365.25)
}

// Validate checks the fields required before a listing can be valuated.
func (l Listing) Validate() error {
	if strings.TrimSpace(l.URL) == "" {
		return NewValidationError("url", "is required")
	}
	if strings.TrimSpace(l.Title) == "" {
		return NewValidationError("title", "is required")
	}
	if l.BasePrice.IsNegative() {
		return NewValidationError("base_price", "must not be negative")
	}
	if l.CompletenessPct < 0 || l.CompletenessPct > 100 {
		return NewValidationError("completeness_pct", "must be between 0 and 100")
	}
	if l.Status != "" && !l.Status.Valid() {
		return NewValidationError("status", "unknown status "+string(l.Status))
	}
	return nil
}

// DamageAssessment is an append-only record of damage found on a listing.
// ImpactPct is the estimated value lost, 0..100.
type DamageAssessment struct {
	ID         int64     `json:"id"`
	ListingID  int64     `json:"listing_id"`
	DamageType string    `json:"damage_type"`
	Severity   string    `json:"severity"`
	ImpactPct  float64   `json:"impact_pct"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks a damage assessment before it is stored
func (d DamageAssessment) Validate() error {
	if strings.TrimSpace(d.DamageType) == "" {
		return NewValidationError("damage_type", "is required")
	}
	if d.ImpactPct < 0 || d.ImpactPct > 100 {
		return NewValidationError("impact_pct", "must be between 0 and 100")
	}
	return nil
}
