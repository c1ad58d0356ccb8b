// Package listings owns listing ingestion. It upserts crawler records,
// versions their metadata, valuates them and keeps the listing price and the
// audit ledger in step.
package listings

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/shopspring/decimal"
)

// IngestRequest is a listing as delivered by a crawler
type IngestRequest struct {
	Source          string               `json:"source"`
	URL             string               `json:"url"`
	Title           string               `json:"title"`
	Category        string               `json:"category"`
	BasePrice       decimal.Decimal      `json:"base_price"`
	Currency        domain.Currency      `json:"currency"`
	Condition       string               `json:"condition"`
	CompletenessPct *float64             `json:"completeness_pct,omitempty"`
	ManufacturedAt  *time.Time           `json:"manufactured_at,omitempty"`
	ListedAt        *time.Time           `json:"listed_at,omitempty"`
	Status          domain.ListingStatus `json:"status,omitempty"`
	Metadata        json.RawMessage      `json:"metadata,omitempty"`

	// ModelID pins the depreciation model; zero picks one by category
	ModelID int64                     `json:"model_id,omitempty"`
	Damages []domain.DamageAssessment `json:"damages,omitempty"`
}

// toListing converts the request into a listing with defaults applied
func (r *IngestRequest) toListing(now time.Time) domain.Listing {
	l := domain.Listing{
		Source:          strings.TrimSpace(r.Source),
		URL:             strings.TrimSpace(r.URL),
		Title:           strings.TrimSpace(r.Title),
		Category:        strings.TrimSpace(r.Category),
		BasePrice:       r.BasePrice,
		Currency:        r.Currency,
		Condition:       r.Condition,
		CompletenessPct: 100,
		ManufacturedAt:  r.ManufacturedAt,
		ListedAt:        now,
		Status:          r.Status,
	}
	if l.Source == "" {
		l.Source = "unknown"
	}
	if l.Currency == "" {
		l.Currency = domain.CurrencyUSD
	}
	if r.CompletenessPct != nil {
		l.CompletenessPct = *r.CompletenessPct
	}
	if r.ListedAt != nil && !r.ListedAt.IsZero() {
		l.ListedAt = r.ListedAt.UTC()
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		l.Metadata = string(r.Metadata)
	}
	return l
}

// IngestResult reports what an ingestion changed
type IngestResult struct {
	Listing         domain.Listing          `json:"listing"`
	Created         bool                    `json:"created"`
	Valuation       *valuation.Valuation    `json:"valuation"`
	Change          *ledger.Change          `json:"change"`
	MetadataVersion *ledger.MetadataVersion `json:"metadata_version,omitempty"`
	Matches         []alerts.Match          `json:"matches,omitempty"`
}

// Filter narrows a listing query
type Filter struct {
	Status   domain.ListingStatus
	Category string
	Query    string
	Limit    int
	Offset   int
}
