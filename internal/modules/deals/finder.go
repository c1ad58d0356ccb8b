// Package deals ranks active listings by how far their asking price sits
// below recent comparable sales.
package deals

import (
	"context"
	"sort"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMinDiscountPct is the threshold used when a query sets none
const DefaultMinDiscountPct = 20.0

// Basis selects the comparables statistic discounts are ranked by
type Basis string

const (
	BasisAverage Basis = "avg"
	BasisMedian  Basis = "median"
)

// Deal is an active listing priced below its comparables
type Deal struct {
	ListingID           int64           `json:"listing_id"`
	Source              string          `json:"source"`
	Title               string          `json:"title"`
	URL                 string          `json:"url"`
	Category            string          `json:"category,omitempty"`
	Price               decimal.Decimal `json:"price"`
	Currency            domain.Currency `json:"currency"`
	FairPrice           decimal.Decimal `json:"fair_price"`
	AvgPrice            decimal.Decimal `json:"avg_price"`
	MedianPrice         decimal.Decimal `json:"median_price"`
	ComparableCount     int             `json:"comp_count"`
	DiscountVsAvgPct    float64         `json:"discount_vs_avg_pct"`
	DiscountVsMedianPct float64         `json:"discount_vs_median_pct"`
	Stale               bool            `json:"stale"`
}

func (d *Deal) discount(basis Basis) float64 {
	if basis == BasisMedian {
		return d.DiscountVsMedianPct
	}
	return d.DiscountVsAvgPct
}

// Query filters and ranks deals
type Query struct {
	MinDiscountPct *float64
	Basis          Basis
	Category       string
	Limit          int
}

// ListingSource pages through stored listings
type ListingSource interface {
	List(ctx context.Context, f listings.Filter) ([]domain.Listing, int, error)
}

// ComparablesLookup serves the current comparables snapshot
type ComparablesLookup interface {
	Lookup(key comparables.Key) (*comparables.Aggregate, bool)
}

// Finder computes deals from listings and the comparables snapshot
type Finder struct {
	listings    ListingSource
	comparables ComparablesLookup
	staleAfter  time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewFinder creates a deal finder
func NewFinder(listingSource ListingSource, comps ComparablesLookup, staleAfter time.Duration, log zerolog.Logger) *Finder {
	return &Finder{
		listings:    listingSource,
		comparables: comps,
		staleAfter:  staleAfter,
		now:         time.Now,
		log:         log.With().Str("component", "deal_finder").Logger(),
	}
}

const pageSize = 500

var hundred = decimal.NewFromInt(100)

// Find returns active listings whose discount on the chosen basis is at
// least the threshold, best first. Listings without comparables are skipped.
func (f *Finder) Find(ctx context.Context, q Query) ([]Deal, error) {
	basis := q.Basis
	if basis != BasisMedian {
		basis = BasisAverage
	}
	threshold := DefaultMinDiscountPct
	if q.MinDiscountPct != nil {
		threshold = *q.MinDiscountPct
	}

	now := f.now()
	deals := make([]Deal, 0)
	scanned := 0
	for offset := 0; ; offset += pageSize {
		page, total, err := f.listings.List(ctx, listings.Filter{
			Status:   domain.ListingStatusActive,
			Category: q.Category,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		scanned += len(page)

		for i := range page {
			d, ok := f.evaluate(&page[i], now)
			if ok && d.discount(basis) >= threshold {
				deals = append(deals, d)
			}
		}
		if len(page) < pageSize || offset+pageSize >= total {
			break
		}
	}

	sort.SliceStable(deals, func(i, j int) bool {
		return deals[i].discount(basis) > deals[j].discount(basis)
	})
	if q.Limit > 0 && len(deals) > q.Limit {
		deals = deals[:q.Limit]
	}

	f.log.Debug().
		Int("scanned", scanned).
		Int("deals", len(deals)).
		Float64("threshold", threshold).
		Str("basis", string(basis)).
		Msg("Deal search complete")
	return deals, nil
}

func (f *Finder) evaluate(l *domain.Listing, now time.Time) (Deal, bool) {
	agg, ok := f.comparables.Lookup(comparables.NewKey(l.Category, l.Title))
	if !ok || !agg.AvgPrice.IsPositive() || !agg.MedianPrice.IsPositive() {
		return Deal{}, false
	}
	return Deal{
		ListingID:           l.ID,
		Source:              l.Source,
		Title:               l.Title,
		URL:                 l.URL,
		Category:            l.Category,
		Price:               l.BasePrice,
		Currency:            l.Currency,
		FairPrice:           l.CurrentPrice,
		AvgPrice:            agg.AvgPrice,
		MedianPrice:         agg.MedianPrice,
		ComparableCount:     agg.Count,
		DiscountVsAvgPct:    discountPct(l.BasePrice, agg.AvgPrice),
		DiscountVsMedianPct: discountPct(l.BasePrice, agg.MedianPrice),
		Stale:               agg.IsStale(now, f.staleAfter),
	}, true
}

// discountPct is 100 × (1 − price/reference), rounded to 2 places
func discountPct(price, reference decimal.Decimal) float64 {
	return decimal.NewFromInt(1).Sub(price.Div(reference)).Mul(hundred).Round(2).InexactFloat64()
}
