// Package ledger is the append-only audit trail of listing price changes,
// their adjustment stages and listing metadata versions.
package ledger

import (
	"time"

	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/shopspring/decimal"
)

// Entry is a persisted price adjustment
type Entry struct {
	valuation.PriceAdjustment
	ID        int64     `json:"id"`
	ChangeID  int64     `json:"change_id"`
	ListingID int64     `json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is one recorded price change with its ordered adjustment trail
type Change struct {
	ID            int64           `json:"id"`
	ListingID     int64           `json:"listing_id"`
	ModelID       int64           `json:"model_id,omitempty"`
	BasePrice     decimal.Decimal `json:"base_price"`
	OldPrice      decimal.Decimal `json:"old_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	LowConfidence bool            `json:"low_confidence"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Adjustments   []Entry         `json:"adjustments"`
}

// PriceAdjustments returns the trail without persistence fields
func (c *Change) PriceAdjustments() []valuation.PriceAdjustment {
	out := make([]valuation.PriceAdjustment, len(c.Adjustments))
	for i, e := range c.Adjustments {
		out[i] = e.PriceAdjustment
	}
	return out
}

// Replay recomputes the new price from the base price and the trail
func (c *Change) Replay() decimal.Decimal {
	return valuation.Replay(c.BasePrice, c.PriceAdjustments())
}

// MetadataVersion is a numbered change to a listing's metadata blob.
// Patch holds the new values of set fields and the names of removed ones.
type MetadataVersion struct {
	ID            int64     `json:"id"`
	ListingID     int64     `json:"listing_id"`
	Version       int       `json:"version"`
	ChangedFields []string  `json:"changed_fields"`
	Patch         string    `json:"patch"`
	CreatedAt     time.Time `json:"created_at"`
}

// Mismatch reports a change whose trail does not reproduce its stored price
type Mismatch struct {
	ListingID int64           `json:"listing_id"`
	ChangeID  int64           `json:"change_id"`
	Stored    decimal.Decimal `json:"stored"`
	Replayed  decimal.Decimal `json:"replayed"`
}
