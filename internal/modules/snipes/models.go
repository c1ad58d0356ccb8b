// Package snipes schedules last-moment bids. A snipe fires once, at its
// auction end minus its lead time, and moves through
// scheduled → armed → executing → completed | failed, or to cancelled or
// missed. Terminal states never change.
package snipes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a snipe
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusArmed     Status = "armed"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusArmed, StatusExecuting:
		return true
	}
	return s.IsTerminal()
}

// Lead time bounds in seconds
const (
	MinLeadTimeSeconds = 1
	MaxLeadTimeSeconds = 300
)

// Snipe is a persisted timed bid
type Snipe struct {
	ID              int64           `json:"id"`
	ListingID       int64           `json:"listing_id,omitempty"`
	ListingURL      string          `json:"listing_url"`
	ListingTitle    string          `json:"listing_title,omitempty"`
	MaxBid          decimal.Decimal `json:"max_bid"`
	AuctionEndTime  time.Time       `json:"auction_end_time"`
	LeadTimeSeconds int             `json:"lead_time_seconds"`
	FireAt          time.Time       `json:"fire_at"`
	Status          Status          `json:"status"`
	Attempts        int             `json:"attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	Result          *Outcome        `json:"result,omitempty"`
	Metadata        string          `json:"metadata,omitempty"`
}

// FireTime is the auction end minus the lead time
func FireTime(auctionEnd time.Time, leadSeconds int) time.Time {
	return auctionEnd.Add(-time.Duration(leadSeconds) * time.Second)
}

// Outcome is the stored result of a finished snipe
type Outcome struct {
	Accepted   bool             `json:"accepted"`
	FinalPrice *decimal.Decimal `json:"final_price,omitempty"`
	Error      string           `json:"error,omitempty"`
	Attempts   int              `json:"attempts,omitempty"`
}

func (o *Outcome) encode() string {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

func decodeOutcome(raw string) *Outcome {
	if raw == "" {
		return nil
	}
	var o Outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return &Outcome{Error: raw}
	}
	return &o
}

// CreateRequest is the input for a new snipe. ListingURL may be omitted
// when ListingID refers to a stored listing.
type CreateRequest struct {
	ListingID       int64           `json:"listing_id,omitempty"`
	ListingURL      string          `json:"listing_url,omitempty"`
	ListingTitle    string          `json:"listing_title,omitempty"`
	MaxBid          decimal.Decimal `json:"max_bid"`
	AuctionEndTime  time.Time       `json:"auction_end_time"`
	LeadTimeSeconds int             `json:"lead_time_seconds,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the request at now. A zero lead time takes defaultLead.
func (r *CreateRequest) Validate(now time.Time, defaultLead int) error {
	r.ListingURL = strings.TrimSpace(r.ListingURL)
	if r.ListingURL == "" {
		return domain.NewValidationError("listing_url", "is required")
	}
	if !r.MaxBid.IsPositive() {
		return domain.NewValidationError("max_bid", "must be greater than zero")
	}
	if r.AuctionEndTime.IsZero() {
		return domain.NewValidationError("auction_end_time", "is required")
	}
	if !r.AuctionEndTime.After(now) {
		return domain.NewValidationError("auction_end_time", "must be in the future")
	}
	if r.LeadTimeSeconds == 0 {
		r.LeadTimeSeconds = defaultLead
	}
	if r.LeadTimeSeconds < MinLeadTimeSeconds || r.LeadTimeSeconds > MaxLeadTimeSeconds {
		return domain.NewValidationError("lead_time_seconds",
			fmt.Sprintf("must be between %d and %d", MinLeadTimeSeconds, MaxLeadTimeSeconds))
	}
	if len(r.Metadata) > 0 && !json.Valid(r.Metadata) {
		return domain.NewValidationError("metadata", "is not valid JSON")
	}
	return nil
}
