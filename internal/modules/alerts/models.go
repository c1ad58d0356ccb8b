// Package alerts matches valuated listings against saved search criteria
// and notifies the alert owner.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an alert
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused || s == StatusDeleted
}

// Notification methods
const (
	MethodEmail    = "email"
	MethodWebhook  = "webhook"
	MethodTwitter  = "twitter"
	MethodFacebook = "facebook"
)

var validMethods = []string{MethodEmail, MethodWebhook, MethodTwitter, MethodFacebook}

// Alert is a saved search. Price bounds are inclusive and apply to the
// listing's asking price.
type Alert struct {
	ID                 int64            `json:"id"`
	SearchQuery        string           `json:"search_query"`
	MinPrice           *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice           *decimal.Decimal `json:"max_price,omitempty"`
	NotificationMethod string           `json:"notification_method"`
	NotificationTarget string           `json:"notification_target"`
	Status             Status           `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	LastTriggeredAt    *time.Time       `json:"last_triggered_at,omitempty"`
	TriggerCount       int              `json:"trigger_count"`
}

// Matches reports whether listing satisfies the alert criteria.
// Query words must appear, in order, in the normalized title.
func (a *Alert) Matches(listing domain.Listing) bool {
	query := comparables.NormalizeTitle(a.SearchQuery)
	if query != "" && !strings.Contains(comparables.NormalizeTitle(listing.Title), query) {
		return false
	}
	if a.MinPrice != nil && listing.BasePrice.LessThan(*a.MinPrice) {
		return false
	}
	if a.MaxPrice != nil && listing.BasePrice.GreaterThan(*a.MaxPrice) {
		return false
	}
	return true
}

// CreateRequest is the input for a new alert
type CreateRequest struct {
	SearchQuery        string           `json:"search_query"`
	MinPrice           *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice           *decimal.Decimal `json:"max_price,omitempty"`
	NotificationMethod string           `json:"notification_method"`
	NotificationTarget string           `json:"notification_target"`
}

// Validate checks a create request
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.SearchQuery) == "" {
		return domain.NewValidationError("search_query", "is required")
	}
	if r.MinPrice != nil && r.MinPrice.IsNegative() {
		return domain.NewValidationError("min_price", "must not be negative")
	}
	if r.MinPrice != nil && r.MaxPrice != nil && !r.MinPrice.LessThan(*r.MaxPrice) {
		return domain.NewValidationError("min_price", "must be less than max_price")
	}
	if r.NotificationMethod == "" {
		r.NotificationMethod = MethodEmail
	}

	known := false
	for _, m := range validMethods {
		if r.NotificationMethod == m {
			known = true
			break
		}
	}
	if !known {
		return domain.NewValidationError("notification_method",
			fmt.Sprintf("must be one of: %s", strings.Join(validMethods, ", ")))
	}
	if strings.TrimSpace(r.NotificationTarget) == "" {
		return domain.NewValidationError("notification_target", "is required")
	}
	if r.NotificationMethod == MethodEmail && !strings.Contains(r.NotificationTarget, "@") {
		return domain.NewValidationError("notification_target", "invalid email address")
	}
	return nil
}

// Match is an append-only record of a listing satisfying an alert
type Match struct {
	ID               int64            `json:"id"`
	AlertID          int64            `json:"alert_id"`
	ListingID        int64            `json:"listing_id"`
	ListingURL       string           `json:"listing_url"`
	ListingTitle     string           `json:"listing_title"`
	ListingPrice     decimal.Decimal  `json:"listing_price"`
	FairPrice        *decimal.Decimal `json:"fair_price,omitempty"`
	MatchedAt        time.Time        `json:"matched_at"`
	NotificationSent bool             `json:"notification_sent"`
}
