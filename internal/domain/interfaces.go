package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// BidRequest is the input to a BidExecutor
type BidRequest struct {
	// IdempotencyKey is stable for a snipe across retries so a marketplace
	// gateway can drop duplicate submissions.
	IdempotencyKey string
	ListingURL     string
	MaxBid         decimal.Decimal
}

// BidResult is the marketplace response to a submitted bid
type BidResult struct {
	Accepted   bool             `json:"accepted"`
	FinalPrice *decimal.Decimal `json:"final_price,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BidExecutor places a bid against a marketplace. Implementations must
// return once ctx is done.
type BidExecutor interface {
	SubmitBid(ctx context.Context, req BidRequest) (BidResult, error)
}

// Notifier delivers a message to a target over a channel (email, webhook, ...)
type Notifier interface {
	Send(ctx context.Context, channel, target, message string) error
}
