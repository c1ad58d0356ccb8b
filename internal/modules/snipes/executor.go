package snipes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DryRunExecutor accepts every bid without contacting a marketplace.
// It reports no final price, so listings are never marked sold.
type DryRunExecutor struct {
	log zerolog.Logger
}

// NewDryRunExecutor creates a dry-run executor
func NewDryRunExecutor(log zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{log: log.With().Str("component", "dry_run_executor").Logger()}
}

// SubmitBid logs the bid and accepts it
func (e *DryRunExecutor) SubmitBid(ctx context.Context, req domain.BidRequest) (domain.BidResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.BidResult{}, err
	}
	e.log.Info().
		Str("listing_url", req.ListingURL).
		Str("max_bid", req.MaxBid.String()).
		Str("idempotency_key", req.IdempotencyKey).
		Msg("Dry run bid")
	return domain.BidResult{Accepted: true}, nil
}

type bidPayload struct {
	ListingURL     string          `json:"listing_url"`
	MaxBid         decimal.Decimal `json:"max_bid"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// HTTPExecutor submits bids to a marketplace gateway over HTTP.
// 5xx and 429 responses are transient errors and are retried by the
// scheduler; other 4xx responses are final rejections.
type HTTPExecutor struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewHTTPExecutor creates an executor posting to baseURL + "/bids"
func NewHTTPExecutor(baseURL, apiKey string, log zerolog.Logger) *HTTPExecutor {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	// Per-attempt deadlines come from the caller's context
	client.SetTimeout(0)

	return &HTTPExecutor{
		client: client,
		log:    log.With().Str("component", "http_bid_executor").Logger(),
	}
}

// SubmitBid posts the bid and decodes the gateway's BidResult
func (e *HTTPExecutor) SubmitBid(ctx context.Context, req domain.BidRequest) (domain.BidResult, error) {
	var result domain.BidResult
	started := time.Now()

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(bidPayload{ListingURL: req.ListingURL, MaxBid: req.MaxBid, IdempotencyKey: req.IdempotencyKey}).
		SetResult(&result).
		Post("/bids")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BidResult{}, ctxErr
		}
		return domain.BidResult{}, fmt.Errorf("bid request failed: %w", err)
	}

	code := resp.StatusCode()
	e.log.Debug().
		Int("status", code).
		Dur("took", time.Since(started)).
		Str("idempotency_key", req.IdempotencyKey).
		Msg("Bid gateway responded")

	switch {
	case code >= 500 || code == 429:
		return domain.BidResult{}, fmt.Errorf("bid gateway returned status %d", code)
	case resp.IsError():
		msg := strings.TrimSpace(resp.String())
		if msg == "" {
			msg = resp.Status()
		}
		return domain.BidResult{Accepted: false, Error: msg}, nil
	}
	return result, nil
}
