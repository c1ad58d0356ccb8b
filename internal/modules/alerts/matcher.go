package alerts

import (
	"context"
	"fmt"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Matcher evaluates valuated listings against active alerts
type Matcher struct {
	repo     *Repository
	notifier domain.Notifier
	events   *events.Manager
	log      zerolog.Logger
}

// NewMatcher creates a matcher. eventManager may be nil.
func NewMatcher(repo *Repository, notifier domain.Notifier, eventManager *events.Manager, log zerolog.Logger) *Matcher {
	return &Matcher{
		repo:     repo,
		notifier: notifier,
		events:   eventManager,
		log:      log.With().Str("component", "alert_matcher").Logger(),
	}
}

// Evaluate records one match per active alert the listing satisfies and
// notifies each alert's target. A failed notification leaves the match
// with notification_sent unset; it does not fail the evaluation.
func (m *Matcher) Evaluate(ctx context.Context, listing domain.Listing, fairPrice decimal.Decimal) ([]Match, error) {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i := range active {
		alert := &active[i]
		if !alert.Matches(listing) {
			continue
		}

		fair := fairPrice
		match := Match{
			AlertID:      alert.ID,
			ListingID:    listing.ID,
			ListingURL:   listing.URL,
			ListingTitle: listing.Title,
			ListingPrice: listing.BasePrice,
			FairPrice:    &fair,
		}
		if err := m.repo.RecordMatch(ctx, &match); err != nil {
			return matches, err
		}

		message := fmt.Sprintf("%q listed at %s %s (fair value %s): %s",
			listing.Title, listing.BasePrice.StringFixed(2), listing.Currency, fair.StringFixed(2), listing.URL)
		if err := m.notifier.Send(ctx, alert.NotificationMethod, alert.NotificationTarget, message); err != nil {
			m.log.Warn().Err(err).
				Int64("alert_id", alert.ID).
				Str("channel", alert.NotificationMethod).
				Msg("Failed to send alert notification")
		} else if err := m.repo.MarkNotified(ctx, match.ID); err != nil {
			m.log.Error().Err(err).Int64("match_id", match.ID).Msg("Failed to mark match notified")
		} else {
			match.NotificationSent = true
		}

		m.log.Info().
			Int64("alert_id", alert.ID).
			Int64("listing_id", listing.ID).
			Bool("notified", match.NotificationSent).
			Msg("Alert matched")

		if m.events != nil {
			m.events.EmitTyped(events.AlertMatched, "alerts", &events.AlertMatchedData{
				AlertID:          alert.ID,
				MatchID:          match.ID,
				ListingID:        listing.ID,
				ListingTitle:     listing.Title,
				ListingPrice:     listing.BasePrice.String(),
				NotificationSent: match.NotificationSent,
			})
		}

		matches = append(matches, match)
	}

	return matches, nil
}
