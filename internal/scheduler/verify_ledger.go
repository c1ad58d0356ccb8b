package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
)

// VerifyLedgerJob replays the latest adjustment trail of every listing and
// reports trails that no longer reproduce the stored price
type VerifyLedgerJob struct {
	log    zerolog.Logger
	ledger LedgerVerifier
	events EventManagerInterface
}

// NewVerifyLedgerJob creates a new VerifyLedgerJob
func NewVerifyLedgerJob(verifier LedgerVerifier, eventManager EventManagerInterface, log zerolog.Logger) *VerifyLedgerJob {
	return &VerifyLedgerJob{
		log:    log.With().Str("job", "verify_ledger").Logger(),
		ledger: verifier,
		events: eventManager,
	}
}

// Name returns the job name
func (j *VerifyLedgerJob) Name() string {
	return "verify_ledger"
}

// Run executes the verification. Mismatches are reported, not repaired.
func (j *VerifyLedgerJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	mismatches, checked, err := j.ledger.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify ledger: %w", err)
	}

	for _, m := range mismatches {
		j.log.Error().
			Int64("listing_id", m.ListingID).
			Int64("change_id", m.ChangeID).
			Str("stored", m.Stored.String()).
			Str("replayed", m.Replayed.String()).
			Msg("Ledger trail does not reproduce stored price")

		if j.events != nil {
			j.events.EmitTyped(events.LedgerMismatch, "ledger", &events.LedgerMismatchData{
				ListingID: m.ListingID,
				Stored:    m.Stored.String(),
				Replayed:  m.Replayed.String(),
			})
		}
	}

	j.log.Info().
		Int("checked", checked).
		Int("mismatches", len(mismatches)).
		Msg("Ledger verification completed")
	return nil
}
