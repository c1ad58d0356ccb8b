package snipes

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
)

// ListingLookup resolves listing ids for snipes created by id
type ListingLookup interface {
	Get(ctx context.Context, id int64) (*domain.Listing, error)
}

// Service is the operator-facing snipe API. It persists first and then
// tells the scheduler, so the store stays the source of truth.
type Service struct {
	store       *Store
	scheduler   *Scheduler
	listings    ListingLookup
	events      *events.Manager
	defaultLead int
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a snipe service. listings and eventManager may be nil.
func NewService(store *Store, scheduler *Scheduler, listings ListingLookup, eventManager *events.Manager,
	defaultLead time.Duration, log zerolog.Logger) *Service {
	lead := int(defaultLead / time.Second)
	if lead < MinLeadTimeSeconds {
		lead = 5
	}
	return &Service{
		store:       store,
		scheduler:   scheduler,
		listings:    listings,
		events:      eventManager,
		defaultLead: lead,
		now:         time.Now,
		log:         log.With().Str("service", "snipes").Logger(),
	}
}

// Create validates and persists a snipe and hands it to the scheduler
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Snipe, error) {
	if req.ListingID != 0 && s.listings != nil {
		listing, err := s.listings.Get(ctx, req.ListingID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("listing_id", "listing does not exist")
		}
		if err != nil {
			return nil, err
		}
		if listing.Status.IsTerminal() {
			return nil, domain.NewValidationError("listing_id", "listing is "+string(listing.Status))
		}
		if req.ListingURL == "" {
			req.ListingURL = listing.URL
		}
		if req.ListingTitle == "" {
			req.ListingTitle = listing.Title
		}
	}
	if err := req.Validate(s.now(), s.defaultLead); err != nil {
		return nil, err
	}

	sn := &Snipe{
		ListingID:       req.ListingID,
		ListingURL:      req.ListingURL,
		ListingTitle:    req.ListingTitle,
		MaxBid:          req.MaxBid,
		AuctionEndTime:  req.AuctionEndTime.UTC(),
		LeadTimeSeconds: req.LeadTimeSeconds,
	}
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		sn.Metadata = string(req.Metadata)
	}
	if err := s.store.Create(ctx, sn); err != nil {
		return nil, err
	}

	if err := s.scheduler.Schedule(ctx, sn); err != nil {
		s.log.Warn().Err(err).Int64("snipe_id", sn.ID).Msg("Scheduler not reachable, snipe will be picked up on rescan")
	}

	s.log.Info().
		Int64("snipe_id", sn.ID).
		Str("listing_url", sn.ListingURL).
		Str("max_bid", sn.MaxBid.String()).
		Time("fire_at", sn.FireAt).
		Msg("Snipe scheduled")
	if s.events != nil {
		s.events.EmitTyped(events.SnipeScheduled, "snipes", &events.SnipeScheduledData{
			SnipeID:   sn.ID,
			ListingID: sn.ListingID,
			FireAt:    sn.FireAt,
			MaxBid:    sn.MaxBid.String(),
		})
	}
	return sn, nil
}

// Get returns a snipe
func (s *Service) Get(ctx context.Context, id int64) (*Snipe, error) {
	return s.store.Get(ctx, id)
}

// List returns snipes filtered by status plus the total count
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Snipe, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, domain.NewValidationError("status", "unknown status "+string(status))
	}
	return s.store.List(ctx, status, limit)
}

// Cancel cancels a scheduled snipe. Cancelling an armed, executing or
// finished snipe changes nothing and is not an error; the snipe is
// returned as stored.
func (s *Service) Cancel(ctx context.Context, id int64) (*Snipe, error) {
	ok, err := s.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	sn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Debug().Int64("snipe_id", id).Str("status", string(sn.Status)).Msg("Cancel ignored")
		return sn, nil
	}

	if err := s.scheduler.Forget(ctx, id); err != nil {
		s.log.Debug().Err(err).Int64("snipe_id", id).Msg("Scheduler not reachable for cancel")
	}
	s.log.Info().Int64("snipe_id", id).Msg("Snipe cancelled")
	if s.events != nil {
		s.events.EmitTyped(events.SnipeTransitioned, "snipes", &events.SnipeTransitionedData{
			SnipeID:   id,
			ListingID: sn.ListingID,
			From:      string(StatusScheduled),
			To:        string(StatusCancelled),
		})
	}
	return sn, nil
}

// Stats returns the scheduler's counters
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.scheduler.Stats(ctx)
}
