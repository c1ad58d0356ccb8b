package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AlertEvaluator checks a valuated listing against saved alerts
type AlertEvaluator interface {
	Evaluate(ctx context.Context, listing domain.Listing, fairPrice decimal.Decimal) ([]alerts.Match, error)
}

// ComparablesLookup serves the current comparables snapshot
type ComparablesLookup interface {
	LookupTitle(category, title string) (*comparables.Aggregate, bool)
}

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	DB          *sql.DB
	Listings    *Repository
	Damages     *DamageRepository
	Models      *valuation.ModelRepository
	Engine      *valuation.Engine
	Comparables ComparablesLookup
	Sales       *comparables.Repository
	Ledger      *ledger.Ledger
	// Alerts may be nil
	Alerts AlertEvaluator
	// Events may be nil
	Events *events.Manager
	// DefaultHalfLifeYears seeds the default model when none exists
	DefaultHalfLifeYears float64
}

// Service ingests and valuates listings
type Service struct {
	db              *sql.DB
	listings        *Repository
	damages         *DamageRepository
	models          *valuation.ModelRepository
	engine          *valuation.Engine
	comparables     ComparablesLookup
	sales           *comparables.Repository
	ledger          *ledger.Ledger
	alerts          AlertEvaluator
	events          *events.Manager
	defaultHalfLife float64
	now             func() time.Time
	log             zerolog.Logger
}

// NewService creates a listing service
func NewService(cfg ServiceConfig, log zerolog.Logger) *Service {
	halfLife := cfg.DefaultHalfLifeYears
	if halfLife <= 0 {
		halfLife = 5
	}
	return &Service{
		db:              cfg.DB,
		listings:        cfg.Listings,
		damages:         cfg.Damages,
		models:          cfg.Models,
		engine:          cfg.Engine,
		comparables:     cfg.Comparables,
		sales:           cfg.Sales,
		ledger:          cfg.Ledger,
		alerts:          cfg.Alerts,
		events:          cfg.Events,
		defaultHalfLife: halfLife,
		now:             time.Now,
		log:             log.With().Str("service", "listings").Logger(),
	}
}

// Ingest upserts a listing by URL, versions its metadata, records any new
// damage assessments and valuates it. The listing price and its ledger
// record are written in one transaction. Active listings are then checked
// against alerts; alert failures are logged and do not fail the ingest.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	now := s.now().UTC()
	listing := req.toListing(now)
	if err := applyMetadataHints(&listing); err != nil {
		return nil, err
	}
	if err := listing.Validate(); err != nil {
		return nil, err
	}
	for i := range req.Damages {
		if err := req.Damages[i].Validate(); err != nil {
			return nil, err
		}
	}

	model, err := s.resolveModel(ctx, req.ModelID, listing.Category)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{}
	err = database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		created, prevMetadata, err := s.listings.UpsertTx(ctx, tx, &listing)
		if err != nil {
			return err
		}
		result.Created = created

		if result.MetadataVersion, err = s.ledger.RecordMetadataTx(ctx, tx, listing.ID, prevMetadata, listing.Metadata); err != nil {
			return err
		}

		for i := range req.Damages {
			d := req.Damages[i]
			d.ListingID = listing.ID
			if err := s.damages.InsertTx(ctx, tx, &d); err != nil {
				return err
			}
		}

		result.Valuation, result.Change, err = s.valueTx(ctx, tx, &listing, model, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest listing %s: %w", req.URL, err)
	}
	result.Listing = listing

	s.log.Info().
		Int64("listing_id", listing.ID).
		Bool("created", result.Created).
		Str("base_price", listing.BasePrice.String()).
		Str("fair_price", listing.CurrentPrice.String()).
		Bool("low_confidence", result.Valuation.LowConfidence).
		Msg("Listing ingested")

	if s.events != nil {
		s.events.EmitTyped(events.ListingIngested, "listings", &events.ListingIngestedData{
			ListingID: listing.ID,
			URL:       listing.URL,
			Source:    listing.Source,
			Created:   result.Created,
		})
		s.emitValuated(listing, result.Change, result.Valuation)
	}

	if s.alerts != nil && listing.Status == domain.ListingStatusActive {
		matches, err := s.alerts.Evaluate(ctx, listing, listing.CurrentPrice)
		if err != nil {
			s.log.Error().Err(err).Int64("listing_id", listing.ID).Msg("Alert evaluation failed")
		}
		result.Matches = matches
	}

	return result, nil
}

// Revalue reruns the valuation for a stored listing. modelID zero picks
// the model by category.
func (s *Service) Revalue(ctx context.Context, listingID, modelID int64) (*valuation.Valuation, *ledger.Change, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, nil, err
	}
	model, err := s.resolveModel(ctx, modelID, listing.Category)
	if err != nil {
		return nil, nil, err
	}

	var (
		v      *valuation.Valuation
		change *ledger.Change
	)
	err = database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		v, change, err = s.valueTx(ctx, tx, listing, model, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to revalue listing %d: %w", listingID, err)
	}

	if s.events != nil {
		s.emitValuated(*listing, change, v)
	}
	return v, change, nil
}

// AddDamage appends an assessment and revalues the listing in the same
// transaction.
func (s *Service) AddDamage(ctx context.Context, listingID int64, d domain.DamageAssessment) (*domain.DamageAssessment, *valuation.Valuation, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, nil, err
	}
	model, err := s.resolveModel(ctx, 0, listing.Category)
	if err != nil {
		return nil, nil, err
	}

	var (
		v      *valuation.Valuation
		change *ledger.Change
	)
	d.ListingID = listingID
	err = database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.damages.InsertTx(ctx, tx, &d); err != nil {
			return err
		}
		var err error
		v, change, err = s.valueTx(ctx, tx, listing, model, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add damage to listing %d: %w", listingID, err)
	}

	if s.events != nil {
		s.emitValuated(*listing, change, v)
	}
	return &d, v, nil
}

// valueTx runs the engine for listing and writes the new price together
// with its ledger record. listing.CurrentPrice is updated in place.
func (s *Service) valueTx(ctx context.Context, tx *sql.Tx, listing *domain.Listing, model *valuation.DepreciationModel,
	at time.Time) (*valuation.Valuation, *ledger.Change, error) {
	damages, err := s.damages.ListByListingTx(ctx, tx, listing.ID)
	if err != nil {
		return nil, nil, err
	}

	var agg *comparables.Aggregate
	if s.comparables != nil {
		agg, _ = s.comparables.LookupTitle(listing.Category, listing.Title)
	}

	v, err := s.engine.Value(valuation.Input{
		Listing:    *listing,
		Model:      model,
		Damages:    damages,
		Comparable: agg,
		At:         at,
	})
	if err != nil {
		return nil, nil, err
	}
	if v.Stale != nil {
		s.log.Warn().Err(v.Stale).Int64("listing_id", listing.ID).Msg("Valuated with stale comparables")
	}

	if err := s.listings.UpdatePriceTx(ctx, tx, listing.ID, v.FinalPrice); err != nil {
		return nil, nil, err
	}
	change, err := s.ledger.RecordTx(ctx, tx, listing.ID, listing.CurrentPrice, v)
	if err != nil {
		return nil, nil, err
	}
	listing.CurrentPrice = v.FinalPrice
	return v, change, nil
}

// resolveModel picks the pinned model, else the newest model named after
// the category, else the default model.
func (s *Service) resolveModel(ctx context.Context, modelID int64, category string) (*valuation.DepreciationModel, error) {
	if modelID != 0 {
		m, err := s.models.GetByID(ctx, modelID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("model_id", fmt.Sprintf("model %d does not exist", modelID))
		}
		return m, err
	}
	if category != "" {
		m, err := s.models.GetLatestByName(ctx, category)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return s.models.EnsureDefault(ctx, s.defaultHalfLife)
}

// MarkSold closes an active listing and records the sale as a comparable.
// Completed snipes report through here.
func (s *Service) MarkSold(ctx context.Context, listingID int64, price decimal.Decimal, source string) error {
	if price.IsNegative() {
		return domain.NewValidationError("price", "must not be negative")
	}
	soldAt := s.now().UTC()

	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		listing, err := s.listings.GetByIDTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if err := s.listings.MarkSoldTx(ctx, tx, listingID, soldAt); err != nil {
			return err
		}
		return s.sales.InsertSaleTx(ctx, tx, &comparables.Sale{
			ListingID: listingID,
			Source:    source,
			Category:  listing.Category,
			Title:     listing.Title,
			Price:     price,
			Currency:  string(listing.Currency),
			SoldAt:    soldAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to mark listing %d sold: %w", listingID, err)
	}

	s.log.Info().Int64("listing_id", listingID).Str("price", price.String()).Str("source", source).Msg("Listing sold")
	if s.events != nil {
		s.events.EmitTyped(events.ListingSold, "listings", &events.ListingSoldData{
			ListingID: listingID,
			Price:     price.String(),
			Source:    source,
		})
	}
	return nil
}

// ArchiveExpired archives sold and expired listings that have been in that
// state for longer than olderThan.
func (s *Service) ArchiveExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	n, err := s.listings.ArchiveTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Time("before", cutoff).Msg("Archived listings")
		if s.events != nil {
			s.events.EmitTyped(events.ListingsArchived, "listings", &events.ListingsArchivedData{Count: n, Before: cutoff})
		}
	}
	return n, nil
}

// Get returns a stored listing
func (s *Service) Get(ctx context.Context, id int64) (*domain.Listing, error) {
	return s.listings.GetByID(ctx, id)
}

// List returns listings matching f plus the total count
func (s *Service) List(ctx context.Context, f Filter) ([]domain.Listing, int, error) {
	return s.listings.List(ctx, f)
}

// Damages returns a listing's damage assessments
func (s *Service) Damages(ctx context.Context, listingID int64) ([]domain.DamageAssessment, error) {
	if _, err := s.listings.GetByID(ctx, listingID); err != nil {
		return nil, err
	}
	return s.damages.ListByListing(ctx, listingID)
}

func (s *Service) emitValuated(listing domain.Listing, change *ledger.Change, v *valuation.Valuation) {
	data := &events.ListingValuatedData{
		ListingID:     listing.ID,
		URL:           listing.URL,
		Title:         listing.Title,
		BasePrice:     v.BasePrice.String(),
		NewPrice:      v.FinalPrice.String(),
		Adjustments:   len(v.Adjustments),
		LowConfidence: v.LowConfidence,
		Warnings:      v.Warnings,
	}
	if change != nil {
		data.OldPrice = change.OldPrice.String()
	}
	s.events.EmitTyped(events.ListingValuated, "listings", data)
}
