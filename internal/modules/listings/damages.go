package listings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
)

// DamageRepository stores damage assessments. Rows are never updated.
// Database: market.db (damage_assessments table)
type DamageRepository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewDamageRepository creates a new damage repository
func NewDamageRepository(db *sql.DB, log zerolog.Logger) *DamageRepository {
	return &DamageRepository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "damage_assessments").Logger(),
	}
}

// InsertTx appends an assessment inside tx
func (r *DamageRepository) InsertTx(ctx context.Context, tx *sql.Tx, d *domain.DamageAssessment) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Severity == "" {
		d.Severity = "unknown"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO damage_assessments (listing_id, damage_type, severity, impact_pct, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ListingID, d.DamageType, d.Severity, d.ImpactPct, utils.NullString(d.Notes), utils.ToMillis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert damage assessment: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// ListByListing returns a listing's assessments in insertion order
func (r *DamageRepository) ListByListing(ctx context.Context, listingID int64) ([]domain.DamageAssessment, error) {
	return r.list(ctx, r.db, listingID)
}

// ListByListingTx reads assessments inside tx
func (r *DamageRepository) ListByListingTx(ctx context.Context, tx *sql.Tx, listingID int64) ([]domain.DamageAssessment, error) {
	return r.list(ctx, tx, listingID)
}

func (r *DamageRepository) list(ctx context.Context, q queryer, listingID int64) ([]domain.DamageAssessment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, listing_id, damage_type, severity, impact_pct, notes, created_at
		FROM damage_assessments WHERE listing_id = ? ORDER BY id
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query damage assessments: %w", err)
	}
	defer rows.Close()

	damages := make([]domain.DamageAssessment, 0)
	for rows.Next() {
		var (
			d         domain.DamageAssessment
			notes     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.ListingID, &d.DamageType, &d.Severity, &d.ImpactPct, &notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan damage assessment: %w", err)
		}
		d.Notes = notes.String
		d.CreatedAt = utils.FromMillis(createdAt)
		damages = append(damages, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating damage assessments: %w", err)
	}
	return damages, nil
}
