package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ledger writes and reads the audit trail. It only ever inserts.
// Database: market.db (price_changes, price_adjustments, metadata_versions tables)
type Ledger struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// New creates a ledger over the market database
func New(db *sql.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "audit_ledger").Logger(),
	}
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Record appends a price change and its adjustments in one transaction
func (l *Ledger) Record(ctx context.Context, listingID int64, oldPrice decimal.Decimal, v *valuation.Valuation) (*Change, error) {
	var change *Change
	err := database.WithTransaction(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		change, err = l.RecordTx(ctx, tx, listingID, oldPrice, v)
		return err
	})
	return change, err
}

// RecordTx appends a price change inside tx so callers can update the
// listing price atomically with its audit record.
func (l *Ledger) RecordTx(ctx context.Context, tx *sql.Tx, listingID int64, oldPrice decimal.Decimal, v *valuation.Valuation) (*Change, error) {
	if v == nil {
		return nil, domain.NewValidationError("valuation", "is required")
	}

	recordedAt := l.now().UTC()
	var modelID sql.NullInt64
	if v.ModelID != 0 {
		modelID = sql.NullInt64{Int64: v.ModelID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO price_changes (listing_id, model_id, base_price, old_price, new_price, low_confidence, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, listingID, modelID, v.BasePrice.String(), oldPrice.String(), v.FinalPrice.String(),
		boolToInt(v.LowConfidence), utils.ToMillis(recordedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert price change: %w", err)
	}

	changeID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read price change id: %w", err)
	}

	change := &Change{
		ID:            changeID,
		ListingID:     listingID,
		ModelID:       v.ModelID,
		BasePrice:     v.BasePrice,
		OldPrice:      oldPrice,
		NewPrice:      v.FinalPrice,
		LowConfidence: v.LowConfidence,
		RecordedAt:    recordedAt,
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_adjustments (change_id, listing_id, seq, type, factor, amount, amount_cents, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare adjustment insert: %w", err)
	}
	defer stmt.Close()

	for _, adj := range v.Adjustments {
		res, err := stmt.ExecContext(ctx, changeID, listingID, adj.Seq, string(adj.Type),
			adj.Factor, adj.Amount.String(), adj.AmountCents, adj.Reason, utils.ToMillis(recordedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert adjustment %d: %w", adj.Seq, err)
		}
		id, _ := res.LastInsertId()
		change.Adjustments = append(change.Adjustments, Entry{
			PriceAdjustment: adj,
			ID:              id,
			ChangeID:        changeID,
			ListingID:       listingID,
			CreatedAt:       recordedAt,
		})
	}

	l.log.Debug().
		Int64("listing_id", listingID).
		Int64("change_id", changeID).
		Str("old_price", oldPrice.String()).
		Str("new_price", v.FinalPrice.String()).
		Int("adjustments", len(v.Adjustments)).
		Msg("Price change recorded")

	return change, nil
}

// History returns every price change for a listing, oldest first
func (l *Ledger) History(ctx context.Context, listingID int64) ([]Change, error) {
	changes, err := l.queryChanges(ctx, `
		SELECT id, listing_id, model_id, base_price, old_price, new_price, low_confidence, recorded_at
		FROM price_changes WHERE listing_id = ? ORDER BY id
	`, listingID)
	if err != nil {
		return nil, err
	}

	entries, err := l.entries(ctx, "WHERE listing_id = ?", listingID)
	if err != nil {
		return nil, err
	}
	byChange := make(map[int64]int, len(changes))
	for i := range changes {
		byChange[changes[i].ID] = i
	}
	for _, e := range entries {
		if i, ok := byChange[e.ChangeID]; ok {
			changes[i].Adjustments = append(changes[i].Adjustments, e)
		}
	}
	return changes, nil
}

// Latest returns the most recent change for a listing or domain.ErrNotFound
func (l *Ledger) Latest(ctx context.Context, listingID int64) (*Change, error) {
	changes, err := l.queryChanges(ctx, `
		SELECT id, listing_id, model_id, base_price, old_price, new_price, low_confidence, recorded_at
		FROM price_changes WHERE listing_id = ? ORDER BY id DESC LIMIT 1
	`, listingID)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, domain.ErrNotFound
	}

	change := changes[0]
	if change.Adjustments, err = l.entries(ctx, "WHERE change_id = ?", change.ID); err != nil {
		return nil, err
	}
	return &change, nil
}

// VerifyAll replays the latest change of every listing and returns the
// changes whose trail does not reproduce the stored price.
func (l *Ledger) VerifyAll(ctx context.Context) ([]Mismatch, int, error) {
	changes, err := l.queryChanges(ctx, `
		SELECT id, listing_id, model_id, base_price, old_price, new_price, low_confidence, recorded_at
		FROM price_changes
		WHERE id IN (SELECT MAX(id) FROM price_changes GROUP BY listing_id)
		ORDER BY listing_id
	`)
	if err != nil {
		return nil, 0, err
	}

	var mismatches []Mismatch
	for i := range changes {
		c := &changes[i]
		if c.Adjustments, err = l.entries(ctx, "WHERE change_id = ?", c.ID); err != nil {
			return nil, 0, err
		}
		replayed := c.Replay()
		if !replayed.Equal(c.NewPrice) {
			mismatches = append(mismatches, Mismatch{
				ListingID: c.ListingID,
				ChangeID:  c.ID,
				Stored:    c.NewPrice,
				Replayed:  replayed,
			})
		}
	}
	return mismatches, len(changes), nil
}

func (l *Ledger) queryChanges(ctx context.Context, query string, args ...any) ([]Change, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			c                Change
			modelID          sql.NullInt64
			base, oldP, newP string
			lowConfidence    int
			recordedAt       int64
		)
		if err := rows.Scan(&c.ID, &c.ListingID, &modelID, &base, &oldP, &newP, &lowConfidence, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price change: %w", err)
		}
		c.ModelID = modelID.Int64
		c.LowConfidence = lowConfidence != 0
		c.RecordedAt = utils.FromMillis(recordedAt)
		if c.BasePrice, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("invalid base price on change %d: %w", c.ID, err)
		}
		if c.OldPrice, err = decimal.NewFromString(oldP); err != nil {
			return nil, fmt.Errorf("invalid old price on change %d: %w", c.ID, err)
		}
		if c.NewPrice, err = decimal.NewFromString(newP); err != nil {
			return nil, fmt.Errorf("invalid new price on change %d: %w", c.ID, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price changes: %w", err)
	}
	return changes, nil
}

func (l *Ledger) entries(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, change_id, listing_id, seq, type, factor, amount, amount_cents, reason, created_at
		FROM price_adjustments `+where+` ORDER BY change_id, seq
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price adjustments: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			amount    string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.ChangeID, &e.ListingID, &e.Seq, &kind, &e.Factor,
			&amount, &e.AmountCents, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan price adjustment: %w", err)
		}
		e.Type = valuation.AdjustmentType(kind)
		e.CreatedAt = utils.FromMillis(createdAt)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid amount on adjustment %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price adjustments: %w", err)
	}
	return entries, nil
}

// RecordMetadataTx stores a new metadata version when next differs from
// prev. It returns nil when nothing changed.
func (l *Ledger) RecordMetadataTx(ctx context.Context, tx *sql.Tx, listingID int64, prev, next string) (*MetadataVersion, error) {
	changed, patch, err := DiffMetadata(prev, next)
	if err != nil {
		return nil, domain.NewValidationError("metadata", err.Error())
	}
	if len(changed) == 0 {
		return nil, nil
	}

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(version) FROM metadata_versions WHERE listing_id = ?", listingID).Scan(&current); err != nil {
		return nil, fmt.Errorf("failed to read metadata version: %w", err)
	}

	fields, err := json.Marshal(changed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode changed fields: %w", err)
	}

	mv := &MetadataVersion{
		ListingID:     listingID,
		Version:       int(current.Int64) + 1,
		ChangedFields: changed,
		Patch:         patch,
		CreatedAt:     l.now().UTC(),
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO metadata_versions (listing_id, version, changed_fields, patch, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, listingID, mv.Version, string(fields), patch, utils.ToMillis(mv.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert metadata version: %w", err)
	}
	mv.ID, _ = res.LastInsertId()

	return mv, nil
}

// MetadataVersions returns all versions for a listing, oldest first
func (l *Ledger) MetadataVersions(ctx context.Context, listingID int64) ([]MetadataVersion, error) {
	return l.metadataVersions(ctx, l.db, listingID, time.Time{})
}

// ReconstructMetadata replays metadata versions recorded at or before at.
// A zero at replays every version.
func (l *Ledger) ReconstructMetadata(ctx context.Context, listingID int64, at time.Time) (string, int, error) {
	versions, err := l.metadataVersions(ctx, l.db, listingID, at)
	if err != nil {
		return "", 0, err
	}

	state := "{}"
	version := 0
	for _, v := range versions {
		if state, err = ApplyPatch(state, v.Patch); err != nil {
			return "", 0, fmt.Errorf("failed to apply metadata version %d: %w", v.Version, err)
		}
		version = v.Version
	}
	return state, version, nil
}

func (l *Ledger) metadataVersions(ctx context.Context, q queryer, listingID int64, at time.Time) ([]MetadataVersion, error) {
	query := `SELECT id, listing_id, version, changed_fields, patch, created_at
		FROM metadata_versions WHERE listing_id = ?`
	args := []any{listingID}
	if !at.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, utils.ToMillis(at))
	}
	query += " ORDER BY version"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata versions: %w", err)
	}
	defer rows.Close()

	var versions []MetadataVersion
	for rows.Next() {
		var (
			v         MetadataVersion
			fields    string
			createdAt int64
		)
		if err := rows.Scan(&v.ID, &v.ListingID, &v.Version, &fields, &v.Patch, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan metadata version: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &v.ChangedFields); err != nil {
			return nil, fmt.Errorf("invalid changed fields on version %d: %w", v.Version, err)
		}
		v.CreatedAt = utils.FromMillis(createdAt)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata versions: %w", err)
	}
	return versions, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
