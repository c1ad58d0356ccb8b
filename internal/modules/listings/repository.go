package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles listing persistence
// Database: market.db (listings table)
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new listing repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "listings").Logger(),
	}
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const listingColumns = `id, source, url, title, category, base_price, current_price, currency,
	condition, completeness_pct, manufactured_at, listed_at, status, status_changed_at,
	metadata, created_at, updated_at`

// UpsertTx inserts l or updates the listing with the same URL. It fills in
// l's stored fields and returns whether a row was created along with the
// metadata held before the update. The valuated price and a terminal status
// are never overwritten here.
func (r *Repository) UpsertTx(ctx context.Context, tx *sql.Tx, l *domain.Listing) (bool, string, error) {
	now := r.now().UTC()

	existing, err := r.get(ctx, tx, "url = ?", l.URL)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, "", err
	}

	if existing == nil {
		status := l.Status
		if status == "" {
			status = domain.ListingStatusActive
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO listings (source, url, title, normalized_title, category, base_price, current_price,
				currency, condition, completeness_pct, manufactured_at, listed_at, status, status_changed_at,
				metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.Source, l.URL, l.Title, comparables.NormalizeTitle(l.Title), l.Category,
			l.BasePrice.String(), l.BasePrice.String(), string(l.Currency), l.Condition, l.CompletenessPct,
			utils.NullMillis(l.ManufacturedAt), utils.ToMillis(l.ListedAt), string(status),
			utils.ToMillis(now), utils.NullString(l.Metadata), utils.ToMillis(now), utils.ToMillis(now))
		if err != nil {
			return false, "", fmt.Errorf("failed to insert listing: %w", err)
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return false, "", fmt.Errorf("failed to read listing id: %w", err)
		}
		l.CurrentPrice = l.BasePrice
		l.Status = status
		l.StatusChangedAt = now
		l.CreatedAt = now
		l.UpdatedAt = now
		return true, "", nil
	}

	status := existing.Status
	statusChangedAt := existing.StatusChangedAt
	if l.Status != "" && l.Status != status && !status.IsTerminal() {
		status = l.Status
		statusChangedAt = now
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE listings SET source = ?, title = ?, normalized_title = ?, category = ?, base_price = ?,
			currency = ?, condition = ?, completeness_pct = ?, manufactured_at = ?, listed_at = ?,
			status = ?, status_changed_at = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, l.Source, l.Title, comparables.NormalizeTitle(l.Title), l.Category, l.BasePrice.String(),
		string(l.Currency), l.Condition, l.CompletenessPct, utils.NullMillis(l.ManufacturedAt),
		utils.ToMillis(l.ListedAt), string(status), utils.ToMillis(statusChangedAt),
		utils.NullString(l.Metadata), utils.ToMillis(now), existing.ID); err != nil {
		return false, "", fmt.Errorf("failed to update listing %d: %w", existing.ID, err)
	}

	l.ID = existing.ID
	l.CurrentPrice = existing.CurrentPrice
	l.Status = status
	l.StatusChangedAt = statusChangedAt
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = now
	return false, existing.Metadata, nil
}

// GetByID returns a listing or domain.ErrNotFound
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	return r.get(ctx, r.db, "id = ?", id)
}

// GetByIDTx reads a listing inside tx
func (r *Repository) GetByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*domain.Listing, error) {
	return r.get(ctx, tx, "id = ?", id)
}

// GetByURL returns the listing stored for url or domain.ErrNotFound
func (r *Repository) GetByURL(ctx context.Context, url string) (*domain.Listing, error) {
	return r.get(ctx, r.db, "url = ?", url)
}

func (r *Repository) get(ctx context.Context, q queryer, where string, arg any) (*domain.Listing, error) {
	row := q.QueryRowContext(ctx, "SELECT "+listingColumns+" FROM listings WHERE "+where, arg)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// List returns listings matching f, newest first, plus the total match count
func (r *Repository) List(ctx context.Context, f Filter) ([]domain.Listing, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if q := comparables.NormalizeTitle(f.Query); q != "" {
		conds = append(conds, "normalized_title LIKE ?")
		args = append(args, "%"+q+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+listingColumns+" FROM listings"+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]domain.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating listings: %w", err)
	}
	return listings, total, nil
}

// UpdatePriceTx sets the valuated price. It must run in the same transaction
// as the ledger record for the change.
func (r *Repository) UpdatePriceTx(ctx context.Context, tx *sql.Tx, id int64, price decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, "UPDATE listings SET current_price = ?, updated_at = ? WHERE id = ?",
		price.String(), utils.ToMillis(r.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update price for listing %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSoldTx moves an active listing to sold
func (r *Repository) MarkSoldTx(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE listings SET status = 'sold', status_changed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, utils.ToMillis(at), utils.ToMillis(r.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark listing %d sold: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.get(ctx, tx, "id = ?", id); err != nil {
		return err
	}
	return domain.NewValidationError("status", "listing is not active")
}

// ArchiveTerminalBefore archives sold and expired listings whose status
// changed before cutoff. It returns the number of listings archived.
func (r *Repository) ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET status = 'archived', status_changed_at = ?, updated_at = ?
		WHERE status IN ('sold', 'expired') AND status_changed_at < ?
	`, utils.ToMillis(now), utils.ToMillis(now), utils.ToMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to archive listings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read archived count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var (
		l                                     domain.Listing
		basePrice, currentPrice               string
		currency, status                      string
		manufacturedAt                        sql.NullInt64
		listedAt, statusChanged, created, upd int64
		metadata                              sql.NullString
	)
	if err := row.Scan(&l.ID, &l.Source, &l.URL, &l.Title, &l.Category, &basePrice, &currentPrice,
		&currency, &l.Condition, &l.CompletenessPct, &manufacturedAt, &listedAt, &status,
		&statusChanged, &metadata, &created, &upd); err != nil {
		return nil, err
	}

	var err error
	if l.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("invalid base price on listing %d: %w", l.ID, err)
	}
	if l.CurrentPrice, err = decimal.NewFromString(currentPrice); err != nil {
		return nil, fmt.Errorf("invalid current price on listing %d: %w", l.ID, err)
	}
	l.Currency = domain.Currency(currency)
	l.Status = domain.ListingStatus(status)
	l.ManufacturedAt = utils.TimePtr(manufacturedAt)
	l.ListedAt = utils.FromMillis(listedAt)
	l.StatusChangedAt = utils.FromMillis(statusChanged)
	l.Metadata = metadata.String
	l.CreatedAt = utils.FromMillis(created)
	l.UpdatedAt = utils.FromMillis(upd)
	return &l, nil
}
