package comparables

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles comparable sales and persisted aggregates
// Database: market.db (comparable_sales, comparables tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new comparables repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "comparables").Logger(),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertSale records a historical sale
func (r *Repository) InsertSale(ctx context.Context, sale *Sale) error {
	return r.insertSale(ctx, r.db, sale)
}

// InsertSaleTx records a sale inside an existing transaction
func (r *Repository) InsertSaleTx(ctx context.Context, tx *sql.Tx, sale *Sale) error {
	return r.insertSale(ctx, tx, sale)
}

func (r *Repository) insertSale(ctx context.Context, ex execer, sale *Sale) error {
	if sale.NormalizedTitle == "" {
		sale.NormalizedTitle = NormalizeTitle(sale.Title)
	}
	if sale.Currency == "" {
		sale.Currency = "USD"
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	var listingID sql.NullInt64
	if sale.ListingID != 0 {
		listingID = sql.NullInt64{Int64: sale.ListingID, Valid: true}
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO comparable_sales (listing_id, source, category, title, normalized_title, price, currency, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, listingID, sale.Source, sale.Category, sale.Title, sale.NormalizedTitle,
		sale.Price.String(), sale.Currency, utils.ToMillis(sale.SoldAt))
	if err != nil {
		return fmt.Errorf("failed to insert comparable sale: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		sale.ID = id
	}
	return nil
}

// SalesSince returns sales at or after since, oldest first
func (r *Repository) SalesSince(ctx context.Context, since time.Time) ([]Sale, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, listing_id, source, category, title, normalized_title, price, currency, sold_at
		FROM comparable_sales
		WHERE sold_at >= ?
		ORDER BY sold_at, id
	`, utils.ToMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query comparable sales: %w", err)
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		var (
			s         Sale
			listingID sql.NullInt64
			price     string
			soldAt    int64
		)
		if err := rows.Scan(&s.ID, &listingID, &s.Source, &s.Category, &s.Title,
			&s.NormalizedTitle, &price, &s.Currency, &soldAt); err != nil {
			return nil, fmt.Errorf("failed to scan comparable sale: %w", err)
		}
		s.ListingID = listingID.Int64
		s.SoldAt = utils.FromMillis(soldAt)
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price %q on sale %d: %w", price, s.ID, err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comparable sales: %w", err)
	}
	return sales, nil
}

// ReplaceAggregates swaps the persisted aggregates for aggs in one transaction
func (r *Repository) ReplaceAggregates(ctx context.Context, aggs []Aggregate) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM comparables"); err != nil {
			return fmt.Errorf("failed to clear comparables: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO comparables (category, normalized_title, avg_price, median_price, stddev, count, window_start, last_computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare comparables insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range aggs {
			if _, err := stmt.ExecContext(ctx, a.Key.Category, a.Key.NormalizedTitle,
				a.AvgPrice.String(), a.MedianPrice.String(), a.StdDev, a.Count,
				utils.ToMillis(a.WindowStart), utils.ToMillis(a.LastComputedAt)); err != nil {
				return fmt.Errorf("failed to insert comparables for %s: %w", a.Key, err)
			}
		}
		return nil
	})
}

// LoadAggregates returns the persisted aggregates
func (r *Repository) LoadAggregates(ctx context.Context) ([]Aggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, normalized_title, avg_price, median_price, stddev, count, window_start, last_computed_at
		FROM comparables
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query comparables: %w", err)
	}
	defer rows.Close()

	var aggs []Aggregate
	for rows.Next() {
		var (
			a                    Aggregate
			avg, median          string
			windowStart, lastRun int64
		)
		if err := rows.Scan(&a.Key.Category, &a.Key.NormalizedTitle, &avg, &median,
			&a.StdDev, &a.Count, &windowStart, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan comparables: %w", err)
		}
		if a.AvgPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("invalid avg price for %s: %w", a.Key, err)
		}
		if a.MedianPrice, err = decimal.NewFromString(median); err != nil {
			return nil, fmt.Errorf("invalid median price for %s: %w", a.Key, err)
		}
		a.WindowStart = utils.FromMillis(windowStart)
		a.LastComputedAt = utils.FromMillis(lastRun)
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comparables: %w", err)
	}
	return aggs, nil
}
