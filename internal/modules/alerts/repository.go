package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles alert database operations
// Database: operations.db (alerts, alert_matches tables)
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new alert repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

const alertColumns = `id, search_query, min_price, max_price, notification_method,
	notification_target, status, created_at, last_triggered_at, trigger_count`

// Create validates and stores a new active alert
func (r *Repository) Create(ctx context.Context, req CreateRequest) (*Alert, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a := &Alert{
		SearchQuery:        req.SearchQuery,
		MinPrice:           req.MinPrice,
		MaxPrice:           req.MaxPrice,
		NotificationMethod: req.NotificationMethod,
		NotificationTarget: req.NotificationTarget,
		Status:             StatusActive,
		CreatedAt:          r.now().UTC(),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (search_query, min_price, max_price, notification_method, notification_target, status, created_at, trigger_count)
		VALUES (?, ?, ?, ?, ?, 'active', ?, 0)
	`, a.SearchQuery, nullDecimal(a.MinPrice), nullDecimal(a.MaxPrice),
		a.NotificationMethod, a.NotificationTarget, utils.ToMillis(a.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read alert id: %w", err)
	}

	r.log.Info().Int64("alert_id", a.ID).Str("query", a.SearchQuery).Msg("Alert created")
	return a, nil
}

// Get returns an alert or domain.ErrNotFound
func (r *Repository) Get(ctx context.Context, id int64) (*Alert, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return a, nil
}

// List returns alerts, newest first, optionally filtered by status, plus
// the total number of matching alerts.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Alert, int, error) {
	where := ""
	var args []any
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, string(status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM alerts"+where+" ORDER BY created_at DESC, id DESC LIMIT ?",
		append(args, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, total, nil
}

// ListActive returns every active alert
func (r *Repository) ListActive(ctx context.Context) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE status = 'active' ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// Pause moves an active alert to paused
func (r *Repository) Pause(ctx context.Context, id int64) error {
	return r.transition(ctx, id, StatusActive, StatusPaused)
}

// Resume moves a paused alert back to active
func (r *Repository) Resume(ctx context.Context, id int64) error {
	return r.transition(ctx, id, StatusPaused, StatusActive)
}

// Delete soft-deletes an alert. Matches are kept.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE alerts SET status = 'deleted' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	r.log.Info().Int64("alert_id", id).Msg("Alert deleted")
	return nil
}

func (r *Repository) transition(ctx context.Context, id int64, from, to Status) error {
	res, err := r.db.ExecContext(ctx, "UPDATE alerts SET status = ? WHERE id = ? AND status = ?",
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.NewValidationError("status", fmt.Sprintf("alert is not %s", from))
}

// RecordMatch stores m and bumps the alert's trigger counter in one transaction
func (r *Repository) RecordMatch(ctx context.Context, m *Match) error {
	if m.MatchedAt.IsZero() {
		m.MatchedAt = r.now().UTC()
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var listingID sql.NullInt64
		if m.ListingID != 0 {
			listingID = sql.NullInt64{Int64: m.ListingID, Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO alert_matches (alert_id, listing_id, listing_url, listing_title, listing_price, fair_price, matched_at, notification_sent)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`, m.AlertID, listingID, m.ListingURL, m.ListingTitle, m.ListingPrice.String(),
			nullDecimal(m.FairPrice), utils.ToMillis(m.MatchedAt))
		if err != nil {
			return fmt.Errorf("failed to insert alert match: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read match id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE alerts SET last_triggered_at = ?, trigger_count = trigger_count + 1 WHERE id = ?
		`, utils.ToMillis(m.MatchedAt), m.AlertID); err != nil {
			return fmt.Errorf("failed to update alert trigger count: %w", err)
		}
		return nil
	})
}

// MarkNotified flags a match whose notification was delivered
func (r *Repository) MarkNotified(ctx context.Context, matchID int64) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE alert_matches SET notification_sent = 1 WHERE id = ?", matchID); err != nil {
		return fmt.Errorf("failed to mark match %d notified: %w", matchID, err)
	}
	return nil
}

// Matches returns the newest matches for an alert plus the total count
func (r *Repository) Matches(ctx context.Context, alertID int64, limit int) ([]Match, int, error) {
	if _, err := r.Get(ctx, alertID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_matches WHERE alert_id = ?", alertID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count matches: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, listing_id, listing_url, listing_title, listing_price, fair_price, matched_at, notification_sent
		FROM alert_matches WHERE alert_id = ? ORDER BY matched_at DESC, id DESC LIMIT ?
	`, alertID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			m          Match
			listingID  sql.NullInt64
			url, title sql.NullString
			price      string
			fair       sql.NullString
			matchedAt  int64
			sent       int
		)
		if err := rows.Scan(&m.ID, &m.AlertID, &listingID, &url, &title, &price, &fair, &matchedAt, &sent); err != nil {
			return nil, 0, fmt.Errorf("failed to scan match: %w", err)
		}
		m.ListingID = listingID.Int64
		m.ListingURL = url.String
		m.ListingTitle = title.String
		m.MatchedAt = utils.FromMillis(matchedAt)
		m.NotificationSent = sent != 0
		if m.ListingPrice, err = decimal.NewFromString(price); err != nil {
			return nil, 0, fmt.Errorf("invalid price on match %d: %w", m.ID, err)
		}
		if m.FairPrice, err = parseNullDecimal(fair); err != nil {
			return nil, 0, fmt.Errorf("invalid fair price on match %d: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a             Alert
		minP, maxP    sql.NullString
		status        string
		createdAt     int64
		lastTriggered sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.SearchQuery, &minP, &maxP, &a.NotificationMethod,
		&a.NotificationTarget, &status, &createdAt, &lastTriggered, &a.TriggerCount); err != nil {
		return nil, err
	}

	var err error
	if a.MinPrice, err = parseNullDecimal(minP); err != nil {
		return nil, err
	}
	if a.MaxPrice, err = parseNullDecimal(maxP); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.CreatedAt = utils.FromMillis(createdAt)
	a.LastTriggeredAt = utils.TimePtr(lastTriggered)
	return &a, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
