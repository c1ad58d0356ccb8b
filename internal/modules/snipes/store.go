package snipes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store persists snipes. Every status change is a conditional update on
// the current status, so the row is the single source of truth and racing
// writers resolve to exactly one winner.
// Database: operations.db (snipes table)
type Store struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewStore creates a new snipe store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "snipes").Logger(),
	}
}

const snipeColumns = `id, listing_id, listing_url, listing_title, max_bid, auction_end_time, lead_time_seconds,
	fire_at, status, attempts, created_at, updated_at, executed_at, result, metadata`

// Create inserts a scheduled snipe and fills in its id and timestamps
func (s *Store) Create(ctx context.Context, sn *Snipe) error {
	now := s.now().UTC()
	sn.Status = StatusScheduled
	sn.FireAt = FireTime(sn.AuctionEndTime, sn.LeadTimeSeconds)
	sn.CreatedAt = now
	sn.UpdatedAt = now

	var listingID sql.NullInt64
	if sn.ListingID != 0 {
		listingID = sql.NullInt64{Int64: sn.ListingID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snipes (listing_id, listing_url, listing_title, max_bid, auction_end_time, lead_time_seconds,
			fire_at, status, attempts, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'scheduled', 0, ?, ?, ?)
	`, listingID, sn.ListingURL, utils.NullString(sn.ListingTitle), sn.MaxBid.String(),
		utils.ToMillis(sn.AuctionEndTime), sn.LeadTimeSeconds, utils.ToMillis(sn.FireAt),
		utils.ToMillis(now), utils.ToMillis(now), utils.NullString(sn.Metadata))
	if err != nil {
		return fmt.Errorf("failed to insert snipe: %w", err)
	}
	if sn.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read snipe id: %w", err)
	}
	return nil
}

// Get returns a snipe or domain.ErrNotFound
func (s *Store) Get(ctx context.Context, id int64) (*Snipe, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+snipeColumns+" FROM snipes WHERE id = ?", id)
	sn, err := scanSnipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snipe %d: %w", id, err)
	}
	return sn, nil
}

// List returns snipes ordered by fire time, optionally filtered by status,
// plus the total count
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Snipe, int, error) {
	where := ""
	var args []any
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, string(status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snipes"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count snipes: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}

	snipes, err := s.query(ctx, "SELECT "+snipeColumns+" FROM snipes"+where+" ORDER BY fire_at, id LIMIT ?",
		append(args, limit)...)
	if err != nil {
		return nil, 0, err
	}
	return snipes, total, nil
}

// ListByStatus returns every snipe in one of statuses, ordered by fire time
func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]Snipe, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.query(ctx, "SELECT "+snipeColumns+" FROM snipes WHERE status IN ("+placeholders+") ORDER BY fire_at, id", args...)
}

// ListPending returns scheduled and armed snipes
func (s *Store) ListPending(ctx context.Context) ([]Snipe, error) {
	return s.ListByStatus(ctx, StatusScheduled, StatusArmed)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Snipe, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snipes: %w", err)
	}
	defer rows.Close()

	snipes := make([]Snipe, 0)
	for rows.Next() {
		sn, err := scanSnipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snipe: %w", err)
		}
		snipes = append(snipes, *sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snipes: %w", err)
	}
	return snipes, nil
}

// transition moves a snipe to `to` only if its stored status is one of
// from. It reports whether this call won.
func (s *Store) transition(ctx context.Context, id int64, to Status, from []Status, extra string, args ...any) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := "UPDATE snipes SET status = ?, updated_at = ?" + extra + " WHERE id = ? AND status IN (" + placeholders + ")"

	params := []any{string(to), utils.ToMillis(s.now().UTC())}
	params = append(params, args...)
	params = append(params, id)
	for _, st := range from {
		params = append(params, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return false, fmt.Errorf("failed to move snipe %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Arm moves a scheduled snipe to armed. Armed snipes can no longer be cancelled.
func (s *Store) Arm(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, StatusArmed, []Status{StatusScheduled}, "")
}

// BeginExecution is the exactly-once gate: it moves a scheduled or armed
// snipe to executing. Only the caller that gets true may submit the bid.
func (s *Store) BeginExecution(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, StatusExecuting, []Status{StatusScheduled, StatusArmed}, "")
}

// Cancel moves a scheduled snipe to cancelled
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, StatusCancelled, []Status{StatusScheduled}, "")
}

// MarkMissed moves a scheduled or armed snipe to missed
func (s *Store) MarkMissed(ctx context.Context, id int64, outcome *Outcome) (bool, error) {
	return s.transition(ctx, id, StatusMissed, []Status{StatusScheduled, StatusArmed}, ", result = ?", outcome.encode())
}

// RecordAttempt stores the attempt count of an executing snipe
func (s *Store) RecordAttempt(ctx context.Context, id int64, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE snipes SET attempts = ?, updated_at = ? WHERE id = ? AND status = 'executing'",
		attempts, utils.ToMillis(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to record attempt for snipe %d: %w", id, err)
	}
	return nil
}

// Finish moves an executing snipe to a terminal status with its outcome
func (s *Store) Finish(ctx context.Context, id int64, status Status, outcome *Outcome, executedAt time.Time) (bool, error) {
	return s.transition(ctx, id, status, []Status{StatusExecuting}, ", result = ?, executed_at = ?",
		outcome.encode(), utils.ToMillis(executedAt))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnipe(row rowScanner) (*Snipe, error) {
	var (
		sn                               Snipe
		listingID, executedAt            sql.NullInt64
		title, result, metadata          sql.NullString
		maxBid, status                   string
		auctionEnd, fireAt, created, upd int64
	)
	if err := row.Scan(&sn.ID, &listingID, &sn.ListingURL, &title, &maxBid, &auctionEnd, &sn.LeadTimeSeconds,
		&fireAt, &status, &sn.Attempts, &created, &upd, &executedAt, &result, &metadata); err != nil {
		return nil, err
	}

	var err error
	if sn.MaxBid, err = decimal.NewFromString(maxBid); err != nil {
		return nil, fmt.Errorf("invalid max bid on snipe %d: %w", sn.ID, err)
	}
	sn.ListingID = listingID.Int64
	sn.ListingTitle = title.String
	sn.AuctionEndTime = utils.FromMillis(auctionEnd)
	sn.FireAt = utils.FromMillis(fireAt)
	sn.Status = Status(status)
	sn.CreatedAt = utils.FromMillis(created)
	sn.UpdatedAt = utils.FromMillis(upd)
	sn.ExecutedAt = utils.TimePtr(executedAt)
	sn.Result = decodeOutcome(result.String)
	sn.Metadata = metadata.String
	return &sn, nil
}
