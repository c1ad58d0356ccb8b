package valuation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
)

// DefaultModelName is the model used when a listing names none
const DefaultModelName = "default"

// ModelRepository stores depreciation models.
// Database: market.db (depreciation_models table)
type ModelRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *sql.DB, log zerolog.Logger) *ModelRepository {
	return &ModelRepository{
		db:  db,
		log: log.With().Str("repo", "depreciation_models").Logger(),
	}
}

// Create validates and inserts m as a new model. Reusing a name never
// overwrites: the newest row for a name wins lookups by name.
func (r *ModelRepository) Create(ctx context.Context, m *DepreciationModel) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var breakpoints sql.NullString
	if len(m.Breakpoints) > 0 {
		raw, err := json.Marshal(m.Breakpoints)
		if err != nil {
			return fmt.Errorf("failed to encode breakpoints: %w", err)
		}
		breakpoints = sql.NullString{String: string(raw), Valid: true}
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO depreciation_models (name, kind, rate, half_life_years, breakpoints, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Name, string(m.Kind), m.Rate, m.HalfLifeYears, breakpoints, utils.ToMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert depreciation model: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read model id: %w", err)
	}
	m.ID = id

	r.log.Info().Int64("model_id", id).Str("name", m.Name).Str("kind", string(m.Kind)).Msg("Depreciation model created")
	return nil
}

const modelColumns = "id, name, kind, rate, half_life_years, breakpoints, created_at"

// GetByID returns a model by id or domain.ErrNotFound
func (r *ModelRepository) GetByID(ctx context.Context, id int64) (*DepreciationModel, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM depreciation_models WHERE id = ?", id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model %d: %w", id, err)
	}
	return m, nil
}

// GetLatestByName returns the newest model with name or domain.ErrNotFound
func (r *ModelRepository) GetLatestByName(ctx context.Context, name string) (*DepreciationModel, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+modelColumns+" FROM depreciation_models WHERE name = ? ORDER BY id DESC LIMIT 1", name)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model %q: %w", name, err)
	}
	return m, nil
}

// List returns every model version, oldest first
func (r *ModelRepository) List(ctx context.Context) ([]DepreciationModel, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+modelColumns+" FROM depreciation_models ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []DepreciationModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}
	return models, nil
}

// EnsureDefault creates the default model if no model carries its name
func (r *ModelRepository) EnsureDefault(ctx context.Context, halfLifeYears float64) (*DepreciationModel, error) {
	m, err := r.GetLatestByName(ctx, DefaultModelName)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	m = &DepreciationModel{Name: DefaultModelName, Kind: ModelExponential, HalfLifeYears: halfLifeYears}
	if err := r.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*DepreciationModel, error) {
	var (
		m           DepreciationModel
		kind        string
		rate        sql.NullFloat64
		halfLife    sql.NullFloat64
		breakpoints sql.NullString
		createdAt   int64
	)
	if err := row.Scan(&m.ID, &m.Name, &kind, &rate, &halfLife, &breakpoints, &createdAt); err != nil {
		return nil, err
	}

	m.Kind = ModelKind(kind)
	m.Rate = rate.Float64
	m.HalfLifeYears = halfLife.Float64
	m.CreatedAt = utils.FromMillis(createdAt)
	if breakpoints.Valid && breakpoints.String != "" {
		if err := json.Unmarshal([]byte(breakpoints.String), &m.Breakpoints); err != nil {
			return nil, fmt.Errorf("failed to decode breakpoints for model %d: %w", m.ID, err)
		}
	}
	return &m, nil
}
