package comparables

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/arbiter/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Store is the persistence the index refreshes from
type Store interface {
	SalesSince(ctx context.Context, since time.Time) ([]Sale, error)
	ReplaceAggregates(ctx context.Context, aggs []Aggregate) error
	LoadAggregates(ctx context.Context) ([]Aggregate, error)
}

// Index serves lookups from the current snapshot. Refresh builds a complete
// new snapshot and swaps the pointer, so readers never need a lock and never
// observe a partially built snapshot.
type Index struct {
	current      atomic.Pointer[Snapshot]
	refreshMu    sync.Mutex
	store        Store
	window       time.Duration
	snapshotPath string
	now          func() time.Time
	log          zerolog.Logger
}

// IndexConfig configures an Index
type IndexConfig struct {
	// SalesWindow bounds how far back sales are aggregated
	SalesWindow time.Duration
	// SnapshotPath, when set, receives a msgpack copy of every snapshot
	SnapshotPath string
}

// NewIndex creates an index with an empty snapshot
func NewIndex(store Store, cfg IndexConfig, log zerolog.Logger) *Index {
	idx := &Index{
		store:        store,
		window:       cfg.SalesWindow,
		snapshotPath: cfg.SnapshotPath,
		now:          time.Now,
		log:          log.With().Str("component", "comparables_index").Logger(),
	}
	idx.current.Store(NewSnapshot(nil, time.Time{}, time.Time{}))
	return idx
}

// Snapshot returns the current snapshot
func (idx *Index) Snapshot() *Snapshot {
	return idx.current.Load()
}

// Lookup returns the aggregate for an already normalized key
func (idx *Index) Lookup(key Key) (*Aggregate, bool) {
	return idx.current.Load().Lookup(key)
}

// LookupTitle normalizes title and looks it up within category
func (idx *Index) LookupTitle(category, title string) (*Aggregate, bool) {
	return idx.Lookup(NewKey(category, title))
}

// Refresh rebuilds aggregates from sales inside the window, persists them
// and publishes the new snapshot. Concurrent calls are serialized.
func (idx *Index) Refresh(ctx context.Context) (*Snapshot, error) {
	idx.refreshMu.Lock()
	defer idx.refreshMu.Unlock()
	defer utils.OperationTimer("comparables_refresh", idx.log)()

	now := idx.now().UTC()
	var windowStart time.Time
	if idx.window > 0 {
		windowStart = now.Add(-idx.window)
	}

	sales, err := idx.store.SalesSince(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}

	aggs := BuildAggregates(sales, now, windowStart)
	if err := idx.store.ReplaceAggregates(ctx, aggs); err != nil {
		return nil, fmt.Errorf("failed to persist comparables: %w", err)
	}

	snap := NewSnapshot(aggs, now, windowStart)
	idx.current.Store(snap)

	idx.log.Info().
		Int("sales", len(sales)).
		Int("buckets", len(aggs)).
		Msg("Comparables refreshed")

	if idx.snapshotPath != "" {
		if err := SaveSnapshot(idx.snapshotPath, snap); err != nil {
			idx.log.Warn().Err(err).Str("path", idx.snapshotPath).Msg("Failed to write comparables snapshot file")
		}
	}

	return snap, nil
}

// Warm publishes an initial snapshot without recomputing: from the snapshot
// file when present, otherwise from the persisted aggregates.
func (idx *Index) Warm(ctx context.Context) error {
	if idx.snapshotPath != "" {
		snap, err := LoadSnapshot(idx.snapshotPath)
		switch {
		case err == nil:
			idx.current.Store(snap)
			idx.log.Info().Int("buckets", snap.Len()).Msg("Comparables loaded from snapshot file")
			return nil
		case !errors.Is(err, os.ErrNotExist):
			idx.log.Warn().Err(err).Msg("Ignoring unreadable comparables snapshot file")
		}
	}

	aggs, err := idx.store.LoadAggregates(ctx)
	if err != nil {
		return err
	}

	var computedAt, windowStart time.Time
	for _, a := range aggs {
		if a.LastComputedAt.After(computedAt) {
			computedAt = a.LastComputedAt
			windowStart = a.WindowStart
		}
	}
	idx.current.Store(NewSnapshot(aggs, computedAt, windowStart))
	idx.log.Info().Int("buckets", len(aggs)).Msg("Comparables loaded from database")
	return nil
}

// snapshotFile is the on-disk form of a Snapshot. Prices are decimal strings
// and times are unix milliseconds.
type snapshotFile struct {
	Version     int             `msgpack:"v"`
	ComputedAt  int64           `msgpack:"computed_at"`
	WindowStart int64           `msgpack:"window_start"`
	Aggregates  []aggregateFile `msgpack:"aggregates"`
}

type aggregateFile struct {
	Category        string  `msgpack:"c"`
	NormalizedTitle string  `msgpack:"t"`
	AvgPrice        string  `msgpack:"avg"`
	MedianPrice     string  `msgpack:"median"`
	StdDev          float64 `msgpack:"sd"`
	Count           int     `msgpack:"n"`
	WindowStart     int64   `msgpack:"ws"`
	LastComputedAt  int64   `msgpack:"at"`
}

const snapshotFileVersion = 1

// SaveSnapshot writes snap to path atomically (temp file + rename)
func SaveSnapshot(path string, snap *Snapshot) error {
	file := snapshotFile{
		Version:     snapshotFileVersion,
		ComputedAt:  utils.ToMillis(snap.ComputedAt()),
		WindowStart: utils.ToMillis(snap.WindowStart()),
	}
	for _, a := range snap.All() {
		file.Aggregates = append(file.Aggregates, aggregateFile{
			Category:        a.Key.Category,
			NormalizedTitle: a.Key.NormalizedTitle,
			AvgPrice:        a.AvgPrice.String(),
			MedianPrice:     a.MedianPrice.String(),
			StdDev:          a.StdDev,
			Count:           a.Count,
			WindowStart:     utils.ToMillis(a.WindowStart),
			LastComputedAt:  utils.ToMillis(a.LastComputedAt),
		})
	}

	data, err := msgpack.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file snapshotFile
	if err := msgpack.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if file.Version != snapshotFileVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", file.Version)
	}

	aggs := make([]Aggregate, 0, len(file.Aggregates))
	for _, f := range file.Aggregates {
		avg, err := decimal.NewFromString(f.AvgPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid avg price in snapshot: %w", err)
		}
		median, err := decimal.NewFromString(f.MedianPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid median price in snapshot: %w", err)
		}
		aggs = append(aggs, Aggregate{
			Key:            Key{Category: f.Category, NormalizedTitle: f.NormalizedTitle},
			AvgPrice:       avg,
			MedianPrice:    median,
			StdDev:         f.StdDev,
			Count:          f.Count,
			WindowStart:    utils.FromMillis(f.WindowStart),
			LastComputedAt: utils.FromMillis(f.LastComputedAt),
		})
	}

	return NewSnapshot(aggs, utils.FromMillis(file.ComputedAt), utils.FromMillis(file.WindowStart)), nil
}
