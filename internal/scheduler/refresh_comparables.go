package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
)

// RefreshComparablesJob rebuilds comparables from recent sales
type RefreshComparablesJob struct {
	log     zerolog.Logger
	index   ComparablesRefresher
	events  EventManagerInterface
	timeout time.Duration
}

// NewRefreshComparablesJob creates a new RefreshComparablesJob
func NewRefreshComparablesJob(index ComparablesRefresher, eventManager EventManagerInterface, log zerolog.Logger) *RefreshComparablesJob {
	return &RefreshComparablesJob{
		log:     log.With().Str("job", "refresh_comparables").Logger(),
		index:   index,
		events:  eventManager,
		timeout: 5 * time.Minute,
	}
}

// Name returns the job name
func (j *RefreshComparablesJob) Name() string {
	return "refresh_comparables"
}

// Run executes the refresh
func (j *RefreshComparablesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	snap, err := j.index.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh comparables: %w", err)
	}

	sales := 0
	for _, agg := range snap.All() {
		sales += agg.Count
	}

	if j.events != nil {
		j.events.EmitTyped(events.ComparablesRefreshed, "comparables", &events.ComparablesRefreshedData{
			Buckets:  snap.Len(),
			Sales:    sales,
			Duration: time.Since(start).Seconds(),
		})
	}
	return nil
}
