package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ArchiveListingsJob moves long-sold and long-expired listings to archived
type ArchiveListingsJob struct {
	log       zerolog.Logger
	archiver  ListingArchiver
	olderThan time.Duration
}

// NewArchiveListingsJob creates a new ArchiveListingsJob
func NewArchiveListingsJob(archiver ListingArchiver, olderThan time.Duration, log zerolog.Logger) *ArchiveListingsJob {
	return &ArchiveListingsJob{
		log:       log.With().Str("job", "archive_listings").Logger(),
		archiver:  archiver,
		olderThan: olderThan,
	}
}

// Name returns the job name
func (j *ArchiveListingsJob) Name() string {
	return "archive_listings"
}

// Run executes the archival
func (j *ArchiveListingsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.archiver.ArchiveExpired(ctx, j.olderThan)
	if err != nil {
		return fmt.Errorf("failed to archive listings: %w", err)
	}

	j.log.Debug().Int64("archived", n).Dur("older_than", j.olderThan).Msg("Archive pass completed")
	return nil
}
