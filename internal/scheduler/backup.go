package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackupJob uploads database snapshots to object storage
type BackupJob struct {
	log    zerolog.Logger
	backup BackupRunner
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(backup BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		log:    log.With().Str("job", "backup").Logger(),
		backup: backup,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := j.backup.Run(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Strs("keys", result.Keys).
		Int64("size_bytes", result.SizeBytes).
		Int("pruned", result.Pruned).
		Msg("Backup uploaded")
	return nil
}
