// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/arbiter/internal/config"
	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/reliability"
	"github.com/aristath/arbiter/internal/scheduler"
	"github.com/rs/zerolog"
)

type cronEntry struct {
	schedule string
	job      scheduler.Job
}

// RegisterJobs creates the cron scheduler and registers every periodic job.
// The scheduler is stored in the container but not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.ListingService == nil {
		return fmt.Errorf("services must be initialized first")
	}

	sched := scheduler.New(log)
	dbs := container.Databases()

	jobs := []cronEntry{
		{cfg.Valuation.RefreshSchedule, scheduler.NewRefreshComparablesJob(container.ComparablesIndex, container.EventManager, log)},
		{cfg.Retention.Schedule, scheduler.NewArchiveListingsJob(container.ListingService, cfg.Retention.ArchiveAfter, log)},
		{cfg.Maintenance.LedgerVerifySchedule, scheduler.NewVerifyLedgerJob(container.Ledger, container.EventManager, log)},
		{cfg.Maintenance.WALCheckSchedule, scheduler.NewCheckWALCheckpointsJob(dbs, log)},
		{cfg.Maintenance.WALCheckSchedule, scheduler.NewCheckDatabasesJob(dbs, log)},
		{cfg.Maintenance.VacuumSchedule, reliability.NewMaintenanceJob(
			[]*database.DB{container.MarketDB, container.OperationsDB}, cfg.DataDir, log)},
	}
	if container.BackupService != nil {
		jobs = append(jobs, cronEntry{cfg.Backup.Schedule, scheduler.NewBackupJob(container.BackupService, log)})
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register %s: %w", j.job.Name(), err)
		}
	}

	container.JobScheduler = sched
	log.Info().Strs("jobs", sched.JobNames()).Msg("Jobs registered")
	return nil
}
