package reliability

import (
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// Below this the job fails so the scheduler surfaces it
	criticalFreeBytes uint64 = 500 * 1024 * 1024
	lowFreeBytes      uint64 = 5 * 1024 * 1024 * 1024
)

// DiskUsageFunc reports filesystem usage for path
type DiskUsageFunc func(path string) (*disk.UsageStat, error)

// MaintenanceJob compacts every database with VACUUM and checks free disk space
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	usage     DiskUsageFunc
	log       zerolog.Logger
}

// NewMaintenanceJob creates the periodic maintenance job
func NewMaintenanceJob(databases []*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		usage:     disk.Usage,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	for _, db := range j.databases {
		if err := j.vacuumDatabase(db); err != nil {
			// Continue with the remaining databases
			j.log.Error().Err(err).Str("database", db.Name()).Msg("VACUUM failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("duration_ms", time.Since(startTime)).Msg("Maintenance completed")
	return nil
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

func (j *MaintenanceJob) vacuumDatabase(db *database.DB) error {
	before, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	j.log.Info().
		Str("database", db.Name()).
		Int64("size_before_bytes", before.SizeBytes).
		Int64("size_after_bytes", after.SizeBytes).
		Int64("reclaimed_bytes", before.SizeBytes-after.SizeBytes).
		Msg("VACUUM completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	stat, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeGB := float64(stat.Free) / 1e9
	j.log.Debug().Float64("free_gb", freeGB).Float64("used_percent", stat.UsedPercent).Msg("Disk space check")

	switch {
	case stat.Free < criticalFreeBytes:
		j.log.Error().Float64("free_gb", freeGB).Msg("CRITICAL: insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", freeGB, j.dataDir)
	case stat.Free < lowFreeBytes:
		j.log.Warn().Float64("free_gb", freeGB).Msg("Disk space running low")
	}
	return nil
}
