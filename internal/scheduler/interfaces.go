package scheduler

import (
	"context"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/reliability"
)

// EventManagerInterface defines the contract for event emission
type EventManagerInterface interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// ComparablesRefresher rebuilds the comparables snapshot
type ComparablesRefresher interface {
	Refresh(ctx context.Context) (*comparables.Snapshot, error)
}

// ListingArchiver archives listings that left the market long ago
type ListingArchiver interface {
	ArchiveExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// LedgerVerifier replays stored adjustment trails
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]ledger.Mismatch, int, error)
}

// BackupRunner uploads database snapshots
type BackupRunner interface {
	Run(ctx context.Context) (*reliability.BackupResult, error)
}
