package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []events.EventData
}

func (r *recordingEvents) EmitTyped(_ events.EventType, _ string, data events.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
}

type fakeRefresher struct {
	snap *comparables.Snapshot
	err  error
}

func (f fakeRefresher) Refresh(context.Context) (*comparables.Snapshot, error) {
	return f.snap, f.err
}

func TestRefreshComparablesJob(t *testing.T) {
	now := time.Now()
	snap := comparables.NewSnapshot([]comparables.Aggregate{
		{Key: comparables.NewKey("", "a"), Count: 3, MedianPrice: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(1)},
		{Key: comparables.NewKey("", "b"), Count: 4, MedianPrice: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(1)},
	}, now, now.Add(-time.Hour))
	rec := &recordingEvents{}

	job := NewRefreshComparablesJob(fakeRefresher{snap: snap}, rec, zerolog.Nop())
	assert.Equal(t, "refresh_comparables", job.Name())
	require.NoError(t, job.Run())

	require.Len(t, rec.events, 1)
	data := rec.events[0].(*events.ComparablesRefreshedData)
	assert.Equal(t, 2, data.Buckets)
	assert.Equal(t, 7, data.Sales)

	failing := NewRefreshComparablesJob(fakeRefresher{err: errors.New("locked")}, rec, zerolog.Nop())
	assert.ErrorContains(t, failing.Run(), "locked")
	assert.Len(t, rec.events, 1)
}

type fakeArchiver struct {
	olderThan time.Duration
}

func (f *fakeArchiver) ArchiveExpired(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 2, nil
}

func TestArchiveListingsJob(t *testing.T) {
	archiver := &fakeArchiver{}
	job := NewArchiveListingsJob(archiver, 30*24*time.Hour, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, 30*24*time.Hour, archiver.olderThan)
}

type fakeVerifier struct {
	mismatches []ledger.Mismatch
}

func (f fakeVerifier) VerifyAll(context.Context) ([]ledger.Mismatch, int, error) {
	return f.mismatches, 10, nil
}

func TestVerifyLedgerJob_EmitsMismatches(t *testing.T) {
	rec := &recordingEvents{}
	job := NewVerifyLedgerJob(fakeVerifier{mismatches: []ledger.Mismatch{
		{ListingID: 4, ChangeID: 9, Stored: decimal.RequireFromString("10.00"), Replayed: decimal.RequireFromString("10.01")},
	}}, rec, zerolog.Nop())

	require.NoError(t, job.Run())
	require.Len(t, rec.events, 1)
	data := rec.events[0].(*events.LedgerMismatchData)
	assert.Equal(t, int64(4), data.ListingID)
	assert.Equal(t, "10.01", data.Replayed)

	clean := &recordingEvents{}
	require.NoError(t, NewVerifyLedgerJob(fakeVerifier{}, clean, zerolog.Nop()).Run())
	assert.Empty(t, clean.events)
}

type fakeBackup struct {
	err error
}

func (f fakeBackup) Run(context.Context) (*reliability.BackupResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &reliability.BackupResult{Keys: []string{"market.db.gz"}, SizeBytes: 10}, nil
}

func TestBackupJob(t *testing.T) {
	assert.NoError(t, NewBackupJob(fakeBackup{}, zerolog.Nop()).Run())
	assert.Error(t, NewBackupJob(fakeBackup{err: errors.New("bucket missing")}, zerolog.Nop()).Run())
}

type countingJob struct {
	name string
	runs atomic.Int32
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return nil
}

func TestScheduler_AddJobAndRun(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}

	require.NoError(t, s.AddJob("@every 1s", job))
	assert.Error(t, s.AddJob("@every 1s", job), "duplicate names are rejected")
	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "bad"}))
	require.NoError(t, s.AddJob("", &countingJob{name: "manual"}))
	assert.ElementsMatch(t, []string{"tick", "manual"}, s.JobNames())

	require.NoError(t, s.RunByName("tick"))
	assert.Equal(t, int32(1), job.runs.Load())
	assert.ErrorIs(t, s.RunByName("nope"), ErrUnknownJob)

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_SixFieldSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.NoError(t, s.AddJob("0 30 0 * * *", &countingJob{name: "nightly"}))
	assert.NoError(t, s.AddJob("0 */5 * * *", &countingJob{name: "five_field"}))
}
