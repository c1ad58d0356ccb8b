package snipes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/cespare/xxhash/v2"
	"github.com/gammazero/deque"
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// SnipeStore is the persistence the scheduler needs. Every state change is
// a conditional update reporting whether the caller won.
type SnipeStore interface {
	ListByStatus(ctx context.Context, statuses ...Status) ([]Snipe, error)
	Arm(ctx context.Context, id int64) (bool, error)
	BeginExecution(ctx context.Context, id int64) (bool, error)
	MarkMissed(ctx context.Context, id int64, outcome *Outcome) (bool, error)
	RecordAttempt(ctx context.Context, id int64, attempts int) error
	Finish(ctx context.Context, id int64, status Status, outcome *Outcome, executedAt time.Time) (bool, error)
}

// ListingSink receives the final price of a won auction
type ListingSink interface {
	MarkSold(ctx context.Context, listingID int64, price decimal.Decimal, source string) error
}

// Config holds scheduler timing and concurrency settings
type Config struct {
	GraceWindow      time.Duration
	ArmAhead         time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	SafetyMargin     time.Duration
	ExecutionTimeout time.Duration
	Workers          int
	RescanInterval   time.Duration
	ShardCount       int
	ShardIndex       int
}

// Stats is a point-in-time view of the dispatch loop
type Stats struct {
	Pending  int `json:"pending"`
	Armed    int `json:"armed"`
	Backlog  int `json:"backlog"`
	InFlight int `json:"in_flight"`
}

type entry struct {
	fireAt time.Time
	id     int64
}

func entryLess(a, b entry) bool {
	if a.fireAt.Equal(b.fireAt) {
		return a.id < b.id
	}
	return a.fireAt.Before(b.fireAt)
}

type commandKind int

const (
	cmdSchedule commandKind = iota
	cmdForget
	cmdStats
)

type command struct {
	kind  commandKind
	snipe *Snipe
	id    int64
	reply chan Stats
}

// idNamespace derives stable bid idempotency keys from snipe ids
var idNamespace = uuid.MustParse("6f1c8a52-3c1e-4c0e-9a53-5a8b3c8e7d21")

// Scheduler fires each owned snipe once at its fire time. The btree index,
// the snipe map and the backlog belong to the dispatch loop goroutine;
// everything else talks to the loop through channels. Bids run on a
// bounded worker pool and never on the loop.
type Scheduler struct {
	store    SnipeStore
	executor domain.BidExecutor
	sink     ListingSink
	events   *events.Manager
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	inbox chan command
	done  chan int64
	errs  chan error

	// loop-owned
	index      *btree.BTreeG[entry]
	snipes     map[int64]*Snipe
	dispatched map[int64]struct{}
	backlog    *deque.Deque[*Snipe]
	inFlight   int
	group      errgroup.Group

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewScheduler creates a scheduler. Call Start to recover state and begin dispatching.
func NewScheduler(store SnipeStore, executor domain.BidExecutor, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10 * time.Second
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = 30 * time.Second
	}

	s := &Scheduler{
		store:      store,
		executor:   executor,
		cfg:        cfg,
		now:        time.Now,
		log:        log.With().Str("component", "snipe_scheduler").Int("shard", cfg.ShardIndex).Logger(),
		inbox:      make(chan command, 64),
		done:       make(chan int64, cfg.Workers),
		errs:       make(chan error, 64),
		index:      btree.NewG(16, entryLess),
		snipes:     make(map[int64]*Snipe),
		dispatched: make(map[int64]struct{}),
		backlog:    deque.New[*Snipe](),
	}
	s.group.SetLimit(cfg.Workers)
	return s
}

// SetListingSink registers where won auctions are reported
func (s *Scheduler) SetListingSink(sink ListingSink) {
	s.sink = sink
}

// SetEventManager enables transition events
func (s *Scheduler) SetEventManager(m *events.Manager) {
	s.events = m
}

// Errors delivers persistence failures. They break the exactly-once
// guarantee for the affected snipe and need an operator.
func (s *Scheduler) Errors() <-chan error {
	return s.errs
}

// Owns reports whether id belongs to this scheduler's shard
func (s *Scheduler) Owns(id int64) bool {
	if s.cfg.ShardCount <= 1 {
		return true
	}
	h := xxhash.Sum64String(strconv.FormatInt(id, 10))
	return h%uint64(s.cfg.ShardCount) == uint64(s.cfg.ShardIndex)
}

// Start recovers state from the store and starts the dispatch loop.
// Snipes left executing by a previous process are failed, since whether
// their bid went out is unknown and it must not be sent twice.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	interrupted, err := s.store.ListByStatus(ctx, StatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to load interrupted snipes: %w", err)
	}
	for i := range interrupted {
		sn := &interrupted[i]
		if !s.Owns(sn.ID) {
			continue
		}
		s.finish(ctx, sn, StatusFailed, &Outcome{Error: "interrupted by restart", Attempts: sn.Attempts})
	}

	pending, err := s.store.ListByStatus(ctx, StatusScheduled, StatusArmed)
	if err != nil {
		return fmt.Errorf("failed to load pending snipes: %w", err)
	}
	for i := range pending {
		s.insert(&pending[i])
	}
	s.log.Info().Int("pending", s.index.Len()).Int("interrupted", len(interrupted)).Msg("Snipe scheduler recovered")

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.run(loopCtx)
	return nil
}

// Stop ends the dispatch loop and waits for running bids to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	_ = s.group.Wait()
	s.log.Info().Msg("Snipe scheduler stopped")
}

// Schedule hands a persisted snipe to the loop. Snipes the loop never
// hears about are still picked up by the next rescan.
func (s *Scheduler) Schedule(ctx context.Context, sn *Snipe) error {
	cp := *sn
	return s.send(ctx, command{kind: cmdSchedule, snipe: &cp})
}

// Forget drops a snipe from the index after it was cancelled in the store
func (s *Scheduler) Forget(ctx context.Context, id int64) error {
	return s.send(ctx, command{kind: cmdForget, id: id})
}

// Stats returns the loop's current counters
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := s.send(ctx, command{kind: cmdStats, reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (s *Scheduler) send(ctx context.Context, cmd command) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped == nil {
		return fmt.Errorf("scheduler not running")
	}
	select {
	case s.inbox <- cmd:
		return nil
	case <-stopped:
		return fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	rescan := time.NewTicker(s.cfg.RescanInterval)
	defer rescan.Stop()

	for {
		next := s.dispatchDue(ctx)
		resetTimer(timer, next, s.now())

		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			s.handle(cmd)
		case id := <-s.done:
			s.inFlight--
			delete(s.dispatched, id)
			s.drainBacklog(ctx)
		case <-timer.C:
		case <-rescan.C:
			s.rescan(ctx)
		}
	}
}

func resetTimer(t *time.Timer, next, now time.Time) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	wait := time.Hour
	if !next.IsZero() {
		wait = next.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}
	t.Reset(wait)
}

func (s *Scheduler) handle(cmd command) {
	switch cmd.kind {
	case cmdSchedule:
		s.insert(cmd.snipe)
	case cmdForget:
		s.remove(cmd.id)
	case cmdStats:
		st := Stats{Pending: s.index.Len(), Backlog: s.backlog.Len(), InFlight: s.inFlight}
		for _, sn := range s.snipes {
			if sn.Status == StatusArmed {
				st.Armed++
			}
		}
		cmd.reply <- st
	}
}

func (s *Scheduler) insert(sn *Snipe) {
	if !s.Owns(sn.ID) || sn.Status.IsTerminal() || sn.Status == StatusExecuting {
		return
	}
	if _, busy := s.dispatched[sn.ID]; busy {
		return
	}
	s.remove(sn.ID)
	s.snipes[sn.ID] = sn
	s.index.ReplaceOrInsert(entry{fireAt: sn.FireAt, id: sn.ID})
}

func (s *Scheduler) remove(id int64) {
	if old, ok := s.snipes[id]; ok {
		s.index.Delete(entry{fireAt: old.FireAt, id: id})
		delete(s.snipes, id)
	}
}

// dispatchDue arms snipes entering the arm window, dispatches or misses
// snipes whose fire time has come, and returns when the loop next needs
// to wake (zero when the index is empty).
func (s *Scheduler) dispatchDue(ctx context.Context) time.Time {
	now := s.now()
	var (
		due  []*Snipe
		arm  []*Snipe
		next time.Time
	)
	wake := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	s.index.Ascend(func(e entry) bool {
		sn := s.snipes[e.id]
		if !e.fireAt.After(now) {
			due = append(due, sn)
			return true
		}
		armAt := e.fireAt.Add(-s.cfg.ArmAhead)
		if sn.Status == StatusScheduled && armAt.After(now) {
			wake(armAt)
			return false
		}
		if sn.Status == StatusScheduled {
			arm = append(arm, sn)
		}
		wake(e.fireAt)
		return true
	})

	for _, sn := range arm {
		ok, err := s.store.Arm(ctx, sn.ID)
		if err != nil {
			s.reportPersistence("arm", sn.ID, err)
			continue
		}
		if ok {
			s.transitioned(sn, StatusScheduled, StatusArmed, nil)
			sn.Status = StatusArmed
		} else {
			s.log.Debug().Int64("snipe_id", sn.ID).Msg("Snipe no longer scheduled, dropping")
			s.remove(sn.ID)
		}
	}

	for _, sn := range due {
		s.remove(sn.ID)
		late := now.Sub(sn.FireAt)
		if late > s.cfg.GraceWindow {
			s.miss(ctx, sn, late)
			continue
		}
		s.dispatched[sn.ID] = struct{}{}
		s.backlog.PushBack(sn)
	}
	s.drainBacklog(ctx)

	return next
}

// drainBacklog starts queued snipes while workers are free, in fire order
func (s *Scheduler) drainBacklog(ctx context.Context) {
	for s.backlog.Len() > 0 && s.inFlight < s.cfg.Workers {
		sn := s.backlog.PopFront()
		s.inFlight++
		s.group.Go(func() error {
			defer func() {
				select {
				case s.done <- sn.ID:
				case <-ctx.Done():
				}
			}()
			s.execute(ctx, sn)
			return nil
		})
	}
	if s.backlog.Len() > 0 {
		s.log.Debug().Int("backlog", s.backlog.Len()).Msg("Worker pool saturated")
	}
}

func (s *Scheduler) miss(ctx context.Context, sn *Snipe, late time.Duration) {
	missErr := &domain.MissedWindowError{SnipeID: sn.ID, FireTime: sn.FireAt, Late: late}
	ok, err := s.store.MarkMissed(ctx, sn.ID, &Outcome{Error: missErr.Error()})
	if err != nil {
		s.reportPersistence("mark_missed", sn.ID, err)
		return
	}
	if !ok {
		return
	}
	s.log.Warn().Err(missErr).Int64("snipe_id", sn.ID).Msg("Snipe missed")
	s.transitioned(sn, sn.Status, StatusMissed, nil)
}

// execute runs on a worker. Losing the executing CAS means another
// worker or instance owns the bid, so it simply returns.
func (s *Scheduler) execute(ctx context.Context, sn *Snipe) {
	// Terminal writes must land even while the scheduler is shutting down
	writeCtx := context.WithoutCancel(ctx)

	won := false
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int64("snipe_id", sn.ID).Msg("Panic while executing snipe")
			if won {
				s.finish(writeCtx, sn, StatusFailed, &Outcome{Error: fmt.Sprintf("panic: %v", r)})
			}
		}
	}()

	// A snipe can wait in the backlog past its window
	now := s.now()
	if late := now.Sub(sn.FireAt); late > s.cfg.GraceWindow || !sn.AuctionEndTime.After(now) {
		s.miss(writeCtx, sn, late)
		return
	}

	ok, err := s.store.BeginExecution(writeCtx, sn.ID)
	if err != nil {
		s.reportPersistence("begin_execution", sn.ID, err)
		return
	}
	if !ok {
		s.log.Debug().Err(domain.ErrConcurrencyConflict).Int64("snipe_id", sn.ID).Msg("Snipe claimed elsewhere")
		return
	}
	won = true
	s.transitioned(sn, sn.Status, StatusExecuting, nil)

	status, outcome := s.bid(ctx, writeCtx, sn)
	s.finish(writeCtx, sn, status, outcome)
}

// bid submits with retries. Every attempt gets its own deadline; a retry
// only happens while the auction still has more than the safety margin
// plus the backoff left.
func (s *Scheduler) bid(ctx, writeCtx context.Context, sn *Snipe) (Status, *Outcome) {
	req := domain.BidRequest{
		IdempotencyKey: uuid.NewSHA1(idNamespace, []byte(strconv.FormatInt(sn.ID, 10))).String(),
		ListingURL:     sn.ListingURL,
		MaxBid:         sn.MaxBid,
	}

	backoff := s.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		if err := s.store.RecordAttempt(writeCtx, sn.ID, attempt); err != nil {
			s.reportPersistence("record_attempt", sn.ID, err)
		}

		// An attempt in progress runs to its deadline even during shutdown
		attemptCtx, cancel := context.WithTimeout(writeCtx, s.cfg.ExecutionTimeout)
		started := time.Now()
		res, err := s.executor.SubmitBid(attemptCtx, req)
		cancel()

		if err == nil {
			outcome := &Outcome{Accepted: res.Accepted, FinalPrice: res.FinalPrice, Error: res.Error, Attempts: attempt}
			if res.Accepted {
				return StatusCompleted, outcome
			}
			if outcome.Error == "" {
				outcome.Error = "bid rejected"
			}
			return StatusFailed, outcome
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = &domain.ExecutionTimeoutError{SnipeID: sn.ID, Timeout: s.cfg.ExecutionTimeout}
		}
		s.log.Warn().Err(err).
			Int64("snipe_id", sn.ID).
			Int("attempt", attempt).
			Dur("elapsed", time.Since(started)).
			Msg("Bid attempt failed")

		if ctx.Err() != nil {
			return StatusFailed, &Outcome{Error: "scheduler stopped: " + err.Error(), Attempts: attempt}
		}
		if attempt >= s.cfg.MaxAttempts {
			return StatusFailed, &Outcome{Error: err.Error(), Attempts: attempt}
		}
		if remaining := sn.AuctionEndTime.Sub(s.now()); remaining <= s.cfg.SafetyMargin+backoff {
			return StatusFailed, &Outcome{
				Error:    fmt.Sprintf("%v; no time left to retry (%s before auction end)", err, remaining.Round(time.Millisecond)),
				Attempts: attempt,
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return StatusFailed, &Outcome{Error: "scheduler stopped: " + err.Error(), Attempts: attempt}
		}
		backoff *= 2
	}
}

// finish writes the terminal status. The write only lands while the
// snipe is still executing.
func (s *Scheduler) finish(ctx context.Context, sn *Snipe, status Status, outcome *Outcome) {
	executedAt := s.now().UTC()
	ok, err := s.store.Finish(ctx, sn.ID, status, outcome, executedAt)
	if err != nil {
		s.reportPersistence("finish", sn.ID, err)
		return
	}
	if !ok {
		s.log.Warn().Int64("snipe_id", sn.ID).Str("status", string(status)).Msg("Snipe left executing state before its result was stored")
		return
	}

	level := zerolog.InfoLevel
	if status != StatusCompleted {
		level = zerolog.WarnLevel
	}
	s.log.WithLevel(level).
		Int64("snipe_id", sn.ID).
		Str("status", string(status)).
		Int("attempts", outcome.Attempts).
		Str("error", outcome.Error).
		Msg("Snipe finished")
	s.transitioned(sn, StatusExecuting, status, outcome)

	if status == StatusCompleted && outcome.FinalPrice != nil && sn.ListingID != 0 && s.sink != nil {
		if err := s.sink.MarkSold(ctx, sn.ListingID, *outcome.FinalPrice, "snipe"); err != nil {
			s.log.Error().Err(err).Int64("snipe_id", sn.ID).Int64("listing_id", sn.ListingID).Msg("Failed to record won auction")
		}
	}
}

// rescan reconciles the index with the store. Snipes added by other
// processes appear; snipes cancelled or claimed elsewhere disappear.
func (s *Scheduler) rescan(ctx context.Context) {
	pending, err := s.store.ListByStatus(ctx, StatusScheduled, StatusArmed)
	if err != nil {
		s.log.Error().Err(err).Msg("Snipe rescan failed")
		return
	}

	seen := make(map[int64]struct{}, len(pending))
	for i := range pending {
		sn := &pending[i]
		seen[sn.ID] = struct{}{}
		if cur, ok := s.snipes[sn.ID]; ok && cur.FireAt.Equal(sn.FireAt) && cur.Status == sn.Status {
			continue
		}
		s.insert(sn)
	}
	for id := range s.snipes {
		if _, ok := seen[id]; !ok {
			s.remove(id)
		}
	}
}

func (s *Scheduler) reportPersistence(op string, id int64, err error) {
	perr := domain.NewPersistenceError(fmt.Sprintf("%s snipe %d", op, id), err)
	s.log.Error().Err(perr).Int64("snipe_id", id).Msg("Snipe store write failed")
	if s.events != nil {
		s.events.EmitError("snipes", perr, map[string]interface{}{"snipe_id": id, "op": op})
	}
	select {
	case s.errs <- perr:
	default:
		s.log.Error().Int64("snipe_id", id).Msg("Error channel full, dropping persistence error")
	}
}

func (s *Scheduler) transitioned(sn *Snipe, from, to Status, outcome *Outcome) {
	if s.events == nil {
		return
	}
	data := &events.SnipeTransitionedData{
		SnipeID:   sn.ID,
		ListingID: sn.ListingID,
		From:      string(from),
		To:        string(to),
	}
	if outcome != nil {
		data.Result = outcome.Error
		if outcome.FinalPrice != nil {
			data.FinalPrice = outcome.FinalPrice.String()
		}
	}
	s.events.EmitTyped(events.SnipeTransitioned, "snipes", data)
}
