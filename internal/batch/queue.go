package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const configKeyQueuePaused = "queue_paused"

// QueueState is the queue status shown to users.
type QueueState string

const (
	QueueIdle       QueueState = "idle"
	QueueProcessing QueueState = "processing"
	QueuePaused     QueueState = "paused"
)

// QueueStatus is a snapshot of the queue.
type QueueStatus struct {
	State         QueueState `json:"state"`
	ActiveBatchID string     `json:"active_batch_id,omitempty"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastSeverity  Severity   `json:"last_severity,omitempty"`
	Pending       int        `json:"pending"`
}

// Queue drains pending batches one at a time, oldest first.
type Queue struct {
	repo         Repository
	orch         *Orchestrator
	notifier     Notifier
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
	wake         chan struct{}

	mu           sync.Mutex
	activeID     string
	cancelActive context.CancelFunc
	lastMessage  string
	lastSeverity Severity
}

// NewQueue restores the paused flag from the store. notifier receives every
// queued batch's notifications in addition to the store.
func NewQueue(repo Repository, orch *Orchestrator, notifier Notifier, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		repo:         repo,
		orch:         orch,
		notifier:     notifier,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
	if v, err := repo.GetConfig(context.Background(), configKeyQueuePaused); err == nil && v == "true" {
		q.paused.Store(true)
	}
	return q
}

// Start blocks until ctx is done.
func (q *Queue) Start(ctx context.Context) {
	if q.running.Swap(true) {
		return
	}
	q.logger.Info("batch queue started")

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		q.drain(ctx)
		select {
		case <-ctx.Done():
			q.logger.Info("batch queue stopping")
			q.running.Store(false)
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// Wake makes the queue look for work now.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Pause() {
	q.paused.Store(true)
	q.persistPaused("true")
	q.logger.Info("batch queue paused")
}

func (q *Queue) Resume() {
	q.paused.Store(false)
	q.persistPaused("false")
	q.logger.Info("batch queue resumed")
	q.Wake()
}

func (q *Queue) IsPaused() bool {
	return q.paused.Load()
}

func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

func (q *Queue) persistPaused(v string) {
	if err := q.repo.SetConfig(context.Background(), configKeyQueuePaused, v); err != nil {
		q.logger.Warn("failed to persist queue state", "error", err)
	}
}

// Status reports what the queue is doing.
func (q *Queue) Status(ctx context.Context) QueueStatus {
	q.mu.Lock()
	st := QueueStatus{
		ActiveBatchID: q.activeID,
		LastMessage:   q.lastMessage,
		LastSeverity:  q.lastSeverity,
	}
	q.mu.Unlock()

	switch {
	case st.ActiveBatchID != "":
		st.State = QueueProcessing
	case q.paused.Load():
		st.State = QueuePaused
	default:
		st.State = QueueIdle
	}

	if pending, err := q.repo.ListPendingBatches(ctx); err == nil {
		st.Pending = len(pending)
	}
	return st
}

// Cancel stops the running batch with id or drops it from the queue.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id == q.activeID && q.cancelActive != nil {
		q.logger.Info("cancelling running batch", "batch_id", id)
		q.cancelActive()
		return nil
	}

	b, err := q.repo.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return ErrBatchNotFound
	}
	if b.State != StatePending {
		return ErrNotCancellable
	}
	q.logger.Info("cancelling queued batch", "batch_id", id)
	return q.repo.UpdateBatchState(ctx, id, StateCancelled, "Cancelled before start.")
}

func (q *Queue) drain(ctx context.Context) {
	for ctx.Err() == nil && !q.paused.Load() {
		if !q.processNext(ctx) {
			return
		}
	}
}

// processNext runs the oldest pending batch. It returns false when there
// was nothing to do or the orchestrator was busy.
func (q *Queue) processNext(ctx context.Context) bool {
	q.mu.Lock()
	batches, err := q.repo.ListPendingBatches(ctx)
	if err != nil {
		q.mu.Unlock()
		q.logger.Error("failed to list pending batches", "error", err)
		return false
	}
	if len(batches) == 0 {
		q.mu.Unlock()
		return false
	}
	if q.orch.Busy() {
		q.mu.Unlock()
		return false
	}

	b := batches[0]
	if err := q.repo.UpdateBatchState(ctx, b.ID, StateRunning, ""); err != nil {
		q.mu.Unlock()
		q.logger.Error("failed to mark batch running", "batch_id", b.ID, "error", err)
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.activeID = b.ID
	q.cancelActive = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.activeID = ""
		q.cancelActive = nil
		q.mu.Unlock()
	}()

	q.logger.Info("processing batch", "batch_id", b.ID, "files", b.Total)

	store := &storeNotifier{repo: q.repo, batchID: b.ID, logger: q.logger}
	_, err = q.orch.RunBatch(runCtx, b.FileRefs(), b.Params,
		WithBatchID(b.ID),
		WithOutputDir(b.OutputDir),
		WithNotifier(Notifiers{store, q.notifier, q.tracker()}),
	)
	switch {
	case errors.Is(err, ErrBusy):
		// A direct run slipped in between the check and the call.
		if err := q.repo.UpdateBatchState(context.Background(), b.ID, StatePending, ""); err != nil {
			q.logger.Error("failed to requeue batch", "batch_id", b.ID, "error", err)
		}
		return false
	case errors.Is(err, ErrNoInput):
		q.logger.Warn("queued batch had no files", "batch_id", b.ID)
	}
	return true
}

// tracker records the last message for Status.
func (q *Queue) tracker() Notifier {
	return progressFunc(func(message string, severity Severity) {
		q.mu.Lock()
		q.lastMessage = message
		q.lastSeverity = severity
		q.mu.Unlock()
	})
}

type progressFunc func(message string, severity Severity)

func (f progressFunc) OnProgress(message string, severity Severity) { f(message, severity) }
func (f progressFunc) OnBatchComplete(Result)                       {}

// storeNotifier persists batch progress. It writes with a fresh context so
// the final state is recorded even when the run was cancelled.
type storeNotifier struct {
	repo    Repository
	batchID string
	logger  *slog.Logger
	current int
}

func (s *storeNotifier) OnProgress(message string, severity Severity) {
	if err := s.repo.UpdateBatchProgress(context.Background(), s.batchID, s.current, message); err != nil {
		s.logger.Warn("failed to persist progress", "batch_id", s.batchID, "error", err)
	}
}

func (s *storeNotifier) OnFileStart(f FileOutcome) {
	s.current = f.Index + 1
	s.persistFile(f)
}

func (s *storeNotifier) OnFileComplete(f FileOutcome) {
	s.persistFile(f)
}

func (s *storeNotifier) persistFile(f FileOutcome) {
	if err := s.repo.UpdateFile(context.Background(), s.batchID, f); err != nil {
		s.logger.Warn("failed to persist file outcome", "batch_id", s.batchID, "index", f.Index, "error", err)
	}
}

func (s *storeNotifier) OnBatchComplete(result Result) {
	if err := s.repo.FinishBatch(context.Background(), result); err != nil {
		s.logger.Error("failed to persist batch result", "batch_id", s.batchID, "error", err)
	}
}
