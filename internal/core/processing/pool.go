package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

const (
	DefaultWorkers    = 5
	DefaultPopTimeout = time.Second

	bookkeepingTimeout = 10 * time.Second
)

// PipelineFunc runs one analysis attempt for a dequeued task.
type PipelineFunc func(ctx context.Context, task *Task) error

// Observer receives pool metrics. A nil Observer disables them.
type Observer interface {
	StartTask()
	FinishTask(duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
	ObserveRetry()
	SetQueueDepth(depth int)
}

type Config struct {
	Workers    int
	PopTimeout time.Duration
	Retry      RetryPolicy
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = DefaultPopTimeout
	}
	c.Retry = c.Retry.normalize()
	return c
}

// WorkerStats is written only by its owning worker, under Pool.statsMu.
type WorkerStats struct {
	WorkerID            string
	TasksCompleted      int
	TasksFailed         int
	TotalProcessingTime time.Duration
	CurrentTask         string
	StartedAt           time.Time
	LastActivity        time.Time
}

type WorkerStatus struct {
	WorkerID          string    `json:"worker_id"`
	CurrentTask       string    `json:"current_task,omitempty"`
	TasksCompleted    int       `json:"tasks_completed"`
	TasksFailed       int       `json:"tasks_failed"`
	AvgProcessingTime float64   `json:"avg_processing_time"`
	LastActivity      time.Time `json:"last_activity"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

type QueueStatus struct {
	QueueSize      int            `json:"queue_size"`
	ActiveTasks    int            `json:"active_tasks"`
	MaxWorkers     int            `json:"max_workers"`
	TotalProcessed int64          `json:"total_processed"`
	TotalFailed    int64          `json:"total_failed"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Workers        []WorkerStatus `json:"workers"`
}

// Pool runs a fixed number of workers over one shared priority queue.
type Pool struct {
	cfg         Config
	queue       *Queue
	store       ports.SessionStore
	broadcaster ports.ProgressBroadcaster
	observer    Observer
	logger      *slog.Logger

	sleep           func(ctx context.Context, d time.Duration) error
	now             func() time.Time
	bookkeepTimeout time.Duration

	lifecycleMu sync.Mutex
	running     bool
	stopped     atomic.Bool
	stopSignal  context.CancelFunc
	cancelWork  context.CancelFunc
	done        chan struct{}

	statsMu sync.RWMutex
	stats   map[string]*WorkerStats

	activeMu sync.Mutex
	active   map[string]*Task

	totalProcessed atomic.Int64
	totalFailed    atomic.Int64
	startedAt      time.Time
}

func NewPool(
	cfg Config,
	store ports.SessionStore,
	broadcaster ports.ProgressBroadcaster,
	observer Observer,
	logger *slog.Logger,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	logger.Info("processing_pool_initialized", "max_workers", cfg.Workers)
	return &Pool{
		cfg:         cfg,
		queue:       NewQueue(),
		store:       store,
		broadcaster: broadcaster,
		observer:    observer,
		logger:      logger,
		sleep:       sleepContext,
		now:         time.Now,
		stats:       make(map[string]*WorkerStats),
		active:      make(map[string]*Task),
		startedAt:   time.Now().UTC(),

		bookkeepTimeout: bookkeepingTimeout,
	}
}

// Start spawns the workers. A second call while running is a no-op.
func (p *Pool) Start(fn PipelineFunc) error {
	if fn == nil {
		return fmt.Errorf("start pool: %w: nil pipeline", domain.ErrInvalidInput)
	}

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		p.logger.Warn("processing_pool_already_started")
		return nil
	}

	shutdownCtx, stopSignal := context.WithCancel(context.Background())
	workCtx, cancelWork := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	now := p.now().UTC()
	stats := make(map[string]*WorkerStats, p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		stats[workerID] = &WorkerStats{WorkerID: workerID, StartedAt: now, LastActivity: now}
	}

	p.statsMu.Lock()
	p.stats = stats
	p.statsMu.Unlock()

	for workerID, ws := range stats {
		wg.Add(1)
		go p.runWorker(shutdownCtx, workCtx, &wg, workerID, ws, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	p.running = true
	p.stopped.Store(false)
	p.stopSignal = stopSignal
	p.cancelWork = cancelWork
	p.done = done

	p.logger.Info("processing_pool_started", "workers", p.cfg.Workers)
	return nil
}

// Stop signals shutdown and waits up to timeout for workers to drain.
// On timeout in-flight pipelines are cancelled and Stop returns without
// waiting for them. Worker stats are always cleared.
func (p *Pool) Stop(timeout time.Duration) {
	p.lifecycleMu.Lock()
	p.stopped.Store(true)
	if !p.running {
		p.lifecycleMu.Unlock()
		p.clearStats()
		return
	}
	p.running = false
	stopSignal, cancelWork, done := p.stopSignal, p.cancelWork, p.done
	p.stopSignal, p.cancelWork, p.done = nil, nil, nil
	p.lifecycleMu.Unlock()

	p.logger.Info("processing_pool_stopping", "timeout", timeout.String())
	stopSignal()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("processing_pool_stop_timeout", "timeout", timeout.String())
	}
	cancelWork()

	p.clearStats()
	p.logger.Info("processing_pool_stopped")
}

// Submit enqueues a task for the session. It is rejected only after Stop.
func (p *Pool) Submit(sessionID string, req domain.AnalysisRequest) bool {
	if p.stopped.Load() {
		p.logger.Error("analysis_task_rejected", "session_id", sessionID, "error", domain.ErrNotAccepting)
		return false
	}
	task := NewTask(sessionID, req, p.cfg.Retry.MaxRetries)
	p.queue.Push(task)
	p.setQueueDepth()
	p.logger.Info("analysis_task_queued", "session_id", sessionID, "priority", task.Priority.String())
	return true
}

// Cancel marks the session failed so a queued task is skipped at dequeue.
// An active task is removed from the registry; its in-flight call is not interrupted.
func (p *Pool) Cancel(ctx context.Context, sessionID string) bool {
	p.activeMu.Lock()
	_, active := p.active[sessionID]
	delete(p.active, sessionID)
	p.activeMu.Unlock()

	err := p.store.UpdateProgress(ctx, domain.ProgressUpdate{
		SessionID:    sessionID,
		Status:       domain.StatusFailed,
		Progress:     0,
		Step:         "Analysis cancelled by user",
		ErrorMessage: "Task cancelled by user request",
	})
	if err != nil {
		p.logger.Error("analysis_cancel_failed", "session_id", sessionID, "active", active, "error", err)
		return active
	}
	p.logger.Info("analysis_cancelled", "session_id", sessionID, "active", active)
	return true
}

func (p *Pool) QueueStatus() QueueStatus {
	now := p.now().UTC()

	p.activeMu.Lock()
	activeCount := len(p.active)
	p.activeMu.Unlock()

	p.statsMu.RLock()
	workers := make([]WorkerStatus, 0, len(p.stats))
	for _, ws := range p.stats {
		completed := ws.TasksCompleted
		if completed < 1 {
			completed = 1
		}
		avg := ws.TotalProcessingTime.Seconds() / float64(completed)
		workers = append(workers, WorkerStatus{
			WorkerID:          ws.WorkerID,
			CurrentTask:       ws.CurrentTask,
			TasksCompleted:    ws.TasksCompleted,
			TasksFailed:       ws.TasksFailed,
			AvgProcessingTime: float64(int64(avg*100+0.5)) / 100,
			LastActivity:      ws.LastActivity,
			UptimeSeconds:     now.Sub(ws.StartedAt).Seconds(),
		})
	}
	p.statsMu.RUnlock()
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })

	return QueueStatus{
		QueueSize:      p.queue.Len(),
		ActiveTasks:    activeCount,
		MaxWorkers:     p.cfg.Workers,
		TotalProcessed: p.totalProcessed.Load(),
		TotalFailed:    p.totalFailed.Load(),
		UptimeSeconds:  now.Sub(p.startedAt).Seconds(),
		Workers:        workers,
	}
}

func (p *Pool) Running() bool {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	return p.running
}

func (p *Pool) runWorker(shutdownCtx, workCtx context.Context, wg *sync.WaitGroup, workerID string, stats *WorkerStats, fn PipelineFunc) {
	defer wg.Done()
	p.logger.Info("worker_started", "worker_id", workerID)
	defer p.logger.Info("worker_stopped", "worker_id", workerID)

	for shutdownCtx.Err() == nil && workCtx.Err() == nil {
		task, err := p.queue.Pop(shutdownCtx, p.cfg.PopTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueTimeout) {
				continue
			}
			return
		}
		p.setQueueDepth()

		if !p.sessionLive(workCtx, task) {
			p.logger.Info("analysis_task_skipped", "worker_id", workerID, "session_id", task.SessionID)
			continue
		}

		p.processTask(shutdownCtx, workCtx, workerID, stats, task, fn)
	}
}

// sessionLive reports false when the session was removed or failed out of band.
// Store errors do not block processing.
func (p *Pool) sessionLive(ctx context.Context, task *Task) bool {
	session, err := p.store.GetSession(ctx, task.SessionID)
	if err != nil {
		if domain.IsKind(err, domain.ErrSessionNotFound) {
			return false
		}
		p.logger.Debug("session_liveness_check_failed", "session_id", task.SessionID, "error", err)
		return true
	}
	return session != nil && session.Status != domain.StatusFailed
}

func (p *Pool) processTask(shutdownCtx, workCtx context.Context, workerID string, stats *WorkerStats, task *Task, fn PipelineFunc) {
	start := p.now()
	startedAt := start.UTC()
	task.StartedAt = &startedAt
	task.WorkerID = workerID

	p.statsMu.Lock()
	stats.CurrentTask = task.SessionID
	stats.LastActivity = startedAt
	p.statsMu.Unlock()

	p.activeMu.Lock()
	p.active[task.SessionID] = task
	p.activeMu.Unlock()

	defer func() {
		p.statsMu.Lock()
		stats.CurrentTask = ""
		stats.LastActivity = p.now().UTC()
		p.statsMu.Unlock()

		p.activeMu.Lock()
		if p.active[task.SessionID] == task {
			delete(p.active, task.SessionID)
		}
		p.activeMu.Unlock()
	}()

	if p.observer != nil {
		if !task.enqueuedAt.IsZero() {
			p.observer.ObserveQueueLag(start.Sub(task.enqueuedAt))
		}
		p.observer.StartTask()
	}

	p.logger.Info("analysis_task_started", "worker_id", workerID, "session_id", task.SessionID, "attempt", task.RetryCount+1)
	p.report(workCtx, domain.ProgressUpdate{
		SessionID: task.SessionID,
		Status:    domain.StatusExtracting,
		Progress:  5,
		Step:      fmt.Sprintf("Starting analysis (worker %s)", workerID),
	})

	err := p.runPipeline(workCtx, task, fn)
	duration := p.now().Sub(start)
	if p.observer != nil {
		p.observer.FinishTask(duration, err)
	}

	if err == nil {
		p.statsMu.Lock()
		stats.TasksCompleted++
		stats.TotalProcessingTime += duration
		p.statsMu.Unlock()
		p.totalProcessed.Add(1)
		p.logger.Info("analysis_task_completed",
			"worker_id", workerID,
			"session_id", task.SessionID,
			"retries", task.RetryCount,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}

	p.logger.Error("analysis_task_failed", "worker_id", workerID, "session_id", task.SessionID, "error", err)

	if task.RetryCount < task.MaxRetries && !domain.IsKind(err, domain.ErrConfiguration) {
		liveCtx, cancel := p.bookkeeping(workCtx)
		live := p.sessionLive(liveCtx, task)
		cancel()
		if !live {
			p.logger.Info("analysis_retry_dropped", "worker_id", workerID, "session_id", task.SessionID)
			return
		}
		p.scheduleRetry(shutdownCtx, workCtx, task)
		return
	}

	p.statsMu.Lock()
	stats.TasksFailed++
	p.statsMu.Unlock()
	p.totalFailed.Add(1)
	p.failTerminally(workCtx, task, duration, err)
}

// runPipeline converts a pipeline panic into an ordinary failure.
func (p *Pool) runPipeline(ctx context.Context, task *Task, fn PipelineFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return fn(ctx, task)
}

func (p *Pool) scheduleRetry(shutdownCtx, workCtx context.Context, task *Task) {
	task.RetryCount++
	delay := p.cfg.Retry.Backoff(task.RetryCount)

	p.logger.Info("analysis_retry_scheduled",
		"session_id", task.SessionID,
		"attempt", task.RetryCount,
		"max_retries", task.MaxRetries,
		"delay", delay.String(),
	)
	p.report(workCtx, domain.ProgressUpdate{
		SessionID: task.SessionID,
		Status:    domain.StatusQueued,
		Progress:  0,
		Step:      fmt.Sprintf("Retrying analysis (attempt %d/%d)", task.RetryCount, task.MaxRetries),
	})
	if p.observer != nil {
		p.observer.ObserveRetry()
	}

	if err := p.sleep(shutdownCtx, delay); err != nil {
		p.logger.Info("analysis_retry_backoff_interrupted", "session_id", task.SessionID, "error", err)
	}
	p.queue.Push(task)
	p.setQueueDepth()
}

// failTerminally persists the failed record before anything else so a slow
// subscriber cannot starve it. Each step gets its own deadline.
func (p *Pool) failTerminally(workCtx context.Context, task *Task, duration time.Duration, cause error) {
	message := fmt.Sprintf("Task failed after %d retries: %v", task.RetryCount, cause)

	storeCtx, cancelStore := p.bookkeeping(workCtx)
	failed := domain.NewFailedResults(task.SessionID, task.Request.DocumentID, duration, cause)
	if err := p.store.StoreResult(storeCtx, failed); err != nil {
		p.logger.Error("failed_result_store_failed", "session_id", task.SessionID, "error", err)
	}
	cancelStore()

	updateCtx, cancelUpdate := p.bookkeeping(workCtx)
	if err := p.store.UpdateProgress(updateCtx, domain.ProgressUpdate{
		SessionID:    task.SessionID,
		Status:       domain.StatusFailed,
		Progress:     0,
		Step:         "Analysis failed after maximum retries",
		ErrorMessage: message,
	}); err != nil {
		p.logger.Debug("session_failure_update_failed", "session_id", task.SessionID, "error", err)
	}
	cancelUpdate()

	if p.broadcaster != nil {
		broadcastCtx, cancelBroadcast := p.bookkeeping(workCtx)
		p.broadcaster.Broadcast(broadcastCtx, domain.NewErrorEvent(task.SessionID, message))
		cancelBroadcast()
	}
	p.logger.Warn("analysis_task_terminally_failed", "session_id", task.SessionID, "retries", task.RetryCount, "error", cause)
}

// report writes a progress update and broadcasts it. Errors are logged only.
func (p *Pool) report(workCtx context.Context, update domain.ProgressUpdate) {
	updateCtx, cancelUpdate := p.bookkeeping(workCtx)
	if err := p.store.UpdateProgress(updateCtx, update); err != nil {
		p.logger.Debug("session_progress_update_failed", "session_id", update.SessionID, "error", err)
	}
	cancelUpdate()

	if p.broadcaster != nil {
		broadcastCtx, cancelBroadcast := p.bookkeeping(workCtx)
		p.broadcaster.Broadcast(broadcastCtx, domain.NewProgressEvent(update.SessionID, update.Status, update.Progress, update.Step))
		cancelBroadcast()
	}
}

// bookkeeping detaches from task cancellation so state still lands after a
// cancel or shutdown.
func (p *Pool) bookkeeping(workCtx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(workCtx), p.bookkeepTimeout)
}

func (p *Pool) clearStats() {
	p.statsMu.Lock()
	p.stats = make(map[string]*WorkerStats)
	p.statsMu.Unlock()
}

func (p *Pool) setQueueDepth() {
	if p.observer != nil {
		p.observer.SetQueueDepth(p.queue.Len())
	}
}
