package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/config"
)

// CleanupEnqueuer hands a retention pass to whatever executes it, usually
// the task queue.
type CleanupEnqueuer interface {
	EnqueueAuditCleanup(retentionDays int) error
}

// EnqueuerFunc adapts a plain function to CleanupEnqueuer.
type EnqueuerFunc func(retentionDays int) error

func (f EnqueuerFunc) EnqueueAuditCleanup(retentionDays int) error {
	return f(retentionDays)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// AuditCleanupScheduler periodically enqueues removal of expired audit events.
type AuditCleanupScheduler struct {
	enqueuer      CleanupEnqueuer
	schedule      string
	retentionDays int
	logger        *zap.Logger

	cron       *cron.Cron
	entryID    cron.EntryID
	parsed     cron.Schedule
	mu         sync.RWMutex
	isRunning  bool
	cancelFunc context.CancelFunc
}

// NewAuditCleanupScheduler creates a new scheduler instance.
func NewAuditCleanupScheduler(enqueuer CleanupEnqueuer, schedule string, retentionDays int, logger *zap.Logger) *AuditCleanupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditCleanupScheduler{
		enqueuer:      enqueuer,
		schedule:      schedule,
		retentionDays: retentionDays,
		logger:        logger.Named("scheduler"),
		cron:          cron.New(cron.WithParser(parser)),
	}
}

// Start begins the scheduler. An empty schedule or a non-positive retention
// disables cleanup.
func (s *AuditCleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if s.schedule == "" || s.retentionDays <= 0 {
		s.logger.Info("audit cleanup scheduler disabled")
		return nil
	}

	if err := config.ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	parsed, err := parser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("failed to schedule audit cleanup: %w", err)
	}
	s.parsed = parsed
	s.entryID = s.cron.Schedule(parsed, cron.FuncJob(s.run))

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	s.logger.Info("audit cleanup scheduler started",
		zap.String("schedule", s.schedule),
		zap.Int("retention_days", s.retentionDays),
		zap.Time("next_run", parsed.Next(time.Now())))

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop waits for a running job and stops the scheduler.
func (s *AuditCleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.cron.Remove(s.entryID)
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.isRunning = false
	s.cancelFunc = nil

	s.logger.Info("audit cleanup scheduler stopped")
}

// RunNow enqueues a cleanup immediately.
func (s *AuditCleanupScheduler) RunNow() error {
	return s.enqueue()
}

// IsRunning returns whether the scheduler is active.
func (s *AuditCleanupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns when the next cleanup will be enqueued.
func (s *AuditCleanupScheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	next := s.parsed.Next(time.Now())
	return &next
}

func (s *AuditCleanupScheduler) run() {
	if err := s.enqueue(); err != nil {
		s.logger.Error("audit cleanup not enqueued", zap.Error(err))
	}
}

func (s *AuditCleanupScheduler) enqueue() error {
	if s.enqueuer == nil {
		return fmt.Errorf("no cleanup enqueuer configured")
	}
	return s.enqueuer.EnqueueAuditCleanup(s.retentionDays)
}
