// Package audit records authentication and account events for later review.
package audit

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/database/audit"
	"github.com/mrlokans/secrets/internal/entities"
)

// writeTimeout bounds background writes, which outlive the request that
// triggered them.
const writeTimeout = 5 * time.Second

// Service provides high-level audit logging functionality.
type Service struct {
	repo   *audit.Repository
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger.Named("audit")}
}

// Log records a generic audit event.
func (s *Service) Log(ctx context.Context, event *entities.AuditEvent) error {
	return s.repo.LogEvent(ctx, event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.repo.LogEvent(ctx, event); err != nil {
			s.logger.Warn("failed to log audit event",
				zap.String("action", event.Action),
				zap.Error(err))
		}
	}()
}

// Wait blocks until pending background writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Request describes where an event came from.
type Request struct {
	IPAddress string
	UserAgent string
}

// LogAuth records a local authentication event.
func (s *Service) LogAuth(userID, action string, req Request, err error) {
	event := &entities.AuditEvent{
		UserID:    userID,
		EventType: entities.AuditEventAuth,
		Action:    action,
		IPAddress: req.IPAddress,
		UserAgent: truncate(req.UserAgent, 500),
	}
	setOutcome(event, err)
	s.LogAsync(event)
}

// LogFederated records a sign-in or account link through an external provider.
func (s *Service) LogFederated(userID, provider, action string, req Request, err error) {
	event := &entities.AuditEvent{
		UserID:    userID,
		EventType: entities.AuditEventAuth,
		Action:    action,
		Provider:  provider,
		IPAddress: req.IPAddress,
		UserAgent: truncate(req.UserAgent, 500),
	}
	setOutcome(event, err)
	s.LogAsync(event)
}

// LogAccount records a change to the account itself, such as a password change.
func (s *Service) LogAccount(userID, action, description string, err error) {
	event := &entities.AuditEvent{
		UserID:      userID,
		EventType:   entities.AuditEventAccount,
		Action:      action,
		Description: truncate(description, 500),
	}
	setOutcome(event, err)
	s.LogAsync(event)
}

// LogSecret records an update of the user's stored secret. The secret itself
// is never part of the event.
func (s *Service) LogSecret(userID string, err error) {
	event := &entities.AuditEvent{
		UserID:    userID,
		EventType: entities.AuditEventSecret,
		Action:    entities.AuditActionSecretUpdate,
	}
	setOutcome(event, err)
	s.LogAsync(event)
}

// GetEvents retrieves paginated audit events.
func (s *Service) GetEvents(ctx context.Context, filter audit.Filter, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return s.repo.GetEvents(ctx, filter, limit, offset)
}

// DeleteOldEvents removes events older than the specified duration.
func (s *Service) DeleteOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	return s.repo.DeleteOldEvents(ctx, cutoff)
}

func setOutcome(event *entities.AuditEvent, err error) {
	event.Status = entities.AuditStatusSuccess
	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:0]
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
