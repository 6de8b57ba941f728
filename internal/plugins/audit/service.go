package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/portal/internal/apperror"
	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// perPage is the number of security events per page.
const perPage = 50

// SecurityService records and queries security events. It satisfies
// auth.EventLogger so the auth service can write to it.
type SecurityService interface {
	// LogEvent records a security event. Fire-and-forget friendly: errors
	// are logged here and callers may ignore them.
	LogEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any) error

	// ListEvents returns one page of events, optionally filtered.
	ListEvents(ctx context.Context, filter EventFilter, page int) (*EventPage, error)

	// Stats returns aggregate security counts.
	Stats(ctx context.Context) (*SecurityStats, error)
}

var _ auth.EventLogger = (*securityService)(nil)

// securityService implements SecurityService.
type securityService struct {
	repo SecurityEventRepository
}

// NewSecurityService creates a new security service.
func NewSecurityService(repo SecurityEventRepository) SecurityService {
	return &securityService{repo: repo}
}

// LogEvent validates and persists a security event.
func (s *securityService) LogEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any) error {
	if eventType == "" {
		return apperror.NewValidation("event type is required")
	}

	event := &SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   details,
	}

	if err := s.repo.Log(ctx, event); err != nil {
		slog.Error("failed to log security event",
			slog.String("event_type", eventType),
			slog.String("ip", ip),
			slog.Any("error", err),
		)
		return apperror.NewUnavailable(fmt.Errorf("logging security event: %w", err))
	}

	return nil
}

// ListEvents returns a page of security events. Pages are 1-indexed and
// invalid page numbers are clamped to 1.
func (s *securityService) ListEvents(ctx context.Context, filter EventFilter, page int) (*EventPage, error) {
	if filter.EventType != "" && !knownEventType(filter.EventType) {
		return nil, apperror.NewValidation("unknown event type")
	}
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	events, total, err := s.repo.List(ctx, filter, perPage, offset)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("listing security events: %w", err))
	}

	return &EventPage{Events: events, Total: total, Page: page, PerPage: perPage}, nil
}

// Stats returns aggregate security counts.
func (s *securityService) Stats(ctx context.Context) (*SecurityStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("getting security stats: %w", err))
	}
	return stats, nil
}
