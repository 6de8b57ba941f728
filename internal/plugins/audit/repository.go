package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// SecurityEventRepository defines the data access contract for security
// events. All SQL lives in the concrete implementation -- no SQL leaks out.
type SecurityEventRepository interface {
	// Log inserts a new security event.
	Log(ctx context.Context, event *SecurityEvent) error

	// List returns events most recent first, with the total matching count.
	// An empty filter field matches everything.
	List(ctx context.Context, filter EventFilter, limit, offset int) ([]SecurityEvent, int, error)

	// Stats returns aggregate counts over the last 24 hours.
	Stats(ctx context.Context) (*SecurityStats, error)
}

// EventFilter narrows List.
type EventFilter struct {
	EventType string
	UserID    string
}

// where renders the filter as a WHERE clause with its arguments.
func (f EventFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// securityEventRepository implements SecurityEventRepository with MariaDB.
type securityEventRepository struct {
	db *sql.DB
}

// NewSecurityEventRepository creates a new repository backed by the given DB.
func NewSecurityEventRepository(db *sql.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

// Log inserts a new security event. Details are serialized to JSON; empty
// strings and nil details are stored as NULL.
func (r *securityEventRepository) Log(ctx context.Context, event *SecurityEvent) error {
	query := `INSERT INTO security_events (event_type, user_id, email, ip_address, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling security event details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		event.EventType,
		nullable(event.UserID),
		nullable(event.Email),
		nullable(event.IPAddress),
		nullable(truncate(event.UserAgent, 500)),
		detailsJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, _ := result.LastInsertId()
	event.ID = id
	return nil
}

// List returns a page of security events.
func (r *securityEventRepository) List(ctx context.Context, filter EventFilter, limit, offset int) ([]SecurityEvent, int, error) {
	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT id, event_type, COALESCE(user_id, ''), COALESCE(email, ''),
	                 COALESCE(ip_address, ''), COALESCE(user_agent, ''), details, created_at
	          FROM security_events` + where + `
	          ORDER BY created_at DESC, id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	events := make([]SecurityEvent, 0, limit)
	for rows.Next() {
		var e SecurityEvent
		var detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.UserID, &e.Email,
			&e.IPAddress, &e.UserAgent, &detailsJSON, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}

		if detailsJSON.Valid && detailsJSON.String != "" {
			if jsonErr := json.Unmarshal([]byte(detailsJSON.String), &e.Details); jsonErr != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		e.Label = EventTypeLabel(e.EventType)

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}

	return events, total, nil
}

// Stats returns aggregate security counts.
func (r *securityEventRepository) Stats(ctx context.Context) (*SecurityStats, error) {
	stats := &SecurityStats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT
	              COALESCE(SUM(event_type = ?), 0),
	              COALESCE(SUM(event_type = ?), 0),
	              COALESCE(SUM(event_type = ?), 0),
	              COUNT(DISTINCT ip_address)
	          FROM security_events
	          WHERE created_at >= DATE_SUB(UTC_TIMESTAMP(), INTERVAL 24 HOUR)`
	if err := r.db.QueryRowContext(ctx, query,
		auth.EventLoginFailed, auth.EventLoginSuccess, auth.EventPasswordResetCompleted,
	).Scan(
		&stats.FailedLogins24h, &stats.SuccessfulLogins24h, &stats.PasswordResets24h, &stats.UniqueIPs24h,
	); err != nil {
		return nil, fmt.Errorf("counting recent security events: %w", err)
	}

	return stats, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncate cuts s to at most n runes to fit its column.
func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
