package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

func newMockRepo(t *testing.T) (SecurityEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSecurityEventRepository(db), mock
}

func TestSecurityEventRepository_Log(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WithArgs(auth.EventLoginFailed, nil, "alice@example.com", "203.0.113.7", nil,
			[]byte(`{"reason":"bad_password"}`), created).
		WillReturnResult(sqlmock.NewResult(42, 1))

	event := &SecurityEvent{
		EventType: auth.EventLoginFailed,
		Email:     "alice@example.com",
		IPAddress: "203.0.113.7",
		Details:   map[string]any{"reason": "bad_password"},
		CreatedAt: created,
	}
	require.NoError(t, repo.Log(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
}

func TestSecurityEventRepository_LogError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WillReturnError(errors.New("connection refused"))

	err := repo.Log(context.Background(), &SecurityEvent{EventType: auth.EventLogout})
	assert.ErrorContains(t, err, "inserting security event")
}

func TestSecurityEventRepository_ListFiltered(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM security_events WHERE event_type = ? AND user_id = ?")).
		WithArgs(auth.EventAdminCreated, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectQuery(regexp.QuoteMeta("FROM security_events WHERE event_type = ? AND user_id = ?")).
		WithArgs(auth.EventAdminCreated, "u1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "user_id", "email", "ip_address", "user_agent", "details", "created_at",
		}).
			AddRow(2, auth.EventAdminCreated, "u1", "root@example.com", "10.0.0.1", "curl/8", `{"granted_by":"bootstrap_secret"}`, created).
			AddRow(1, auth.EventAdminCreated, "u1", "root@example.com", "", "", "not json", created))

	events, total, err := repo.List(context.Background(), EventFilter{EventType: auth.EventAdminCreated, UserID: "u1"}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "Admin Created", events[0].Label)
	assert.Equal(t, "bootstrap_secret", events[0].Details["granted_by"])
	assert.Equal(t, "invalid JSON", events[1].Details["_parse_error"])
}

func TestSecurityEventRepository_ListUnfiltered(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM security_events")).
		WithArgs().
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WithArgs(50, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "user_id", "email", "ip_address", "user_agent", "details", "created_at",
		}))

	events, total, err := repo.List(context.Background(), EventFilter{}, 50, 100)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)
	assert.NotNil(t, events, "an empty page renders as [] not null")
}

func TestSecurityEventRepository_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM security_events")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(regexp.QuoteMeta("INTERVAL 24 HOUR")).
		WithArgs(auth.EventLoginFailed, auth.EventLoginSuccess, auth.EventPasswordResetCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"failed", "success", "resets", "ips"}).AddRow(7, 30, 2, 11))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SecurityStats{
		TotalEvents:         120,
		FailedLogins24h:     7,
		SuccessfulLogins24h: 30,
		PasswordResets24h:   2,
		UniqueIPs24h:        11,
	}, stats)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "éé", truncate("ééé", 2))
}
