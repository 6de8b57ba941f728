package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/portal/internal/apperror"
)

func newTestSessions(t *testing.T) (*RedisSessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionManager(rdb, time.Hour), mr
}

func TestSessions_IssueAndValidate(t *testing.T) {
	m, mr := newTestSessions(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "user-1", SessionMetadata{IPAddress: "203.0.113.7", UserAgent: "curl/8"})
	require.NoError(t, err)
	assert.Len(t, token, 43)

	userID, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// Only the hash of the token is stored.
	key := sessionKey(token)
	assert.True(t, mr.Exists(key))
	assert.False(t, mr.Exists(sessionKeyPrefix+token))
	assert.Equal(t, "203.0.113.7", mr.HGet(key, "ip_address"))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestSessions_TokensAreUnique(t *testing.T) {
	m, _ := newTestSessions(t)
	seen := make(map[string]bool)
	for range 50 {
		token, err := m.Issue(context.Background(), "user-1", SessionMetadata{})
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token issued")
		seen[token] = true
	}
}

func TestSessions_ValidateRejectsUniformly(t *testing.T) {
	m, mr := newTestSessions(t)
	ctx := context.Background()

	expired, err := m.Issue(ctx, "user-1", SessionMetadata{})
	require.NoError(t, err)
	revoked, err := m.Issue(ctx, "user-2", SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, m.RevokeAllForUser(ctx, "user-2", ""))

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, expiredErr := m.Validate(ctx, expired)
	m.now = time.Now

	_, unknownErr := m.Validate(ctx, "never-issued")
	_, revokedErr := m.Validate(ctx, revoked)

	for _, err := range []error{unknownErr, expiredErr, revokedErr} {
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.KindAuthentication))
		assert.Equal(t, unknownErr.Error(), err.Error())
	}

	mr.FastForward(2 * time.Hour)
	_, err = m.Validate(ctx, expired)
	assert.True(t, apperror.Is(err, apperror.KindAuthentication))
}

func TestSessions_RevokeIdempotent(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "user-1", SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, token))
	require.NoError(t, m.Revoke(ctx, token))
	require.NoError(t, m.Revoke(ctx, "never-issued"))

	_, err = m.Validate(ctx, token)
	assert.Error(t, err)
}

func TestSessions_RevokeAllForUser(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	a1, _ := m.Issue(ctx, "alice", SessionMetadata{})
	a2, _ := m.Issue(ctx, "alice", SessionMetadata{})
	b1, _ := m.Issue(ctx, "bob", SessionMetadata{})

	require.NoError(t, m.RevokeAllForUser(ctx, "alice", ""))

	_, err := m.Validate(ctx, a1)
	assert.Error(t, err)
	_, err = m.Validate(ctx, a2)
	assert.Error(t, err)
	_, err = m.Validate(ctx, b1)
	assert.NoError(t, err, "other users' sessions must survive")

	// Sessions issued after the bump carry the new generation.
	a3, _ := m.Issue(ctx, "alice", SessionMetadata{})
	_, err = m.Validate(ctx, a3)
	assert.NoError(t, err)
}

func TestSessions_RevokeAllKeepsException(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	keep, _ := m.Issue(ctx, "alice", SessionMetadata{})
	drop, _ := m.Issue(ctx, "alice", SessionMetadata{})

	require.NoError(t, m.RevokeAllForUser(ctx, "alice", keep))

	_, err := m.Validate(ctx, keep)
	assert.NoError(t, err)
	_, err = m.Validate(ctx, drop)
	assert.Error(t, err)

	// The kept session survives a second round too.
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", keep))
	_, err = m.Validate(ctx, keep)
	assert.NoError(t, err)
}

func TestSessions_RevokeAllIgnoresForeignException(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	mine, _ := m.Issue(ctx, "alice", SessionMetadata{})
	theirs, _ := m.Issue(ctx, "bob", SessionMetadata{})

	// Naming bob's token must not keep it or alice's sessions alive.
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", theirs))

	_, err := m.Validate(ctx, mine)
	assert.Error(t, err)
	_, err = m.Validate(ctx, theirs)
	assert.NoError(t, err)
}

func TestSessions_RevokeAllDoesNotReviveRevokedException(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	stale, _ := m.Issue(ctx, "alice", SessionMetadata{})
	current, _ := m.Issue(ctx, "alice", SessionMetadata{})

	// A password reset kills every session, then a later password change
	// from a session issued afterwards names the stale token as the one
	// to keep.
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", ""))
	fresh, err := m.Issue(ctx, "alice", SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", stale))

	_, err = m.Validate(ctx, stale)
	assert.True(t, apperror.Is(err, apperror.KindAuthentication))
	_, err = m.Validate(ctx, current)
	assert.Error(t, err)
	_, err = m.Validate(ctx, fresh)
	assert.Error(t, err)
}

func TestSessions_ValidateSeesKeptSessionAcrossRevokeAll(t *testing.T) {
	m, mr := newTestSessions(t)
	ctx := context.Background()

	keep, _ := m.Issue(ctx, "alice", SessionMetadata{})
	for i := 0; i < 5; i++ {
		require.NoError(t, m.RevokeAllForUser(ctx, "alice", keep))

		// The record and the counter move together.
		assert.Equal(t, mr.HGet(sessionKey(keep), "generation"), mustGet(t, mr, sessionGenKey("alice")))
		userID, err := m.Validate(ctx, keep)
		require.NoError(t, err)
		assert.Equal(t, "alice", userID)
	}
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestSessions_GenerationOutlivesSessions(t *testing.T) {
	m, mr := newTestSessions(t)
	ctx := context.Background()

	_, _ = m.Issue(ctx, "alice", SessionMetadata{})
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", ""))

	genKey := sessionGenKey("alice")
	assert.Equal(t, time.Hour, mr.TTL(genKey))

	mr.FastForward(30 * time.Minute)
	token, err := m.Issue(ctx, "alice", SessionMetadata{})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(genKey), "issue refreshes the counter TTL")

	_, err = m.Validate(ctx, token)
	assert.NoError(t, err)
}

func TestSessions_ConcurrentIssueAndRevokeAll(t *testing.T) {
	m, _ := newTestSessions(t)
	ctx := context.Background()

	before, err := m.Issue(ctx, "alice", SessionMetadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = m.RevokeAllForUser(ctx, "alice", "")
	}()
	var during string
	go func() {
		defer wg.Done()
		during, _ = m.Issue(ctx, "alice", SessionMetadata{})
	}()
	wg.Wait()

	_, err = m.Validate(ctx, before)
	assert.Error(t, err, "a session issued before the sweep must not survive it")

	// A racing issue lands wholly before or after the bump; after the
	// sweep, a second revoke-all always kills it.
	require.NoError(t, m.RevokeAllForUser(ctx, "alice", ""))
	_, err = m.Validate(ctx, during)
	assert.Error(t, err)

	after, err := m.Issue(ctx, "alice", SessionMetadata{})
	require.NoError(t, err)
	_, err = m.Validate(ctx, after)
	assert.NoError(t, err, "a session issued after the sweep must be valid")
}

func TestSessions_StoreUnavailable(t *testing.T) {
	m, mr := newTestSessions(t)
	mr.Close()

	_, err := m.Issue(context.Background(), "alice", SessionMetadata{})
	assert.True(t, apperror.Is(err, apperror.KindUnavailable))

	_, err = m.Validate(context.Background(), "token")
	assert.True(t, apperror.Is(err, apperror.KindUnavailable))
}
