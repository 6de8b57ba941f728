package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// Redis key prefixes for session data.
const (
	sessionKeyPrefix    = "session:"
	sessionGenKeyPrefix = "session_gen:"
)

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, base64url-encoded to 43 characters.
const sessionTokenBytes = 32

// errSessionInvalid is the single error every rejected token collapses to.
func errSessionInvalid() error {
	return apperror.NewUnauthorized("session expired or invalid")
}

// SessionManager issues, validates and revokes opaque session tokens.
type SessionManager interface {
	// Issue creates a session for userID and returns its token.
	Issue(ctx context.Context, userID string, meta SessionMetadata) (string, error)

	// Validate returns the owning user ID of a live token. Unknown, expired
	// and revoked tokens all fail with the same Authentication error.
	Validate(ctx context.Context, token string) (string, error)

	// Revoke deletes the session. Unknown tokens are a no-op.
	Revoke(ctx context.Context, token string) error

	// RevokeAllForUser invalidates every session of userID except
	// exceptToken, when non-empty and owned by the same user.
	RevokeAllForUser(ctx context.Context, userID, exceptToken string) error
}

// issueSessionScript snapshots the user's generation counter and writes
// the session hash in one step, so a concurrent revoke-all either happens
// entirely before (the session carries the new generation) or entirely
// after (the session is invalidated by the bump).
//
// KEYS[1] session key, KEYS[2] generation key.
// ARGV: user_id, issued_at ms, expires_at ms, ip, user agent, ttl ms.
var issueSessionScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if gen then
	redis.call('PEXPIRE', KEYS[2], ARGV[6])
else
	gen = '0'
end
redis.call('HSET', KEYS[1],
	'user_id', ARGV[1],
	'generation', gen,
	'issued_at', ARGV[2],
	'expires_at', ARGV[3],
	'ip_address', ARGV[4],
	'user_agent', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return gen
`)

// revokeAllScript bumps the user's generation counter and, if a session to
// keep was named, belongs to the user and is still live at the old
// generation, re-stamps it with the new value. A session already revoked
// by an earlier sweep stays revoked.
//
// KEYS[1] generation key, KEYS[2] (optional) session key to keep.
// ARGV: user_id, ttl ms.
var revokeAllScript = redis.NewScript(`
local old = redis.call('GET', KEYS[1]) or '0'
local gen = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if #KEYS == 2 then
	local kept = redis.call('HMGET', KEYS[2], 'user_id', 'generation')
	if kept[1] == ARGV[1] and kept[2] == old then
		redis.call('HSET', KEYS[2], 'generation', gen)
	end
end
return gen
`)

// RedisSessionManager implements SessionManager on Redis. Each session is a
// hash under session:<sha256(token)> with the session TTL; each user has a
// generation counter under session_gen:<user_id> that outlives its
// sessions. The raw token is never stored.
type RedisSessionManager struct {
	redis redis.UniversalClient
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisSessionManager creates a session manager with the given lifetime.
func NewRedisSessionManager(rdb redis.UniversalClient, ttl time.Duration) *RedisSessionManager {
	return &RedisSessionManager{
		redis: rdb,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Issue generates a fresh random token and stores the session.
func (m *RedisSessionManager) Issue(ctx context.Context, userID string, meta SessionMetadata) (string, error) {
	token, err := generateToken(sessionTokenBytes)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating session token: %w", err))
	}

	now := m.now().UTC()
	err = issueSessionScript.Run(ctx, m.redis,
		[]string{sessionKey(token), sessionGenKey(userID)},
		userID,
		now.UnixMilli(),
		now.Add(m.ttl).UnixMilli(),
		meta.IPAddress,
		meta.UserAgent,
		m.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return "", apperror.NewUnavailable(fmt.Errorf("storing session: %w", err))
	}

	return token, nil
}

// Validate resolves a token to its user ID. The reason for a rejection is
// logged at debug level only.
func (m *RedisSessionManager) Validate(ctx context.Context, token string) (string, error) {
	session, current, err := m.load(ctx, token)
	if err != nil {
		return "", err
	}

	reason := ""
	switch {
	case session == nil:
		reason = "not found"
	case !m.now().Before(session.ExpiresAt):
		reason = "expired"
	case session.Generation != current:
		reason = "revoked"
	}
	if reason != "" {
		slog.Debug("session rejected", slog.String("reason", reason))
		return "", errSessionInvalid()
	}

	return session.UserID, nil
}

// Revoke deletes the session. Deleting a missing key is not an error.
func (m *RedisSessionManager) Revoke(ctx context.Context, token string) error {
	if err := m.redis.Del(ctx, sessionKey(token)).Err(); err != nil {
		return apperror.NewUnavailable(fmt.Errorf("deleting session: %w", err))
	}
	return nil
}

// RevokeAllForUser bumps the generation counter. Sessions carrying an older
// generation fail Validate from then on and expire out of Redis on their
// own TTL.
func (m *RedisSessionManager) RevokeAllForUser(ctx context.Context, userID, exceptToken string) error {
	keys := []string{sessionGenKey(userID)}
	if exceptToken != "" {
		keys = append(keys, sessionKey(exceptToken))
	}

	if err := revokeAllScript.Run(ctx, m.redis, keys, userID, m.ttl.Milliseconds()).Err(); err != nil {
		return apperror.NewUnavailable(fmt.Errorf("revoking sessions: %w", err))
	}
	return nil
}

// load reads the session record and the owner's current generation as one
// snapshot. The owner is learned from a first read; the record and the
// counter are then read together in MULTI so a concurrent revoke-all is
// seen either wholly or not at all. A nil session means the key does not
// exist.
func (m *RedisSessionManager) load(ctx context.Context, token string) (*Session, int64, error) {
	key := sessionKey(token)

	userID, err := m.redis.HGet(ctx, key, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, apperror.NewUnavailable(fmt.Errorf("reading session: %w", err))
	}

	var (
		fieldsCmd *redis.MapStringStringCmd
		genCmd    *redis.StringCmd
	)
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, key)
		genCmd = pipe.Get(ctx, sessionGenKey(userID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, apperror.NewUnavailable(fmt.Errorf("reading session: %w", err))
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, 0, nil
	}
	session, err := decodeSession(fields)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("decoding session: %w", err))
	}
	if session.UserID != userID {
		return nil, 0, nil
	}

	current, err := genCmd.Int64()
	if errors.Is(err, redis.Nil) {
		current = 0
	} else if err != nil {
		return nil, 0, apperror.NewUnavailable(fmt.Errorf("reading session generation: %w", err))
	}

	return session, current, nil
}

// decodeSession parses the Redis hash written by issueSessionScript.
func decodeSession(fields map[string]string) (*Session, error) {
	gen, err := strconv.ParseInt(fields["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}
	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	if fields["user_id"] == "" {
		return nil, errors.New("missing user_id")
	}

	return &Session{
		UserID:     fields["user_id"],
		Generation: gen,
		IssuedAt:   time.UnixMilli(issued).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		IPAddress:  fields["ip_address"],
		UserAgent:  fields["user_agent"],
	}, nil
}

func sessionKey(token string) string {
	return sessionKeyPrefix + hashSecret(token)
}

func sessionGenKey(userID string) string {
	return sessionGenKeyPrefix + userID
}

// generateToken returns n random bytes, base64url-encoded without padding.
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashSecret returns the hex SHA-256 of a token or code. Only hashes are
// ever written to Redis.
func hashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
