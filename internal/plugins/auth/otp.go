package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portal/internal/apperror"
)

const (
	otpKeyPrefix = "otp:"

	// otpCodeDigits is the length of a delivered code. Six digits give a
	// one-in-a-million guess per attempt; the attempt cap does the rest.
	otpCodeDigits = 6

	// otpProofBytes is the entropy of the proof returned after a verify.
	otpProofBytes = 32

	// otpExpiredGrace keeps a challenge in Redis past its expiry so late
	// attempts report "expired" instead of "no such challenge".
	otpExpiredGrace = 15 * time.Minute

	// otpMaxTxRetries bounds optimistic-lock retries per call.
	otpMaxTxRetries = 4
)

// OtpChallengeStore issues and checks one-time reset codes per
// (email, purpose).
type OtpChallengeStore interface {
	// Issue replaces any prior challenge for the key with a fresh one and
	// returns the plaintext code for delivery.
	Issue(ctx context.Context, email, purpose string) (string, error)

	// Verify checks code against the active challenge. On OutcomeVerified
	// the returned proof scopes the following Consume to this challenge.
	// Only an issued challenge can be verified, and only once.
	// The error is reserved for store failures.
	Verify(ctx context.Context, email, purpose, code string) (VerifyOutcome, string, error)

	// Consume marks a verified challenge used, given the proof from Verify.
	// It fails OtpInvalid or OtpExpired; a second call always fails.
	Consume(ctx context.Context, email, purpose, proof string) error
}

// RedisOTPStore implements OtpChallengeStore on Redis. Each challenge is a
// JSON record under otp:<purpose>:<email>. Verify and Consume run as
// WATCH/MULTI transactions on that key so concurrent attempts serialize
// and no attempt increment is lost.
type RedisOTPStore struct {
	redis       redis.UniversalClient
	ttl         time.Duration
	proofTTL    time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewRedisOTPStore creates a challenge store. ttl bounds the life of a code,
// proofTTL the window between verify and reset, and maxAttempts the number
// of wrong codes that lock a challenge.
func NewRedisOTPStore(rdb redis.UniversalClient, ttl, proofTTL time.Duration, maxAttempts int) *RedisOTPStore {
	return &RedisOTPStore{
		redis:       rdb,
		ttl:         ttl,
		proofTTL:    proofTTL,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Issue overwrites the key, which is what invalidates any earlier code.
func (s *RedisOTPStore) Issue(ctx context.Context, email, purpose string) (string, error) {
	code, err := generateNumericCode(otpCodeDigits)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating otp code: %w", err))
	}

	now := s.now().UTC()
	challenge := &OTPChallenge{
		CodeHash:  hashSecret(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		State:     ChallengeIssued,
	}
	data, err := json.Marshal(challenge)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("encoding otp challenge: %w", err))
	}

	if err := s.redis.Set(ctx, otpKey(email, purpose), data, s.ttl+otpExpiredGrace).Err(); err != nil {
		return "", apperror.NewUnavailable(fmt.Errorf("storing otp challenge: %w", err))
	}

	return code, nil
}

// Verify applies one attempt. Checks run in a fixed order: missing or
// consumed, locked, expired, then the code itself. A wrong code bumps the
// attempt counter and locks the challenge once the counter reaches the cap;
// a locked challenge rejects even the right code.
func (s *RedisOTPStore) Verify(ctx context.Context, email, purpose, code string) (VerifyOutcome, string, error) {
	var (
		outcome VerifyOutcome
		proof   string
	)

	err := s.update(ctx, otpKey(email, purpose), func(c *OTPChallenge) (bool, error) {
		proof = ""
		now := s.now()

		switch {
		// A verified challenge already has a live proof; it is neither
		// re-issued nor exposed to lockout.
		case c == nil || c.State == ChallengeConsumed || c.State == ChallengeVerified:
			outcome = OutcomeMismatch
			return false, nil
		case c.State == ChallengeLocked:
			outcome = OutcomeLocked
			return false, nil
		case !now.Before(c.ExpiresAt):
			outcome = OutcomeExpired
			return false, nil
		}

		if subtle.ConstantTimeCompare([]byte(hashSecret(code)), []byte(c.CodeHash)) != 1 {
			c.Attempts++
			outcome = OutcomeMismatch
			if c.Attempts >= s.maxAttempts {
				c.State = ChallengeLocked
				outcome = OutcomeLocked
			}
			return true, nil
		}

		p, err := generateToken(otpProofBytes)
		if err != nil {
			return false, apperror.NewInternal(fmt.Errorf("generating reset proof: %w", err))
		}
		proof = p
		outcome = OutcomeVerified
		c.State = ChallengeVerified
		c.ProofHash = hashSecret(p)
		c.ProofExpiresAt = now.Add(s.proofTTL)
		if c.ProofExpiresAt.After(c.ExpiresAt) {
			c.ProofExpiresAt = c.ExpiresAt
		}
		return true, nil
	})
	if err != nil {
		return OutcomeMismatch, "", err
	}

	return outcome, proof, nil
}

// Consume moves a verified challenge to consumed. The record stays in Redis
// until its TTL so replays keep failing.
func (s *RedisOTPStore) Consume(ctx context.Context, email, purpose, proof string) error {
	var failure error

	err := s.update(ctx, otpKey(email, purpose), func(c *OTPChallenge) (bool, error) {
		failure = nil
		now := s.now()

		switch {
		case c == nil || c.State != ChallengeVerified:
			failure = apperror.NewOTPInvalid("reset code is invalid or has already been used")
			return false, nil
		case !now.Before(c.ExpiresAt) || !now.Before(c.ProofExpiresAt):
			failure = apperror.NewOTPExpired("reset code has expired")
			return false, nil
		case subtle.ConstantTimeCompare([]byte(hashSecret(proof)), []byte(c.ProofHash)) != 1:
			failure = apperror.NewOTPInvalid("reset code is invalid or has already been used")
			return false, nil
		}

		c.State = ChallengeConsumed
		c.ProofHash = ""
		return true, nil
	})
	if err != nil {
		return err
	}

	return failure
}

// update runs fn against the challenge under WATCH and writes it back in a
// MULTI when fn reports a change. The remaining TTL is preserved. A
// concurrent writer aborts the transaction and the whole read-modify-write
// is retried.
func (s *RedisOTPStore) update(ctx context.Context, key string, fn func(c *OTPChallenge) (bool, error)) error {
	for range otpMaxTxRetries {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			challenge, ttl, err := readChallenge(ctx, tx, key)
			if err != nil {
				return err
			}

			changed, err := fn(challenge)
			if err != nil || !changed {
				return err
			}

			data, err := json.Marshal(challenge)
			if err != nil {
				return fmt.Errorf("encoding otp challenge: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return err
			}
			return apperror.NewUnavailable(fmt.Errorf("updating otp challenge: %w", err))
		}
		return nil
	}

	return apperror.NewUnavailable(fmt.Errorf("updating otp challenge: too much contention on %s", key))
}

// readChallenge loads the record and its remaining TTL inside a WATCH.
// A missing key yields a nil challenge.
func readChallenge(ctx context.Context, tx *redis.Tx, key string) (*OTPChallenge, time.Duration, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	ttl, err := tx.PTTL(ctx, key).Result()
	if err != nil {
		return nil, 0, err
	}
	if ttl <= 0 {
		// Key without expiry or already gone; fall back to the grace window.
		ttl = otpExpiredGrace
	}

	var challenge OTPChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("decoding otp challenge: %w", err))
	}
	return &challenge, ttl, nil
}

func otpKey(email, purpose string) string {
	return otpKeyPrefix + purpose + ":" + email
}

// generateNumericCode returns a uniformly random decimal string of n digits.
func generateNumericCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
