package auth

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// --- Password Hashing Tests ---

func TestHashAndVerifyPassword(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash("my-secure-password-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$") {
		t.Errorf("unexpected hash format: %s", hash)
	}
	if !h.Verify("my-secure-password-1", hash) {
		t.Error("expected password to verify")
	}
	if h.Verify("wrong-password-1", hash) {
		t.Error("expected wrong password to fail")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	h := testHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"bcrypt", "$2a$10$abcdefghijklmnopqrstuv"},
		{"wrong version", "$argon2id$v=16$m=64,t=1,p=1$c2FsdA$aGFzaA"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=64,t=1,p=1$!!!$aGFzaA"},
		{"empty key", "$argon2id$v=19$m=64,t=1,p=1$c2FsdA$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Verify("password", tt.hash) {
				t.Error("expected malformed hash to fail")
			}
		})
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	h := testHasher()

	hash1, _ := h.Hash("same-password-1")
	hash2, _ := h.Hash("same-password-1")
	if hash1 == hash2 {
		t.Error("expected different hashes for the same password (unique salts)")
	}
}

func TestVerifyPassword_ParamsTravelWithHash(t *testing.T) {
	cheap := testHasher()
	hash, err := cheap.Hash("portable-pass-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A hasher configured with other costs still verifies old hashes.
	other := &Argon2Hasher{time: 2, memory: 128, threads: 2}
	if !other.Verify("portable-pass-1", hash) {
		t.Error("expected hash to verify with its embedded parameters")
	}
}

// --- Password Policy Tests ---

func TestPasswordPolicy_Allows(t *testing.T) {
	p := DefaultPasswordPolicy(8)

	tests := []struct {
		password string
		want     bool
	}{
		{"Str0ngPass!", true},
		{"abcdefg1", true},
		{"abcdef1", false},
		{"abcdefgh", false},
		{"12345678", false},
		{"pässwörd1", true},
	}

	for _, tt := range tests {
		if got := p.Allows(tt.password); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}

func TestInputValidator_Messages(t *testing.T) {
	iv := newInputValidator(DefaultPasswordPolicy(8))

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"required", LoginInput{Password: "x"}, "email is required"},
		{"email", LoginInput{Email: "nope", Password: "x"}, "email must be a valid email address"},
		{"password policy", RegisterInput{Email: "a@example.com", Password: "short"},
			"password must be at least 8 characters and contain a letter and a digit"},
		{"len", VerifyResetOTPInput{Email: "a@example.com", Code: "123"}, "code must be exactly 6 characters"},
		{"nefield", ChangePasswordInput{CurrentPassword: "Str0ngPass!", NewPassword: "Str0ngPass!"},
			"new_password must differ from the current password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := iv.check(tt.input)
			assertAppError(t, err, http.StatusBadRequest)
			if msg := apperror.SafeMessage(err); msg != tt.want {
				t.Errorf("expected message %q, got %q", tt.want, msg)
			}
		})
	}
}

// --- Metrics Tests ---

func TestMetrics_RecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t)
	env.svc.metrics = NewMetrics(reg)

	env.svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "whatever"}, RequestContext{})
	env.register(t, "alice@example.com")

	if got := testutil.ToFloat64(env.svc.metrics.operations.WithLabelValues("login", apperror.KindAuthentication)); got != 1 {
		t.Errorf("expected 1 failed login, got %v", got)
	}
	if got := testutil.ToFloat64(env.svc.metrics.operations.WithLabelValues("register", "success")); got != 1 {
		t.Errorf("expected 1 registration, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	res := apperror.OK(http.StatusOK, nil)
	if got := m.track("login").end(res); got.StatusCode != http.StatusOK {
		t.Error("expected result to pass through")
	}
}
