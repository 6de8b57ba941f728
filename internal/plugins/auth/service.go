package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/portal/internal/apperror"
	"github.com/keyxmakerx/portal/internal/sanitize"
)

// defaultBackgroundTimeout bounds a detached side effect (code delivery,
// audit write) when Options leaves it unset.
const defaultBackgroundTimeout = 30 * time.Second

// genericLoginFailure is the only message a failed login ever returns.
const genericLoginFailure = "invalid email or password"

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the stores directly.
// Every operation returns the {statusCode, body} envelope the HTTP adapter
// forwards verbatim.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput, rc RequestContext) apperror.Result
	Login(ctx context.Context, input LoginInput, rc RequestContext) apperror.Result
	Logout(ctx context.Context, rc RequestContext) apperror.Result
	ForgotPassword(ctx context.Context, input ForgotPasswordInput, rc RequestContext) apperror.Result
	VerifyResetOTP(ctx context.Context, input VerifyResetOTPInput) apperror.Result
	ResetPassword(ctx context.Context, input ResetPasswordInput, rc RequestContext) apperror.Result
	GetMe(ctx context.Context, uc UserContext) apperror.Result
	UpdateMe(ctx context.Context, input UpdateProfileInput, uc UserContext) apperror.Result
	ChangePassword(ctx context.Context, input ChangePasswordInput, uc UserContext) apperror.Result
	RegisterAdmin(ctx context.Context, input RegisterInput, rc RequestContext) apperror.Result

	// Authenticate resolves a session token into the caller's context. The
	// session must be live and its user must exist and be active.
	Authenticate(ctx context.Context, token string) (*UserContext, error)

	// Shutdown waits for in-flight background work (code delivery, audit
	// writes) or until ctx is done.
	Shutdown(ctx context.Context) error
}

// Deps are the collaborators of the auth service. Sender, Events and
// Metrics are optional.
type Deps struct {
	Users    CredentialStore
	Hasher   PasswordHasher
	Sessions SessionManager
	OTPs     OtpChallengeStore
	Sender   CodeSender
	Events   EventLogger
	Metrics  *Metrics
}

// Options are the tunables of the auth service.
type Options struct {
	// BootstrapSecret is the pre-shared elevation credential accepted by
	// register-admin. Empty disables the secret path.
	BootstrapSecret string

	// Policy is the password strength rule for new passwords.
	Policy PasswordPolicy

	// OTPTTL is reported to the code sender so the message can say how
	// long the code lasts.
	OTPTTL time.Duration

	// BackgroundTimeout bounds each detached side effect.
	BackgroundTimeout time.Duration
}

// authService implements AuthService on top of the three stores.
type authService struct {
	users    CredentialStore
	hasher   PasswordHasher
	sessions SessionManager
	otps     OtpChallengeStore
	sender   CodeSender
	events   EventLogger
	metrics  *Metrics

	validator       *inputValidator
	bootstrapSecret string
	otpTTL          time.Duration

	// dummyHash is verified against when the login email is unknown so the
	// response takes as long as a real password check.
	dummyHash string

	bg  *background
	now func() time.Time
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(deps Deps, opts Options) AuthService {
	timeout := opts.BackgroundTimeout
	if timeout <= 0 {
		timeout = defaultBackgroundTimeout
	}

	dummy, err := deps.Hasher.Hash(uuid.NewString())
	if err != nil {
		slog.Warn("failed to prepare login timing hash", slog.Any("error", err))
	}

	return &authService{
		users:           deps.Users,
		hasher:          deps.Hasher,
		sessions:        deps.Sessions,
		otps:            deps.OTPs,
		sender:          deps.Sender,
		events:          deps.Events,
		metrics:         deps.Metrics,
		validator:       newInputValidator(opts.Policy),
		bootstrapSecret: opts.BootstrapSecret,
		otpTTL:          opts.OTPTTL,
		dummyHash:       dummy,
		bg:              &background{timeout: timeout},
		now:             time.Now,
	}
}

// --- Public operations ---

// Register creates a user with role "user" and signs them in.
func (s *authService) Register(ctx context.Context, input RegisterInput, rc RequestContext) apperror.Result {
	t := s.metrics.track("register")

	payload, err := s.register(ctx, input, rc, RoleUser)
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	s.logEvent(ctx, EventRegisterSuccess, payload.User.ID, payload.User.Email, rc, nil)
	return t.end(apperror.OK(http.StatusCreated, payload))
}

// Login authenticates by email and password and issues a new session. An
// unknown email, a disabled account and a wrong password are
// indistinguishable to the caller.
func (s *authService) Login(ctx context.Context, input LoginInput, rc RequestContext) apperror.Result {
	t := s.metrics.track("login")

	input.Email = normalizeEmail(input.Email)
	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if !apperror.Is(err, apperror.KindNotFound) {
			return t.end(apperror.Fail(err))
		}
		// Burn the same time a real check would.
		s.hasher.Verify(input.Password, s.dummyHash)
		s.logEvent(ctx, EventLoginFailed, "", input.Email, rc, map[string]any{"reason": "unknown_email"})
		return t.end(apperror.Fail(apperror.NewUnauthorized(genericLoginFailure)))
	}

	// Verify before checking status so disabled accounts cost the same.
	passwordOK := s.hasher.Verify(input.Password, user.PasswordHash)
	if !passwordOK || !user.IsActive() {
		reason := "bad_password"
		if passwordOK {
			reason = "disabled"
		}
		s.logEvent(ctx, EventLoginFailed, user.ID, user.Email, rc, map[string]any{"reason": reason})
		return t.end(apperror.Fail(apperror.NewUnauthorized(genericLoginFailure)))
	}

	token, err := s.sessions.Issue(ctx, user.ID, sessionMetadata(rc))
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	// Non-critical; a failure here must not fail the login.
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	} else {
		now := s.now().UTC()
		user.LastLoginAt = &now
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	s.logEvent(ctx, EventLoginSuccess, user.ID, user.Email, rc, nil)

	return t.end(apperror.OK(http.StatusOK, &AuthPayload{User: user, Token: token}))
}

// Logout revokes exactly the presented session. Revoking an unknown or
// already revoked token still succeeds.
func (s *authService) Logout(ctx context.Context, rc RequestContext) apperror.Result {
	t := s.metrics.track("logout")

	if rc.Token == "" {
		return t.end(apperror.Fail(apperror.NewUnauthorized("authentication required")))
	}
	if err := s.sessions.Revoke(ctx, rc.Token); err != nil {
		return t.end(apperror.Fail(err))
	}

	var userID, email string
	if rc.User != nil {
		userID, email = rc.User.UserID, rc.User.Email
	}
	s.logEvent(ctx, EventLogout, userID, email, rc, nil)

	return t.end(apperror.OK(http.StatusOK, nil))
}

// ForgotPassword issues a reset code for an active account and hands it to
// the sender in the background. The response is the same success whether
// or not the account exists, and delivery failures never reach the caller.
func (s *authService) ForgotPassword(ctx context.Context, input ForgotPasswordInput, rc RequestContext) apperror.Result {
	t := s.metrics.track("forgot_password")

	input.Email = normalizeEmail(input.Email)
	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if !apperror.Is(err, apperror.KindNotFound) {
			return t.end(apperror.Fail(err))
		}
		slog.Debug("password reset requested for unknown email")
		return t.end(apperror.OK(http.StatusOK, nil))
	}
	if !user.IsActive() {
		slog.Debug("password reset requested for disabled account", slog.String("user_id", user.ID))
		return t.end(apperror.OK(http.StatusOK, nil))
	}

	code, err := s.otps.Issue(ctx, user.Email, PurposePasswordReset)
	if err != nil {
		slog.Error("failed to issue reset code",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return t.end(apperror.OK(http.StatusOK, nil))
	}

	if s.sender != nil {
		email, ttl := user.Email, s.otpTTL
		s.bg.Go(ctx, "send_reset_code", func(ctx context.Context) error {
			return s.sender.SendResetCode(ctx, email, code, ttl)
		})
	} else {
		slog.Warn("no code sender configured, reset code not delivered", slog.String("user_id", user.ID))
	}

	s.logEvent(ctx, EventPasswordResetInitiated, user.ID, user.Email, rc, nil)
	return t.end(apperror.OK(http.StatusOK, nil))
}

// VerifyResetOTP exchanges a correct code for a short-lived proof that
// scopes the following reset to this challenge.
func (s *authService) VerifyResetOTP(ctx context.Context, input VerifyResetOTPInput) apperror.Result {
	t := s.metrics.track("verify_reset_otp")

	input.Email = normalizeEmail(input.Email)
	input.Code = strings.TrimSpace(input.Code)
	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	outcome, proof, err := s.otps.Verify(ctx, input.Email, PurposePasswordReset, input.Code)
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	switch outcome {
	case OutcomeVerified:
		s.logEvent(ctx, EventPasswordResetVerified, "", input.Email, RequestContext{}, nil)
		return t.end(apperror.OK(http.StatusOK, &ProofPayload{Proof: proof}))
	case OutcomeExpired:
		return t.end(apperror.Fail(apperror.NewOTPExpired("reset code has expired, request a new one")))
	case OutcomeLocked:
		return t.end(apperror.Fail(apperror.NewOTPLocked("too many incorrect attempts, request a new code")))
	default:
		return t.end(apperror.Fail(apperror.NewOTPInvalid("reset code is invalid")))
	}
}

// ResetPassword sets a new password using the proof from VerifyResetOTP,
// consumes the challenge and revokes every session of the user.
func (s *authService) ResetPassword(ctx context.Context, input ResetPasswordInput, rc RequestContext) apperror.Result {
	t := s.metrics.track("reset_password")

	input.Email = normalizeEmail(input.Email)
	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			err = apperror.NewOTPInvalid("reset code is invalid or has already been used")
		}
		return t.end(apperror.Fail(err))
	}
	if !user.IsActive() {
		return t.end(apperror.Fail(apperror.NewOTPInvalid("reset code is invalid or has already been used")))
	}

	// Hash first so a hashing failure doesn't burn the proof.
	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return t.end(apperror.Fail(apperror.NewInternal(fmt.Errorf("hashing password: %w", err))))
	}

	if err := s.otps.Consume(ctx, user.Email, PurposePasswordReset, input.Proof); err != nil {
		return t.end(apperror.Fail(err))
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return t.end(apperror.Fail(err))
	}
	if err := s.sessions.RevokeAllForUser(ctx, user.ID, ""); err != nil {
		slog.Error("password reset but sessions not revoked",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return t.end(apperror.Fail(err))
	}

	slog.Info("password reset completed", slog.String("user_id", user.ID))
	s.logEvent(ctx, EventPasswordResetCompleted, user.ID, user.Email, rc, nil)

	return t.end(apperror.OK(http.StatusOK, nil))
}

// GetMe returns the caller's current profile.
func (s *authService) GetMe(ctx context.Context, uc UserContext) apperror.Result {
	t := s.metrics.track("get_me")

	user, err := s.activeUser(ctx, uc.UserID)
	if err != nil {
		return t.end(apperror.Fail(err))
	}
	return t.end(apperror.OK(http.StatusOK, &UserPayload{User: user}))
}

// UpdateMe changes the caller's display name, avatar URL or bio.
func (s *authService) UpdateMe(ctx context.Context, input UpdateProfileInput, uc UserContext) apperror.Result {
	t := s.metrics.track("update_me")

	if input.DisplayName == nil && input.AvatarURL == nil && input.Bio == nil {
		return t.end(apperror.Fail(apperror.NewValidation("no profile fields to update")))
	}
	input.DisplayName = sanitize.PlainTextPtr(input.DisplayName)
	input.AvatarURL = trimmed(input.AvatarURL)
	input.Bio = sanitize.PlainTextPtr(input.Bio)
	if input.DisplayName != nil && *input.DisplayName == "" {
		return t.end(apperror.Fail(apperror.NewValidation("display_name cannot be empty")))
	}
	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	user, err := s.activeUser(ctx, uc.UserID)
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	changed := make([]string, 0, 3)
	if input.DisplayName != nil {
		user.DisplayName = *input.DisplayName
		changed = append(changed, "display_name")
	}
	if input.AvatarURL != nil {
		user.AvatarURL = emptyToNil(*input.AvatarURL)
		changed = append(changed, "avatar_url")
	}
	if input.Bio != nil {
		user.Bio = emptyToNil(*input.Bio)
		changed = append(changed, "bio")
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			err = apperror.NewUnauthorized("session expired or invalid")
		}
		return t.end(apperror.Fail(err))
	}

	s.logEvent(ctx, EventProfileUpdated, user.ID, user.Email, RequestContext{}, map[string]any{"fields": changed})
	return t.end(apperror.OK(http.StatusOK, &UserPayload{User: user}))
}

// ChangePassword re-verifies the current password, stores the new one and
// revokes every other session of the caller. The session used for the
// change stays valid.
func (s *authService) ChangePassword(ctx context.Context, input ChangePasswordInput, uc UserContext) apperror.Result {
	t := s.metrics.track("change_password")

	if err := s.validator.check(input); err != nil {
		return t.end(apperror.Fail(err))
	}

	user, err := s.activeUser(ctx, uc.UserID)
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	if !s.hasher.Verify(input.CurrentPassword, user.PasswordHash) {
		return t.end(apperror.Fail(apperror.NewUnauthorized("current password is incorrect")))
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return t.end(apperror.Fail(apperror.NewInternal(fmt.Errorf("hashing password: %w", err))))
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return t.end(apperror.Fail(err))
	}
	if err := s.sessions.RevokeAllForUser(ctx, user.ID, uc.Token); err != nil {
		slog.Error("password changed but other sessions not revoked",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return t.end(apperror.Fail(err))
	}

	slog.Info("password changed", slog.String("user_id", user.ID))
	s.logEvent(ctx, EventPasswordChanged, user.ID, user.Email, RequestContext{}, nil)

	return t.end(apperror.OK(http.StatusOK, nil))
}

// RegisterAdmin creates a user with role "admin". The caller must present
// the bootstrap secret or be an authenticated admin. Authorization is
// checked before the input so unprivileged callers learn nothing from
// validation messages.
func (s *authService) RegisterAdmin(ctx context.Context, input RegisterInput, rc RequestContext) apperror.Result {
	t := s.metrics.track("register_admin")

	grantedBy, ok := s.elevation(rc)
	if !ok {
		slog.Warn("admin registration refused", slog.String("ip", rc.IPAddress))
		return t.end(apperror.Fail(apperror.NewForbidden("admin privileges or a valid bootstrap secret are required")))
	}

	payload, err := s.register(ctx, input, rc, RoleAdmin)
	if err != nil {
		return t.end(apperror.Fail(err))
	}

	slog.Info("admin registered",
		slog.String("user_id", payload.User.ID),
		slog.String("granted_by", grantedBy),
	)
	s.logEvent(ctx, EventAdminCreated, payload.User.ID, payload.User.Email, rc, map[string]any{"granted_by": grantedBy})

	return t.end(apperror.OK(http.StatusCreated, payload))
}

// Authenticate resolves a session token into a user context.
func (s *authService) Authenticate(ctx context.Context, token string) (*UserContext, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	userID, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserContext{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Token:  token,
	}, nil
}

// Shutdown waits for background work to drain.
func (s *authService) Shutdown(ctx context.Context) error {
	return s.bg.Wait(ctx)
}

// --- Helpers ---

// register validates input, creates the user and issues their first
// session. Shared by Register and RegisterAdmin.
func (s *authService) register(ctx context.Context, input RegisterInput, rc RequestContext, role Role) (*AuthPayload, error) {
	input.Email = normalizeEmail(input.Email)
	input.DisplayName = sanitize.PlainText(input.DisplayName)
	if err := s.validator.check(input); err != nil {
		return nil, err
	}

	// Cheap pre-check before the expensive hash. The unique index still
	// decides races between concurrent registrations.
	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return nil, apperror.NewConflict("an account with this email already exists")
	} else if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	displayName := input.DisplayName
	if displayName == "" {
		displayName = defaultDisplayName(input.Email)
	}

	now := s.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         role,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(ctx, user.ID, sessionMetadata(rc))
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("role", string(user.Role)),
	)

	return &AuthPayload{User: user, Token: token}, nil
}

// activeUser loads the user behind an authenticated context. A user that
// has vanished or been disabled since the session was issued is treated
// as an invalid session.
func (s *authService) activeUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.NewUnauthorized("session expired or invalid")
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	return user, nil
}

// elevation reports whether rc may create an admin, and on whose authority.
func (s *authService) elevation(rc RequestContext) (string, bool) {
	if s.bootstrapSecret != "" && rc.BootstrapSecret != "" &&
		subtle.ConstantTimeCompare([]byte(rc.BootstrapSecret), []byte(s.bootstrapSecret)) == 1 {
		return "bootstrap_secret", true
	}
	if rc.User != nil && rc.User.Role == RoleAdmin {
		return rc.User.UserID, true
	}
	return "", false
}

// logEvent writes a security event in the background. No-op without an
// event logger.
func (s *authService) logEvent(ctx context.Context, eventType, userID, email string, rc RequestContext, details map[string]any) {
	if s.events == nil {
		return
	}
	s.bg.Go(ctx, "audit:"+eventType, func(ctx context.Context) error {
		return s.events.LogEvent(ctx, eventType, userID, email, rc.IPAddress, rc.UserAgent, details)
	})
}

func sessionMetadata(rc RequestContext) SessionMetadata {
	return SessionMetadata{IPAddress: rc.IPAddress, UserAgent: rc.UserAgent}
}

// normalizeEmail lower-cases and trims, which is what makes email
// uniqueness case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// defaultDisplayName derives a display name from the local part of email.
func defaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if r := []rune(local); len(r) > 100 {
		local = string(r[:100])
	}
	return local
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
