// Package auth handles user authentication, session management and password
// security for Portal. It provides registration (including the privileged
// admin variant), login, logout, profile self-service, password change and
// the OTP-gated password reset flow. Sessions and reset challenges live in
// Redis; user records live in MariaDB.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is the binary privilege flag on a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Status is the account status. Users are never hard-deleted; disabling is
// the only way to shut an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// PurposePasswordReset tags OTP challenges issued by forgot-password.
const PurposePasswordReset = "password-reset"

// User represents a registered Portal user. This is the domain model used
// throughout the application. Database scanning and JSON marshaling use this
// struct directly.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	DisplayName  string     `json:"display_name"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	Bio          *string    `json:"bio,omitempty"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// IsAdmin reports whether the user carries the admin flag.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// --- Service Input DTOs (bound from JSON, validated by the service) ---

// RegisterInput is the input for register and register-admin.
type RegisterInput struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,password,max=128"`
	DisplayName string `json:"display_name" validate:"omitempty,min=2,max=100"`
}

// LoginInput is the input for authenticating a user.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// ForgotPasswordInput starts the reset flow.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// VerifyResetOTPInput exchanges a delivered code for a reset proof.
type VerifyResetOTPInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordInput completes the reset flow with the proof returned by
// verify-reset-otp.
type ResetPasswordInput struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Proof       string `json:"proof" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,password,max=128"`
}

// UpdateProfileInput carries the mutable profile fields. A nil field is left
// untouched; an empty AvatarURL or Bio clears it. Email and role are not
// part of this input and cannot be changed through it.
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=2,max=100"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,http_url,max=500"`
	Bio         *string `json:"bio" validate:"omitempty,max=1000"`
}

// ChangePasswordInput is the input for the self-service password change.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,password,max=128,nefield=CurrentPassword"`
}

// --- Caller context ---

// RequestContext describes the caller of an operation as seen by the
// adapter: the presented session token, client metadata and, for
// register-admin, the presented elevation credential.
type RequestContext struct {
	Token           string
	IPAddress       string
	UserAgent       string
	BootstrapSecret string

	// User is the resolved caller when the request carried a valid session.
	User *UserContext
}

// UserContext is an authenticated caller, resolved from a session token by
// Authenticate.
type UserContext struct {
	UserID string
	Email  string
	Role   Role

	// Token is the session token the caller authenticated with.
	Token string
}

// --- Response payloads ---

// AuthPayload is returned by register, login and register-admin.
type AuthPayload struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// UserPayload is returned by get-me and update-me.
type UserPayload struct {
	User *User `json:"user"`
}

// ProofPayload is returned by verify-reset-otp.
type ProofPayload struct {
	Proof string `json:"proof"`
}

// --- Session ---

// SessionMetadata is the optional client fingerprint attached to a session.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// Session is the record stored in Redis for a live session token.
type Session struct {
	UserID     string
	Generation int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	IPAddress  string
	UserAgent  string
}

// --- OTP ---

// ChallengeState is the reset state machine position of an OTP challenge.
// Expired is implicit: any state past its expiry is treated as expired.
type ChallengeState string

const (
	ChallengeIssued   ChallengeState = "issued"
	ChallengeVerified ChallengeState = "verified"
	ChallengeLocked   ChallengeState = "locked"
	ChallengeConsumed ChallengeState = "consumed"
)

// VerifyOutcome is the result of checking a code against a challenge.
type VerifyOutcome int

const (
	// OutcomeVerified means the code matched; a proof was issued.
	OutcomeVerified VerifyOutcome = iota
	// OutcomeMismatch means no active challenge exists or the code was wrong.
	OutcomeMismatch
	// OutcomeExpired means the challenge is past its expiry.
	OutcomeExpired
	// OutcomeLocked means the attempt cap was reached.
	OutcomeLocked
)

func (o VerifyOutcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeExpired:
		return "expired"
	case OutcomeLocked:
		return "locked"
	}
	return "unknown"
}

// OTPChallenge is the record stored in Redis per (purpose, email).
type OTPChallenge struct {
	CodeHash       string         `json:"code_hash"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Attempts       int            `json:"attempts"`
	State          ChallengeState `json:"state"`
	ProofHash      string         `json:"proof_hash,omitempty"`
	ProofExpiresAt time.Time      `json:"proof_expires_at,omitzero"`
}
