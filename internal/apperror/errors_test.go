package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatusCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		code int
		kind string
	}{
		{NewValidation("bad"), http.StatusBadRequest, KindValidation},
		{NewUnauthorized("no"), http.StatusUnauthorized, KindAuthentication},
		{NewForbidden("no"), http.StatusForbidden, KindAuthorization},
		{NewNotFound("gone"), http.StatusNotFound, KindNotFound},
		{NewConflict("dup"), http.StatusConflict, KindConflict},
		{NewOTPInvalid("x"), http.StatusBadRequest, KindOTPInvalid},
		{NewOTPExpired("x"), http.StatusGone, KindOTPExpired},
		{NewOTPLocked("x"), http.StatusTooManyRequests, KindOTPLocked},
		{NewUnavailable(errors.New("redis down")), http.StatusServiceUnavailable, KindUnavailable},
		{NewInternal(errors.New("boom")), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("%s: expected code %d, got %d", tt.kind, tt.code, tt.err.Code)
		}
		if tt.err.Type != tt.kind {
			t.Errorf("expected kind %s, got %s", tt.kind, tt.err.Type)
		}
	}
}

func TestFail_HidesInternalCause(t *testing.T) {
	res := Fail(fmt.Errorf("wrapped: %w", NewInternal(errors.New("table users is corrupt"))))
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.StatusCode)
	}
	if res.Body.Success {
		t.Fatal("expected failure body")
	}
	if res.Body.Message != "An unexpected error occurred. Please try again." {
		t.Errorf("internal detail leaked: %q", res.Body.Message)
	}
}

func TestFail_PlainErrorIsInternal(t *testing.T) {
	res := Fail(errors.New("raw driver error"))
	if res.Err() != KindInternal {
		t.Errorf("expected internal kind, got %q", res.Err())
	}
}

func TestOK_DefaultsToEmptyData(t *testing.T) {
	res := OK(http.StatusOK, nil)
	if !res.Body.Success {
		t.Fatal("expected success")
	}
	if _, ok := res.Body.Data.(Empty); !ok {
		t.Errorf("expected Empty data, got %T", res.Body.Data)
	}
	if res.Err() != "" {
		t.Errorf("expected no error kind, got %q", res.Err())
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NewConflict("taken"))
	if !Is(err, KindConflict) {
		t.Error("expected conflict kind through wrapping")
	}
	if Is(err, KindNotFound) {
		t.Error("did not expect not_found kind")
	}
}
