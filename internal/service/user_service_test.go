package service

import (
	"errors"
	"testing"
	"time"
)

func TestUserServiceRegisterAndAuthenticate(t *testing.T) {
	gdb := setupPlannerTestDB(t)
	svc := NewUserService(gdb)

	user, err := svc.Register("  ana  ", "segredo123")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.UUID == "" || user.Username != "ana" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Password == "segredo123" {
		t.Fatal("password must be stored hashed")
	}

	if _, err := svc.Register("ana", "outrasenha"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := svc.Register("bia", "123"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.Register(" ", "segredo123"); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}

	got, err := svc.Authenticate("ana", "segredo123")
	if err != nil || got.UUID != user.UUID {
		t.Fatalf("Authenticate = %+v, %v", got, err)
	}
	if _, err := svc.Authenticate("ana", "errada"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate("ninguem", "segredo123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	byID, err := svc.GetByUUID(user.UUID)
	if err != nil || byID.Username != "ana" {
		t.Fatalf("GetByUUID = %+v, %v", byID, err)
	}
}

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, expiresAt, err := svc.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "ana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	other := NewTokenService("other-secret", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := svc.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := svc.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	if _, _, err := NewTokenService("", 0).Issue("user-1", "ana"); err == nil {
		t.Fatal("expected error without a secret")
	}
}
