package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db err: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrate err: %v", err)
	}
	return NewService(db, "test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ops@Example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if user.Email != "ops@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "hunter2-hunter2" {
		t.Fatal("password stored in the clear")
	}

	token, err := svc.Login(ctx, "ops@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	userID, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken err: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("token names user %d, expected %d", userID, user.ID)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ops@example.com", "hunter2-hunter2"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if _, err := svc.Register(ctx, "ops@example.com", "different-pass"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ops@example.com", "hunter2-hunter2"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if _, err := svc.Login(ctx, "ops@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Login(context.Background(), "ghost@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyTokenRejectsForeignSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ops@example.com", "hunter2-hunter2"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	token, err := svc.Login(ctx, "ops@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	other := newTestService(t)
	other.secret = []byte("different-secret")
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken under a different secret, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := newTestService(t)
	svc.ttl = -time.Minute
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ops@example.com", "hunter2-hunter2"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	token, err := svc.Login(ctx, "ops@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
