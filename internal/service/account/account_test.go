package account

import (
	"context"
	"testing"

	"syncboard/internal/config"
	"syncboard/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open("sqlite3", config.Default())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestRegisterLoginDelete(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, " alice ", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" || user.ID <= 0 {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash == "secret" {
		t.Fatalf("password stored in plaintext")
	}
	if _, err := svc.RegisterUser(ctx, "alice", "other"); err != ErrUsernameTaken {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	got, err := svc.Login(ctx, "alice", "secret")
	if err != nil || got.ID != user.ID {
		t.Fatalf("login failed: %+v %v", got, err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "secret"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	loaded, err := svc.GetUser(ctx, user.ID)
	if err != nil || loaded.Username != "alice" {
		t.Fatalf("get user: %+v %v", loaded, err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetUser(ctx, user.ID); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound on second delete, got %v", err)
	}
}

func TestRegisterRequiresCredentials(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	if _, err := svc.RegisterUser(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error for empty username")
	}
	if _, err := svc.RegisterUser(context.Background(), "bob", "  "); err == nil {
		t.Fatalf("expected error for blank password")
	}
}
