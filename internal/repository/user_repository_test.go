package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

func TestUserRepositoryFindByEmailNormalizes(t *testing.T) {
	repo := NewUserRepository(newDBForTest(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.User{ID: "u1", Email: "  Alice@Example.com "}); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := repo.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("unexpected user %s", u.ID)
	}
	if _, err := repo.FindByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
