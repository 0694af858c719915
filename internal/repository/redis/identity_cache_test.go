package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/repository"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestIdentityCache_SetAndGet(t *testing.T) {
	client, server := newTestRedis(t)
	cache := NewIdentityCache(client, "auth:identity_state")

	ctx := context.Background()
	ttl := 5 * time.Minute

	state := domain.IdentityState{
		UserID:     "user-1",
		Role:       domain.RoleModel,
		IsActive:   true,
		IsVerified: true,
	}

	if err := cache.SetIdentityState(ctx, state, ttl); err != nil {
		t.Fatalf("SetIdentityState returned error: %v", err)
	}

	got, err := cache.GetIdentityState(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetIdentityState returned error: %v", err)
	}
	if got.Role != domain.RoleModel || !got.IsActive || !got.IsVerified {
		t.Fatalf("unexpected cached state: %+v", got)
	}

	remaining := server.TTL("auth:identity_state:user-1")
	if remaining <= 0 || remaining > ttl {
		t.Fatalf("expected ttl within (0, %v], got %v", ttl, remaining)
	}
}

func TestIdentityCache_MissReturnsNotFound(t *testing.T) {
	client, _ := newTestRedis(t)
	cache := NewIdentityCache(client, "auth:identity_state")

	if _, err := cache.GetIdentityState(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdentityCache_DeleteEvictsEntry(t *testing.T) {
	client, _ := newTestRedis(t)
	cache := NewIdentityCache(client, "auth:identity_state")

	ctx := context.Background()
	state := domain.IdentityState{UserID: "user-2", Role: domain.RoleUser, IsActive: true}

	if err := cache.SetIdentityState(ctx, state, time.Minute); err != nil {
		t.Fatalf("SetIdentityState returned error: %v", err)
	}
	if err := cache.DeleteIdentityState(ctx, "user-2"); err != nil {
		t.Fatalf("DeleteIdentityState returned error: %v", err)
	}

	if _, err := cache.GetIdentityState(ctx, "user-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIdentityCache_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	cache := NewIdentityCache(client, "auth:identity_state")

	ctx := context.Background()

	if err := cache.SetIdentityState(ctx, domain.IdentityState{}, time.Minute); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if err := cache.SetIdentityState(ctx, domain.IdentityState{UserID: "user-1"}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
	if _, err := cache.GetIdentityState(ctx, "  "); err == nil {
		t.Fatal("expected error for blank user id")
	}
}
