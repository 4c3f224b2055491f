package repo_test

import (
	"context"
	"errors"
	"testing"

	"rotaline/internal/db"
	"rotaline/internal/domain"
	"rotaline/internal/migrate"
	"rotaline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return repo.Repo{DB: conn}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	if repo.HashAPIKey(" secret \n") != repo.HashAPIKey("secret") {
		t.Fatal("hash should ignore surrounding whitespace")
	}

	key := domain.APIKey{ID: "k1", ActorID: "me", Name: "laptop", KeyHash: repo.HashAPIKey("secret")}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ActorID != "me" || got.Name != "laptop" {
		t.Fatalf("unexpected key %+v", got)
	}
	if got.CreatedAt == "" {
		t.Fatal("expected CreatedAt stamped on insert")
	}

	if err := r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", KeyHash: "h"}); err == nil {
		t.Fatal("expected actor_id validation to fail")
	}

	keys, err := r.ListAPIKeys(ctx, "me")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != "k1" {
		t.Fatalf("unexpected listing %+v", keys)
	}
	keys, err = r.ListAPIKeys(ctx, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys for other actor, got %+v", keys)
	}

	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}
