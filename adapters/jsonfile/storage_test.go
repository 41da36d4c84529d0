package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"hotlympics/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Set(ctx, "hotlympics_leaderboard_female", []byte(`{"entries":[]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "hotlympics_leaderboard_male", []byte(`{"entries":[1]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "unrelated", []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Delete(ctx, "hotlympics_leaderboard_male"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	v, err := reloaded.Get(ctx, "hotlympics_leaderboard_female")
	if err != nil || string(v) != `{"entries":[]}` {
		t.Fatalf("get after reload: %q %v", v, err)
	}
	if _, err := reloaded.Get(ctx, "hotlympics_leaderboard_male"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	keys, _ := reloaded.Keys(ctx, "hotlympics_leaderboard_")
	if len(keys) != 1 {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
