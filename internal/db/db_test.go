package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"eve-arbitrage/internal/cache"

	_ "modernc.org/sqlite"
)

var _ cache.Backend = (*DB)(nil)

// openTestDB opens an in-memory SQLite DB and runs migrations (for testing only).
func openTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestDB_MigrateIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := d.sql.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestDB_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer d.Close()
	if n, err := d.CountEntries(context.Background()); err != nil || n != 0 {
		t.Fatalf("CountEntries = %d, %v; want 0, nil", n, err)
	}
}

func TestDB_CacheEntryRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	ctx := context.Background()

	fetched := time.UnixMilli(1_714_560_000_123)
	if err := d.SaveEntry(ctx, "taxonomy:groups", []byte(`[4,5]`), fetched, 6*time.Hour); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	payload, at, ttl, ok, err := d.LoadEntry(ctx, "taxonomy:groups")
	if err != nil || !ok {
		t.Fatalf("LoadEntry = ok %v, err %v", ok, err)
	}
	if string(payload) != `[4,5]` {
		t.Errorf("payload = %s, want [4,5]", payload)
	}
	if !at.Equal(fetched) {
		t.Errorf("fetchedAt = %v, want %v", at, fetched)
	}
	if ttl != 6*time.Hour {
		t.Errorf("ttl = %v, want 6h", ttl)
	}

	// Upsert replaces.
	if err := d.SaveEntry(ctx, "taxonomy:groups", []byte(`[6]`), fetched.Add(time.Second), time.Hour); err != nil {
		t.Fatalf("SaveEntry replace: %v", err)
	}
	payload, _, _, _, _ = d.LoadEntry(ctx, "taxonomy:groups")
	if string(payload) != `[6]` {
		t.Errorf("payload after replace = %s, want [6]", payload)
	}
}

func TestDB_LoadEntry_NotFound(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	_, _, _, ok, err := d.LoadEntry(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadEntry err = %v, want nil", err)
	}
	if ok {
		t.Error("LoadEntry ok = true for missing key")
	}
}

func TestDB_CleanupExpired(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	ctx := context.Background()
	now := time.UnixMilli(1_714_560_000_000)

	d.SaveEntry(ctx, "old", []byte(`1`), now.Add(-3*time.Hour), time.Hour)
	d.SaveEntry(ctx, "fresh", []byte(`2`), now.Add(-10*time.Minute), time.Hour)

	n, err := d.CleanupExpired(ctx, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d rows, want 1", n)
	}
	if _, _, _, ok, _ := d.LoadEntry(ctx, "fresh"); !ok {
		t.Error("fresh entry was removed")
	}
}

func TestDB_BackendForCacheStore(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	ctx := context.Background()
	p := cache.Policy{TTL: time.Hour, Persist: true}

	s1 := cache.New(cache.WithBackend(d))
	if _, err := cache.GetOrFetch(ctx, s1, "taxonomy:type:34", p, func(context.Context) (string, error) {
		return "Tritanium", nil
	}); err != nil {
		t.Fatalf("first store: %v", err)
	}

	// A fresh store over the same DB serves from L2 without fetching.
	s2 := cache.New(cache.WithBackend(d))
	called := false
	r, err := cache.GetOrFetch(ctx, s2, "taxonomy:type:34", p, func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if called {
		t.Error("second store fetched instead of reading L2")
	}
	if r.Value != "Tritanium" {
		t.Errorf("value = %q, want Tritanium", r.Value)
	}
}
