package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadEntry reads one persisted cache entry. A missing row is (ok=false, nil).
func (d *DB) LoadEntry(ctx context.Context, key string) ([]byte, time.Time, time.Duration, bool, error) {
	var (
		payload   []byte
		fetchedMs int64
		ttlMs     int64
	)
	err := d.sql.QueryRowContext(ctx,
		"SELECT payload, fetched_at, ttl_ms FROM cache_entries WHERE key=?", key,
	).Scan(&payload, &fetchedMs, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, 0, false, nil
	}
	if err != nil {
		return nil, time.Time{}, 0, false, fmt.Errorf("load cache entry %s: %w", key, err)
	}
	return payload, time.UnixMilli(fetchedMs), time.Duration(ttlMs) * time.Millisecond, true, nil
}

// SaveEntry upserts a cache entry.
func (d *DB) SaveEntry(ctx context.Context, key string, payload []byte, fetchedAt time.Time, ttl time.Duration) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, payload, fetched_at, ttl_ms) VALUES (?,?,?,?)",
		key, payload, fetchedAt.UnixMilli(), ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save cache entry %s: %w", key, err)
	}
	return nil
}

// CleanupExpired deletes entries that expired more than grace ago and
// returns how many rows were removed.
func (d *DB) CleanupExpired(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	cutoff := now.Add(-grace).UnixMilli()
	res, err := d.sql.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE fetched_at + ttl_ms < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup cache entries: %w", err)
	}
	return res.RowsAffected()
}

// CountEntries returns the number of persisted cache entries.
func (d *DB) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
