package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
)

// TryAcquire implements mutex.Locker with a Postgres session advisory
// lock. The lock is tied to a dedicated pooled connection, which is
// held until release so the session (and with it the lock) survives
// exactly as long as the holder. A crashed process drops its
// connection and Postgres frees the lock.
func (s *Store) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("differential/postgres: acquire lock conn: %w", err)
	}

	key := advisoryKey(name)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("differential/postgres: try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// Unlock on a background context: release must work even when
		// the caller's context is already canceled.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			s.logger.Warn("advisory unlock failed",
				slog.String("lock", name),
				slog.String("error", err.Error()),
			)
		}
		conn.Release()
	}
	return release, true, nil
}

// advisoryKey maps a lock name onto the bigint keyspace Postgres
// advisory locks use.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64()) //nolint:gosec // deliberate wraparound into the signed keyspace
}
