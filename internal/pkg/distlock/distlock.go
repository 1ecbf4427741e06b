// Package distlock guards one-shot operations across processes.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
	// Refresh extends the hold. Returns false if the lock is no longer ours.
	Refresh(ctx context.Context) (bool, error)
}

// Factory hands out named locks from one backend.
type Factory interface {
	NewLock(key string) DistLock
	// RefreshEvery is how often a long-running holder should call Refresh.
	RefreshEvery() time.Duration
}

// NewFactory picks the best available backend. If redisClient is non-nil,
// uses Redis (preferred for cross-host locking). Otherwise falls back to
// PostgreSQL advisory locks. Returns nil when neither is available, which
// callers treat as "no cross-process guard".
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return &redisFactory{client: redisClient, ttl: ttl}
	case db != nil:
		return &pgFactory{db: db}
	default:
		return nil
	}
}

type redisFactory struct {
	client *redis.Client
	ttl    time.Duration
}

func (f *redisFactory) NewLock(key string) DistLock { return NewRedisLock(f.client, key, f.ttl) }

// RefreshEvery leaves two refresh attempts inside one TTL.
func (f *redisFactory) RefreshEvery() time.Duration { return f.ttl / 3 }

type pgFactory struct{ db *sql.DB }

func (f *pgFactory) NewLock(key string) DistLock { return NewPGAdvisoryLock(f.db, key) }

func (f *pgFactory) RefreshEvery() time.Duration { return 30 * time.Second }

// ErrLockLost is the cancel cause of a Keep context whose lock expired or
// was taken by another owner.
var ErrLockLost = errors.New("distributed lock lost")

// Keep refreshes a held lock every interval until stop is called. The
// returned context is canceled with ErrLockLost as its cause when the lock
// turns out to belong to someone else, or when two refreshes in a row fail.
// stop waits for the refresh goroutine to exit.
func Keep(ctx context.Context, lock DistLock, every time.Duration) (context.Context, func()) {
	if every <= 0 {
		every = time.Second
	}
	kctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := lock.Refresh(kctx)
			switch {
			case err != nil:
				if kctx.Err() != nil {
					return
				}
				failures++
				if failures >= 2 {
					cancel(fmt.Errorf("%w: %v", ErrLockLost, err))
					return
				}
			case !ok:
				cancel(fmt.Errorf("%w: held by another owner", ErrLockLost))
				return
			default:
				failures = 0
			}
		}
	}()

	return kctx, func() {
		cancel(nil)
		<-done
	}
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection between Acquire and Release. The lock is released by the
// server if that connection drops.

var errNotHeld = errors.New("advisory lock not held")

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Refresh checks that the session holding the lock is still alive. Advisory
// locks do not expire, so there is nothing to extend.
func (l *PGAdvisoryLock) Refresh(ctx context.Context) (bool, error) {
	if l.conn == nil {
		return false, nil
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return false, fmt.Errorf("advisory lock %d session: %w", l.lockID, err)
	}
	return true, nil
}

// Release releases the advisory lock and returns its connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return errNotHeld
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}
