// Package distlock provides single-holder locks across gate instances.
//
// Redis (SET NX with a TTL and an ownership token) is preferred. Without
// Redis, PostgreSQL session advisory locks are used; the lock is held on a
// dedicated connection so that acquire and release run in the same session.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotOwner is returned by Release and Extend when the lock is no longer
// held by this instance.
var ErrNotOwner = errors.New("lock not owned")

// DistLock is the interface for distributed locking.
// A DistLock value represents one would-be holder; it is not meant to be
// shared between goroutines that race on Acquire.
type DistLock interface {
	// Acquire tries to acquire the lock without waiting. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend:
// Redis when redisClient is non-nil, else a PostgreSQL advisory lock when db
// is non-nil, else an in-process lock.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	}
	return NewLocalLock(key)
}

// WithLock runs fn only if the lock is acquired. ran reports whether fn ran.
// The lock is released with a fresh context so a cancelled ctx does not
// leave it held until the TTL expires.
func WithLock(ctx context.Context, l DistLock, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := l.Release(releaseCtx); rerr != nil && err == nil && !errors.Is(rerr, ErrNotOwner) {
			err = fmt.Errorf("release lock: %w", rerr)
		}
	}()
	return true, fn(ctx)
}

// PGAdvisoryLock implements DistLock using pg_try_advisory_lock. The lock is
// session scoped and disappears if the connection drops.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
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

// LockID returns the advisory lock id derived from the key.
func (l *PGAdvisoryLock) LockID() int64 { return l.lockID }

// Acquire pins a connection and tries the advisory lock on it.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock connection: %w", err)
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

// Release unlocks on the pinned connection and returns it to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotOwner
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	if !released {
		return ErrNotOwner
	}
	return nil
}

// LocalLock is an in-process DistLock for single-instance deployments and
// tests.
type LocalLock struct {
	key string
}

var (
	localMu   sync.Mutex
	localHeld = map[string]bool{}
)

// NewLocalLock creates an in-process lock. Locks with the same key exclude
// each other within the process.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire takes the key if free.
func (l *LocalLock) Acquire(context.Context) (bool, error) {
	localMu.Lock()
	defer localMu.Unlock()
	if localHeld[l.key] {
		return false, nil
	}
	localHeld[l.key] = true
	return true, nil
}

// Release frees the key.
func (l *LocalLock) Release(context.Context) error {
	localMu.Lock()
	defer localMu.Unlock()
	if !localHeld[l.key] {
		return ErrNotOwner
	}
	delete(localHeld, l.key)
	return nil
}
