// Package distlock serializes work across processes. Redis is preferred;
// PostgreSQL advisory locks are the fallback, and a process-local lock is
// used when neither is configured.
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

// ErrNotAcquired is returned by Do when the lock could not be taken before
// the context ended.
var ErrNotAcquired = errors.New("distlock: lock not acquired")

// DistLock is a single named lock. Instances are not safe for concurrent use;
// create one per critical section.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// Factory hands out locks by key.
type Factory interface {
	Lock(key string) DistLock
}

// Backend creates locks on the best available store.
type Backend struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
	local *LocalFactory
}

// NewFactory picks Redis when rc is non-nil, then PostgreSQL, then a
// process-local lock.
func NewFactory(rc *redis.Client, db *sql.DB, ttl time.Duration) *Backend {
	return &Backend{redis: rc, db: db, ttl: ttl, local: NewLocalFactory()}
}

// Lock implements Factory.
func (b *Backend) Lock(key string) DistLock {
	switch {
	case b.redis != nil:
		return NewRedisLock(b.redis, key, b.ttl)
	case b.db != nil:
		return NewPGAdvisoryLock(b.db, key)
	default:
		return b.local.Lock(key)
	}
}

// Do waits for lock (polling every poll interval) and runs fn while holding it.
func Do(ctx context.Context, lock DistLock, poll time.Duration, fn func() error) error {
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn()
}

// PGAdvisoryLock uses pg_try_advisory_lock on a pinned connection. Advisory
// locks are session-scoped, so Acquire and Release must share one *sql.Conn;
// the lock also drops if that connection dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable 64-bit lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire implements DistLock.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release implements DistLock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// LocalFactory provides in-process locks with the same non-blocking contract.
type LocalFactory struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalFactory() *LocalFactory {
	return &LocalFactory{held: make(map[string]bool)}
}

// Lock implements Factory.
func (f *LocalFactory) Lock(key string) DistLock {
	return &localLock{f: f, key: key}
}

type localLock struct {
	f     *LocalFactory
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.f.held[l.key] {
		return false, nil
	}
	l.f.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.owned {
		delete(l.f.held, l.key)
		l.owned = false
	}
	return nil
}
