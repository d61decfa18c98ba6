package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserLocker serializes analysis work for one user across goroutines or processes.
// The returned unlock func must be called exactly once.
type UserLocker interface {
	Lock(ctx context.Context, userID int) (unlock func(), err error)
}

// userLockNamespace keys the session-level advisory lock. It differs from
// proficiencyLockNamespace so the transaction lock taken inside the held lock never self-deadlocks.
const userLockNamespace = 0x534c // "SL"

// NewUserLocker builds the locker selected by cfg.Locking.Backend
func NewUserLocker(cfg *config.Config, db *sql.DB, logger *observability.Logger) (UserLocker, error) {
	backend := config.LockBackendLocal
	if cfg != nil && cfg.Locking.Backend != "" {
		backend = cfg.Locking.Backend
	}

	switch backend {
	case config.LockBackendLocal:
		return NewLocalUserLocker(), nil
	case config.LockBackendPostgres:
		if db == nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "postgres lock backend requires a database")
		}
		return NewPostgresUserLocker(db, logger), nil
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Locking.RedisAddr,
			Password: cfg.Locking.RedisPassword,
			DB:       cfg.Locking.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeLockUnavailable,
				contextutils.SeverityError,
				"redis ping failed",
				cfg.Locking.RedisAddr,
				err,
			)
		}
		return NewRedisUserLocker(client, cfg.Locking.TTL, cfg.Locking.RetryInterval, logger), nil
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown lock backend %q", backend)
	}
}

// LocalUserLocker is an in-process keyed mutex
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[int]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalUserLocker creates an empty LocalUserLocker
func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{locks: make(map[int]*localLock)}
}

// Lock blocks until the user's lock is free or ctx is done
func (l *LocalUserLocker) Lock(ctx context.Context, userID int) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, entry, false)
		return nil, lockUnavailable(ctx.Err(), userID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(userID, entry, true) })
	}, nil
}

func (l *LocalUserLocker) release(userID int, entry *localLock, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}

// PostgresUserLocker holds a session-level advisory lock on a dedicated connection
type PostgresUserLocker struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresUserLocker creates a PostgresUserLocker
func NewPostgresUserLocker(db *sql.DB, logger *observability.Logger) *PostgresUserLocker {
	return &PostgresUserLocker{db: db, logger: logger}
}

// Lock waits on pg_advisory_lock. The connection is pinned until unlock.
func (l *PostgresUserLocker) Lock(ctx context.Context, userID int) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, database.ClassifyStoreError(err, "failed to acquire lock connection")
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, $2)`, userLockNamespace, userID); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, lockUnavailable(ctx.Err(), userID)
		}
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to lock user %d", userID))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1, $2)`, userLockNamespace, userID); err != nil {
				l.logger.Error(unlockCtx, "Failed to release user advisory lock", err, map[string]interface{}{"user_id": userID})
			}
			if err := conn.Close(); err != nil {
				l.logger.Error(unlockCtx, "Failed to close lock connection", err, map[string]interface{}{"user_id": userID})
			}
		})
	}, nil
}

// releaseUserLockScript deletes the key only while it still holds our token
var releaseUserLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewUserLockScript extends the lease only while the key still holds our token
var renewUserLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisUserLocker is a SET NX PX lock shared across worker replicas. The lease is
// renewed every ttl/3 while held, so ttl bounds how long a crashed holder blocks
// others rather than how long a run may take.
type RedisUserLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	logger        *observability.Logger
}

// NewRedisUserLocker creates a RedisUserLocker
func NewRedisUserLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, logger *observability.Logger) *RedisUserLocker {
	if ttl <= 0 {
		ttl = config.UserLockTTL
	}
	if retryInterval <= 0 {
		retryInterval = config.UserLockRetryInterval
	}
	return &RedisUserLocker{client: client, ttl: ttl, retryInterval: retryInterval, logger: logger}
}

// Close releases the redis client
func (l *RedisUserLocker) Close() error {
	return l.client.Close()
}

// RedisLockKey is the key holding the lock token for a user
func RedisLockKey(userID int) string {
	return fmt.Sprintf("skillmodel:lock:user:%d", userID)
}

// Lock polls SET NX until it wins or ctx is done
func (l *RedisUserLocker) Lock(ctx context.Context, userID int) (func(), error) {
	key := RedisLockKey(userID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, lockUnavailable(ctx.Err(), userID)
			}
			return nil, contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeLockUnavailable,
				contextutils.SeverityWarn,
				fmt.Sprintf("failed to lock user %d", userID),
				"",
				err,
			)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lockUnavailable(ctx.Err(), userID)
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, userID, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			released, err := releaseUserLockScript.Run(unlockCtx, l.client, []string{key}, token).Int()
			if err != nil {
				l.logger.Error(unlockCtx, "Failed to release redis user lock", err, map[string]interface{}{"user_id": userID})
				return
			}
			if released == 0 {
				l.logger.Warn(unlockCtx, "Redis user lock expired before release", map[string]interface{}{
					"user_id": userID,
					"ttl":     l.ttl.String(),
				})
			}
		})
	}, nil
}

// renew extends the lease until stop is closed or the token is no longer ours
func (l *RedisUserLocker) renew(key, token string, userID int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(context.Background(), interval)
		extended, err := renewUserLockScript.Run(renewCtx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.logger.Warn(context.Background(), "Failed to renew redis user lock", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			continue
		}
		if extended == 0 {
			l.logger.Warn(context.Background(), "Redis user lock lost before release", map[string]interface{}{
				"user_id": userID,
				"ttl":     l.ttl.String(),
			})
			return
		}
	}
}

func lockUnavailable(cause error, userID int) error {
	code := contextutils.ErrorCodeLockUnavailable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = contextutils.ErrorCodeTimeout
	}
	return contextutils.NewAppErrorWithCause(code, contextutils.SeverityWarn,
		fmt.Sprintf("gave up waiting for lock on user %d", userID), "", cause)
}
