// Package scopelock serialises matching runs per scope so two runs over the
// same company pair and period never interleave.
package scopelock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker hands out exclusive locks keyed by scope.
type Locker interface {
	// Acquire blocks until the key is free, the context is done, or the
	// backend gives up. The returned function releases the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
	Close() error
}

// Config selects a locker backend.
type Config struct {
	Backend    string        `json:"backend" mapstructure:"backend"`
	RedisAddr  string        `json:"redis_addr" mapstructure:"redis_addr"`
	RedisDB    int           `json:"redis_db" mapstructure:"redis_db"`
	Prefix     string        `json:"prefix" mapstructure:"prefix"`
	TTL        time.Duration `json:"ttl" mapstructure:"ttl"`
	RetryEvery time.Duration `json:"retry_every" mapstructure:"retry_every"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
}

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// DefaultConfig uses an in-process lock.
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendLocal,
		RedisAddr:  "localhost:6379",
		Prefix:     "recon:scope:",
		TTL:        2 * time.Minute,
		RetryEvery: 200 * time.Millisecond,
		MaxRetries: 50,
	}
}

// Validate checks the lock configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		return nil
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("redis address is required for the redis lock backend")
		}
		if c.TTL <= 0 {
			return fmt.Errorf("lock ttl must be positive, got %s", c.TTL)
		}
		if c.RetryEvery < 0 || c.MaxRetries < 0 {
			return fmt.Errorf("lock retry settings cannot be negative")
		}
		return nil
	default:
		return fmt.Errorf("unsupported lock backend: %q", c.Backend)
	}
}

// New builds the locker named by the configuration.
func New(ctx context.Context, config *Config, log logger.Logger) (Locker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "lock.backend", config.Backend, err)
	}
	if config.Backend == BackendLocal {
		return NewLocalLocker(), nil
	}
	rl, err := NewRedisLocker(ctx, config, log)
	if err != nil {
		return nil, err
	}
	return rl, nil
}

// LocalLocker is a keyed mutex for single-process deployments.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, errors.StorageError(errors.CodeLockUnavailable, key, ctx.Err())
	}
}

// Close implements Locker.
func (l *LocalLocker) Close() error { return nil }

// RedisLocker coordinates several reconciler processes through redis.
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	config *Config
	logger logger.Logger
}

// NewRedisLocker connects to redis and verifies the connection.
func NewRedisLocker(ctx context.Context, config *Config, log logger.Logger) (*RedisLocker, error) {
	if log == nil {
		log = logger.Discard()
	}
	client := redis.NewClient(&redis.Options{
		Addr: config.RedisAddr,
		DB:   config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.StorageError(errors.CodeLockUnavailable, "connect "+config.RedisAddr, err)
	}
	return &RedisLocker{
		client: client,
		locker: redislock.New(client),
		config: config,
		logger: log.WithComponent("scopelock"),
	}, nil
}

// Acquire implements Locker. While held the lock is refreshed every half
// TTL, so a run may outlast the TTL; if the holder dies the lock expires
// after at most one TTL.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	var retry redislock.RetryStrategy = redislock.NoRetry()
	if r.config.MaxRetries > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(r.config.RetryEvery), r.config.MaxRetries)
	}

	lock, err := r.locker.Obtain(ctx, r.config.Prefix+key, r.config.TTL, &redislock.Options{RetryStrategy: retry})
	if err == redislock.ErrNotObtained {
		return nil, errors.StorageError(errors.CodeLockUnavailable, key, err).
			WithContext("ttl", r.config.TTL.String())
	} else if err != nil {
		return nil, errors.StorageError(errors.CodeLockUnavailable, key, err).
			WithSuggestion("check that redis is reachable at " + r.config.RedisAddr)
	}

	stop, stopped := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(stopped)
		keepAlive(lock, r.config.TTL, stop, func(err error) {
			r.logger.WithFields(logger.Fields{"scope": key, "error": err.Error()}).
				Error("Scope lock could not be refreshed and may be taken by another run")
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// The run context may already be cancelled; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && err != redislock.ErrLockNotHeld {
				r.logger.WithFields(logger.Fields{"scope": key, "error": err.Error()}).Warn("Failed to release scope lock")
			}
		})
	}, nil
}

// refresher is the part of a held lock keepAlive needs.
type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends lock to a full ttl every half ttl until stop is closed.
// A failed refresh is reported to lost and ends the loop.
func keepAlive(lock refresher, ttl time.Duration, stop <-chan struct{}, lost func(error)) {
	every := ttl / 2
	if every <= 0 {
		every = ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := lock.Refresh(ctx, ttl, nil)
			cancel()
			if err != nil {
				lost(err)
				return
			}
		}
	}
}

// Close implements Locker.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
