package scopelock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"interunit-loan-recon/pkg/errors"

	"github.com/bsm/redislock"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "ACME|BETA|2024-03")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("Expected at most one holder, saw %d", maxInside)
	}
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	other, err := l.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Expected a different key to be free, got %v", err)
	}
	other()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	release, _ := l.Acquire(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, "a")
	if !errors.IsCode(err, errors.CodeLockUnavailable) {
		t.Errorf("Expected lock_unavailable, got %v", err)
	}

	// Release is idempotent and frees the key.
	release()
	release()
	again, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Expected key to be free after release, got %v", err)
	}
	again()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"redis", func(c *Config) { c.Backend = BackendRedis }, false},
		{"redis without address", func(c *Config) { c.Backend = BackendRedis; c.RedisAddr = " " }, true},
		{"redis without ttl", func(c *Config) { c.Backend = BackendRedis; c.TTL = 0 }, true},
		{"negative retries", func(c *Config) { c.Backend = BackendRedis; c.MaxRetries = -1 }, true},
		{"unknown", func(c *Config) { c.Backend = "etcd" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Local(t *testing.T) {
	l, err := New(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := l.(*LocalLocker); !ok {
		t.Errorf("Expected LocalLocker, got %T", l)
	}
}

type countingLock struct {
	refreshes int32
	fail      error
	ttls      chan time.Duration
}

func (l *countingLock) Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error {
	atomic.AddInt32(&l.refreshes, 1)
	select {
	case l.ttls <- ttl:
	default:
	}
	return l.fail
}

func TestKeepAlive_RefreshesUntilStopped(t *testing.T) {
	lock := &countingLock{ttls: make(chan time.Duration, 1)}
	stop, done := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(lock, 20*time.Millisecond, stop, func(err error) {
			t.Errorf("Unexpected lost lock: %v", err)
		})
	}()

	select {
	case ttl := <-lock.ttls:
		if ttl != 20*time.Millisecond {
			t.Errorf("Expected refresh to a full ttl, got %s", ttl)
		}
	case <-time.After(time.Second):
		t.Fatal("Lock was never refreshed")
	}
	time.Sleep(35 * time.Millisecond)
	close(stop)
	<-done

	n := atomic.LoadInt32(&lock.refreshes)
	if n < 2 {
		t.Errorf("Expected repeated refreshes, got %d", n)
	}
	time.Sleep(30 * time.Millisecond)
	if after := atomic.LoadInt32(&lock.refreshes); after != n {
		t.Errorf("Refreshed %d more times after stop", after-n)
	}
}

func TestKeepAlive_StopsWhenLockLost(t *testing.T) {
	lock := &countingLock{fail: redislock.ErrNotObtained, ttls: make(chan time.Duration, 1)}
	lost := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(lock, 10*time.Millisecond, make(chan struct{}), func(err error) { lost <- err })
	}()

	select {
	case err := <-lost:
		if err != redislock.ErrNotObtained {
			t.Errorf("Expected ErrNotObtained, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Lost lock was never reported")
	}
	<-done
	if n := atomic.LoadInt32(&lock.refreshes); n != 1 {
		t.Errorf("Expected the loop to end after the failed refresh, got %d refreshes", n)
	}
}
