package service

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
)

// AttemptCounter is a keyed counter with a fixed window that starts at the
// first increment. Reset clears a key immediately.
type AttemptCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type attemptWindow struct {
	count     int64
	expiresAt time.Time
}

type InMemoryAttemptCounter struct {
	mu    sync.Mutex
	clock clock.Clock
	store map[string]attemptWindow
}

func NewInMemoryAttemptCounter(clk clock.Clock) *InMemoryAttemptCounter {
	return &InMemoryAttemptCounter{clock: clk, store: make(map[string]attemptWindow)}
}

func (c *InMemoryAttemptCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.store[key]
	if !ok || !now.Before(w.expiresAt) {
		w = attemptWindow{expiresAt: now.Add(window)}
	}
	w.count++
	c.store[key] = w
	return w.count, nil
}

func (c *InMemoryAttemptCounter) Count(_ context.Context, key string) (int64, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.store[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(w.expiresAt) {
		delete(c.store, key)
		return 0, nil
	}
	return w.count, nil
}

func (c *InMemoryAttemptCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}
