package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker runs a function on a fixed interval until stopped. Unlike a detached
// time.Ticker goroutine it owns an explicit handle: Stop cancels the loop and
// waits for the in-flight run to return, so shutdown and test teardown are
// deterministic.
type Ticker struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewTicker builds a ticker task. The function runs once per interval.
func NewTicker(name string, interval time.Duration, fn func(context.Context), logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{name: name, interval: interval, fn: fn, logger: logger}
}

// Start begins the loop. Safe to call once; later calls are no-ops.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.loop()
	t.started = true
	t.logger.Sugar().Infow("task started", "task", t.name, "interval", t.interval)
}

// Stop cancels the loop and waits for it to exit. Safe to call when never
// started and safe to call more than once.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.cancel()
	t.mu.Unlock()
	t.wg.Wait()
	t.logger.Sugar().Infow("task stopped", "task", t.name)
}

// Running reports whether the loop is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Ticker) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.fn(t.ctx)
		}
	}
}

// Sleep waits for the duration or until the context is canceled. It returns
// false when the wait was interrupted.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
