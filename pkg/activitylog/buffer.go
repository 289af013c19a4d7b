package activitylog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/abdhe/keyrelay/pkg/metrics"
)

const defaultCapacity = 500

// Buffer is a capped, best-effort, Redis-backed ring buffer of recent
// activitylog Entry values, guarded by a circuit breaker so a down Redis
// never adds latency to the request path.
type Buffer struct {
	client   *redis.Client
	key      string
	capacity int64
	breaker  *circuitBreaker
	log      zerolog.Logger

	warnLimiter *rate.Limiter

	pendingMu sync.Mutex
	pending   []Entry

	flushOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config configures a Buffer.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string
	Capacity      int64
}

// NewBuffer builds a Buffer. Capacity defaults to 500 entries.
func NewBuffer(cfg Config, log zerolog.Logger) *Buffer {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	key := cfg.Key
	if key == "" {
		key = "keyrelay:activitylog"
	}

	return &Buffer{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		key:         key,
		capacity:    capacity,
		breaker:     newCircuitBreaker(5, 30*time.Second),
		log:         log,
		warnLimiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Push records entry. It never returns an error to a caller on the request
// path: a Redis failure demotes the entry to an in-memory retry queue that a
// background goroutine (started by StartFlusher) drains once Redis recovers.
func (b *Buffer) Push(ctx context.Context, entry Entry) error {
	err := b.breaker.execute(func() error {
		return b.pushToRedis(ctx, entry)
	})
	if err == nil {
		return nil
	}

	if b.warnLimiter.Allow() {
		b.log.Warn().Err(err).Msg("activitylog: redis push failed, queuing for retry")
	}

	b.pendingMu.Lock()
	b.pending = append(b.pending, entry)
	n := len(b.pending)
	b.pendingMu.Unlock()
	metrics.ActivityLogPendingEntries.Set(float64(n))
	return nil
}

func (b *Buffer) pushToRedis(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("activitylog: marshal: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.key, data)
	pipe.LTrim(ctx, b.key, 0, b.capacity-1)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("activitylog: push: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recently pushed entries, newest first.
// It is used only by the admin UI, never by the core dispatcher.
func (b *Buffer) Recent(ctx context.Context, n int64) ([]Entry, error) {
	raw, err := b.client.LRange(ctx, b.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("activitylog: recent: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// StartFlusher launches a background goroutine that periodically retries
// pushing queued entries once Redis is reachable again. Call Stop to shut it
// down. Calls after the first do nothing.
func (b *Buffer) StartFlusher(ctx context.Context) {
	started := false
	b.flushOnce.Do(func() { started = true })
	if !started {
		return
	}
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.flushPending(ctx)
			}
		}
	}()
}

func (b *Buffer) flushPending(ctx context.Context) {
	b.pendingMu.Lock()
	queued := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	if len(queued) == 0 {
		return
	}

	var stillPending []Entry
	for _, entry := range queued {
		err := retryWithBackoff(ctx, defaultBackoffConfig(), func(ctx context.Context) error {
			return b.breaker.execute(func() error {
				return b.pushToRedis(ctx, entry)
			})
		})
		if err != nil {
			stillPending = append(stillPending, entry)
		}
	}

	b.pendingMu.Lock()
	b.pending = append(stillPending, b.pending...)
	n := len(b.pending)
	b.pendingMu.Unlock()
	metrics.ActivityLogPendingEntries.Set(float64(n))
}

// Stop stops the background flusher goroutine, if running.
func (b *Buffer) Stop() {
	b.flushOnce.Do(func() { close(b.doneCh) }) // never started: nothing to wait for
	close(b.stopCh)
	<-b.doneCh
}
