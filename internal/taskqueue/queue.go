// Package taskqueue serializes work per key. Every key owns a FIFO lane
// that is drained by at most one goroutine at a time; different keys drain
// independently of each other.
//
//	q := taskqueue.New(taskqueue.WithLogger(logger))
//	q.Register("payments", charge, taskqueue.WithMaxQueueSize(50))
//	v, err := q.Do(ctx, "payments", req, nil)
//
// Lanes are created on first Register or Enqueue and live until the queue is
// closed or EvictIdle removes them.
package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/SirClappington/edgeq/internal/taskqueue"

// Processor does the work for one item. ctx is cancelled when the item's
// timeout expires or the queue is force-closed.
type Processor func(ctx context.Context, payload any) (any, error)

// Settlement describes one settled item.
type Settlement struct {
	Key     string
	ItemID  string
	Elapsed time.Duration
	Err     error
	Status  Status
}

// Observer is notified from the drain goroutine after an item settles.
// Implementations must not block for long: the lane waits for them.
type Observer interface {
	ObserveSettlement(ctx context.Context, s Settlement)
}

// TaskQueue is a registry of independent sequential lanes. It is safe for
// concurrent use.
type TaskQueue struct {
	// mu guards lanes and closed. Enqueue holds it shared for the whole
	// admission so that eviction and Close never interleave with it.
	mu     sync.RWMutex
	lanes  map[string]*lane
	closed bool

	defaults  Config
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []Observer

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty TaskQueue.
func New(opts ...Option) *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		lanes:    make(map[string]*lane),
		defaults: DefaultConfig(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds processor and configuration to key. Re-registering an
// existing key replaces both, resets its stats and counts as activity for
// EvictIdle; items already queued stay queued and a running drain loop
// keeps running.
//
// MaxQueueSize is only checked on admission. Lowering it on a key that
// already holds more items leaves them queued; further enqueues fail until
// the lane drains below the new limit.
func (q *TaskQueue) Register(key string, processor Processor, opts ...ConfigOption) {
	cfg := merge(q.defaults, opts...)
	now := time.Now()

	q.mu.Lock()
	l, ok := q.lanes[key]
	if ok {
		l.mu.Lock()
		l.cfg = cfg
		l.processor = processor
		l.stats = Stats{}
		l.lastActive = now
		l.mu.Unlock()
	} else {
		q.lanes[key] = newLane(key, cfg, processor, now)
	}
	q.mu.Unlock()

	q.logger.Info("queue registered",
		zap.String("queue_key", key),
		zap.Bool("replaced", ok),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Duration("processing_delay", cfg.ProcessingDelay),
		zap.Duration("timeout", cfg.Timeout),
	)
}

// registerIfAbsent is the lazy path of Enqueue: an existing binding wins.
func (q *TaskQueue) registerIfAbsent(key string, processor Processor, opts ...ConfigOption) {
	q.mu.RLock()
	_, ok := q.lanes[key]
	q.mu.RUnlock()
	if ok {
		return
	}

	cfg := merge(q.defaults, opts...)
	q.mu.Lock()
	if _, ok = q.lanes[key]; !ok {
		q.lanes[key] = newLane(key, cfg, processor, time.Now())
	}
	q.mu.Unlock()

	if !ok {
		q.logger.Info("queue registered on first enqueue",
			zap.String("queue_key", key),
			zap.Bool("has_processor", processor != nil),
			zap.Int("max_queue_size", cfg.MaxQueueSize),
		)
	}
}

// Enqueue appends payload to key's lane and starts draining it if no drain
// loop is running. fallback and opts are only used when key has never been
// registered. A full lane fails with *QueueFullError and is left untouched.
func (q *TaskQueue) Enqueue(key string, payload any, fallback Processor, opts ...ConfigOption) (*Pending, error) {
	for {
		q.mu.RLock()
		if q.closed {
			q.mu.RUnlock()
			return nil, ErrClosed
		}
		l, ok := q.lanes[key]
		if !ok {
			q.mu.RUnlock()
			q.registerIfAbsent(key, fallback, opts...)
			continue
		}
		p, err := q.admit(l, payload)
		q.mu.RUnlock()
		return p, err
	}
}

// Do enqueues payload and waits for its result.
func (q *TaskQueue) Do(ctx context.Context, key string, payload any, fallback Processor, opts ...ConfigOption) (any, error) {
	p, err := q.Enqueue(key, payload, fallback, opts...)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// admit must be called with q.mu held for reading.
func (q *TaskQueue) admit(l *lane, payload any) (*Pending, error) {
	now := time.Now()

	l.mu.Lock()
	if len(l.pending) >= l.cfg.MaxQueueSize {
		limit := l.cfg.MaxQueueSize
		l.mu.Unlock()
		q.logger.Warn("queue full, rejecting item",
			zap.String("queue_key", l.key),
			zap.Int("max_queue_size", limit),
		)
		return nil, &QueueFullError{Key: l.key, Limit: limit}
	}

	it := newItem(l.key, payload, now)
	l.pending = append(l.pending, it)
	l.lastActive = now
	depth := len(l.pending)
	start := !l.busy
	if start {
		l.busy = true
		q.wg.Add(1)
	}
	l.mu.Unlock()

	q.logger.Debug("item enqueued",
		zap.String("queue_key", l.key),
		zap.String("item_id", it.id),
		zap.Int("queue_length", depth),
	)

	if start {
		go q.drain(l)
	}
	return it.result, nil
}

// Status returns a snapshot of key's lane.
func (q *TaskQueue) Status(key string) (Status, bool) {
	q.mu.RLock()
	l, ok := q.lanes[key]
	q.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return l.snapshot(), true
}

// StatusAll returns a snapshot of every lane. Each lane is individually
// consistent; lanes are not captured at the same instant.
func (q *TaskQueue) StatusAll() map[string]Status {
	out := make(map[string]Status)
	for _, l := range q.snapshotLanes() {
		out[l.key] = l.snapshot()
	}
	return out
}

// ConfigSummary returns the configuration of every lane in display form.
func (q *TaskQueue) ConfigSummary() map[string]ConfigView {
	out := make(map[string]ConfigView)
	for _, l := range q.snapshotLanes() {
		l.mu.Lock()
		out[l.key] = l.cfg.View()
		l.mu.Unlock()
	}
	return out
}

// Keys returns the registered keys in sorted order.
func (q *TaskQueue) Keys() []string {
	q.mu.RLock()
	keys := make([]string, 0, len(q.lanes))
	for k := range q.lanes {
		keys = append(keys, k)
	}
	q.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Clear discards the pending items of key without settling them. The item
// currently being processed, if any, is unaffected. It returns the number of
// discarded items.
func (q *TaskQueue) Clear(key string) int {
	q.mu.RLock()
	l, ok := q.lanes[key]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	n := l.clear()
	q.logger.Info("queue cleared", zap.String("queue_key", key), zap.Int("discarded", n))
	return n
}

// ClearAll applies Clear to every lane.
func (q *TaskQueue) ClearAll() int {
	total := 0
	for _, l := range q.snapshotLanes() {
		total += l.clear()
	}
	q.logger.Info("all queues cleared", zap.Int("discarded", total))
	return total
}

// EvictIdle removes lanes that are idle, empty and have seen no activity
// for at least idleFor. Their processor, config and stats are dropped; the
// next Enqueue for an evicted key registers it again.
func (q *TaskQueue) EvictIdle(idleFor time.Duration) []string {
	now := time.Now()
	var evicted []string

	q.mu.Lock()
	for key, l := range q.lanes {
		l.mu.Lock()
		idle := !l.busy && len(l.pending) == 0 && now.Sub(l.lastActive) >= idleFor
		l.mu.Unlock()
		if idle {
			delete(q.lanes, key)
			evicted = append(evicted, key)
		}
	}
	q.mu.Unlock()

	sort.Strings(evicted)
	if len(evicted) > 0 {
		q.logger.Info("idle queues evicted", zap.Strings("queue_keys", evicted))
	}
	return evicted
}

// Close stops accepting new items and waits for running drain loops to
// empty their lanes. If ctx is done first, pending delays and processor
// contexts are cancelled, the remaining items settle with ErrClosed, and
// ctx's error is returned.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("task queue closed")
		return nil
	case <-ctx.Done():
		q.logger.Warn("task queue close timed out, cancelling in-flight items")
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *TaskQueue) snapshotLanes() []*lane {
	q.mu.RLock()
	defer q.mu.RUnlock()
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		lanes = append(lanes, l)
	}
	return lanes
}
