package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outcome struct {
	value any
	err   error
}

// drain owns l from the moment busy flips to true until it observes an
// empty lane.
func (q *TaskQueue) drain(l *lane) {
	defer q.wg.Done()

	q.logger.Debug("drain started", zap.String("queue_key", l.key))
	for {
		it, cfg, proc, ok := l.popFront(time.Now())
		if !ok {
			q.logger.Debug("drain finished", zap.String("queue_key", l.key))
			return
		}
		q.process(l, it, cfg, proc)
	}
}

func (q *TaskQueue) process(l *lane, it *item, cfg Config, proc Processor) {
	start := time.Now()

	value, err := q.run(l.key, it, cfg, proc)
	elapsed := time.Since(start)

	l.mu.Lock()
	if err != nil {
		l.stats.recordError()
	} else {
		l.stats.recordSuccess(elapsed)
	}
	status := l.snapshotLocked()
	l.mu.Unlock()

	it.result.settle(value, err)

	if err != nil {
		q.logger.Warn("item failed",
			zap.String("queue_key", l.key),
			zap.String("item_id", it.id),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		q.logger.Debug("item processed",
			zap.String("queue_key", l.key),
			zap.String("item_id", it.id),
			zap.Duration("elapsed", elapsed),
			zap.Duration("queued_for", start.Sub(it.enqueuedAt)),
		)
	}

	s := Settlement{Key: l.key, ItemID: it.id, Elapsed: elapsed, Err: err, Status: status}
	for _, o := range q.observers {
		o.ObserveSettlement(q.baseCtx, s)
	}
}

// run applies the pacing delay and then races proc against cfg.Timeout.
func (q *TaskQueue) run(key string, it *item, cfg Config, proc Processor) (any, error) {
	if cfg.ProcessingDelay > 0 {
		t := time.NewTimer(cfg.ProcessingDelay)
		select {
		case <-t.C:
		case <-q.baseCtx.Done():
			t.Stop()
			return nil, ErrClosed
		}
	}
	if q.baseCtx.Err() != nil {
		return nil, ErrClosed
	}
	if proc == nil {
		return nil, &NoProcessorError{Key: key, ItemID: it.id}
	}

	ctx, cancel := context.WithTimeout(q.baseCtx, cfg.Timeout)
	defer cancel()

	ctx, span := q.tracer.Start(ctx, "taskqueue.process",
		trace.WithAttributes(
			attribute.String("queue.key", key),
			attribute.String("queue.item_id", it.id),
		),
	)
	defer span.End()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("processor panicked",
					zap.String("queue_key", key),
					zap.String("item_id", it.id),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := proc(ctx, it.payload)
		done <- outcome{value: v, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res = outcome{err: ctx.Err()}
	}

	err := q.classify(ctx, key, it.id, cfg.Timeout, res.err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res.value, nil
}

// classify maps a raw processor outcome onto the queue's error kinds.
func (q *TaskQueue) classify(ctx context.Context, key, itemID string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Key: key, ItemID: itemID, Timeout: timeout}
	case q.baseCtx.Err() != nil && errors.Is(err, context.Canceled):
		return ErrClosed
	default:
		return &ProcessorError{Key: key, ItemID: itemID, Err: err}
	}
}
