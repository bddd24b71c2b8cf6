package mirror

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/edgeq/internal/taskqueue"
)

const (
	maxErrors     = 50
	defaultBuffer = 256
)

// Redis copies lane statistics into Redis after every settlement so other
// instances and dashboards can read them.
//
//	edgeq:lane:<key>         hash of queue length, busy and stats
//	edgeq:lane:<key>:errors  most recent failure messages, newest first
//
// Writes happen on a background worker fed by a bounded buffer. When the
// buffer is full the update is dropped; the next settlement on the same lane
// carries a newer snapshot anyway.
type Redis struct {
	rdb     *r.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	updates chan taskqueue.Settlement
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func New(rdb *r.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	return newRedis(rdb, ttl, logger, 2*time.Second, defaultBuffer)
}

func newRedis(rdb *r.Client, ttl time.Duration, logger *zap.Logger, timeout time.Duration, buffer int) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Redis{
		rdb:     rdb,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
		updates: make(chan taskqueue.Settlement, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func laneKey(key string) string   { return "edgeq:lane:" + key }
func errorsKey(key string) string { return "edgeq:lane:" + key + ":errors" }

// ObserveSettlement implements taskqueue.Observer. It never blocks: the
// settlement is queued for the worker or dropped.
func (m *Redis) ObserveSettlement(_ context.Context, s taskqueue.Settlement) {
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.updates <- s:
	default:
		if n := m.dropped.Add(1); n == 1 || n%100 == 0 {
			m.logger.Warn("stats mirror buffer full, dropping update",
				zap.String("queue_key", s.Key),
				zap.Int64("dropped_total", n),
			)
		}
	}
}

// Dropped is the number of settlements discarded because the buffer was full.
func (m *Redis) Dropped() int64 { return m.dropped.Load() }

// Close stops the worker after flushing what is already buffered. The flush
// as a whole is bounded by the write timeout. The Redis client is not closed.
func (m *Redis) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Redis) run() {
	defer close(m.done)
	for {
		select {
		case s := <-m.updates:
			m.write(context.Background(), s)
		case <-m.stop:
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			for {
				select {
				case s := <-m.updates:
					m.write(ctx, s)
				default:
					return
				}
			}
		}
	}
}

func (m *Redis) write(ctx context.Context, s taskqueue.Settlement) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.publish(ctx, s); err != nil {
		m.logger.Warn("stats mirror write failed",
			zap.String("queue_key", s.Key),
			zap.Error(err),
		)
	}
}

func (m *Redis) publish(ctx context.Context, s taskqueue.Settlement) error {
	st := s.Status
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, laneKey(s.Key), map[string]any{
		"queueLength":     st.QueueLength,
		"processing":      strconv.FormatBool(st.Busy),
		"totalProcessed":  st.Stats.TotalProcessed,
		"totalErrors":     st.Stats.TotalErrors,
		"averageWaitTime": strconv.FormatFloat(st.Stats.AverageWaitTime, 'f', -1, 64),
		"lastItemId":      s.ItemID,
		"updatedAt":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if s.Err != nil {
		pipe.LPush(ctx, errorsKey(s.Key), s.ItemID+": "+s.Err.Error())
		pipe.LTrim(ctx, errorsKey(s.Key), 0, maxErrors-1)
		if m.ttl > 0 {
			pipe.Expire(ctx, errorsKey(s.Key), m.ttl)
		}
	}
	if m.ttl > 0 {
		pipe.Expire(ctx, laneKey(s.Key), m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "mirror %s", s.Key)
}

// Snapshot reads back the mirrored hash for key.
func (m *Redis) Snapshot(ctx context.Context, key string) (map[string]string, error) {
	res, err := m.rdb.HGetAll(ctx, laneKey(key)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", key)
	}
	return res, nil
}

// RecentErrors returns up to n mirrored failure messages, newest first.
func (m *Redis) RecentErrors(ctx context.Context, key string, n int64) ([]string, error) {
	res, err := m.rdb.LRange(ctx, errorsKey(key), 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "recent errors %s", key)
	}
	return res, nil
}
