package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/edgeq/internal/taskqueue"
)

func newMirror(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	m := New(rdb, time.Hour, nil)
	t.Cleanup(func() {
		_ = m.Close()
		_ = rdb.Close()
	})
	return m, mr
}

// silentRedis accepts connections and never answers.
func silentRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestObserveSettlementWritesStats(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	m.ObserveSettlement(ctx, taskqueue.Settlement{
		Key:    "user-api",
		ItemID: "user-api_1_abc",
		Status: taskqueue.Status{
			Key:         "user-api",
			QueueLength: 3,
			Busy:        true,
			Stats:       taskqueue.Stats{TotalProcessed: 4, TotalErrors: 1, AverageWaitTime: 12.5},
		},
	})
	require.NoError(t, m.Close())

	snap, err := m.Snapshot(ctx, "user-api")
	require.NoError(t, err)
	assert.Equal(t, "3", snap["queueLength"])
	assert.Equal(t, "true", snap["processing"])
	assert.Equal(t, "4", snap["totalProcessed"])
	assert.Equal(t, "1", snap["totalErrors"])
	assert.Equal(t, "12.5", snap["averageWaitTime"])
	assert.Equal(t, "user-api_1_abc", snap["lastItemId"])

	assert.Equal(t, time.Hour, mr.TTL("edgeq:lane:user-api"))
	assert.False(t, mr.Exists("edgeq:lane:user-api:errors"))
}

func TestObserveSettlementKeepsRecentErrors(t *testing.T) {
	m, _ := newMirror(t)
	ctx := context.Background()

	for i := 0; i < maxErrors+5; i++ {
		m.ObserveSettlement(ctx, taskqueue.Settlement{
			Key:    "slow",
			ItemID: fmt.Sprintf("item-%d", i),
			Err:    errors.New("timed out"),
		})
	}
	require.NoError(t, m.Close())

	recent, err := m.RecentErrors(ctx, "slow", 100)
	require.NoError(t, err)
	require.Len(t, recent, maxErrors)
	assert.Equal(t, fmt.Sprintf("item-%d: timed out", maxErrors+4), recent[0])
}

func TestObserveSettlementSurvivesRedisOutage(t *testing.T) {
	m, mr := newMirror(t)
	mr.Close()

	assert.NotPanics(t, func() {
		m.ObserveSettlement(context.Background(), taskqueue.Settlement{Key: "k", ItemID: "i"})
		_ = m.Close()
	})
}

func TestObserveSettlementDropsWhenBufferIsFull(t *testing.T) {
	rdb := r.NewClient(&r.Options{Addr: silentRedis(t)})
	m := newRedis(rdb, time.Hour, nil, 50*time.Millisecond, 1)
	t.Cleanup(func() {
		_ = m.Close()
		_ = rdb.Close()
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		m.ObserveSettlement(context.Background(), taskqueue.Settlement{Key: "k", ItemID: fmt.Sprint(i)})
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.GreaterOrEqual(t, m.Dropped(), int64(8))
}

func TestUnresponsiveRedisDoesNotSlowLanes(t *testing.T) {
	rdb := r.NewClient(&r.Options{Addr: silentRedis(t)})
	m := New(rdb, time.Hour, nil)
	q := taskqueue.New(taskqueue.WithObserver(m))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Close(ctx)
		_ = m.Close()
		_ = rdb.Close()
	})

	q.Register("fast", func(context.Context, any) (any, error) { return nil, nil },
		taskqueue.WithProcessingDelay(0))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := q.Do(context.Background(), "fast", nil, nil)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMirrorAsQueueObserver(t *testing.T) {
	m, _ := newMirror(t)
	q := taskqueue.New(taskqueue.WithObserver(m))
	defer func() { _ = q.Close(context.Background()) }()

	q.Register("mirrored", func(context.Context, any) (any, error) { return "ok", nil },
		taskqueue.WithProcessingDelay(0))
	_, err := q.Do(context.Background(), "mirrored", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(context.Background(), "mirrored")
		return err == nil && snap["totalProcessed"] == "1"
	}, time.Second, 10*time.Millisecond)
}
