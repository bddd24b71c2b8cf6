package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	defaults := DefaultConfig()

	tests := []struct {
		name string
		base Config
		opts []ConfigOption
		want Config
	}{
		{
			name: "no overrides keeps defaults",
			base: defaults,
			want: Config{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 100, Timeout: 30 * time.Second},
		},
		{
			name: "explicit fields override",
			base: defaults,
			opts: []ConfigOption{WithMaxQueueSize(50), WithProcessingDelay(0)},
			want: Config{MaxConcurrent: 1, ProcessingDelay: 0, MaxQueueSize: 50, Timeout: 30 * time.Second},
		},
		{
			name: "invalid values fall back to base",
			base: Config{MaxConcurrent: 2, ProcessingDelay: 10 * time.Millisecond, MaxQueueSize: 5, Timeout: time.Second},
			opts: []ConfigOption{WithMaxQueueSize(0), WithTimeout(-time.Second), WithProcessingDelay(-1), WithMaxConcurrent(0)},
			want: Config{MaxConcurrent: 2, ProcessingDelay: 0, MaxQueueSize: 5, Timeout: time.Second},
		},
		{
			name: "invalid base falls back to package defaults",
			base: Config{},
			want: Config{MaxConcurrent: 1, ProcessingDelay: 0, MaxQueueSize: 100, Timeout: 30 * time.Second},
		},
		{
			name: "whole config replaced",
			base: defaults,
			opts: []ConfigOption{WithConfig(Config{MaxConcurrent: 3, MaxQueueSize: 2, Timeout: 50 * time.Millisecond})},
			want: Config{MaxConcurrent: 3, ProcessingDelay: 0, MaxQueueSize: 2, Timeout: 50 * time.Millisecond},
		},
		{
			name: "nil options are skipped",
			base: defaults,
			opts: []ConfigOption{nil, WithTimeout(time.Minute)},
			want: Config{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 100, Timeout: time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merge(tt.base, tt.opts...))
		})
	}
}

func TestConfigJSONUsesMilliseconds(t *testing.T) {
	cfg := Config{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 50, Timeout: 30 * time.Second}

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxConcurrent":1,"processingDelay":1000,"maxQueueSize":50,"timeout":30000}`, string(b))

	var back Config
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, cfg, back)
}

func TestStatsRunningAverage(t *testing.T) {
	var s Stats
	s.recordSuccess(10 * time.Millisecond)
	assert.InDelta(t, 5.0, s.AverageWaitTime, 1e-9)
	s.recordSuccess(20 * time.Millisecond)
	assert.InDelta(t, 12.5, s.AverageWaitTime, 1e-9)
	s.recordError()

	assert.EqualValues(t, 2, s.TotalProcessed)
	assert.EqualValues(t, 1, s.TotalErrors)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("db down")
	tests := []struct {
		err      error
		sentinel error
		msg      string
	}{
		{&QueueFullError{Key: "k", Limit: 3}, ErrQueueFull, `queue "k" is full (max 3)`},
		{&NoProcessorError{Key: "k", ItemID: "i"}, ErrNoProcessor, `queue "k" has no processor`},
		{&TimeoutError{Key: "k", ItemID: "i", Timeout: time.Second}, ErrProcessingTimeout, "timed out after 1s"},
		{&ProcessorError{Key: "k", ItemID: "i", Err: cause}, ErrProcessor, "db down"},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.sentinel)
		assert.Contains(t, tt.err.Error(), tt.msg)
	}
	assert.ErrorIs(t, &ProcessorError{Err: cause}, cause)
	assert.NotErrorIs(t, &TimeoutError{}, ErrProcessor)
}

func TestItemIDShape(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	a := newItem("user-api", nil, now)
	b := newItem("user-api", nil, now)

	assert.Regexp(t, `^user-api_1700000000000_[0-9a-f]{9}$`, a.id)
	assert.NotEqual(t, a.id, b.id)
	assert.Equal(t, a.id, a.result.ID())

	assert.True(t, a.result.settle("v", nil))
	assert.False(t, a.result.settle(nil, errors.New("second")))
	v, err := a.result.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
