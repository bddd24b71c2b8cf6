package taskqueue

import (
	"sync"
	"time"
)

// Stats are the running counters of a lane.
type Stats struct {
	TotalProcessed int64 `json:"totalProcessed"`
	TotalErrors    int64 `json:"totalErrors"`
	// AverageWaitTime is in milliseconds and folds every success in with
	// avg = (avg + elapsed) / 2, so recent items weigh more than a mean.
	AverageWaitTime float64 `json:"averageWaitTime"`
}

func (s *Stats) recordSuccess(elapsed time.Duration) {
	s.TotalProcessed++
	ms := float64(elapsed) / float64(time.Millisecond)
	s.AverageWaitTime = (s.AverageWaitTime + ms) / 2
}

func (s *Stats) recordError() {
	s.TotalErrors++
}

// Status is a consistent snapshot of one lane.
type Status struct {
	Key         string `json:"queueKey"`
	QueueLength int    `json:"queueLength"`
	Busy        bool   `json:"processing"`
	Config      Config `json:"config"`
	Stats       Stats  `json:"stats"`
}

// lane holds everything the queue knows about one key. All fields below mu
// are guarded by it.
type lane struct {
	key string

	mu         sync.Mutex
	pending    []*item
	cfg        Config
	processor  Processor
	busy       bool
	stats      Stats
	lastActive time.Time
}

func newLane(key string, cfg Config, p Processor, now time.Time) *lane {
	return &lane{
		key:        key,
		cfg:        cfg,
		processor:  p,
		lastActive: now,
	}
}

// popFront removes the head item, or reports an empty lane and clears busy
// in the same critical section.
func (l *lane) popFront(now time.Time) (*item, Config, Processor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		l.busy = false
		l.lastActive = now
		return nil, Config{}, nil, false
	}
	it := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	if len(l.pending) == 0 {
		// Let the backing array go once drained.
		l.pending = nil
	}
	return it, l.cfg, l.processor, true
}

func (l *lane) snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *lane) snapshotLocked() Status {
	return Status{
		Key:         l.key,
		QueueLength: len(l.pending),
		Busy:        l.busy,
		Config:      l.cfg,
		Stats:       l.stats,
	}
}

func (l *lane) clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	l.pending = nil
	return n
}
