package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type item struct {
	id         string
	payload    any
	enqueuedAt time.Time
	result     *Pending
}

func newItem(key string, payload any, now time.Time) *item {
	id := fmt.Sprintf("%s_%d_%s", key, now.UnixMilli(), randomSuffix())
	return &item{
		id:         id,
		payload:    payload,
		enqueuedAt: now,
		result:     &Pending{id: id, done: make(chan struct{})},
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Pending is the caller's handle on an enqueued item. It settles exactly
// once, with either a value or an error.
//
// Items discarded by Clear never settle; callers should wait with a context
// that can expire.
type Pending struct {
	id    string
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// ID is the item identifier, for logging and tracing.
func (p *Pending) ID() string { return p.id }

// Done is closed when the item settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the item settles or ctx is done. Returning early on ctx
// does not remove the item from its queue.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(v any, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
		settled = true
	})
	return settled
}
