// Package realtime keeps the live roster of users in sync with badge writes.
package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/metrics"
	"semaphore/badging/internal/model"
)

var (
	ErrRunning = errors.New("realtime: loop already running")
	ErrFull    = errors.New("realtime: queue full")
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Change is one observed mutation. Version orders changes for the same user;
// zero means the user's UpdatedAt.
type Change struct {
	Op      Op         `json:"op"`
	User    model.User `json:"user"`
	Version int64      `json:"version"`
}

func (c Change) version() int64 {
	if c.Version != 0 {
		return c.Version
	}
	return c.User.UpdatedAt.UnixNano()
}

type entry struct {
	user    model.User
	version int64
	deleted bool
}

// Loop applies changes from a bounded queue on a single goroutine. Changes
// are last-writer-wins per user: stale or repeated changes are no-ops, and
// deletes leave a tombstone so a late upsert cannot resurrect a user.
type Loop struct {
	queue   chan Change
	running atomic.Bool
	logger  *log.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	users   map[string]entry
	subs    map[int]chan struct{}
	nextSub int
}

func NewLoop(size int, logger *log.Logger) *Loop {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		queue:   make(chan Change, size),
		logger:  logger,
		metrics: metrics.Global(),
		users:   make(map[string]entry),
		subs:    make(map[int]chan struct{}),
	}
}

// Publish enqueues c, blocking while the queue is full.
func (l *Loop) Publish(ctx context.Context, c Change) error {
	select {
	case l.queue <- c:
		l.metrics.QueueDepth(len(l.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues c without blocking.
func (l *Loop) TryPublish(c Change) error {
	select {
	case l.queue <- c:
		l.metrics.QueueDepth(len(l.queue))
		return nil
	default:
		l.metrics.Change("dropped")
		return ErrFull
	}
}

// UserChanged publishes an upsert for user.
func (l *Loop) UserChanged(ctx context.Context, user model.User) error {
	return l.Publish(ctx, Change{Op: OpUpsert, User: user})
}

// Run drains the queue until ctx is done. Only one Run may be active.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-l.queue:
			l.metrics.QueueDepth(len(l.queue))
			l.Apply(c)
		}
	}
}

// Apply merges c into the roster and reports whether anything changed.
func (l *Loop) Apply(c Change) bool {
	if c.User.ID == "" {
		l.logger.Printf("realtime: dropped %s change without user id", c.Op)
		l.metrics.Change("invalid")
		return false
	}
	v := c.version()

	l.mu.Lock()
	prev, ok := l.users[c.User.ID]
	// At equal versions only a delete may replace a live entry.
	if ok && (v < prev.version || (v == prev.version && (c.Op != OpDelete || prev.deleted))) {
		l.mu.Unlock()
		l.metrics.Change("stale")
		return false
	}
	l.users[c.User.ID] = entry{user: c.User, version: v, deleted: c.Op == OpDelete}
	subs := make([]chan struct{}, 0, len(l.subs))
	for _, ch := range l.subs {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	l.metrics.Change("applied")
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

// Seed loads users without notifying subscribers. Existing newer entries win.
func (l *Loop) Seed(users []model.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range users {
		v := u.UpdatedAt.UnixNano()
		if prev, ok := l.users[u.ID]; ok && prev.version >= v {
			continue
		}
		l.users[u.ID] = entry{user: u, version: v}
	}
}

// Snapshot returns the live users in display order.
func (l *Loop) Snapshot() []model.User {
	l.mu.RLock()
	out := make([]model.User, 0, len(l.users))
	for _, e := range l.users {
		if !e.deleted {
			out = append(out, e.user)
		}
	}
	l.mu.RUnlock()
	kpi.SortUsers(out)
	return out
}

// Subscribe returns a channel that receives a signal after changes. Bursts
// coalesce into a single pending signal; callers re-read Snapshot.
func (l *Loop) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}
