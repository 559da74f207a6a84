package requery

import (
	"context"
	"sync"
	"time"
)

// operationFn is the type-erased form of Operation[T] stored on an entry.
type operationFn func(ctx context.Context, args ...any) (any, error)

// entry is the per-key record. Everything below mu is guarded by it.
// Subscriber notifications, settlement callbacks, persister calls and
// operation invocations all happen with the lock released.
type entry struct {
	key string

	mu     sync.Mutex
	cfg    queryConfig
	op     operationFn
	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)

	data        any
	hasData     bool
	err         error
	status      Status
	fetched     bool
	invalidated bool
	errorCount  int

	// inFlight is true exactly while status is Loading or Revalidating.
	inFlight bool
	// generation is bumped by Reset so settlements of superseded flights
	// can be recognized and discarded.
	generation uint64

	subs      map[int]func(Snapshot)
	nextSubID int

	retryTimer timer
	revalTimer timer

	// lastArgs holds the arguments of the most recent user trigger so
	// retries and revalidations can replay them.
	lastArgs   []any
	lastSettle time.Time
}

func newEntry(key string) *entry {
	return &entry{key: key}
}

func (e *entry) snapshotLocked() Snapshot {
	return Snapshot{
		Key:         e.key,
		Data:        e.data,
		HasData:     e.hasData,
		Err:         e.err,
		Status:      e.status,
		ErrorCount:  e.errorCount,
		Fetched:     e.fetched,
		Invalidated: e.invalidated,
	}
}

func (e *entry) subscribersLocked() []func(Snapshot) {
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		if fn != nil {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// addSubscriber registers fn and returns an idempotent cancel func. The
// first subscriber resumes paused revalidation; dropping to zero pauses all
// timers for the entry.
func (e *entry) addSubscriber(c *Client, fn func(Snapshot)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	if e.subs == nil {
		e.subs = make(map[int]func(Snapshot))
	}
	e.subs[id] = fn

	fireNow := false
	if len(e.subs) == 1 {
		fireNow = e.resumeRevalidationLocked(c)
	}
	autoFetch := e.cfg.autoFetch && !e.cfg.disabled && e.op != nil
	e.mu.Unlock()

	if fireNow {
		go func() { _, _ = c.execute(context.Background(), e, triggerRevalidate, nil) }()
	} else if autoFetch {
		go func() { _, _ = c.execute(context.Background(), e, triggerGet, nil) }()
	}

	return func() {
		e.mu.Lock()
		if _, ok := e.subs[id]; !ok {
			e.mu.Unlock()
			return
		}
		delete(e.subs, id)
		if len(e.subs) == 0 {
			e.stopRevalidateLocked()
			e.stopRetryLocked()
		}
		e.mu.Unlock()
	}
}

func (e *entry) subscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// clearLocked wipes cached state while keeping subscribers and config.
// The generation bump orphans any flight still running.
func (e *entry) clearLocked() {
	e.generation++
	e.inFlight = false
	e.stopRetryLocked()
	e.stopRevalidateLocked()
	e.data = nil
	e.hasData = false
	e.err = nil
	e.errorCount = 0
	e.fetched = false
	e.invalidated = false
	e.lastArgs = nil
	e.lastSettle = time.Time{}
	if e.cfg.disabled {
		e.status = StatusDisabled
	} else {
		e.status = StatusIdle
	}
}
