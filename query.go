package requery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Operation fetches the data for one query. Implementations should observe
// ctx for cancellation. Arguments come from the trigger; retries and
// revalidations replay the most recent user trigger's arguments.
type Operation[T any] func(ctx context.Context, args ...any) (T, error)

// Query is the typed handle for one key. All methods are safe for
// concurrent use.
type Query[T any] struct {
	client *Client
	key    string
	entry  *entry

	// set only for uncached queries, which have no entry
	op       operationFn
	cfg      queryConfig
	disabled atomic.Bool
}

// Define binds an operation to key and returns its typed handle. Keys may
// already exist as bare propagation targets or subscription points; Define
// upgrades them in place. Defining the same key twice is an error.
func Define[T any](c *Client, key string, op Operation[T], opts ...QueryOption) (*Query[T], error) {
	if c == nil {
		return nil, &ConfigError{Field: "client", Reason: "must not be nil"}
	}
	if key == "" {
		return nil, &ConfigError{Field: "key", Reason: "must not be empty"}
	}
	if op == nil {
		return nil, &ConfigError{Field: "operation", Reason: "must not be nil"}
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	qc := c.defaultQueryConfig()
	for _, opt := range opts {
		opt(&qc)
	}
	if err := qc.validate(); err != nil {
		return nil, err
	}

	erased := func(ctx context.Context, args ...any) (any, error) {
		return op(ctx, args...)
	}

	q := &Query[T]{client: c, key: key}

	if qc.noCache {
		q.op = erased
		q.cfg = qc
		q.disabled.Store(qc.disabled)
		return q, nil
	}

	e := c.getOrCreate(key)
	e.mu.Lock()
	if e.op != nil {
		e.mu.Unlock()
		return nil, &ConfigError{Field: "key", Reason: fmt.Sprintf("query %q already defined", key)}
	}
	e.op = erased
	e.cfg = qc
	e.encode = func(v any) ([]byte, error) {
		typed, err := valueAs[T](key, v)
		if err != nil {
			return nil, err
		}
		return json.Marshal(typed)
	}
	e.decode = func(data []byte) (any, error) {
		var typed T
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, err
		}
		return typed, nil
	}
	if qc.disabled {
		e.status = StatusDisabled
	}
	if qc.invalidated {
		e.invalidated = true
	}
	e.mu.Unlock()

	for _, target := range qc.updates {
		c.links.add(key, PropagationLink{Target: target, Kind: PropagateUpdate})
	}
	for _, target := range qc.invalidates {
		c.links.add(key, PropagationLink{Target: target, Kind: PropagateInvalidate})
	}
	if qc.persist {
		c.seedEntry(e)
	}

	q.entry = e
	return q, nil
}

// MustDefine is Define that panics on error, for package-level wiring.
func MustDefine[T any](c *Client, key string, op Operation[T], opts ...QueryOption) *Query[T] {
	q, err := Define(c, key, op, opts...)
	if err != nil {
		panic(err)
	}
	return q
}

// Key returns the query's key.
func (q *Query[T]) Key() string {
	return q.key
}

func (q *Query[T]) call(ctx context.Context, tr trigger, args []any) (T, error) {
	var zero T
	if q.entry == nil {
		if q.disabled.Load() {
			return zero, fmt.Errorf("%w: %q", ErrDisabled, q.key)
		}
		v, err := q.client.invokeDirect(ctx, q.key, q.op, q.cfg, args)
		if err != nil {
			return zero, err
		}
		return valueAs[T](q.key, v)
	}
	v, err := q.client.execute(ctx, q.entry, tr, args)
	if err != nil {
		return zero, err
	}
	return valueAs[T](q.key, v)
}

// Execute forces an execution with args, joining one already in flight.
func (q *Query[T]) Execute(ctx context.Context, args ...any) (T, error) {
	return q.call(ctx, triggerExecute, args)
}

// Get serves cached data when it is fresh and executes otherwise.
func (q *Query[T]) Get(ctx context.Context, args ...any) (T, error) {
	return q.call(ctx, triggerGet, args)
}

// Revalidate re-executes with the recorded arguments of the last trigger.
func (q *Query[T]) Revalidate(ctx context.Context) (T, error) {
	return q.call(ctx, triggerRevalidate, nil)
}

// State returns the current typed state. Uncached queries report Idle or
// Disabled and nothing else.
func (q *Query[T]) State() State[T] {
	if q.entry == nil {
		status := StatusIdle
		if q.disabled.Load() {
			status = StatusDisabled
		}
		return State[T]{Snapshot: Snapshot{Key: q.key, Status: status}}
	}
	q.entry.mu.Lock()
	snap := q.entry.snapshotLocked()
	q.entry.mu.Unlock()
	return stateFrom[T](snap)
}

// Subscribe observes state transitions. A nil fn still counts as an
// observer, keeping background schedules alive without receiving snapshots.
// The returned func cancels the subscription and is idempotent. Uncached
// queries have no state to observe; the cancel func is a no-op.
func (q *Query[T]) Subscribe(fn func(State[T])) func() {
	if q.entry == nil {
		return func() {}
	}
	var wrapped func(Snapshot)
	if fn != nil {
		wrapped = func(s Snapshot) { fn(stateFrom[T](s)) }
	}
	return q.entry.addSubscriber(q.client, wrapped)
}

// SetData installs val without executing the operation. A no-op for
// uncached queries.
func (q *Query[T]) SetData(val T) {
	if q.entry == nil {
		return
	}
	q.client.writeData(q.entry, val)
}

// Invalidate marks the query stale; the next trigger executes
// unconditionally while cached data stays visible.
func (q *Query[T]) Invalidate() {
	if q.entry == nil {
		return
	}
	q.client.markInvalidated(q.entry)
}

// Reset returns the query to Idle, wiping cached state and recorded
// arguments while keeping subscribers.
func (q *Query[T]) Reset() {
	if q.entry == nil {
		return
	}
	q.client.resetEntry(q.entry)
}

// Enable reopens the gate, returning the query to Idle.
func (q *Query[T]) Enable() {
	if q.entry == nil {
		q.disabled.Store(false)
		return
	}
	q.client.enableEntry(q.entry)
}

// Disable closes the gate; triggers return ErrDisabled and scheduled work
// stops.
func (q *Query[T]) Disable() {
	if q.entry == nil {
		q.disabled.Store(true)
		return
	}
	q.client.disableEntry(q.entry)
}
