package requery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Client owns the entry store, the single-flight coordinator and the
// propagation graph. A zero Client is not usable; construct one with New.
type Client struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cfg        Config
	persister  Persister
	extensions []Extension
	logger     *slog.Logger
	clock      clock
	links      *propagationGraph

	flights singleflight.Group
	closed  atomic.Bool
}

// New builds a Client and initializes its extensions in registration order.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		entries: make(map[string]*entry),
		cfg:     DefaultConfig(),
		logger:  slog.New(discardHandler{}),
		clock:   systemClock{},
		links:   newPropagationGraph(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.validate(); err != nil {
		return nil, err
	}
	for _, ext := range c.extensions {
		if err := ext.Init(c); err != nil {
			return nil, fmt.Errorf("requery: initializing extension %s: %w", ext.Name(), err)
		}
	}
	return c, nil
}

// MustNew is New that panics on error, for package-level construction.
func MustNew(opts ...Option) *Client {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Logger returns the client's structured logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// getOrCreate returns the entry for key, creating a bare one on first
// reference. Bare entries accept pushed data, invalidations and subscribers
// before any query is defined for them.
func (c *Client) getOrCreate(key string) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e
	}
	e = newEntry(key)
	c.entries[key] = e
	return e
}

func (c *Client) lookup(key string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Client) allEntries() []*entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Keys returns every known key, defined or bare, sorted.
func (c *Client) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Execute forces an execution of key's operation, joining one already in
// flight. Arguments are recorded for later retries and revalidations.
func (c *Client) Execute(ctx context.Context, key string, args ...any) (any, error) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return c.execute(ctx, e, triggerExecute, args)
}

// Get serves cached data when it is fresh and executes otherwise.
func (c *Client) Get(ctx context.Context, key string, args ...any) (any, error) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return c.execute(ctx, e, triggerGet, args)
}

// Revalidate re-executes key's operation with its recorded arguments.
func (c *Client) Revalidate(ctx context.Context, key string) (any, error) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return c.execute(ctx, e, triggerRevalidate, nil)
}

// State returns the current snapshot for key.
func (c *Client) State(key string) (Snapshot, bool) {
	e, ok := c.lookup(key)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

// SetData installs val as key's data without executing anything. Unknown
// keys are created, so data can arrive before a query is defined.
func (c *Client) SetData(key string, val any) {
	c.writeData(c.getOrCreate(key), val)
}

// Invalidate marks keys stale. Cached data stays visible; the next trigger
// on each key executes unconditionally.
func (c *Client) Invalidate(keys ...string) {
	for _, key := range keys {
		c.markInvalidated(c.getOrCreate(key))
	}
}

// Subscribe observes key's state transitions, one snapshot per transition.
// The returned func cancels the subscription and is idempotent. Subscribing
// creates the entry if needed.
func (c *Client) Subscribe(key string, fn func(Snapshot)) func() {
	return c.getOrCreate(key).addSubscriber(c, fn)
}

// Reset returns key to Idle: data, error counts, the stale mark and
// recorded arguments are wiped, subscribers stay. An execution in flight
// still delivers its result to waiting callers but no longer touches the
// entry. Persisted bytes for the key are removed.
func (c *Client) Reset(key string) error {
	e, ok := c.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	c.resetEntry(e)
	return nil
}

// ResetAll resets every known key.
func (c *Client) ResetAll() {
	for _, e := range c.allEntries() {
		c.resetEntry(e)
	}
}

func (c *Client) resetEntry(e *entry) {
	e.mu.Lock()
	e.clearLocked()
	persisted := e.cfg.persist
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	c.flights.Forget(e.key)
	if persisted {
		c.persistRemove(e.key)
	}
	notify(subs, snap)
}

// Enable reopens key's gate. The entry returns to Idle regardless of its
// prior state; cached data stays but the next soft trigger executes.
func (c *Client) Enable(key string) error {
	e, ok := c.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	c.enableEntry(e)
	return nil
}

// Disable closes key's gate. Triggers return ErrDisabled and all scheduled
// work stops. An execution already in flight settles its data but lands on
// Disabled.
func (c *Client) Disable(key string) error {
	e, ok := c.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	c.disableEntry(e)
	return nil
}

func (c *Client) enableEntry(e *entry) {
	e.mu.Lock()
	if !e.cfg.disabled {
		e.mu.Unlock()
		return
	}
	e.cfg.disabled = false
	if e.status == StatusDisabled {
		e.status = StatusIdle
	}
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, snap)
}

func (c *Client) disableEntry(e *entry) {
	e.mu.Lock()
	if e.cfg.disabled {
		e.mu.Unlock()
		return
	}
	e.cfg.disabled = true
	e.stopRetryLocked()
	e.stopRevalidateLocked()
	changed := false
	if !e.inFlight {
		e.status = StatusDisabled
		changed = true
	}
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	if changed {
		notify(subs, snap)
	}
}

// Prefetch warms keys concurrently with soft triggers. Unknown keys fail
// before anything runs; otherwise the first execution error is returned.
func (c *Client) Prefetch(ctx context.Context, keys ...string) error {
	entries := make([]*entry, 0, len(keys))
	for _, key := range keys {
		e, ok := c.lookup(key)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		entries = append(entries, e)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			_, err := c.execute(gctx, e, triggerGet, nil)
			return err
		})
	}
	return g.Wait()
}

// PropagationGraph returns the declared update/invalidate edges by source.
func (c *Client) PropagationGraph() map[string][]PropagationLink {
	return c.links.export()
}

// PropagationSources returns the keys whose settlements touch target.
func (c *Client) PropagationSources(target string) []string {
	return c.links.sources(target)
}

// Dispose shuts the client down: timers stop, subscribers are dropped,
// flights are orphaned and extensions dispose in registration order.
// Further triggers return ErrClosed. Dispose is idempotent.
func (c *Client) Dispose() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, e := range c.allEntries() {
		e.mu.Lock()
		e.generation++
		e.stopRetryLocked()
		e.stopRevalidateLocked()
		if e.inFlight {
			e.inFlight = false
			if e.hasData {
				e.status = StatusSuccess
			} else {
				e.status = StatusIdle
			}
		}
		e.subs = nil
		e.mu.Unlock()
		c.flights.Forget(e.key)
	}

	var firstErr error
	for _, ext := range c.extensions {
		if err := ext.Dispose(c); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("requery: disposing extension %s: %w", ext.Name(), err)
		}
	}
	return firstErr
}

// discardHandler is the default slog handler; it drops everything.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
