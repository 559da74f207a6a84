package requery

import (
	"context"
	"fmt"
)

// trigger classifies how an execution was requested.
type trigger int

const (
	// triggerGet serves fresh cached data without executing.
	triggerGet trigger = iota
	// triggerExecute always executes.
	triggerExecute
	// triggerRetry replays recorded arguments after a failure.
	triggerRetry
	// triggerRevalidate replays recorded arguments behind cached data.
	triggerRevalidate
)

func (t trigger) replaysArgs() bool {
	return t == triggerRetry || t == triggerRevalidate
}

// execute is the single entry point for every cached execution path. Soft
// triggers may be served from cache; everything else funnels into the
// single-flight group so concurrent triggers on one key share one
// invocation and one settlement.
func (c *Client) execute(ctx context.Context, e *entry, tr trigger, args []any) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	e.mu.Lock()
	if e.op == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNoOperation, e.key)
	}
	if e.cfg.disabled {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDisabled, e.key)
	}
	if tr == triggerGet && e.status == StatusSuccess && !e.invalidated {
		v := e.data
		e.mu.Unlock()
		c.emitTrigger(e.key, TriggerHit)
		return v, nil
	}
	e.mu.Unlock()

	ran := false
	v, err, _ := c.flights.Do(e.key, func() (any, error) {
		ran = true
		return c.runFlight(ctx, e, tr, args)
	})
	if !ran {
		c.emitTrigger(e.key, TriggerJoined)
	}
	return v, err
}

// runFlight performs one shared execution. State is re-checked under the
// lock because another flight may have settled between the caller's check
// and this call winning the single-flight slot.
func (c *Client) runFlight(ctx context.Context, e *entry, tr trigger, args []any) (any, error) {
	e.mu.Lock()
	if e.cfg.disabled {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDisabled, e.key)
	}
	if tr == triggerGet && e.status == StatusSuccess && !e.invalidated {
		v := e.data
		e.mu.Unlock()
		c.emitTrigger(e.key, TriggerHit)
		return v, nil
	}

	gen := e.generation
	op := e.op
	if tr.replaysArgs() {
		args = e.lastArgs
	} else {
		e.lastArgs = args
	}
	if e.hasData {
		e.status = StatusRevalidating
	} else {
		e.status = StatusLoading
	}
	e.inFlight = true
	e.stopRetryLocked()
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, snap)
	c.emitTrigger(e.key, TriggerStarted)

	val, err := c.invoke(ctx, e.key, op, args)
	return c.settle(e, gen, val, err)
}

// invoke runs op through the extension WrapExecute chain, outermost first.
func (c *Client) invoke(ctx context.Context, key string, op operationFn, args []any) (any, error) {
	next := func() (any, error) { return op(ctx, args...) }
	for i := len(c.extensions) - 1; i >= 0; i-- {
		ext := c.extensions[i]
		inner := next
		next = func() (any, error) { return ext.WrapExecute(ctx, key, inner) }
	}
	return next()
}

// settle records an execution outcome. A settlement from a superseded
// generation still returns its outcome to waiting callers but leaves the
// entry untouched.
func (c *Client) settle(e *entry, gen uint64, val any, opErr error) (any, error) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		c.logger.Debug("requery: discarding stale settlement", "key", e.key)
		if opErr != nil {
			return nil, &ExecError{Key: e.key, Cause: opErr}
		}
		return val, nil
	}

	e.inFlight = false
	disabledNow := e.cfg.disabled
	if opErr == nil {
		e.data = val
		e.hasData = true
		e.err = nil
		e.fetched = true
		e.errorCount = 0
		e.invalidated = false
		e.lastSettle = c.clock.Now()
		if disabledNow {
			e.status = StatusDisabled
		} else {
			e.status = StatusSuccess
			e.armRevalidateLocked(c, e.cfg.revalidateTime)
		}
	} else {
		e.err = opErr
		e.fetched = true
		e.errorCount++
		if disabledNow {
			e.status = StatusDisabled
		} else {
			e.status = StatusError
			e.scheduleRetryLocked(c)
		}
	}

	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	onSuccess := e.cfg.onSuccess
	onError := e.cfg.onError
	persist := opErr == nil && e.cfg.persist
	encode := e.encode
	updates := e.cfg.updates
	invalidates := e.cfg.invalidates
	e.mu.Unlock()

	notify(subs, snap)
	c.emitSettle(e.key, snap)

	if opErr != nil {
		if onError != nil {
			onError(opErr)
		}
		return nil, &ExecError{Key: e.key, Cause: opErr}
	}
	if onSuccess != nil {
		onSuccess(val)
	}
	if persist {
		c.persistWrite(e.key, val, encode)
	}
	c.propagate(e.key, val, updates, invalidates)
	return val, nil
}

// invokeDirect serves uncached queries. The operation runs fresh on every
// call; nothing is coordinated, recorded or propagated.
func (c *Client) invokeDirect(ctx context.Context, key string, op operationFn, qc queryConfig, args []any) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.emitTrigger(key, TriggerBypass)
	val, err := c.invoke(ctx, key, op, args)
	if err != nil {
		if qc.onError != nil {
			qc.onError(err)
		}
		return nil, &ExecError{Key: key, Cause: err}
	}
	if qc.onSuccess != nil {
		qc.onSuccess(val)
	}
	return val, nil
}
