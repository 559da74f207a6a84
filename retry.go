package requery

import "context"

// scheduleRetryLocked arms the fixed-interval retry timer after a failed
// settlement. Retries run only while the query is observed and enabled, and
// stop once errorCount exceeds the retry limit.
func (e *entry) scheduleRetryLocked(c *Client) {
	e.stopRetryLocked()
	if e.cfg.disabled || len(e.subs) == 0 {
		return
	}
	if e.errorCount > e.cfg.retryLimit {
		return
	}
	gen := e.generation
	e.retryTimer = c.clock.AfterFunc(e.cfg.retryTime, func() { c.retryTick(e, gen) })
}

func (e *entry) stopRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// retryTick re-executes a failed query with its recorded arguments. State
// may have moved since the timer was armed, so eligibility is re-checked.
func (c *Client) retryTick(e *entry, gen uint64) {
	e.mu.Lock()
	ok := e.generation == gen && !e.cfg.disabled && len(e.subs) > 0 && e.status == StatusError
	e.mu.Unlock()
	if !ok {
		return
	}
	_, _ = c.execute(context.Background(), e, triggerRetry, nil)
}
