package requery

import (
	"context"
	"time"
)

// armRevalidateLocked schedules the next background revalidation d from now.
// Revalidation runs only while the entry is observed, enabled and holding a
// successful settlement.
func (e *entry) armRevalidateLocked(c *Client, d time.Duration) {
	e.stopRevalidateLocked()
	if !e.cfg.revalidate || e.cfg.disabled || len(e.subs) == 0 || e.status != StatusSuccess {
		return
	}
	if d <= 0 {
		return
	}
	gen := e.generation
	e.revalTimer = c.clock.AfterFunc(d, func() { c.revalidateTick(e, gen) })
}

func (e *entry) stopRevalidateLocked() {
	if e.revalTimer != nil {
		e.revalTimer.Stop()
		e.revalTimer = nil
	}
}

// resumeRevalidationLocked restores the schedule when the subscriber count
// rises from zero. It reports whether the period already elapsed while
// paused, in which case the caller fires a revalidation immediately instead
// of arming a timer.
func (e *entry) resumeRevalidationLocked(c *Client) bool {
	if !e.cfg.revalidate || e.cfg.disabled || e.status != StatusSuccess {
		return false
	}
	elapsed := c.clock.Now().Sub(e.lastSettle)
	if elapsed >= e.cfg.revalidateTime {
		return true
	}
	e.armRevalidateLocked(c, e.cfg.revalidateTime-elapsed)
	return false
}

// revalidateTick runs one background revalidation with recorded arguments.
// The next tick is armed by the settlement, so intervals count from
// completion rather than start.
func (c *Client) revalidateTick(e *entry, gen uint64) {
	e.mu.Lock()
	ok := e.generation == gen && !e.cfg.disabled && e.cfg.revalidate && len(e.subs) > 0 && e.status == StatusSuccess
	e.mu.Unlock()
	if !ok {
		return
	}
	_, _ = c.execute(context.Background(), e, triggerRevalidate, nil)
}
