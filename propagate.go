package requery

import (
	"sort"
	"sync"
)

// PropagationLink is one declared edge from a source query to a target key.
type PropagationLink struct {
	Target string
	Kind   PropagateKind
}

// propagationGraph records declared update/invalidate edges for
// introspection. The runtime propagation path reads each entry's own config;
// the graph is the queryable mirror.
type propagationGraph struct {
	mu       sync.RWMutex
	outgoing map[string][]PropagationLink
	incoming map[string][]string
}

func newPropagationGraph() *propagationGraph {
	return &propagationGraph{
		outgoing: make(map[string][]PropagationLink),
		incoming: make(map[string][]string),
	}
}

func (g *propagationGraph) add(source string, link PropagationLink) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.outgoing[source] {
		if existing == link {
			return
		}
	}
	g.outgoing[source] = append(g.outgoing[source], link)
	g.incoming[link.Target] = appendUniqueString(g.incoming[link.Target], source)
}

// export returns a copy of the forward edges keyed by source.
func (g *propagationGraph) export() map[string][]PropagationLink {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]PropagationLink, len(g.outgoing))
	for source, links := range g.outgoing {
		copied := make([]PropagationLink, len(links))
		copy(copied, links)
		out[source] = copied
	}
	return out
}

// sources returns the keys whose settlements touch target, sorted.
func (g *propagationGraph) sources(target string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.incoming[target]) == 0 {
		return nil
	}
	out := make([]string, len(g.incoming[target]))
	copy(out, g.incoming[target])
	sort.Strings(out)
	return out
}

func appendUniqueString(slice []string, item string) []string {
	for _, existing := range slice {
		if existing == item {
			return slice
		}
	}
	return append(slice, item)
}

// propagate applies one successful settlement's declared edges. Targets that
// were never defined are created as bare entries. Propagation is one level
// deep: a pushed write never triggers the target's own edges.
func (c *Client) propagate(source string, val any, updates, invalidates []string) {
	for _, key := range updates {
		if key == source {
			continue
		}
		c.writeData(c.getOrCreate(key), val)
		c.emitPropagate(source, key, PropagateUpdate)
	}
	for _, key := range invalidates {
		if key == source {
			continue
		}
		c.markInvalidated(c.getOrCreate(key))
		c.emitPropagate(source, key, PropagateInvalidate)
	}
}

// writeData installs val as e's data without invoking its operation. Both
// SetData and update propagation funnel through here. If a flight is running
// the status is left alone and the settlement will overwrite val; last
// writer wins.
func (c *Client) writeData(e *entry, val any) {
	e.mu.Lock()
	e.data = val
	e.hasData = true
	e.err = nil
	e.fetched = true
	e.invalidated = false
	e.lastSettle = c.clock.Now()
	if e.status != StatusDisabled && !e.inFlight {
		e.status = StatusSuccess
	}
	e.armRevalidateLocked(c, e.cfg.revalidateTime)
	persist := e.cfg.persist
	encode := e.encode
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, snap)
	if persist {
		c.persistWrite(e.key, val, encode)
	}
}

// markInvalidated flags e stale so its next trigger executes unconditionally.
// Nothing runs now; cached data stays visible.
func (c *Client) markInvalidated(e *entry) {
	e.mu.Lock()
	e.invalidated = true
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, snap)
}
