package extensions

import (
	"sync/atomic"

	"github.com/requery-go/requery"
)

// Stats is a point-in-time copy of a StatsExtension's counters.
type Stats struct {
	Hits     int64
	Started  int64
	Joined   int64
	Bypassed int64

	Successes int64
	Failures  int64

	Updates     int64
	Invalidates int64

	PersistErrors int64
}

// StatsExtension counts lifecycle events across all keys.
type StatsExtension struct {
	requery.BaseExtension

	hits     atomic.Int64
	started  atomic.Int64
	joined   atomic.Int64
	bypassed atomic.Int64

	successes atomic.Int64
	failures  atomic.Int64

	updates     atomic.Int64
	invalidates atomic.Int64

	persistErrors atomic.Int64
}

// NewStatsExtension creates a new stats extension.
func NewStatsExtension() *StatsExtension {
	return &StatsExtension{
		BaseExtension: requery.NewBaseExtension("stats"),
	}
}

func (e *StatsExtension) OnTrigger(key string, outcome requery.TriggerOutcome) {
	switch outcome {
	case requery.TriggerHit:
		e.hits.Add(1)
	case requery.TriggerStarted:
		e.started.Add(1)
	case requery.TriggerJoined:
		e.joined.Add(1)
	case requery.TriggerBypass:
		e.bypassed.Add(1)
	}
}

func (e *StatsExtension) OnSettle(key string, snap requery.Snapshot) {
	if snap.Err != nil {
		e.failures.Add(1)
		return
	}
	e.successes.Add(1)
}

func (e *StatsExtension) OnPropagate(source, target string, kind requery.PropagateKind) {
	if kind == requery.PropagateUpdate {
		e.updates.Add(1)
		return
	}
	e.invalidates.Add(1)
}

func (e *StatsExtension) OnPersistError(key string, op string, err error) {
	e.persistErrors.Add(1)
}

// Stats returns a copy of the current counters.
func (e *StatsExtension) Stats() Stats {
	return Stats{
		Hits:          e.hits.Load(),
		Started:       e.started.Load(),
		Joined:        e.joined.Load(),
		Bypassed:      e.bypassed.Load(),
		Successes:     e.successes.Load(),
		Failures:      e.failures.Load(),
		Updates:       e.updates.Load(),
		Invalidates:   e.invalidates.Load(),
		PersistErrors: e.persistErrors.Load(),
	}
}
