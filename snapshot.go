package requery

// Snapshot is an untyped copy of an entry's observable state. Subscribers
// registered through Client.Subscribe and extensions receive Snapshots;
// typed access goes through Query.State.
type Snapshot struct {
	Key         string
	Data        any
	HasData     bool
	Err         error
	Status      Status
	ErrorCount  int
	Fetched     bool
	Invalidated bool
}

// IsLoading reports whether a first fetch is in flight with no data cached.
func (s Snapshot) IsLoading() bool { return s.Status == StatusLoading }

// IsRevalidating reports whether a fetch is in flight behind cached data.
func (s Snapshot) IsRevalidating() bool { return s.Status == StatusRevalidating }

// IsSuccess reports whether the last settlement produced data.
func (s Snapshot) IsSuccess() bool { return s.Status == StatusSuccess }

// IsError reports whether the last settlement produced an error.
func (s Snapshot) IsError() bool { return s.Status == StatusError }

// IsDisabled reports whether the query's gate is closed.
func (s Snapshot) IsDisabled() bool { return s.Status == StatusDisabled }

// IsWaitingData reports whether the entry has neither data nor an error and
// is not disabled, covering both "never triggered" and "first load running".
func (s Snapshot) IsWaitingData() bool {
	return !s.HasData && s.Err == nil && s.Status != StatusDisabled
}

// State is the typed view of a query entry handed to Query subscribers.
// The embedded Snapshot keeps the flag helpers; Data shadows the untyped
// field with the query's own type.
type State[T any] struct {
	Snapshot
	Data T
}

func stateFrom[T any](s Snapshot) State[T] {
	st := State[T]{Snapshot: s}
	if typed, ok := s.Data.(T); ok {
		st.Data = typed
	}
	return st
}
