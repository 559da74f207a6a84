package requery

// Status is the lifecycle state of a query entry.
type Status int

const (
	// StatusIdle means the entry exists but has never been triggered.
	StatusIdle Status = iota
	// StatusDisabled means the entry's gate is closed and triggers are refused.
	StatusDisabled
	// StatusLoading means a first fetch is in flight and no data is cached yet.
	StatusLoading
	// StatusSuccess means the last settlement produced data.
	StatusSuccess
	// StatusError means the last settlement produced an error.
	StatusError
	// StatusRevalidating means a fetch is in flight while cached data remains visible.
	StatusRevalidating
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDisabled:
		return "disabled"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusRevalidating:
		return "revalidating"
	default:
		return "unknown"
	}
}
