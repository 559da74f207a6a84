package requery

import (
	"log/slog"
	"time"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithConfig replaces the client-wide defaults.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithPersister attaches a store the client seeds from and writes through to.
func WithPersister(p Persister) Option {
	return func(c *Client) { c.persister = p }
}

// WithExtension registers an extension. Extensions run in registration order.
func WithExtension(ext Extension) Option {
	return func(c *Client) { c.extensions = append(c.extensions, ext) }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// queryConfig is the per-query behavior resolved at Define time.
type queryConfig struct {
	disabled       bool
	noCache        bool
	persist        bool
	autoFetch      bool
	invalidated    bool
	retryLimit     int
	retryTime      time.Duration
	revalidate     bool
	revalidateTime time.Duration
	updates        []string
	invalidates    []string

	onSuccess func(any)
	onError   func(error)
}

func (c *Client) defaultQueryConfig() queryConfig {
	return queryConfig{
		retryLimit:     c.cfg.RetryLimit,
		retryTime:      c.cfg.RetryTime,
		revalidateTime: c.cfg.RevalidateTime,
	}
}

func (qc queryConfig) validate() error {
	if qc.retryLimit < 0 {
		return &ConfigError{Field: "retry_limit", Reason: "must be >= 0"}
	}
	if qc.retryTime <= 0 {
		return &ConfigError{Field: "retry_time", Reason: "must be > 0"}
	}
	if qc.revalidate && qc.revalidateTime <= 0 {
		return &ConfigError{Field: "revalidate_time", Reason: "must be > 0"}
	}
	if qc.noCache && (qc.persist || qc.revalidate || qc.autoFetch) {
		return &ConfigError{Field: "cache", Reason: "uncached queries cannot persist, revalidate or auto fetch"}
	}
	return nil
}

// QueryOption configures a single query at Define time.
type QueryOption func(*queryConfig)

// WithDisabled defines the query with its gate closed. Triggers return
// ErrDisabled until Query.Enable or Client.Enable reopens it.
func WithDisabled() QueryOption {
	return func(qc *queryConfig) { qc.disabled = true }
}

// WithoutCache bypasses the entry store and the single-flight coordinator.
// Every trigger invokes the operation fresh and nothing is recorded.
func WithoutCache() QueryOption {
	return func(qc *queryConfig) { qc.noCache = true }
}

// WithPersist seeds the query from the client's persister before its first
// execution and writes every successful settlement back through it.
func WithPersist() QueryOption {
	return func(qc *queryConfig) { qc.persist = true }
}

// WithAutoFetch triggers a soft fetch whenever a subscriber attaches. The
// operation is invoked without arguments, so it suits zero-argument queries.
func WithAutoFetch() QueryOption {
	return func(qc *queryConfig) { qc.autoFetch = true }
}

// WithInvalidated marks the query stale from the start, forcing the first
// soft trigger to execute even if data was seeded.
func WithInvalidated() QueryOption {
	return func(qc *queryConfig) { qc.invalidated = true }
}

// WithRetry overrides the client's retry bound and interval. A zero interval
// keeps the client default.
func WithRetry(limit int, interval time.Duration) QueryOption {
	return func(qc *queryConfig) {
		qc.retryLimit = limit
		if interval != 0 {
			qc.retryTime = interval
		}
	}
}

// WithRevalidate enables background revalidation while the query is observed.
// A zero period keeps the client default.
func WithRevalidate(period time.Duration) QueryOption {
	return func(qc *queryConfig) {
		qc.revalidate = true
		if period != 0 {
			qc.revalidateTime = period
		}
	}
}

// WithUpdates pushes this query's settled data into the named keys after
// every successful execution.
func WithUpdates(keys ...string) QueryOption {
	return func(qc *queryConfig) { qc.updates = append(qc.updates, keys...) }
}

// WithInvalidates marks the named keys stale after every successful
// execution of this query.
func WithInvalidates(keys ...string) QueryOption {
	return func(qc *queryConfig) { qc.invalidates = append(qc.invalidates, keys...) }
}

// OnSuccess registers a callback fired once per successful settlement, after
// the entry has been updated. The parameter type must match the query's data
// type or the callback never fires.
func OnSuccess[T any](fn func(T)) QueryOption {
	return func(qc *queryConfig) {
		if fn == nil {
			return
		}
		qc.onSuccess = func(v any) {
			if typed, ok := v.(T); ok {
				fn(typed)
			}
		}
	}
}

// OnError registers a callback fired once per failed settlement, after the
// entry has been updated.
func OnError(fn func(error)) QueryOption {
	return func(qc *queryConfig) {
		if fn == nil {
			return
		}
		qc.onError = fn
	}
}
