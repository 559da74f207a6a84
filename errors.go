package requery

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned when a trigger reaches a query whose gate is closed.
	ErrDisabled = errors.New("requery: query disabled")

	// ErrNoOperation is returned when a trigger reaches a key that only exists
	// as a propagation target and has no operation bound yet.
	ErrNoOperation = errors.New("requery: no operation bound")

	// ErrUnknownKey is returned when an operation references a key the client
	// has never seen.
	ErrUnknownKey = errors.New("requery: unknown key")

	// ErrClosed is returned when the client has been disposed.
	ErrClosed = errors.New("requery: client closed")
)

// ExecError wraps an operation failure with the key it settled on.
type ExecError struct {
	Key   string
	Cause error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("requery: executing %q: %v", e.Key, e.Cause)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// ConfigError reports an invalid client or query configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("requery: invalid config: %s: %s", e.Field, e.Reason)
}

// valueAs converts cached data to the query's data type. Data written through
// untyped paths, such as a propagation push, may carry any type.
func valueAs[T any](key string, value any) (T, error) {
	var zero T
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("requery: data for %q is %T, not %T", key, value, zero)
	}
	return typed, nil
}
