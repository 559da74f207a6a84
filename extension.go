package requery

import "context"

// Extension provides hooks into the query lifecycle
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Init is called when the client is constructed
	Init(c *Client) error

	// WrapExecute intercepts operation invocations. Implementations must
	// call next exactly once and may observe or replace its result.
	WrapExecute(ctx context.Context, key string, next func() (any, error)) (any, error)

	// OnTrigger is called once per trigger with how it was served
	OnTrigger(key string, outcome TriggerOutcome)

	// OnSettle is called once per settlement with the resulting state
	OnSettle(key string, snap Snapshot)

	// OnPropagate is called for every cross-key push or invalidation
	OnPropagate(source, target string, kind PropagateKind)

	// OnPersistError is called when a persister read or write fails
	OnPersistError(key string, op string, err error)

	// Dispose is called when the client is disposed
	Dispose(c *Client) error
}

// TriggerOutcome describes how a trigger was served.
type TriggerOutcome string

const (
	// TriggerHit means a soft trigger was answered from cache.
	TriggerHit TriggerOutcome = "hit"
	// TriggerStarted means the trigger began a new execution.
	TriggerStarted TriggerOutcome = "started"
	// TriggerJoined means the trigger attached to an execution in flight.
	TriggerJoined TriggerOutcome = "joined"
	// TriggerBypass means an uncached query invoked its operation directly.
	TriggerBypass TriggerOutcome = "bypass"
)

// PropagateKind represents the type of cross-key propagation.
type PropagateKind string

const (
	// PropagateUpdate pushes the source's data into the target.
	PropagateUpdate PropagateKind = "update"
	// PropagateInvalidate marks the target stale.
	PropagateInvalidate PropagateKind = "invalidate"
)

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Init(c *Client) error {
	return nil
}

func (e *BaseExtension) WrapExecute(ctx context.Context, key string, next func() (any, error)) (any, error) {
	return next()
}

func (e *BaseExtension) OnTrigger(key string, outcome TriggerOutcome) {
}

func (e *BaseExtension) OnSettle(key string, snap Snapshot) {
}

func (e *BaseExtension) OnPropagate(source, target string, kind PropagateKind) {
}

func (e *BaseExtension) OnPersistError(key string, op string, err error) {
}

func (e *BaseExtension) Dispose(c *Client) error {
	return nil
}

func (c *Client) emitTrigger(key string, outcome TriggerOutcome) {
	for _, ext := range c.extensions {
		ext.OnTrigger(key, outcome)
	}
}

func (c *Client) emitSettle(key string, snap Snapshot) {
	for _, ext := range c.extensions {
		ext.OnSettle(key, snap)
	}
}

func (c *Client) emitPropagate(source, target string, kind PropagateKind) {
	for _, ext := range c.extensions {
		ext.OnPropagate(source, target, kind)
	}
}

func (c *Client) emitPersistError(key string, op string, err error) {
	for _, ext := range c.extensions {
		ext.OnPersistError(key, op, err)
	}
}
