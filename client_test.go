package requery

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

// eventLog collects lifecycle events from multiple extensions so their
// interleaving can be asserted.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type recorderExt struct {
	BaseExtension
	log *eventLog
}

func newRecorderExt(name string, log *eventLog) *recorderExt {
	return &recorderExt{BaseExtension: NewBaseExtension(name), log: log}
}

func (r *recorderExt) Init(c *Client) error {
	r.log.add(r.Name() + ":init")
	return nil
}

func (r *recorderExt) WrapExecute(ctx context.Context, key string, next func() (any, error)) (any, error) {
	r.log.add(r.Name() + ":wrap-enter")
	v, err := next()
	r.log.add(r.Name() + ":wrap-exit")
	return v, err
}

func (r *recorderExt) OnTrigger(key string, outcome TriggerOutcome) {
	r.log.add(r.Name() + ":trigger:" + string(outcome))
}

func (r *recorderExt) OnSettle(key string, snap Snapshot) {
	r.log.add(r.Name() + ":settle")
}

func (r *recorderExt) OnPropagate(source, target string, kind PropagateKind) {
	r.log.add(r.Name() + ":propagate:" + string(kind))
}

func (r *recorderExt) Dispose(c *Client) error {
	r.log.add(r.Name() + ":dispose")
	return nil
}

func TestExtensionLifecycleOrder(t *testing.T) {
	log := &eventLog{}
	c, err := New(
		WithExtension(newRecorderExt("a", log)),
		WithExtension(newRecorderExt("b", log)),
	)
	if err != nil {
		t.Fatal(err)
	}

	q := MustDefine(c, "observed", func(ctx context.Context, args ...any) (string, error) {
		return "v", nil
	}, WithUpdates("shadow"))

	if _, err := q.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Dispose(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"a:init", "b:init",
		"a:trigger:started", "b:trigger:started",
		"a:wrap-enter", "b:wrap-enter", "b:wrap-exit", "a:wrap-exit",
		"a:settle", "b:settle",
		"a:propagate:update", "b:propagate:update",
		"a:trigger:hit", "b:trigger:hit",
		"a:dispose", "b:dispose",
	}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("events:\n got %v\nwant %v", got, want)
	}
}

type failingDisposeExt struct {
	BaseExtension
}

func (failingDisposeExt) Dispose(c *Client) error { return errors.New("flush failed") }

func TestDisposeClosesClient(t *testing.T) {
	ext := failingDisposeExt{BaseExtension: NewBaseExtension("flaky")}
	c, err := New(WithExtension(&ext))
	if err != nil {
		t.Fatal(err)
	}

	q := MustDefine(c, "doomed", func(ctx context.Context, args ...any) (int, error) {
		return 1, nil
	})
	if _, err := q.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Dispose(); err == nil {
		t.Fatal("extension dispose error swallowed")
	}
	if err := c.Dispose(); err != nil {
		t.Fatalf("second Dispose = %v, want idempotent nil", err)
	}

	if _, err := q.Execute(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Execute after dispose = %v", err)
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after dispose = %v", err)
	}
	if _, err := Define(c, "late", func(ctx context.Context, args ...any) (int, error) {
		return 2, nil
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Define after dispose = %v", err)
	}
}

func TestPrefetchWarmsKeys(t *testing.T) {
	c, _ := newTestClient(t)

	var leftCalls, rightCalls atomic.Int32
	left := MustDefine(c, "left", func(ctx context.Context, args ...any) (int, error) {
		return int(leftCalls.Add(1)), nil
	})
	right := MustDefine(c, "right", func(ctx context.Context, args ...any) (int, error) {
		return int(rightCalls.Add(1)), nil
	})

	if err := c.Prefetch(context.Background(), "left", "right"); err != nil {
		t.Fatal(err)
	}
	if leftCalls.Load() != 1 || rightCalls.Load() != 1 {
		t.Fatalf("calls = %d/%d, want one each", leftCalls.Load(), rightCalls.Load())
	}

	if _, err := left.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := right.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Prefetch(context.Background(), "left", "right"); err != nil {
		t.Fatal(err)
	}
	if leftCalls.Load() != 1 || rightCalls.Load() != 1 {
		t.Fatalf("warm keys re-executed: %d/%d", leftCalls.Load(), rightCalls.Load())
	}
}

func TestPrefetchUnknownKeyFailsFast(t *testing.T) {
	c, _ := newTestClient(t)

	var calls atomic.Int32
	MustDefine(c, "known", func(ctx context.Context, args ...any) (int, error) {
		return int(calls.Add(1)), nil
	})

	err := c.Prefetch(context.Background(), "known", "ghost")
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("error = %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("prefetch ran %d operations before failing", calls.Load())
	}
}

func TestPrefetchReturnsExecutionError(t *testing.T) {
	c, _ := newTestClient(t)

	boom := errors.New("backend down")
	MustDefine(c, "healthy", func(ctx context.Context, args ...any) (int, error) {
		return 1, nil
	})
	MustDefine(c, "sick", func(ctx context.Context, args ...any) (int, error) {
		return 0, boom
	})

	err := c.Prefetch(context.Background(), "healthy", "sick")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the operation failure", err)
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Key != "sick" {
		t.Fatalf("error = %v, want an ExecError for the failing key", err)
	}
}

func TestSubscribeBeforeDefine(t *testing.T) {
	c, _ := newTestClient(t)

	var mu sync.Mutex
	var seen []Status
	cancel := c.Subscribe("early", func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})
	defer cancel()

	q := MustDefine(c, "early", func(ctx context.Context, args ...any) (string, error) {
		return "v", nil
	})
	if _, err := q.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusLoading, StatusSuccess}
	if !slices.Equal(seen, want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
}

func TestKeysIncludeBareEntries(t *testing.T) {
	c, _ := newTestClient(t)

	MustDefine(c, "zeta", func(ctx context.Context, args ...any) (int, error) { return 1, nil })
	MustDefine(c, "alpha", func(ctx context.Context, args ...any) (int, error) { return 2, nil })
	c.SetData("mid", 3)

	want := []string{"alpha", "mid", "zeta"}
	if got := c.Keys(); !slices.Equal(got, want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}

	snap, ok := c.State("mid")
	if !ok || !snap.IsSuccess() || snap.Data != 3 {
		t.Fatalf("bare entry state = %+v ok=%v", snap, ok)
	}
}

func TestKeyedClientOperations(t *testing.T) {
	c, _ := newTestClient(t)

	if _, err := c.Execute(context.Background(), "ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Execute = %v", err)
	}
	if _, err := c.Get(context.Background(), "ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Get = %v", err)
	}
	if _, err := c.Revalidate(context.Background(), "ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Revalidate = %v", err)
	}
	if err := c.Reset("ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Reset = %v", err)
	}
	if err := c.Enable("ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Enable = %v", err)
	}
	if err := c.Disable("ghost"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Disable = %v", err)
	}

	MustDefine(c, "managed", func(ctx context.Context, args ...any) (string, error) {
		return "ok", nil
	})
	if err := c.Disable("managed"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Execute(context.Background(), "managed"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Execute = %v", err)
	}
	if err := c.Enable("managed"); err != nil {
		t.Fatal(err)
	}
	v, err := c.Get(context.Background(), "managed")
	if err != nil {
		t.Fatal(err)
	}
	if v != "ok" {
		t.Fatalf("Get = %v", v)
	}

	c.Invalidate("managed")
	snap, _ := c.State("managed")
	if !snap.Invalidated {
		t.Fatal("Invalidate did not mark the key")
	}
}

func TestResetAllClearsEveryKey(t *testing.T) {
	c, _ := newTestClient(t)

	a := MustDefine(c, "a", func(ctx context.Context, args ...any) (int, error) { return 1, nil })
	b := MustDefine(c, "b", func(ctx context.Context, args ...any) (int, error) { return 2, nil })
	if _, err := a.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.ResetAll()

	for _, q := range []*Query[int]{a, b} {
		st := q.State()
		if st.HasData || st.Status != StatusIdle {
			t.Fatalf("%s after ResetAll: %v hasData=%v", q.Key(), st.Status, st.HasData)
		}
	}
	if got := c.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Keys = %v", got)
	}
}

func TestPropagationGraphExport(t *testing.T) {
	c, _ := newTestClient(t)

	MustDefine(c, "hub", func(ctx context.Context, args ...any) (int, error) {
		return 1, nil
	}, WithUpdates("spoke-a"), WithInvalidates("spoke-b"))

	graph := c.PropagationGraph()
	want := []PropagationLink{
		{Target: "spoke-a", Kind: PropagateUpdate},
		{Target: "spoke-b", Kind: PropagateInvalidate},
	}
	if !slices.Equal(graph["hub"], want) {
		t.Fatalf("edges = %v, want %v", graph["hub"], want)
	}

	// The export is a copy; mutating it must not touch the graph.
	graph["hub"][0].Target = "mangled"
	if c.PropagationGraph()["hub"][0].Target != "spoke-a" {
		t.Fatal("export aliased internal state")
	}

	if got := c.PropagationSources("spoke-a"); !slices.Equal(got, []string{"hub"}) {
		t.Fatalf("sources = %v", got)
	}
	if got := c.PropagationSources("unlinked"); got != nil {
		t.Fatalf("sources for unlinked key = %v", got)
	}
}

func TestMustDefinePanicsOnError(t *testing.T) {
	c, _ := newTestClient(t)
	MustDefine(c, "unique", func(ctx context.Context, args ...any) (int, error) { return 1, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("no panic")
		}
	}()
	MustDefine(c, "unique", func(ctx context.Context, args ...any) (int, error) { return 2, nil })
}

func TestMustNewPanicsOnError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("no panic")
		}
	}()
	MustNew(WithConfig(Config{RetryLimit: -1}))
}
