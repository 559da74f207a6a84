// Package requery provides keyed fetch coordination with cache lifecycle
// management for Go.
//
// # Overview
//
// Requery organizes code around three core concepts:
//
//  1. Queries: Keyed operations whose results are cached and observed
//  2. Client: The registry that coordinates executions and owns all state
//  3. Propagation: Declared cross-key effects applied after settlements
//
// # Basic Usage
//
// Define queries against a client:
//
//	client := requery.MustNew()
//
//	user := requery.MustDefine(client, "user:42",
//	    func(ctx context.Context, args ...any) (*User, error) {
//	        return fetchUser(ctx, 42)
//	    },
//	)
//
//	u, err := user.Execute(context.Background())
//
// Concurrent triggers on one key share a single execution:
//
//	// All three goroutines observe the result of one fetch.
//	go user.Execute(ctx)
//	go user.Execute(ctx)
//	go user.Execute(ctx)
//
// # Triggers
//
// Execute always runs the operation. Get serves cached data while it is
// fresh and runs the operation otherwise. Revalidate re-runs the operation
// with the arguments of the last user trigger:
//
//	u, err := user.Get(ctx)        // cache hit when fresh
//	u, err = user.Execute(ctx)     // always executes
//	u, err = user.Revalidate(ctx)  // executes with recorded args
//
// A failed execution keeps the previous data visible:
//
//	st := user.State()
//	if st.IsError() && st.HasData {
//	    // show stale data alongside the error
//	}
//
// # Observation
//
// Subscribers receive one typed state per transition:
//
//	cancel := user.Subscribe(func(st requery.State[*User]) {
//	    if st.IsRevalidating() {
//	        // stale data still visible while refresh runs
//	    }
//	})
//	defer cancel()
//
// Background schedules run only while at least one subscriber is attached.
// When the count drops to zero all timers pause; the first new subscriber
// resumes them, firing immediately if the period already elapsed.
//
// # Background Revalidation and Retry
//
// Queries can refresh themselves while observed and retry after failures:
//
//	feed := requery.MustDefine(client, "feed",
//	    fetchFeed,
//	    requery.WithRevalidate(30*time.Second),
//	    requery.WithRetry(3, 2*time.Second),
//	)
//
// Revalidation periods count from settlement completion, so a slow fetch
// never stacks executions. Retries stop once the error count exceeds the
// limit; any successful settlement resets the count.
//
// # Propagation
//
// A settled query can push its data into other keys or mark them stale:
//
//	requery.MustDefine(client, "user:42",
//	    fetchUser,
//	    requery.WithUpdates("profile:42"),
//	    requery.WithInvalidates("friends:42"),
//	)
//
// Updated targets receive the data without running their own operations.
// Invalidated targets keep serving cached data but execute unconditionally
// on their next trigger. Propagation is one level deep; a pushed write never
// triggers the target's own edges.
//
// # Persistence
//
// Queries marked WithPersist seed from a store before their first execution
// and write every successful settlement back through it:
//
//	store, err := requery.NewFilePersister("~/.cache/myapp")
//	client := requery.MustNew(requery.WithPersister(store))
//
//	requery.MustDefine(client, "session", fetchSession, requery.WithPersist())
//
// Seeded data displays immediately but stays marked stale, so the next
// trigger refreshes it in the background. Store failures are logged and
// never surface to callers.
//
// # Extensions
//
// Extensions hook the query lifecycle for cross-cutting concerns:
//
//	type TimingExtension struct {
//	    requery.BaseExtension
//	}
//
//	func (e *TimingExtension) WrapExecute(ctx context.Context, key string, next func() (any, error)) (any, error) {
//	    start := time.Now()
//	    result, err := next()
//	    log.Printf("%s took %s", key, time.Since(start))
//	    return result, err
//	}
//
//	client := requery.MustNew(
//	    requery.WithExtension(&TimingExtension{
//	        BaseExtension: requery.NewBaseExtension("timing"),
//	    }),
//	)
//
// # Configuration
//
// Client-wide defaults come from code or a TOML file:
//
//	cfg, err := requery.LoadConfig("~/.config/myapp/requery.toml")
//	client := requery.MustNew(requery.WithConfig(cfg))
//
// With the file format:
//
//	retry_limit = 3
//	retry_time = "2s"
//	revalidate_time = "30s"
//
// # Thread Safety
//
// All operations are thread-safe:
//   - Clients can be accessed concurrently
//   - Queries can be used from multiple goroutines
//   - Subscriber callbacks run outside all internal locks
package requery
