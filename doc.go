// Package hooks provides an in-process registry of named events and filters.
//
// Events are fire-and-forget notifications delivered to zero or more listeners.
// Filters are value pipelines: each filter receives the current value and returns
// the next one. Both are dispatched synchronously on the caller's goroutine in
// descending priority order (ties keep registration order).
//
// Basic example:
//
//	h := hooks.New("app")
//	defer h.Close(ctx)
//
//	// Listener with an explicit key so it can be removed later
//	h.AddEvent("user.created", func(ctx context.Context, args ...any) error {
//	    fmt.Println("created:", args[0])
//	    return nil
//	}, hooks.WithKey("welcome-mail"), hooks.WithPriority(10))
//
//	if err := h.DoEvent(ctx, "user.created", "john"); err != nil {
//	    log.Fatal(err)
//	}
//
//	h.RemoveEvent("user.created", "welcome-mail")
//
//	// Filters thread a value through every subscriber
//	hooks.AddFilterFunc(h, "title", func(ctx context.Context, s string) (string, error) {
//	    return strings.ToUpper(s), nil
//	})
//	title, err := hooks.ApplyFilter(ctx, h, "title", "hello")
//
// Reserved event names:
//   - "always": listeners run on every DoEvent call regardless of the name. They
//     receive the dispatch arguments as a single []any value rather than spread.
//   - "destruct": listeners run once when Close is called.
//
// Subscribers registered without WithKey get a random identifier and cannot be
// removed individually; use RemoveEvents/RemoveFilters to drop them.
//
// Registry Options:
//   - WithLogger: set logger for the registry.
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//   - WithRecovery: convert subscriber panics into *PanicError. Default is false.
//   - WithMonitor: record every subscriber invocation in a MonitorStore.
//
// Every DoEvent and DoFilter call on a running registry opens a dispatch span and
// increments hooks.dispatched, whether or not subscribers are registered.
//
// Errors returned by a subscriber are returned unchanged by DoEvent/DoFilter and
// stop the remaining subscribers from running.
package hooks
