package hooks

import (
	"context"
	"log/slog"
)

// Filter is a filter subscriber. It receives the current value and returns the
// value handed to the next filter.
type Filter func(ctx context.Context, value any) (any, error)

// FilterSubscriber is a filter registered under a filter name
type FilterSubscriber = Subscriber[Filter]

// AddFilter registers fn under the filter name.
// Options behave as for AddEvent.
func (h *Hooks) AddFilter(name string, fn Filter, opts ...SubscribeOption) {
	h.addFilter(name, fn, opts...)
}

func (h *Hooks) addFilter(name string, fn Filter, opts ...SubscribeOption) {
	o := newSubscribeOptions(opts...)
	sub := FilterSubscriber{
		ID:       SubscriberID(name, o.key),
		Key:      o.key,
		Priority: o.priority,
		Callback: fn,
	}
	replaced := h.filters.add(name, sub)
	if !h.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	h.logger.Debug("added filter subscriber",
		"filter", name,
		"id", sub.ID,
		"priority", sub.Priority,
		"replaced", replaced,
		"caller", Caller(3))
}

// HasFilter reports whether at least one filter is registered for name
func (h *Hooks) HasFilter(name string) bool {
	return h.filters.has(name)
}

// GetFilters returns the filters of name in registration order
func (h *Hooks) GetFilters(name string) []FilterSubscriber {
	return h.filters.list(name)
}

// AllFilters returns the filters of every filter name
func (h *Hooks) AllFilters() map[string][]FilterSubscriber {
	return h.filters.all()
}

// RemoveFilter removes the filter registered under name with key.
// Returns true if the filter existed.
func (h *Hooks) RemoveFilter(name, key string) bool {
	if key == "" {
		return false
	}
	removed := h.filters.remove(name, SubscriberID(name, key))
	if removed {
		h.logger.Debug("removed filter subscriber", "filter", name, "key", key)
	}
	return removed
}

// RemoveFilters removes every filter of name.
// Returns true if the name had filters.
func (h *Hooks) RemoveFilters(name string) bool {
	removed := h.filters.removeAll(name)
	if removed {
		h.logger.Debug("removed filter", "filter", name)
	}
	return removed
}

// DoFilter passes value through the filters of name in priority order and
// returns the result. Without filters value is returned unchanged; the
// dispatch is still traced and counted like an event without listeners.
//
// When a filter fails, DoFilter returns the value it was given together with
// the error, and the remaining filters are skipped. Returns value and ErrClosed
// once Close has been called.
func (h *Hooks) DoFilter(ctx context.Context, name string, value any) (any, error) {
	if !h.Running() {
		return value, ErrClosed
	}

	var err error
	ctx, end := h.startDispatch(ctx, KindFilter, name)
	defer func() { end(err) }()

	for _, sub := range h.filters.ordered(name) {
		fn := sub.Callback
		current := value
		var next any
		err = h.invoke(ctx, KindFilter, name, sub.ID, sub.Priority, func(ctx context.Context) error {
			var fErr error
			next, fErr = fn(ctx, current)
			return fErr
		})
		if err != nil {
			return value, err
		}
		value = next
	}
	return value, nil
}

// AddFilterFunc registers a typed filter. The filter fails with ErrTypeMismatch
// when it receives a value that is not a T.
//
//	hooks.AddFilterFunc(h, "title", func(ctx context.Context, s string) (string, error) {
//	    return strings.TrimSpace(s), nil
//	}, hooks.WithKey("trim"))
func AddFilterFunc[T any](h *Hooks, name string, fn func(context.Context, T) (T, error), opts ...SubscribeOption) {
	h.addFilter(name, func(ctx context.Context, value any) (any, error) {
		typed, ok := value.(T)
		if !ok {
			var zero T
			return value, typeMismatch(name, zero, value)
		}
		return fn(ctx, typed)
	}, opts...)
}

// ApplyFilter is DoFilter with a typed value.
// Returns ErrTypeMismatch if the filters produce a value that is not a T.
func ApplyFilter[T any](ctx context.Context, h *Hooks, name string, value T) (T, error) {
	result, err := h.DoFilter(ctx, name, value)
	if err != nil {
		return value, err
	}
	typed, ok := result.(T)
	if !ok {
		return value, typeMismatch(name, value, result)
	}
	return typed, nil
}
