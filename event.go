package hooks

import (
	"context"
	"log/slog"
)

// Listener is an event subscriber. Named events spread the DoEvent arguments
// into args; "always" listeners receive them as a single []any in args[0].
// A non-nil error stops the dispatch and is returned by DoEvent.
type Listener func(ctx context.Context, args ...any) error

// EventSubscriber is a listener registered under an event name
type EventSubscriber = Subscriber[Listener]

// AddEvent registers fn under the event name.
//
// Use WithPriority to change the default priority (5) and WithKey to make the
// listener replaceable and removable:
//
//	h.AddEvent("user.created", sendMail, hooks.WithKey("mail"), hooks.WithPriority(10))
//
// Registering again with the same name and key replaces the listener and its priority.
func (h *Hooks) AddEvent(name string, fn Listener, opts ...SubscribeOption) {
	o := newSubscribeOptions(opts...)
	sub := EventSubscriber{
		ID:       SubscriberID(name, o.key),
		Key:      o.key,
		Priority: o.priority,
		Callback: fn,
	}
	replaced := h.events.add(name, sub)
	if !h.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	h.logger.Debug("added event subscriber",
		"event", name,
		"id", sub.ID,
		"priority", sub.Priority,
		"replaced", replaced,
		"caller", Caller(2))
}

// HasEvent reports whether at least one listener is registered for name
func (h *Hooks) HasEvent(name string) bool {
	return h.events.has(name)
}

// GetEvents returns the listeners of name in registration order.
// Dispatch order is by priority; use the Priority field to reproduce it.
func (h *Hooks) GetEvents(name string) []EventSubscriber {
	return h.events.list(name)
}

// AllEvents returns the listeners of every event name
func (h *Hooks) AllEvents() map[string][]EventSubscriber {
	return h.events.all()
}

// RemoveEvent removes the listener registered under name with key.
// Returns true if the listener existed. Listeners added without WithKey
// cannot be removed this way.
func (h *Hooks) RemoveEvent(name, key string) bool {
	if key == "" {
		return false
	}
	removed := h.events.remove(name, SubscriberID(name, key))
	if removed {
		h.logger.Debug("removed event subscriber", "event", name, "key", key)
	}
	return removed
}

// RemoveEvents removes every listener of name.
// Returns true if the event had listeners.
func (h *Hooks) RemoveEvents(name string) bool {
	removed := h.events.removeAll(name)
	if removed {
		h.logger.Debug("removed event", "event", name)
	}
	return removed
}

// DoEvent dispatches the event name.
//
// Listeners registered under "always" run first, in priority order, each
// receiving all args as one []any value. Then the listeners of name run in
// priority order with args spread. The first error stops the dispatch and is
// returned unchanged. Returns ErrClosed once Close has been called.
func (h *Hooks) DoEvent(ctx context.Context, name string, args ...any) error {
	if !h.Running() {
		return ErrClosed
	}
	return h.doEvent(ctx, name, args)
}

func (h *Hooks) doEvent(ctx context.Context, name string, args []any) (err error) {
	ctx, end := h.startDispatch(ctx, KindEvent, name)
	defer func() { end(err) }()

	if always := h.events.ordered(EventAlways); len(always) > 0 {
		for _, sub := range always {
			fn := sub.Callback
			// each listener owns its copy; named listeners keep the original args
			aggregate := append(make([]any, 0, len(args)), args...)
			err = h.invoke(ctx, KindEvent, EventAlways, sub.ID, sub.Priority, func(ctx context.Context) error {
				return fn(ctx, aggregate)
			})
			if err != nil {
				return err
			}
		}
	}

	for _, sub := range h.events.ordered(name) {
		fn := sub.Callback
		err = h.invoke(ctx, KindEvent, name, sub.ID, sub.Priority, func(ctx context.Context) error {
			return fn(ctx, args...)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
