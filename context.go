package hooks

import (
	"context"
	"log/slog"
)

const (
	hookContextKey contextKey = iota
)

// Kind tells events and filters apart
type Kind string

const (
	// KindEvent marks event dispatches
	KindEvent Kind = "event"
	// KindFilter marks filter dispatches
	KindFilter Kind = "filter"
)

type hookContextData struct {
	name         string
	kind         Kind
	dispatchID   string
	subscriberID string
	logger       *slog.Logger
	hooks        *Hooks
}

// contextKey
type contextKey int

func contextData(ctx context.Context) *hookContextData {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(hookContextKey).(*hookContextData)
	return s
}

// ContextName get hook name stored in context
func ContextName(ctx context.Context) string {
	if s := contextData(ctx); s != nil {
		return s.name
	}
	return ""
}

// ContextKind get dispatch kind stored in context
func ContextKind(ctx context.Context) Kind {
	if s := contextData(ctx); s != nil {
		return s.kind
	}
	return ""
}

// ContextDispatchID get the ID of the running dispatch
func ContextDispatchID(ctx context.Context) string {
	if s := contextData(ctx); s != nil {
		return s.dispatchID
	}
	return ""
}

// ContextSubscriberID get the ID of the subscriber being invoked
func ContextSubscriberID(ctx context.Context) string {
	if s := contextData(ctx); s != nil {
		return s.subscriberID
	}
	return ""
}

// ContextLogger get registry logger stored in context.
// Falls back to slog.Default outside a dispatch.
func ContextLogger(ctx context.Context) *slog.Logger {
	if s := contextData(ctx); s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// ContextHooks get the dispatching registry stored in context
func ContextHooks(ctx context.Context) *Hooks {
	if s := contextData(ctx); s != nil {
		return s.hooks
	}
	return nil
}

func contextWithDispatch(ctx context.Context, h *Hooks, kind Kind, name, dispatchID string) context.Context {
	return context.WithValue(ctx, hookContextKey, &hookContextData{
		name:       name,
		kind:       kind,
		dispatchID: dispatchID,
		logger:     h.logger,
		hooks:      h,
	})
}

// contextWithSubscriber copies the dispatch data and sets the subscriber ID
func contextWithSubscriber(ctx context.Context, subscriberID string) context.Context {
	s := contextData(ctx)
	if s == nil {
		return context.WithValue(ctx, hookContextKey, &hookContextData{subscriberID: subscriberID})
	}
	data := *s
	data.subscriberID = subscriberID
	return context.WithValue(ctx, hookContextKey, &data)
}
