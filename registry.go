package hooks

import (
	"sync"
)

var (
	defaultMu    sync.Mutex
	defaultHooks *Hooks
)

// Default returns the process-wide registry, creating it on first use with
// DefaultName and default options. Applications that share one registry
// between modules use it; everything else should create its own with New.
func Default() *Hooks {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHooks == nil {
		defaultHooks = New(DefaultName)
	}
	return defaultHooks
}

// SetDefault replaces the process-wide registry and returns the previous one,
// which may be nil. The previous registry is not closed.
func SetDefault(h *Hooks) *Hooks {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultHooks
	defaultHooks = h
	return prev
}
