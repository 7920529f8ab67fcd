package hooks

import (
	"errors"
	"fmt"
)

// Registry errors
var (
	// ErrHook is the generic hook error kind. The registry never returns it on its
	// own; applications use it (usually through HookError) to mark failures that
	// belong to hook processing.
	ErrHook = errors.New("hook error")

	// ErrClosed is returned when dispatching on a registry that is closing or closed.
	ErrClosed = errors.New("hooks registry is closed")

	// ErrTypeMismatch is returned by the typed filter helpers when a value does
	// not have the expected type.
	ErrTypeMismatch = errors.New("filter value type mismatch")
)

// HookError wraps an application error raised while handling the named hook.
//
// Example usage:
//
//	h.AddEvent("order.created", func(ctx context.Context, args ...any) error {
//	    if len(args) == 0 {
//	        return hooks.NewHookError("order.created", errors.New("missing order"))
//	    }
//	    return nil
//	})
type HookError struct {
	Name string
	Err  error
}

// NewHookError creates a HookError for the given hook name.
func NewHookError(name string, err error) *HookError {
	return &HookError{Name: name, Err: err}
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("hook %q failed", e.Name)
	}
	return fmt.Sprintf("hook %q: %v", e.Name, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Is reports ErrHook as matching so errors.Is(err, ErrHook) holds for every HookError.
func (e *HookError) Is(target error) bool {
	return target == ErrHook
}

// IsHookError checks if an error is or wraps a HookError.
func IsHookError(err error) bool {
	var hookErr *HookError
	return errors.As(err, &hookErr)
}

// PanicError is returned in place of a subscriber panic when recovery is enabled.
type PanicError struct {
	Name         string
	SubscriberID string
	Value        any
	Stack        []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hook %q subscriber %s panicked: %v", e.Name, e.SubscriberID, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic checks if an error indicates a recovered subscriber panic.
func IsPanic(err error) bool {
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}

func typeMismatch(name string, want, got any) error {
	return fmt.Errorf("%w: filter %q expected %T, got %T", ErrTypeMismatch, name, want, got)
}
