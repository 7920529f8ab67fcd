package hooks

import (
	"context"
	"sync"
	"time"
)

// TestHooks creates a new registry configured for testing.
// Has tracing/metrics disabled and recovery left off so panics surface in the test.
//
// Example:
//
//	h := hooks.TestHooks()
//	defer h.Close(context.Background())
func TestHooks(opts ...Option) *Hooks {
	base := []Option{
		WithTracing(false),
		WithMetrics(false),
	}
	return New("test-hooks", append(base, opts...)...)
}

// RecordedCall is a single listener or filter invocation seen by a Recorder
type RecordedCall struct {
	// Label is the label given to Recorder.Listener or Recorder.Filter
	Label        string
	Name         string
	Kind         Kind
	SubscriberID string
	Args         []any
	Time         time.Time
}

// Recorder records listener and filter invocations in call order.
// Useful for asserting dispatch order and argument shapes.
type Recorder struct {
	mu    sync.Mutex
	calls []RecordedCall
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		calls: make([]RecordedCall, 0),
	}
}

func (r *Recorder) record(ctx context.Context, label string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RecordedCall{
		Label:        label,
		Name:         ContextName(ctx),
		Kind:         ContextKind(ctx),
		SubscriberID: ContextSubscriberID(ctx),
		Args:         args,
		Time:         time.Now(),
	})
}

// Listener returns a listener that records its calls under label and then
// returns err (nil for success).
func (r *Recorder) Listener(label string, err error) Listener {
	return func(ctx context.Context, args ...any) error {
		r.record(ctx, label, args)
		return err
	}
}

// Filter returns a filter that records its calls under label and returns
// next(value). A nil next returns the value unchanged.
func (r *Recorder) Filter(label string, next func(any) any) Filter {
	return func(ctx context.Context, value any) (any, error) {
		r.record(ctx, label, []any{value})
		if next == nil {
			return value, nil
		}
		return next(value), nil
	}
}

// Calls returns a copy of all recorded calls
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]RecordedCall, len(r.calls))
	copy(result, r.calls)
	return result
}

// Labels returns the labels of all recorded calls in call order
func (r *Recorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	labels := make([]string, len(r.calls))
	for i, c := range r.calls {
		labels[i] = c.Label
	}
	return labels
}

// Count returns the number of recorded calls
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Last returns the last recorded call, or nil if none
func (r *Recorder) Last() *RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.calls) == 0 {
		return nil
	}
	call := r.calls[len(r.calls)-1]
	return &call
}

// Reset clears all recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = make([]RecordedCall, 0)
	r.mu.Unlock()
}
