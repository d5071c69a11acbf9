package events

import "context"

type emitterKey struct{}

// WithEmitter installs an event sink in the context so deeply nested code
// (tool wrappers, approval gates) can surface side events into the run's
// stream without plumbing a callback through every layer.
func WithEmitter(ctx context.Context, emit func(Event)) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFrom returns the installed sink, or nil.
func EmitterFrom(ctx context.Context) func(Event) {
	emit, _ := ctx.Value(emitterKey{}).(func(Event))
	return emit
}

// Emit sends ev to the context's sink when one is installed.
func Emit(ctx context.Context, ev Event) {
	if emit := EmitterFrom(ctx); emit != nil {
		emit(ev)
	}
}
