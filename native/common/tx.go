package common

import "context"

// Transactor runs a unit of work atomically. Atomic commits every write made
// by fn or none of them; View runs fn against a consistent snapshot and
// discards any writes. Nested calls with a context derived from an active
// unit join that unit.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	View(ctx context.Context, fn func(ctx context.Context) error) error
}

// Direct runs the callback inline without isolation. Unit tests with map
// backed state use it.
type Direct struct{}

func (Direct) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (Direct) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Context returns ctx or a background context when ctx is nil.
func Context(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
