package job

import "context"

// Definition binds a job name to a typed handler. T is the payload type
// and must round-trip through JSON.
type Definition[T any] struct {
	// Name uniquely identifies this job type.
	Name string

	// Handler processes one decoded payload.
	Handler func(ctx context.Context, payload T) error

	// Opts are the enqueue defaults for jobs of this name.
	Opts Options
}

// NewDefinition builds a typed definition with the given option
// overrides applied over DefaultOptions.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{Name: name, Handler: handler, Opts: DefaultOptions()}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
