package emit

import "context"

// Emitter receives observability events. Implementations must be safe for
// concurrent use and must not panic; a failing backend is the emitter's
// problem, never the workflow's.
type Emitter interface {
	Emit(event Event)

	// Flush delivers anything buffered; call before shutdown.
	Flush(ctx context.Context) error
}
