package emit

import "context"

// MultiEmitter fans each event out to every wrapped emitter in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds a MultiEmitter over the given emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit implements Emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// Flush implements Emitter, returning the first flush error encountered
// after attempting every emitter.
func (m *MultiEmitter) Flush(ctx context.Context) error {
	var first error
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
