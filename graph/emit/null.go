package emit

import "context"

// NullEmitter discards every event; the default when an Engine is built
// without an emitter, and the usual choice in tests.
type NullEmitter struct{}

// NewNullEmitter builds a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit implements Emitter.
func (n *NullEmitter) Emit(Event) {}

// Flush implements Emitter.
func (n *NullEmitter) Flush(context.Context) error { return nil }
