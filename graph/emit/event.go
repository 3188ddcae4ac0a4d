// Package emit carries the engine's observability events to pluggable
// backends: LogEmitter writes structured lines to a writer, OTelEmitter
// forwards events as OpenTelemetry spans, MultiEmitter fans out to both,
// and NullEmitter discards everything. internal/obs bundles the emitters
// the daemon runs with; internal/eventbus reuses Emitter for its own
// handler-failure logging.
package emit

// Event is one observability record from a workflow run.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the step number within the run; zero for run-level events.
	Step int

	// NodeID names the node involved; empty for run-level events.
	NodeID string

	// Kind names the event (node_start, node_end, node_retry,
	// node_error, run_complete, and component-specific kinds).
	Kind string

	// Meta carries additional structured fields.
	Meta map[string]interface{}
}
