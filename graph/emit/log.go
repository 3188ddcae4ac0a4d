package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer: human-readable key=value lines by
// default, or JSON-Lines when jsonMode is set.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter builds a LogEmitter; a nil writer defaults to stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.writeJSON(event)
		return
	}
	l.writeText(event)
}

func (l *LogEmitter) writeJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID  string                 `json:"run_id"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"node_id"`
		Kind   string                 `json:"kind"`
		Meta   map[string]interface{} `json:"meta,omitempty"`
	}{event.RunID, event.Step, event.NodeID, event.Kind, event.Meta})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) writeText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run_id=%s step=%d node_id=%s",
		event.Kind, event.RunID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		if meta, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", meta)
		}
	}
	fmt.Fprintln(l.writer)
}

// Flush implements Emitter; LogEmitter writes through, so there is nothing
// buffered to deliver.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
