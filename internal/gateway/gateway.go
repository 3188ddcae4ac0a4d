// Package gateway implements the Streaming Chat Gateway:
// POST /chat/stream, emitting the wire chunk grammar over Server-Sent
// Events: an http.Flusher written after each event, a JSON payload per
// line, adapted to this orchestrator's chunk types and its own
// bounded-buffer overflow policy instead of a straight pass-through.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ChunkType enumerates the wire grammar's event types.
type ChunkType string

const (
	ChunkContent      ChunkType = "content"
	ChunkToolCall     ChunkType = "tool_call"
	ChunkAgentComplete ChunkType = "agent_complete"
	ChunkError        ChunkType = "error"
	ChunkDone         ChunkType = "done"
)

// Chunk is one SSE event's JSON payload, matching the wire grammar:
//
//	{ type: "content", content: "<text>" }
//	{ type: "tool_call", tool: "<name>", agent: "<name>" }
//	{ type: "agent_complete", agent: "<name>" }
//	{ type: "error", error: "<message>" }
//	{ type: "done", session_id: "<id>" }
type Chunk struct {
	Type      ChunkType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// DefaultStreamBuffer is gateway.stream_buffer's default.
const DefaultStreamBuffer = 256

// Source produces chunks for one chat session onto the channel it returns,
// closing the channel when the underlying workflow invocation finishes
// (successfully, with an error, or via ctx cancellation). Supplied by the
// caller; the gateway itself only handles transport, buffering, and
// retries.
type Source func(ctx context.Context, sessionID, message string) (<-chan Chunk, error)

// Gateway serves /chat/stream.
type Gateway struct {
	source       Source
	bufferSize   int
	breaker      *gobreaker.CircuitBreaker
	retryDelays  []time.Duration
}

// New constructs a Gateway. bufferSize <= 0 uses DefaultStreamBuffer.
func New(source Source, bufferSize int) *Gateway {
	if bufferSize <= 0 {
		bufferSize = DefaultStreamBuffer
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-stream-upstream",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Gateway{
		source:      source,
		bufferSize:  bufferSize,
		breaker:     cb,
		retryDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

type streamRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ServeHTTP handles POST /chat/stream.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	g.stream(ctx, req.SessionID, req.Message, w, flusher)
}

func (g *Gateway) stream(ctx context.Context, sessionID, message string, w http.ResponseWriter, flusher http.Flusher) {
	var chunks <-chan Chunk
	var err error

	for attempt := 0; ; attempt++ {
		result, breakerErr := g.breaker.Execute(func() (interface{}, error) {
			return g.source(ctx, sessionID, message)
		})
		if breakerErr == nil {
			chunks = result.(<-chan Chunk)
			err = nil
			break
		}
		err = breakerErr
		if attempt >= len(g.retryDelays) || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(g.retryDelays[attempt]):
		case <-ctx.Done():
			return
		}
	}

	if err != nil {
		writeChunk(w, flusher, Chunk{Type: ChunkError, Error: err.Error()})
		writeChunk(w, flusher, Chunk{Type: ChunkDone, SessionID: sessionID})
		writeDoneSentinel(w, flusher)
		return
	}

	buffered := bufferWithOverflow(ctx, chunks, g.bufferSize)
	for chunk := range buffered {
		if chunk.Type == ChunkDone {
			chunk.SessionID = sessionID
			writeChunk(w, flusher, chunk)
			writeDoneSentinel(w, flusher)
			return
		}
		writeChunk(w, flusher, chunk)
	}
}

// bufferWithOverflow re-buffers src through a bounded channel: when the
// consumer falls behind and the buffer fills, keepalive-equivalent content
// chunks are coalesced first; tool_call, agent_complete, error, and done
// are never dropped.
func bufferWithOverflow(ctx context.Context, src <-chan Chunk, size int) <-chan Chunk {
	out := make(chan Chunk, size)
	go func() {
		defer close(out)
		var pendingContent *Chunk
		flushPending := func() bool {
			if pendingContent == nil {
				return true
			}
			select {
			case out <- *pendingContent:
				pendingContent = nil
				return true
			default:
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-src:
				if !ok {
					flushPending()
					return
				}
				if chunk.Type == ChunkContent {
					if !flushPending() {
						// Buffer still full: coalesce into the most recent
						// pending content chunk rather than drop it.
						if pendingContent != nil {
							pendingContent.Content += chunk.Content
						} else {
							pendingContent = &chunk
						}
						continue
					}
					select {
					case out <- chunk:
					default:
						pendingContent = &chunk
					}
					continue
				}

				// Never drop tool_call/agent_complete/error/done: block
				// until there's room, flushing any coalesced content
				// first so ordering is preserved.
				for !flushPending() {
					select {
					case <-ctx.Done():
						return
					case out <- *pendingContent:
						pendingContent = nil
					}
				}
				select {
				case <-ctx.Done():
					return
				case out <- chunk:
				}
			}
		}
	}()
	return out
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk Chunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeDoneSentinel writes the literal `[DONE]` terminal SSE event that
// signals end-of-stream to parsers, in addition to the structured `done`
// chunk.
func writeDoneSentinel(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
