package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeHTTPStreamsChunksInOrder(t *testing.T) {
	source := func(ctx context.Context, sessionID, message string) (<-chan Chunk, error) {
		ch := make(chan Chunk, 4)
		ch <- Chunk{Type: ChunkContent, Content: "hello "}
		ch <- Chunk{Type: ChunkContent, Content: "world"}
		ch <- Chunk{Type: ChunkAgentComplete, Agent: "feature-dev"}
		ch <- Chunk{Type: ChunkDone}
		close(ch)
		return ch, nil
	}
	g := New(source, 16)

	body := bytes.NewBufferString(`{"session_id":"s1","message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", body)
	rec := httptest.NewRecorder()

	g.ServeHTTP(rec, req)

	chunks := parseSSE(t, rec.Body.String())
	require.GreaterOrEqualf(t, len(chunks), 3, "expected at least 3 emitted chunks, got %+v", chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, ChunkDone, last.Type)
	assert.Equal(t, "s1", last.SessionID)
	assert.True(t, sawDoneSentinel(t, rec.Body.String()), "expected a literal [DONE] terminal SSE sentinel")

	var sawAgentComplete bool
	for _, c := range chunks {
		if c.Type == ChunkAgentComplete {
			sawAgentComplete = true
			assert.Equal(t, "feature-dev", c.Agent)
		}
		if c.Type == ChunkContent && sawAgentComplete {
			t.Fatal("content chunk observed after agent_complete")
		}
	}
	assert.True(t, sawAgentComplete, "expected an agent_complete chunk")
}

func TestServeHTTPRejectsMissingSessionID(t *testing.T) {
	g := New(func(ctx context.Context, sessionID, message string) (<-chan Chunk, error) {
		t.Fatal("source should not be invoked for an invalid request")
		return nil, nil
	}, 16)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPSurfacesSourceErrorThenDone(t *testing.T) {
	source := func(ctx context.Context, sessionID, message string) (<-chan Chunk, error) {
		return nil, errors.New("upstream unavailable")
	}
	g := New(source, 16)
	g.retryDelays = nil // skip retry backoff in the test

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"session_id":"s2","message":"hi"}`))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	chunks := parseSSE(t, rec.Body.String())
	require.Lenf(t, chunks, 2, "expected error+done, got %+v", chunks)
	assert.Equal(t, ChunkError, chunks[0].Type)
	assert.Equal(t, ChunkDone, chunks[1].Type)
	assert.Equal(t, "s2", chunks[1].SessionID)
	assert.True(t, sawDoneSentinel(t, rec.Body.String()), "expected a literal [DONE] terminal SSE sentinel even on a source error")
}

func TestBufferWithOverflowNeverDropsControlChunks(t *testing.T) {
	src := make(chan Chunk)
	ctx := context.Background()
	out := bufferWithOverflow(ctx, src, 1)

	go func() {
		src <- Chunk{Type: ChunkContent, Content: "a"}
		src <- Chunk{Type: ChunkContent, Content: "b"}
		src <- Chunk{Type: ChunkToolCall, Tool: "read_file", Agent: "feature-dev"}
		src <- Chunk{Type: ChunkDone}
		close(src)
	}()

	var got []Chunk
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case c, ok := <-out:
			if !ok {
				break drain
			}
			got = append(got, c)
		case <-timeout:
			t.Fatal("timed out draining bufferWithOverflow output")
		}
	}

	var sawToolCall, sawDone bool
	for _, c := range got {
		if c.Type == ChunkToolCall {
			sawToolCall = true
		}
		if c.Type == ChunkDone {
			sawDone = true
		}
	}
	assert.True(t, sawToolCall, "tool_call chunk was dropped under backpressure")
	assert.True(t, sawDone, "done chunk was dropped under backpressure")
}

func parseSSE(t *testing.T, body string) []Chunk {
	t.Helper()
	var chunks []Chunk
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var c Chunk
		require.NoErrorf(t, json.Unmarshal([]byte(payload), &c), "failed to parse SSE chunk %q", line)
		chunks = append(chunks, c)
	}
	return chunks
}

func sawDoneSentinel(t *testing.T, body string) bool {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "data: [DONE]" {
			return true
		}
	}
	return false
}
