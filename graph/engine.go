// Package graph executes the orchestrator's workflow graphs: a directed
// graph of typed nodes run one node at a time, with the accumulated state
// persisted to a checkpoint store after every node, per-node timeouts and
// retry policies enforced around each execution, and an observability
// event emitted at every step boundary.
//
// internal/workflow instantiates Engine with its State type and the
// router/specialist/approval-gate/finalize nodes; nothing in this package
// knows about tasks, approvals, or subtasks.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrator/taskorch/graph/emit"
	"github.com/orchestrator/taskorch/graph/store"
)

// Reducer merges a node's delta into the accumulated state. It must be
// pure: the engine calls it again with the same inputs when a node is
// retried.
type Reducer[S any] func(prev, delta S) S

// Options configure an Engine.
type Options struct {
	// MaxSteps aborts a run that executes more than this many nodes, the
	// backstop against a routing loop with no exit. Zero means no limit.
	MaxSteps int

	// Retries is the engine-wide retry budget for nodes that fail with a
	// transient error and declare no RetryPolicy of their own.
	Retries int

	// DefaultNodeTimeout bounds each node execution that carries no
	// NodePolicy.Timeout of its own. Zero means no limit.
	DefaultNodeTimeout time.Duration

	// Metrics, if set, records run counts, step latencies, and retries.
	Metrics *PrometheusMetrics
}

// Engine executes a compiled node graph over state type S.
type Engine[S any] struct {
	reducer Reducer[S]
	store   store.Store[S]
	emitter emit.Emitter
	opts    Options

	mu        sync.RWMutex
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string

	// inflight guards against two concurrent runs of the same runID
	// interleaving checkpoint writes.
	inflight sync.Map
}

// New builds an Engine. Nodes and edges are registered afterwards via Add,
// Connect, and StartAt; validation that a runnable graph exists happens at
// Run time.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Engine[S]{
		reducer: reducer,
		store:   st,
		emitter: emitter,
		opts:    opts,
		nodes:   make(map[string]Node[S]),
	}
}

// Add registers a node under a unique ID.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Code: "INVALID_NODE", Message: "node ID must not be empty"}
	}
	if node == nil {
		return &EngineError{Code: "INVALID_NODE", Message: "node must not be nil: " + nodeID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Code: "DUPLICATE_NODE", Message: "node already registered: " + nodeID}
	}
	e.nodes[nodeID] = node
	return nil
}

// Connect declares a conditional edge from one node to another, consulted
// when the source node's result names no destination. Edges are evaluated
// in Connect order; a nil predicate always matches.
func (e *Engine[S]) Connect(from, to string, when func(S) bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[from]; !ok {
		return &EngineError{Code: "NODE_NOT_FOUND", Message: "edge source not registered: " + from}
	}
	if _, ok := e.nodes[to]; !ok {
		return &EngineError{Code: "NODE_NOT_FOUND", Message: "edge destination not registered: " + to}
	}
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: when})
	return nil
}

// StartAt declares the run entry point.
func (e *Engine[S]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[nodeID]; !ok {
		return &EngineError{Code: "NODE_NOT_FOUND", Message: "start node not registered: " + nodeID}
	}
	e.startNode = nodeID
	return nil
}

// Run executes a fresh run from the start node until a node returns a
// terminal route, a node fails, or ctx is cancelled. The state persisted
// by the final SaveStep is always the state returned.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()
	return e.run(ctx, runID, start, 0, initial)
}

// RunFrom continues a run from a previously persisted step: state is the
// caller's (possibly updated) snapshot of the latest checkpoint, fromStep
// the step it was persisted at, and startNode the node to re-enter the
// graph at. Used to resume a run that stopped at an approval pause.
func (e *Engine[S]) RunFrom(ctx context.Context, runID string, fromStep int, startNode string, state S) (S, error) {
	return e.run(ctx, runID, startNode, fromStep, state)
}

func (e *Engine[S]) run(ctx context.Context, runID, current string, step int, state S) (S, error) {
	var zero S
	if e.reducer == nil {
		return zero, &EngineError{Code: "MISSING_REDUCER", Message: "reducer is required"}
	}
	if e.store == nil {
		return zero, &EngineError{Code: "MISSING_STORE", Message: "store is required"}
	}
	if current == "" {
		return zero, &EngineError{Code: "NO_START_NODE", Message: "start node not set"}
	}

	if _, running := e.inflight.LoadOrStore(runID, struct{}{}); running {
		return zero, &EngineError{Code: "RUN_IN_PROGRESS", Message: "run already executing: " + runID}
	}
	defer e.inflight.Delete(runID)

	if e.opts.Metrics != nil {
		e.opts.Metrics.runStarted()
		defer e.opts.Metrics.runFinished()
	}

	for {
		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{Code: "MAX_STEPS_EXCEEDED", Message: fmt.Sprintf("run %s exceeded %d steps", runID, e.opts.MaxSteps)}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		e.mu.RLock()
		node, ok := e.nodes[current]
		e.mu.RUnlock()
		if !ok {
			return zero, &EngineError{Code: "NODE_NOT_FOUND", Message: "node not found during execution: " + current}
		}

		result := e.execute(ctx, runID, current, step, node, state)
		if result.Err != nil {
			e.emit(runID, current, step, "node_error", map[string]interface{}{"error": result.Err.Error()})
			return zero, result.Err
		}

		state = e.reducer(state, result.Delta)
		if err := e.store.SaveStep(ctx, runID, step, current, state); err != nil {
			return zero, &EngineError{Code: "STORE_ERROR", Message: "failed to save step", Cause: err}
		}
		e.emit(runID, current, step, "node_end", nil)

		switch {
		case result.Route.Terminal:
			e.emit(runID, current, step, "run_complete", nil)
			return state, nil
		case result.Route.To != "":
			current = result.Route.To
		default:
			next := e.nextEdge(current, state)
			if next == "" {
				return zero, &EngineError{Code: "NO_ROUTE", Message: "no route from node: " + current}
			}
			current = next
		}
	}
}

// execute runs one node under its timeout, retrying transient failures per
// the node's RetryPolicy or, absent one, the engine-wide Options.Retries
// budget.
func (e *Engine[S]) execute(ctx context.Context, runID, nodeID string, step int, node Node[S], state S) NodeResult[S] {
	policy := policyOf(node)
	maxAttempts := 1 + e.opts.Retries
	if policy != nil && policy.Retry != nil && policy.Retry.MaxAttempts > 0 {
		maxAttempts = policy.Retry.MaxAttempts
	}

	for attempt := 0; ; attempt++ {
		e.emit(runID, nodeID, step, "node_start", map[string]interface{}{"attempt": attempt})
		started := time.Now()
		result := e.runWithTimeout(ctx, node, nodeID, state, policy)
		if e.opts.Metrics != nil {
			status := "success"
			if result.Err != nil {
				status = "error"
			}
			e.opts.Metrics.RecordStepLatency(nodeID, time.Since(started), status)
		}

		if result.Err == nil || attempt+1 >= maxAttempts || ctx.Err() != nil || !shouldRetry(policy, result.Err) {
			return result
		}

		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordRetry(nodeID)
		}
		e.emit(runID, nodeID, step, "node_retry", map[string]interface{}{
			"attempt": attempt,
			"error":   result.Err.Error(),
		})
		select {
		case <-time.After(retryDelay(policy, attempt)):
		case <-ctx.Done():
			return NodeResult[S]{Err: ctx.Err()}
		}
	}
}

// runWithTimeout executes node under the effective timeout
// (NodePolicy.Timeout over Options.DefaultNodeTimeout; zero means no
// limit). An elapsed deadline is surfaced through the result's Err as a
// transient NodeError so the retry budget applies to it.
func (e *Engine[S]) runWithTimeout(ctx context.Context, node Node[S], nodeID string, state S, policy *NodePolicy) NodeResult[S] {
	timeout := e.opts.DefaultNodeTimeout
	if policy != nil && policy.Timeout > 0 {
		timeout = policy.Timeout
	}
	if timeout <= 0 {
		return node.Run(ctx, state)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result := node.Run(tctx, state)
	if tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		result.Err = &NodeError{
			NodeID:    nodeID,
			Code:      "NODE_TIMEOUT",
			Message:   fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Transient: true,
		}
	}
	return result
}

func shouldRetry(policy *NodePolicy, err error) bool {
	if policy != nil && policy.Retry != nil && policy.Retry.Retryable != nil {
		return policy.Retry.Retryable(err)
	}
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

func (e *Engine[S]) nextEdge(from string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, edge := range e.edges {
		if edge.From != from {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emit(runID, nodeID string, step int, kind string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Kind: kind, Meta: meta})
}
