// Package approval implements the Approval Gate: raising approval requests
// for risky subtasks, recording the human decision exactly once, and
// expiring requests nobody answered in time. A workflow pauses via
// graph.Stop() and resumes once a decision lands, with the pending→
// decided transition itself made exactly-once through
// persistence.Adapter's compare-and-swap rather than through in-memory
// state alone, since decisions can arrive through any API replica.
package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/orcherr"
	"github.com/orchestrator/taskorch/internal/persistence"
)

// DefaultExpiry is approval.expiry_hours' default.
const DefaultExpiry = 24 * time.Hour

const keyPrefix = "approvals/"

// Gate owns the ApprovalRequest lifecycle.
type Gate struct {
	adapter persistence.Adapter
	bus     *eventbus.Bus
	expiry  time.Duration
}

// New constructs a Gate with the given default expiry window; zero selects
// DefaultExpiry.
func New(adapter persistence.Adapter, bus *eventbus.Bus, expiry time.Duration) *Gate {
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	return &Gate{adapter: adapter, bus: bus, expiry: expiry}
}

// Request raises a pending approval for a risky action and publishes
// approval_required. Idempotent per (workflowID, actionType): if a pending
// request for the pair already exists it is returned as-is, without a
// duplicate record or a second notification.
func (g *Gate) Request(ctx context.Context, workflowID, riskLevel, actionType, description string) (domain.ApprovalRequest, error) {
	if existing, ok, err := g.latestFor(ctx, workflowID, actionType); err != nil {
		return domain.ApprovalRequest{}, err
	} else if ok && existing.State == domain.ApprovalPending {
		return existing, nil
	}

	now := time.Now()
	req := domain.ApprovalRequest{
		ApprovalID:  uuid.NewString(),
		WorkflowID:  workflowID,
		RiskLevel:   riskLevel,
		ActionType:  actionType,
		Description: description,
		State:       domain.ApprovalPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.expiry),
	}
	if err := g.create(ctx, req); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if g.bus != nil {
		g.bus.Emit("approval_required", map[string]any{
			"approval_id": req.ApprovalID,
			"workflow_id": workflowID,
			"risk_level":  riskLevel,
			"resource_id": req.ApprovalID,
		}, "approval-gate", workflowID)
	}
	return req, nil
}

func (g *Gate) create(ctx context.Context, req domain.ApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := g.adapter.CompareAndSwap(ctx, keyPrefix+req.ApprovalID, 0, payload); err != nil {
		return err
	}
	return nil
}

// latestFor returns the most recently created request for the
// (workflowID, actionType) pair, if any.
func (g *Gate) latestFor(ctx context.Context, workflowID, actionType string) (domain.ApprovalRequest, bool, error) {
	rows, err := g.adapter.ScanByPrefix(ctx, keyPrefix)
	if err != nil {
		return domain.ApprovalRequest{}, false, err
	}
	var latest domain.ApprovalRequest
	found := false
	for _, row := range rows {
		var req domain.ApprovalRequest
		if err := json.Unmarshal(row.Value, &req); err != nil {
			continue
		}
		if req.WorkflowID != workflowID || req.ActionType != actionType {
			continue
		}
		if !found || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
			found = true
		}
	}
	return latest, found, nil
}

// Resolve maps the current approval position for (workflowID, actionType)
// to a routing decision for a gated workflow step: an approved request
// lets the action proceed, a rejected one fails it with
// <ApprovalStateError>, and anything else (no request yet, still pending,
// or expired unanswered) ensures a pending request exists and reports
// that the workflow must keep waiting on its ID.
func (g *Gate) Resolve(ctx context.Context, workflowID, riskLevel, actionType, description string) (approvalID string, waiting bool, err error) {
	latest, ok, err := g.latestFor(ctx, workflowID, actionType)
	if err != nil {
		return "", false, err
	}
	if ok {
		switch latest.State {
		case domain.ApprovalApproved:
			return "", false, nil
		case domain.ApprovalRejected:
			return "", false, orcherr.New(orcherr.KindApprovalState, "approval rejected").
				WithContext(map[string]any{"approval_id": latest.ApprovalID, "reason": latest.Reason})
		case domain.ApprovalPending:
			return latest.ApprovalID, true, nil
		}
		// Expired without a decision: raise a fresh request below.
	}
	req, err := g.Request(ctx, workflowID, riskLevel, actionType, description)
	if err != nil {
		return "", false, err
	}
	return req.ApprovalID, true, nil
}

// Get fetches an approval request by ID.
func (g *Gate) Get(ctx context.Context, approvalID string) (domain.ApprovalRequest, error) {
	row, err := g.adapter.Get(ctx, keyPrefix+approvalID)
	if err != nil {
		if err == persistence.ErrNotFound {
			return domain.ApprovalRequest{}, orcherr.New(orcherr.KindValidation, "approval not found").WithContext(map[string]any{"approval_id": approvalID})
		}
		return domain.ApprovalRequest{}, err
	}
	var req domain.ApprovalRequest
	if err := json.Unmarshal(row.Value, &req); err != nil {
		return domain.ApprovalRequest{}, err
	}
	return req, nil
}

// Decide records a human decision exactly once: a CAS loop re-reads the
// current row, rejects any request that is no longer pending with
// <ApprovalStateError>, and only ever transitions pending -> approved or
// pending -> rejected: a request can never end up both approved and
// rejected.
func (g *Gate) Decide(ctx context.Context, approvalID string, approve bool, decidedBy, reason string) (domain.ApprovalRequest, error) {
	for attempt := 0; attempt < persistence.CASRetries; attempt++ {
		row, err := g.adapter.Get(ctx, keyPrefix+approvalID)
		if err != nil {
			if err == persistence.ErrNotFound {
				return domain.ApprovalRequest{}, orcherr.New(orcherr.KindValidation, "approval not found")
			}
			return domain.ApprovalRequest{}, err
		}
		var req domain.ApprovalRequest
		if err := json.Unmarshal(row.Value, &req); err != nil {
			return domain.ApprovalRequest{}, err
		}

		if req.State != domain.ApprovalPending {
			return domain.ApprovalRequest{}, orcherr.New(orcherr.KindApprovalState, "approval already decided").
				WithContext(map[string]any{"approval_id": approvalID, "state": string(req.State)})
		}
		if time.Now().After(req.ExpiresAt) {
			return domain.ApprovalRequest{}, orcherr.New(orcherr.KindApprovalState, "approval expired")
		}

		if approve {
			req.State = domain.ApprovalApproved
		} else {
			req.State = domain.ApprovalRejected
		}
		req.DecidedBy = decidedBy
		req.Reason = reason

		payload, err := json.Marshal(req)
		if err != nil {
			return domain.ApprovalRequest{}, err
		}
		if _, err := g.adapter.CompareAndSwap(ctx, keyPrefix+approvalID, row.Version, payload); err != nil {
			if err == persistence.ErrVersionConflict {
				continue // another decision or expiry sweep raced us; retry
			}
			return domain.ApprovalRequest{}, err
		}

		if g.bus != nil {
			kind := "approval_rejected"
			if approve {
				kind = "approval_approved"
			}
			g.bus.Emit(kind, map[string]any{
				"approval_id": req.ApprovalID,
				"workflow_id": req.WorkflowID,
				"resource_id": req.ApprovalID,
			}, "approval-gate", req.WorkflowID)
		}
		return req, nil
	}
	return domain.ApprovalRequest{}, orcherr.New(orcherr.KindConcurrency, "approval decision conflict after retries")
}

// ListPending returns every request still awaiting a decision.
func (g *Gate) ListPending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	rows, err := g.adapter.ScanByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ApprovalRequest, 0)
	for _, row := range rows {
		var req domain.ApprovalRequest
		if err := json.Unmarshal(row.Value, &req); err != nil {
			continue
		}
		if req.State == domain.ApprovalPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// SweepExpired moves overdue pending requests to expired, emitting
// approval_expired for each. Intended to run on the same cadence as the
// lifecycle manager's workflow sweep.
func (g *Gate) SweepExpired(ctx context.Context) (int, error) {
	rows, err := g.adapter.ScanByPrefix(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	count := 0
	for _, row := range rows {
		var req domain.ApprovalRequest
		if err := json.Unmarshal(row.Value, &req); err != nil {
			continue
		}
		if req.State != domain.ApprovalPending || !req.ExpiresAt.Before(now) {
			continue
		}
		req.State = domain.ApprovalExpired
		payload, err := json.Marshal(req)
		if err != nil {
			continue
		}
		if _, err := g.adapter.CompareAndSwap(ctx, row.Key, row.Version, payload); err != nil {
			continue
		}
		count++
		if g.bus != nil {
			g.bus.Emit("approval_expired", map[string]any{
				"approval_id": req.ApprovalID,
				"workflow_id": req.WorkflowID,
				"resource_id": req.ApprovalID,
			}, "approval-gate", req.WorkflowID)
		}
	}
	return count, nil
}
