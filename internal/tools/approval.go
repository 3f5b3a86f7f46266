package tools

import (
	"context"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/domain"
)

// ApprovalStore persists pending Approval Requests, grounded on the
// teacher's internal/agent/approval.go ApprovalStore interface and
// adapted to this package's single ApprovalRequest shape (domain.ApprovalRequest).
type ApprovalStore interface {
	Create(ctx context.Context, req domain.ApprovalRequest) error
	Get(ctx context.Context, approvalID string) (domain.ApprovalRequest, bool, error)
	Update(ctx context.Context, req domain.ApprovalRequest) error
	ListPending(ctx context.Context, runID string) ([]domain.ApprovalRequest, error)
}

// MemoryApprovalStore is an in-process ApprovalStore, adapted from the
// teacher's MemoryApprovalStore.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]domain.ApprovalRequest
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]domain.ApprovalRequest)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ApprovalID] = req
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, approvalID string) (domain.ApprovalRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[approvalID]
	return req, ok, nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ApprovalID] = req
	return nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context, runID string) ([]domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ApprovalRequest
	for _, req := range s.requests {
		if req.RunID == runID && req.Status == domain.ApprovalPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// RequiresApproval reports whether a tool call must suspend for approval
// step 2.
func RequiresApproval(tool string, perms domain.Permissions) bool {
	if perms.CLIPermissionsMode == domain.CLIPermissionsGated {
		return true
	}
	if perms.AgentManagementRequiresApproval && isAgentManagementTool(tool) {
		return true
	}
	return false
}

func isAgentManagementTool(tool string) bool {
	switch tool {
	case "spawn_node", "create_edge", "send_handoff":
		return true
	default:
		return false
	}
}

// CreateApprovalRequest persists a new pending request for toolCallID on
// node, with an optional deadline. resumeIndex lets the Node Runner
// resume its tool-call queue at the same position once resolved.
func CreateApprovalRequest(ctx context.Context, store ApprovalStore, runID, nodeID, tool string, args map[string]any, deadline *time.Time, resumeIndex int) (domain.ApprovalRequest, error) {
	req := domain.ApprovalRequest{
		ApprovalID:  tool + "-" + nodeID + "-" + time.Now().UTC().Format("20060102T150405.000000000"),
		RunID:       runID,
		NodeID:      nodeID,
		Tool:        tool,
		Context:     args,
		Status:      domain.ApprovalPending,
		Deadline:    deadline,
		CreatedAt:   time.Now().UTC(),
		ResumeIndex: resumeIndex,
	}
	if err := store.Create(ctx, req); err != nil {
		return domain.ApprovalRequest{}, err
	}
	return req, nil
}

// Resolve applies a resolution to a pending request.
func Resolve(ctx context.Context, store ApprovalStore, approvalID string, status domain.ApprovalStatus, feedback string, modifiedArgs map[string]any) (domain.ApprovalRequest, error) {
	req, ok, err := store.Get(ctx, approvalID)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if !ok {
		return domain.ApprovalRequest{}, domain.NewNotFoundError("approval", approvalID)
	}
	now := time.Now().UTC()
	req.Status = status
	req.Feedback = feedback
	req.ModifiedArgs = modifiedArgs
	req.ResolvedAt = &now
	if err := store.Update(ctx, req); err != nil {
		return domain.ApprovalRequest{}, err
	}
	return req, nil
}

// SweepExpired auto-denies every pending request of runID whose deadline
// has passed at now. It runs only when called: no code in this
// repository calls it, and Executor.Execute creates requests without a
// deadline.
func SweepExpired(ctx context.Context, store ApprovalStore, runID string, now time.Time) (int, error) {
	pending, err := store.ListPending(ctx, runID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, req := range pending {
		if req.Deadline == nil || now.Before(*req.Deadline) {
			continue
		}
		if _, err := Resolve(ctx, store, req.ApprovalID, domain.ApprovalDenied, "deadline elapsed", nil); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
