// Package approval holds pending and resolved approval requests, enforcing
// idempotent creation, auto-rejection preflight, and all-or-nothing phase
// outcomes.
package approval

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/pkg/gate"
	"conductor/pkg/logx"
	"conductor/pkg/phase"
	"conductor/pkg/utils"
)

// Status of an approval request. PENDING is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Resolver identifies who resolved a request.
type Resolver string

const (
	ResolvedByUser Resolver = "user"
	ResolvedByAuto Resolver = "auto"
)

// Request is one unit of work awaiting a decision. Immutable once resolved.
type Request struct {
	ID         string     `json:"id"`
	Phase      phase.Code `json:"phase"`
	AgentRole  phase.Role `json:"agent_role"`
	Summary    string     `json:"summary"`
	UnitKey    string     `json:"unit_key"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy Resolver   `json:"resolved_by,omitempty"`
	Comments   string     `json:"comments,omitempty"`
}

// Listener receives a copy of every request whose state changed.
type Listener func(Request)

// Gate queues approval requests and tracks their resolution.
type Gate struct {
	mu        sync.Mutex
	pending   map[string]*Request // id -> request
	byKey     map[string]string   // phase|unitKey -> pending id
	history   []Request           // append-only, resolved requests
	listeners []Listener
	staleFn   func(phase.Code) bool
	logger    *logx.Logger
}

// New creates an empty gate. staleFn reports whether a phase is currently
// stale; approving a stale phase is converted into an auto-rejection telling
// the operator to regenerate first. A nil staleFn means nothing is stale.
func New(staleFn func(phase.Code) bool) *Gate {
	if staleFn == nil {
		staleFn = func(phase.Code) bool { return false }
	}
	return &Gate{
		pending: make(map[string]*Request),
		byKey:   make(map[string]string),
		staleFn: staleFn,
		logger:  logx.NewLogger("approval"),
	}
}

// OnChange registers a listener notified on every state change.
func (g *Gate) OnChange(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *Gate) notifyLocked(r *Request) {
	snapshot := *r
	for _, l := range g.listeners {
		l(snapshot)
	}
}

func pendingKey(code phase.Code, unitKey string) string {
	return fmt.Sprintf("%s|%s", code, unitKey)
}

// Request creates an approval request. If preflight is blocked or the
// adversarial review raised a critical finding, the request is created
// already rejected and never queued. Creation is idempotent against an
// identical (phase, unitKey) request that is still pending.
func (g *Gate) Request(code phase.Code, role phase.Role, summary, unitKey string, preflight gate.Result, daBlocked bool) *Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, exists := g.byKey[pendingKey(code, unitKey)]; exists {
		g.logger.Debug("approval request for %s/%s already pending, returning existing %s", code, unitKey, id)
		return g.pending[id]
	}

	req := &Request{
		ID:        utils.ApprovalID(code.String(), unitKey),
		Phase:     code,
		AgentRole: role,
		Summary:   summary,
		UnitKey:   unitKey,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case preflight.Blocked:
		g.resolveLocked(req, StatusRejected, ResolvedByAuto,
			fmt.Sprintf("auto-rejected: consistency gate failed: %s", preflight.Reason))
		g.history = append(g.history, *req)
		g.notifyLocked(req)
		return req
	case daBlocked:
		g.resolveLocked(req, StatusRejected, ResolvedByAuto,
			"auto-rejected: adversarial review raised a critical finding")
		g.history = append(g.history, *req)
		g.notifyLocked(req)
		return req
	}

	g.pending[req.ID] = req
	g.byKey[pendingKey(code, unitKey)] = req.ID
	g.logger.Info("approval requested for phase %s unit %s (%s)", code, unitKey, req.ID)
	g.notifyLocked(req)
	return req
}

// AutoApprove records an already-approved resolved request, used when policy
// decided no human approval is needed. The policy's reason is kept as the
// comment.
func (g *Gate) AutoApprove(code phase.Code, role phase.Role, summary, unitKey, reason string) *Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	req := &Request{
		ID:        utils.ApprovalID(code.String(), unitKey),
		Phase:     code,
		AgentRole: role,
		Summary:   summary,
		UnitKey:   unitKey,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	g.resolveLocked(req, StatusApproved, ResolvedByAuto, reason)
	g.history = append(g.history, *req)
	g.notifyLocked(req)
	return req
}

// Resolve moves a pending request to a terminal state with resolvedBy=user.
// Returns false when the id is not in the pending set (already resolved or
// unknown); that is reported, not retried. Approving a stale phase is
// converted into an auto-rejection instructing regeneration. Rejecting one
// unit of a multi-unit phase rejects every other pending unit of that phase.
func (g *Gate) Resolve(id string, status Status, comments string) (*Request, bool) {
	if status != StatusApproved && status != StatusRejected {
		g.logger.Warn("resolve %s: invalid terminal status %s", id, status)
		return nil, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, exists := g.pending[id]
	if !exists {
		g.logger.Warn("resolve %s: not in pending set (already resolved or unknown)", id)
		return nil, false
	}

	if status == StatusApproved && g.staleFn(req.Phase) {
		g.removePendingLocked(req)
		g.resolveLocked(req, StatusRejected, ResolvedByAuto,
			fmt.Sprintf("phase %s is stale: an upstream phase changed; regenerate before re-approval", req.Phase))
		g.history = append(g.history, *req)
		g.notifyLocked(req)
		return req, true
	}

	g.removePendingLocked(req)
	g.resolveLocked(req, status, ResolvedByUser, comments)
	g.history = append(g.history, *req)
	g.notifyLocked(req)

	if status == StatusRejected {
		g.rejectSiblingsLocked(req)
	}
	return req, true
}

// rejectSiblingsLocked rejects every still-pending unit of the same phase
// (all-or-nothing phase outcome).
func (g *Gate) rejectSiblingsLocked(rejected *Request) {
	for _, sibling := range g.pendingForPhaseLocked(rejected.Phase) {
		g.removePendingLocked(sibling)
		g.resolveLocked(sibling, StatusRejected, ResolvedByAuto,
			fmt.Sprintf("auto-rejected: unit %s of phase %s was rejected", rejected.UnitKey, rejected.Phase))
		g.history = append(g.history, *sibling)
		g.notifyLocked(sibling)
	}
}

// UpdateSummary revises a pending request's displayed content without
// changing its identity or status. Used for ask-for-changes iteration.
func (g *Gate) UpdateSummary(id, newSummary string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, exists := g.pending[id]
	if !exists {
		return false
	}
	req.Summary = newSummary
	g.notifyLocked(req)
	return true
}

// ApproveAllPending resolves every pending request to APPROVED with
// resolvedBy=auto. Invoked when the operator switches to full autonomy.
func (g *Gate) ApproveAllPending(reason string) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	resolved := make([]Request, 0, len(g.pending))
	for _, req := range g.snapshotPendingLocked() {
		r := g.pending[req.ID]
		g.removePendingLocked(r)
		g.resolveLocked(r, StatusApproved, ResolvedByAuto, reason)
		g.history = append(g.history, *r)
		g.notifyLocked(r)
		resolved = append(resolved, *r)
	}
	return resolved
}

// Pending returns a copy of the pending set, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotPendingLocked()
}

// PendingForPhase returns pending requests for one phase.
func (g *Gate) PendingForPhase(code phase.Code) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0)
	for _, r := range g.pendingForPhaseLocked(code) {
		out = append(out, *r)
	}
	return out
}

// History returns a copy of the append-only resolution history.
func (g *Gate) History() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, len(g.history))
	copy(out, g.history)
	return out
}

// Get returns a pending request by id.
func (g *Gate) Get(id string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.pending[id]; ok {
		return *r, true
	}
	return Request{}, false
}

// State is the serializable snapshot of the gate.
type State struct {
	Pending []Request `json:"pending"`
	History []Request `json:"history"`
}

// ExportState returns a serializable copy of pending and history.
func (g *Gate) ExportState() *State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &State{
		Pending: g.snapshotPendingLocked(),
		History: append([]Request(nil), g.history...),
	}
}

// ImportState replaces the gate contents, used on session resume.
func (g *Gate) ImportState(s *State) {
	if s == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = make(map[string]*Request, len(s.Pending))
	g.byKey = make(map[string]string, len(s.Pending))
	for i := range s.Pending {
		r := s.Pending[i]
		g.pending[r.ID] = &r
		g.byKey[pendingKey(r.Phase, r.UnitKey)] = r.ID
	}
	g.history = append([]Request(nil), s.History...)
}

func (g *Gate) resolveLocked(req *Request, status Status, by Resolver, comments string) {
	now := time.Now().UTC()
	req.Status = status
	req.ResolvedAt = &now
	req.ResolvedBy = by
	req.Comments = comments
}

func (g *Gate) removePendingLocked(req *Request) {
	delete(g.pending, req.ID)
	delete(g.byKey, pendingKey(req.Phase, req.UnitKey))
}

func (g *Gate) pendingForPhaseLocked(code phase.Code) []*Request {
	var out []*Request
	for _, r := range g.pending {
		if r.Phase == code {
			out = append(out, r)
		}
	}
	return out
}

func (g *Gate) snapshotPendingLocked() []Request {
	out := make([]Request, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, *r)
	}
	// Oldest first keeps the review queue stable for UI consumers.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
