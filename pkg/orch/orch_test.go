package orch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/agents"
	"conductor/pkg/approval"
	"conductor/pkg/autonomy"
	"conductor/pkg/commit"
	"conductor/pkg/gate"
	"conductor/pkg/phase"
	"conductor/pkg/state"
)

func pad(sentence string) string {
	return strings.Repeat(sentence+" ", 30)
}

// chainResponses returns outputs that satisfy every phase's structural
// contract, so a fully autonomous run reaches the end of the chain.
func chainResponses() map[phase.Code]string {
	fasProposal := `# Functional Architecture

**F-001** startSession
system_effect: OPEN
close_pair: F-002

**F-002** endSession
system_effect: CLOSE

` + pad("The session lifecycle pairs every resource acquisition with a matching release.")

	codeBlock := "```go\nfunc main() {\n\tserve()\n}\n```\n"
	frontendCode := "```\nfunction renderHeader() { return header; }\nfunction renderBody() { return body; }\nfunction renderFooter() { return footer; }\n```\n"

	return map[phase.Code]string{
		"1A":  fasProposal,
		"1B":  "# Technical Specification\n" + codeBlock + pad("The runtime is a single process exposing an HTTP control surface."),
		"2A":  "# UX Design\n" + pad("The primary user journey starts on the dashboard and ends at checkout."),
		"2B":  "# Visual Design\n" + pad("The palette uses two brand colors with a neutral typography scale."),
		"3A":  "# Data Model\n" + pad("Sessions and users are stored in separate tables joined by account id."),
		"3B":  "# API Contract\n" + codeBlock + pad("Every endpoint returns a typed error envelope on failure."),
		"4A":  "# Project Scaffold\n" + codeBlock + pad("The repository splits into a server module and a client module with shared types."),
		"5A":  "# Backend Implementation\n" + codeBlock + pad("Handlers validate input before touching storage and wrap failures with context."),
		"6A":  "# Frontend Implementation\n" + frontendCode + pad("Components subscribe to the session store and render incrementally."),
		"7A":  "# Integration\n" + codeBlock + pad("The client talks to the server through the generated typed client only."),
		"8A":  "# Test Plan\nT-001 session open/close pairing\nT-002 error envelope shape\n" + pad("Every task lists its preconditions and the observable result to assert."),
		"9A":  "# QA Execution\n" + pad("All planned tasks executed against the staging build with results recorded."),
		"10A": "# Deployment Config\n```yaml\nreplicas: 2\n```\n" + pad("The service deploys as two replicas behind the existing ingress with health probes."),
		"10B": "# Release Notes\n" + pad("This release introduces session management and the public API surface."),
	}
}

func newTestOrchestrator(t *testing.T, mode autonomy.Mode, cfg Config) (*Orchestrator, *agents.MockInvoker) {
	t.Helper()
	mock := agents.NewMockInvoker(chainResponses())
	roster, err := agents.NewRoster(mock)
	require.NoError(t, err)
	cfg.Roster = roster
	cfg.Mode = mode
	o, err := New(cfg)
	require.NoError(t, err)
	return o, mock
}

func TestFullAutoChainRunsToCompletion(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeFullAuto, Config{})

	require.NoError(t, o.Start(context.Background(), "Build a session service."))

	for _, p := range o.Phases() {
		assert.Equal(t, phase.StatusCompleted, p.Status, "phase %s", p.Code)
		assert.NotEmpty(t, p.LastOutput)
	}
	assert.Len(t, mock.Calls(), len(phase.Chain))
	assert.Empty(t, o.Approvals().Pending())

	history := o.Approvals().History()
	require.Len(t, history, len(phase.Chain))
	for _, req := range history {
		assert.Equal(t, approval.StatusApproved, req.Status)
		assert.Equal(t, approval.ResolvedByAuto, req.ResolvedBy)
	}
}

func TestStrictModeStopsForApproval(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeStrict, Config{})

	require.NoError(t, o.Start(context.Background(), "Build a session service."))

	p, ok := o.Phase("1A")
	require.True(t, ok)
	assert.Equal(t, phase.StatusCompleted, p.Status)

	pending := o.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, phase.Code("1A"), pending[0].Phase)
	assert.Len(t, mock.Calls(), 1, "the chain must not advance past an unapproved phase")

	// Approving the only unit advances the chain to the next phase, which
	// then waits for its own approval.
	require.NoError(t, o.Approve(context.Background(), pending[0].ID, "looks right"))

	pending = o.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, phase.Code("1B"), pending[0].Phase)
	assert.Len(t, mock.Calls(), 2)
}

func TestAgentFailureBlocksPhase(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeFullAuto, Config{})
	mock.FailWith(errors.New("rate limited"))

	require.NoError(t, o.Start(context.Background(), "brief"))

	p, _ := o.Phase("1A")
	assert.Equal(t, phase.StatusBlocked, p.Status)
	assert.Contains(t, p.BlockReason, "agent call failed")
	assert.Contains(t, p.BlockReason, "rate limited")
	assert.Empty(t, o.Approvals().Pending())
	assert.Empty(t, o.Approvals().History())
	assert.Len(t, mock.Calls(), 1, "a blocked phase must not chain")
}

func TestVigilanceBlockPreventsApprovalRequests(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeStrict, Config{})
	// No function IDs and no OPEN/CLOSE tokens: violates the 1A contract.
	mock.SetResponse("1A", pad("A long architecture narrative with no structured declarations at all."))

	require.NoError(t, o.Start(context.Background(), "brief"))

	p, _ := o.Phase("1A")
	assert.Equal(t, phase.StatusBlocked, p.Status)
	assert.NotEmpty(t, p.BlockReason)
	assert.Empty(t, o.Approvals().Pending())
	assert.Empty(t, o.Approvals().History())
}

func TestRejectResetsPhaseForRegeneration(t *testing.T) {
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{})
	require.NoError(t, o.Start(context.Background(), "brief"))

	pending := o.Approvals().Pending()
	require.Len(t, pending, 1)
	require.NoError(t, o.Reject(pending[0].ID, "missing the admin flows"))

	p, _ := o.Phase("1A")
	assert.Equal(t, phase.StatusPending, p.Status)
	assert.Contains(t, p.BlockReason, "rejected")
	assert.NotEmpty(t, p.LastOutput, "the rejected output stays available for reference")

	// Regeneration re-runs the phase and queues a fresh request.
	require.NoError(t, o.RunPhase(context.Background(), "1A", "brief, now covering admin flows"))
	pending = o.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, phase.Code("1A"), pending[0].Phase)
}

func TestImplPhaseSplitsIntoUnitsAndRejectsTogether(t *testing.T) {
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{})

	require.NoError(t, o.RunPhase(context.Background(), "6A", "render the approved design"))

	pending := o.Approvals().PendingForPhase("6A")
	require.Len(t, pending, 3, "three function definitions yield three units")

	require.NoError(t, o.Reject(pending[1].ID, "renderBody ignores the session store"))

	assert.Empty(t, o.Approvals().Pending())
	rejected := 0
	for _, req := range o.Approvals().History() {
		if req.Phase == "6A" && req.Status == approval.StatusRejected {
			rejected++
			if req.ResolvedBy == approval.ResolvedByAuto {
				assert.Contains(t, req.Comments, "6A")
			}
		}
	}
	assert.Equal(t, 3, rejected, "rejecting one unit rejects the whole phase")

	p, _ := o.Phase("6A")
	assert.Equal(t, phase.StatusPending, p.Status)
}

func TestSwitchToFullAutoApprovesAllPending(t *testing.T) {
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{})
	require.NoError(t, o.Start(context.Background(), "brief"))
	require.NotEmpty(t, o.Approvals().Pending())

	require.NoError(t, o.SetAutonomyMode(autonomy.ModeFullAuto))

	assert.Empty(t, o.Approvals().Pending())
	for _, req := range o.Approvals().History() {
		assert.Equal(t, approval.StatusApproved, req.Status)
		assert.Equal(t, approval.ResolvedByAuto, req.ResolvedBy)
	}
}

func TestAdversarialCriticalAutoRejects(t *testing.T) {
	reviewer := agents.NewMockInvoker(nil)
	for code := range chainResponses() {
		reviewer.SetResponse(code, "CRITICAL: the open/close pairing is unverifiable as written")
	}
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{Adversarial: reviewer})

	require.NoError(t, o.Start(context.Background(), "brief"))

	assert.Empty(t, o.Approvals().Pending())
	history := o.Approvals().History()
	require.Len(t, history, 1)
	assert.Equal(t, approval.StatusRejected, history[0].Status)
	assert.Equal(t, approval.ResolvedByAuto, history[0].ResolvedBy)

	p, _ := o.Phase("1A")
	assert.Equal(t, phase.StatusPending, p.Status)
}

func TestSecondaryReviewersAreLogOnly(t *testing.T) {
	second := agents.NewMockInvoker(nil)
	for code := range chainResponses() {
		second.SetResponse(code, "HIGH: consider a retry budget\nMEDIUM: naming is inconsistent")
	}
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{
		Reviewers: []agents.Invoker{second, second},
	})

	require.NoError(t, o.Start(context.Background(), "brief"))

	// HIGH/MEDIUM findings never block: the request is queued normally.
	pending := o.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, approval.StatusPending, pending[0].Status)
	assert.Len(t, second.Calls(), 2)
}

func TestContradictionGateRejectsUnpairedOpen(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeStrict, Config{
		Preflight: gate.NewContradictionGate(),
	})
	mock.SetResponse("1A", `# Functional Architecture

**F-001** acquireLock
system_effect: OPEN

**F-002** readState
system_effect: CLOSE

`+pad("The lock is acquired at the start of every mutation and held through commit."))

	require.NoError(t, o.Start(context.Background(), "brief"))

	assert.Empty(t, o.Approvals().Pending())
	history := o.Approvals().History()
	require.Len(t, history, 1)
	assert.Equal(t, approval.StatusRejected, history[0].Status)
	assert.Contains(t, history[0].Comments, "MISSING_CLOSE")
}

func TestStaleApprovalIsAutoRejected(t *testing.T) {
	o, mock := newTestOrchestrator(t, autonomy.ModeStrict, Config{})
	require.NoError(t, o.Start(context.Background(), "brief"))

	first := o.Approvals().Pending()
	require.Len(t, first, 1)
	require.NoError(t, o.Approve(context.Background(), first[0].ID, "ok"))

	pending1B := o.Approvals().PendingForPhase("1B")
	require.Len(t, pending1B, 1)

	// Regenerating 1A with different content marks 1B stale.
	mock.SetResponse("1A", chainResponses()["1A"]+pad("A revised section describing the audit trail requirements."))
	require.NoError(t, o.RunPhase(context.Background(), "1A", "brief, revised"))
	require.True(t, o.Vigilance().IsPhaseStale("1B"))

	require.NoError(t, o.Approve(context.Background(), pending1B[0].ID, "ship it"))

	req, ok := o.Approvals().Get(pending1B[0].ID)
	require.True(t, ok)
	assert.Equal(t, approval.StatusRejected, req.Status)
	assert.Equal(t, approval.ResolvedByAuto, req.ResolvedBy)
	assert.Contains(t, req.Comments, "regenerate")

	p, _ := o.Phase("1B")
	assert.Equal(t, phase.StatusPending, p.Status)
}

func TestCommitSinkReceivesApprovedArtifacts(t *testing.T) {
	dir := t.TempDir()
	sink, err := commit.NewLocalSink(dir)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t, autonomy.ModePerAgentOnce, Config{Sink: sink})
	require.NoError(t, o.Start(context.Background(), "brief"))

	pending := o.Approvals().Pending()
	require.Len(t, pending, 1)
	require.NoError(t, o.Approve(context.Background(), pending[0].ID, "ok"))

	// After the architect's first approval, 1B auto-approves and the chain
	// stops at the designer's first output.
	pending = o.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, phase.Code("2A"), pending[0].Phase)

	entries, err := os.ReadDir(filepath.Join(dir, "docs"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "phase-1A-functional-architecture.md")
	assert.Contains(t, names, "phase-1B-technical-specification.md")
}

func TestFullAutoSkipsCommitSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := commit.NewLocalSink(dir)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t, autonomy.ModeFullAuto, Config{Sink: sink})
	require.NoError(t, o.Start(context.Background(), "brief"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "full-auto mode never writes through the sink")
}

type blockingInvoker struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingInvoker) Invoke(ctx context.Context, _ phase.Role, _ phase.Code, _ string) (string, error) {
	b.calls.Add(1)
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return "", errors.New("stopped")
}

func TestDuplicateStartIsANoOp(t *testing.T) {
	inv := &blockingInvoker{started: make(chan struct{}), release: make(chan struct{})}
	roster, err := agents.NewRoster(inv)
	require.NoError(t, err)
	o, err := New(Config{Roster: roster, Mode: autonomy.ModeFullAuto})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.RunPhase(context.Background(), "1A", "brief")
	}()
	<-inv.started

	// Second start of the same phase while one is in flight: warn and drop.
	require.NoError(t, o.RunPhase(context.Background(), "1A", "brief"))
	assert.Equal(t, int32(1), inv.calls.Load())

	close(inv.release)
	<-done
}

func TestRestoreRecoversSession(t *testing.T) {
	store := state.NewMemoryStore()

	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{Store: store})
	require.NoError(t, o.Start(context.Background(), "brief"))
	require.Len(t, o.Approvals().Pending(), 1)

	restored, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{Store: store})
	require.NoError(t, restored.Restore())

	p, ok := restored.Phase("1A")
	require.True(t, ok)
	assert.Equal(t, phase.StatusCompleted, p.Status)
	assert.NotEmpty(t, p.LastOutput)

	pending := restored.Approvals().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, phase.Code("1A"), pending[0].Phase)

	// The restored gate still chains on approval.
	require.NoError(t, restored.Approve(context.Background(), pending[0].ID, "ok"))
	next, _ := restored.Phase("1B")
	assert.Equal(t, phase.StatusCompleted, next.Status)
}

func TestResetReturnsEverythingToPending(t *testing.T) {
	o, _ := newTestOrchestrator(t, autonomy.ModeStrict, Config{})
	require.NoError(t, o.Start(context.Background(), "brief"))
	require.NotEmpty(t, o.Approvals().Pending())

	o.Reset()

	for _, p := range o.Phases() {
		assert.Equal(t, phase.StatusPending, p.Status, "phase %s", p.Code)
		assert.Empty(t, p.LastOutput)
	}
	assert.Empty(t, o.Approvals().Pending())
	assert.Empty(t, o.Approvals().History())
	assert.Empty(t, o.Vigilance().Alerts())
	assert.False(t, o.Vigilance().IsPhaseStale("1B"))
}

func TestListenersObserveTransitions(t *testing.T) {
	o, _ := newTestOrchestrator(t, autonomy.ModeFullAuto, Config{})

	var statuses []phase.Status
	o.OnPhaseChange(func(p phase.Phase) {
		if p.Code == "1A" {
			statuses = append(statuses, p.Status)
		}
	})
	var messages []string
	o.OnMessage(func(_ phase.Code, msg string) {
		messages = append(messages, msg)
	})

	require.NoError(t, o.Start(context.Background(), "brief"))

	require.NotEmpty(t, statuses)
	assert.Equal(t, phase.StatusInProgress, statuses[0])
	assert.Contains(t, statuses, phase.StatusCompleted)
	assert.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "1A")
}
