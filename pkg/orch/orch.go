// Package orch drives the fixed phase chain. The orchestrator owns every
// phase/approval/vigilance mutation; callers interact only through its
// public methods, which serialize on a single mutex. The agent call is the
// only long-blocking operation and runs with no lock held.
package orch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"conductor/pkg/agents"
	"conductor/pkg/approval"
	"conductor/pkg/autonomy"
	"conductor/pkg/commit"
	"conductor/pkg/filter"
	"conductor/pkg/gate"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/phase"
	"conductor/pkg/review"
	"conductor/pkg/state"
	"conductor/pkg/vigilance"
)

// PhaseListener is notified after a phase changes status.
type PhaseListener func(phase.Phase)

// AlertListener is notified for every alert raised during a phase run.
type AlertListener func(vigilance.Alert)

// MessageListener receives status messages that survived the output filter.
type MessageListener func(phaseCode phase.Code, message string)

// Config wires the orchestrator's collaborators. Roster is required;
// everything else has a working default.
type Config struct {
	Roster *agents.Roster

	// Preflight is the consistency gate. Defaults to NopGate.
	Preflight gate.Gate
	// Adversarial is the optional devil's-advocate reviewer.
	Adversarial agents.Invoker
	// Reviewers are optional secondary reviewers. Their findings are
	// logged but never gate approval.
	Reviewers []agents.Invoker

	Sink    commit.Sink
	Store   state.Store
	Metrics *metrics.Metrics
	Mode    autonomy.Mode
	Logger  *logx.Logger
}

// Orchestrator coordinates the phase chain end to end.
type Orchestrator struct {
	mu       sync.Mutex
	phases   map[phase.Code]*phase.Phase
	inFlight map[phase.Code]bool

	roster      *agents.Roster
	vig         *vigilance.Vigilance
	filter      *filter.OutputFilter
	policy      *autonomy.Policy
	approvals   *approval.Gate
	preflight   gate.Gate
	adversarial agents.Invoker
	reviewers   []agents.Invoker
	sink        commit.Sink
	store       state.Store
	metrics     *metrics.Metrics
	logger      *logx.Logger

	phaseListeners   []PhaseListener
	alertListeners   []AlertListener
	messageListeners []MessageListener
}

// New builds an orchestrator with a fresh phase table.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Roster == nil {
		return nil, fmt.Errorf("orchestrator requires an agent roster")
	}
	if cfg.Mode == 0 {
		cfg.Mode = autonomy.ModeStrict
	}
	policy, err := autonomy.New(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Preflight == nil {
		cfg.Preflight = gate.NopGate{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger("orch")
	}

	vig := vigilance.New()
	o := &Orchestrator{
		phases:      phase.NewTable(),
		inFlight:    make(map[phase.Code]bool),
		roster:      cfg.Roster,
		vig:         vig,
		filter:      filter.New(),
		policy:      policy,
		approvals:   approval.New(vig.IsPhaseStale),
		preflight:   cfg.Preflight,
		adversarial: cfg.Adversarial,
		reviewers:   cfg.Reviewers,
		sink:        cfg.Sink,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	return o, nil
}

// Approvals exposes the gate for read access and listener registration.
func (o *Orchestrator) Approvals() *approval.Gate { return o.approvals }

// Vigilance exposes the structural tracker for read access.
func (o *Orchestrator) Vigilance() *vigilance.Vigilance { return o.vig }

// OnPhaseChange registers a phase status listener.
func (o *Orchestrator) OnPhaseChange(l PhaseListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phaseListeners = append(o.phaseListeners, l)
}

// OnAlert registers an alert listener.
func (o *Orchestrator) OnAlert(l AlertListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alertListeners = append(o.alertListeners, l)
}

// OnMessage registers a filtered status-message listener.
func (o *Orchestrator) OnMessage(l MessageListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messageListeners = append(o.messageListeners, l)
}

// Phases returns a copy of the phase table in chain order.
func (o *Orchestrator) Phases() []phase.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]phase.Phase, 0, len(phase.Chain))
	for i := range phase.Chain {
		out = append(out, *o.phases[phase.Chain[i].Code])
	}
	return out
}

// Phase returns a copy of one phase record.
func (o *Orchestrator) Phase(code phase.Code) (phase.Phase, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.phases[code]
	if !ok {
		return phase.Phase{}, false
	}
	return *p, true
}

// Start runs the chain from its first phase. brief is the project brief
// handed to the first agent. The chain advances as far as autonomy and
// approvals allow within this call.
func (o *Orchestrator) Start(ctx context.Context, brief string) error {
	first := phase.Chain[0].Code
	err := o.runPhase(ctx, first, brief)
	o.persist()
	return err
}

// RunPhase executes one phase with the given input. Used to resume after a
// rejection or to regenerate a stale phase; chaining continues from there.
func (o *Orchestrator) RunPhase(ctx context.Context, code phase.Code, input string) error {
	if err := phase.Validate(code); err != nil {
		return err
	}
	err := o.runPhase(ctx, code, input)
	o.persist()
	return err
}

// runPhase is the state machine core: pending → in-progress → {completed,
// blocked}. On full approval it chains into the next phase recursively.
func (o *Orchestrator) runPhase(ctx context.Context, code phase.Code, input string) error {
	spec, ok := phase.Lookup(code)
	if !ok {
		return fmt.Errorf("unknown phase %s", code)
	}

	o.mu.Lock()
	if o.inFlight[code] {
		o.mu.Unlock()
		o.logger.Warn("phase %s is already running, ignoring duplicate start", code)
		return nil
	}
	o.inFlight[code] = true
	p := o.phases[code]
	now := time.Now().UTC()
	p.Status = phase.StatusInProgress
	p.StartedAt = &now
	p.BlockReason = ""
	record := *p
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, code)
		o.mu.Unlock()
	}()

	o.metrics.PhasesStarted.Inc()
	o.notifyPhase(record)
	o.logger.Info("phase %s (%s) started, role=%s", code, spec.Name, spec.Role)

	// The agent call holds no lock and is bounded by the roster timeout.
	output, err := o.roster.Invoke(ctx, spec.Role, code, input)
	if err != nil {
		o.blockPhase(code, fmt.Sprintf("agent call failed: %v", err))
		return nil
	}

	rec, err := o.vig.RecordPhaseOutput(code, spec.Role, output)
	if err != nil {
		o.blockPhase(code, fmt.Sprintf("vigilance check failed: %v", err))
		return nil
	}
	for _, a := range rec.Alerts {
		o.metrics.AlertsRaised.WithLabelValues(string(a.Type)).Inc()
		o.notifyAlert(a)
	}
	if rec.Blocked {
		o.blockPhase(code, alertText(rec.Alerts))
		return nil
	}

	o.mu.Lock()
	p = o.phases[code]
	done := time.Now().UTC()
	p.Status = phase.StatusCompleted
	p.LastOutput = output
	p.CompletedAt = &done
	record = *p
	o.mu.Unlock()

	o.metrics.PhasesCompleted.Inc()
	o.notifyPhase(record)
	o.emitStatus(code, fmt.Sprintf("Phase %s (%s) completed: %s", code, spec.Name, summarize(output)))

	daBlocked := o.runReviews(ctx, spec, output)

	view := autonomy.VigilanceView{
		Changed:       rec.Changed,
		AnyStale:      len(o.vig.StalePhases()) > 0,
		BlockingAlert: o.vig.HasBlockingAlert(code),
	}
	eval := o.policy.Evaluate(code, spec.Role, output, view)

	if !eval.RequiresApproval {
		o.approvals.AutoApprove(code, spec.Role, summarize(output), "whole-phase", eval.Reason)
		o.metrics.ApprovalsAuto.Inc()
		o.logger.Info("phase %s auto-approved: %s", code, eval.Reason)
		o.commitArtifact(ctx, spec, output)
		return o.advance(ctx, code, output)
	}

	preflight := o.checkPreflight(ctx, code, output)
	anyPending := false
	for _, unit := range eval.Units {
		req := o.approvals.Request(code, spec.Role, unit.Summary, unit.Key, preflight, daBlocked)
		if req.Status == approval.StatusPending {
			anyPending = true
		} else {
			o.metrics.ApprovalsAuto.Inc()
		}
	}
	o.syncPendingGauge()

	if !anyPending {
		// Every unit was rejected up front by the gate or the reviewer.
		o.resetForRegeneration(code, "approval rejected before queueing, regenerate the phase output")
		return nil
	}
	o.logger.Info("phase %s awaiting approval (%s): %d unit(s) pending", code, eval.Reason, len(eval.Units))
	return nil
}

// Approve resolves a pending request as APPROVED. When it was the phase's
// last pending unit the chain advances, which may invoke further agents.
func (o *Orchestrator) Approve(ctx context.Context, id, comments string) error {
	req, ok := o.approvals.Resolve(id, approval.StatusApproved, comments)
	if !ok {
		return fmt.Errorf("approval %s is not pending", id)
	}
	o.metrics.ApprovalsUser.Inc()
	o.syncPendingGauge()

	if req.Status == approval.StatusRejected {
		// Stale phase: the gate converted the approval into a rejection.
		o.logger.Warn("approval %s rejected: %s", id, req.Comments)
		o.resetForRegeneration(req.Phase, req.Comments)
		o.persist()
		return nil
	}

	o.policy.MarkRoleApproved(req.AgentRole)

	if len(o.approvals.PendingForPhase(req.Phase)) > 0 {
		o.persist()
		return nil
	}

	o.mu.Lock()
	output := o.phases[req.Phase].LastOutput
	o.mu.Unlock()

	spec, _ := phase.Lookup(req.Phase)
	o.commitArtifact(ctx, spec, output)
	err := o.advance(ctx, req.Phase, output)
	o.persist()
	return err
}

// Reject resolves a pending request as REJECTED. Sibling units of the same
// phase are auto-rejected by the gate; the phase must be regenerated.
func (o *Orchestrator) Reject(id, comments string) error {
	req, ok := o.approvals.Resolve(id, approval.StatusRejected, comments)
	if !ok {
		return fmt.Errorf("approval %s is not pending", id)
	}
	o.metrics.ApprovalsUser.Inc()
	o.syncPendingGauge()
	o.resetForRegeneration(req.Phase, fmt.Sprintf("unit %s rejected: %s", req.UnitKey, comments))
	o.persist()
	return nil
}

// SetAutonomyMode switches the supervision mode. Switching to full autonomy
// resolves every pending request as approved within this call.
func (o *Orchestrator) SetAutonomyMode(mode autonomy.Mode) error {
	prev, err := o.policy.SetMode(mode)
	if err != nil {
		return err
	}
	o.logger.Info("autonomy mode changed: %s -> %s", prev, mode)
	if mode == autonomy.ModeFullAuto {
		resolved := o.approvals.ApproveAllPending("autonomy mode switched to full-auto")
		for range resolved {
			o.metrics.ApprovalsAuto.Inc()
		}
		o.syncPendingGauge()
	}
	o.persist()
	return nil
}

// Reset returns every phase to pending and clears approvals, vigilance
// state, and the mode-2 approved-once memory. The autonomy mode is kept;
// phase records are recreated, never destroyed piecemeal.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.phases = phase.NewTable()
	o.inFlight = make(map[phase.Code]bool)
	o.mu.Unlock()

	o.vig.ImportState(&vigilance.State{})
	o.approvals.ImportState(&approval.State{})
	o.policy.RestoreApprovedRoles(nil)
	o.syncPendingGauge()
	o.logger.Info("session reset: all phases pending")
	o.persist()
}

// advance derives the next phase's input from the approved output and runs
// it. The end of the chain is not an error.
func (o *Orchestrator) advance(ctx context.Context, code phase.Code, output string) error {
	next, ok := phase.Next(code)
	if !ok {
		o.logger.Info("phase %s was the last in the chain", code)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	input := phase.DeriveInput(code, next, output)
	return o.runPhase(ctx, next, input)
}

func (o *Orchestrator) blockPhase(code phase.Code, reason string) {
	o.mu.Lock()
	p := o.phases[code]
	p.Status = phase.StatusBlocked
	p.BlockReason = reason
	record := *p
	o.mu.Unlock()

	o.metrics.PhasesBlocked.Inc()
	o.logger.Error("phase %s blocked: %s", code, reason)
	o.notifyPhase(record)
	o.emitStatus(code, fmt.Sprintf("Phase %s blocked: %s", code, reason))
}

// resetForRegeneration returns a rejected phase to pending so a later
// RunPhase call can regenerate it. The last output is kept for reference.
func (o *Orchestrator) resetForRegeneration(code phase.Code, reason string) {
	o.mu.Lock()
	p := o.phases[code]
	p.Status = phase.StatusPending
	p.BlockReason = reason
	record := *p
	o.mu.Unlock()
	o.notifyPhase(record)
}

// runReviews fans out secondary reviewers together with the adversarial
// reviewer and waits for all of them. Secondary results are log-only; only
// the adversarial reviewer's CRITICAL findings feed back as daBlocked.
func (o *Orchestrator) runReviews(ctx context.Context, spec phase.Spec, output string) bool {
	if o.adversarial == nil && len(o.reviewers) == 0 {
		return false
	}

	var (
		mu        sync.Mutex
		daBlocked bool
	)
	g, gctx := errgroup.WithContext(ctx)

	if o.adversarial != nil {
		g.Go(func() error {
			text, err := o.adversarial.Invoke(gctx, spec.Role, spec.Code, output)
			if err != nil {
				o.logger.Warn("adversarial review of %s failed: %v", spec.Code, err)
				return nil
			}
			res := review.Parse(text)
			if res.BlocksApproval() {
				mu.Lock()
				daBlocked = true
				mu.Unlock()
				for _, f := range res.CriticalFindings() {
					o.logger.Warn("adversarial critical on %s: %s", spec.Code, f.Text)
				}
			}
			return nil
		})
	}
	for i := range o.reviewers {
		reviewer := o.reviewers[i]
		g.Go(func() error {
			text, err := reviewer.Invoke(gctx, spec.Role, spec.Code, output)
			if err != nil {
				o.logger.Warn("secondary review of %s failed: %v", spec.Code, err)
				return nil
			}
			res := review.Parse(text)
			o.logger.Info("secondary review of %s: %d finding(s)", spec.Code, len(res.Findings))
			return nil
		})
	}
	_ = g.Wait() // review goroutines swallow their own errors
	return daBlocked
}

func (o *Orchestrator) checkPreflight(ctx context.Context, code phase.Code, output string) gate.Result {
	res, err := o.preflight.Check(ctx, code, output)
	if err != nil {
		o.logger.Error("consistency gate failed on %s: %v", code, err)
		return gate.Result{}
	}
	return res
}

// commitArtifact writes the approved output through the sink. Skipped
// entirely in full-auto mode and when no sink is configured.
func (o *Orchestrator) commitArtifact(ctx context.Context, spec phase.Spec, output string) {
	if o.sink == nil || o.policy.Mode() == autonomy.ModeFullAuto {
		return
	}
	path := artifactPath(spec)
	okPath, alert := o.vig.ValidatePhaseFilePath(spec.Code, path)
	if !okPath {
		if alert != nil {
			o.metrics.AlertsRaised.WithLabelValues(string(alert.Type)).Inc()
			o.notifyAlert(*alert)
		}
		o.logger.Error("refusing to commit %s for phase %s", path, spec.Code)
		return
	}
	msg := fmt.Sprintf("phase %s: %s", spec.Code, spec.Name)
	res, err := o.sink.Commit(ctx, path, output, msg)
	if err != nil {
		o.logger.Error("commit of %s failed: %v", path, err)
		return
	}
	o.logger.Info("committed %s as %s", path, res.SHA)
}

// emitStatus routes a status message through the output filter before any
// listener sees it.
func (o *Orchestrator) emitStatus(code phase.Code, message string) {
	d := o.filter.ShouldEmit(message, filter.Trigger{PhaseChanged: true})
	if !d.Emit {
		o.metrics.MessagesFiltered.WithLabelValues(string(d.Reason)).Inc()
		return
	}
	o.mu.Lock()
	listeners := make([]MessageListener, len(o.messageListeners))
	copy(listeners, o.messageListeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(code, message)
	}
}

func (o *Orchestrator) notifyPhase(p phase.Phase) {
	o.mu.Lock()
	listeners := make([]PhaseListener, len(o.phaseListeners))
	copy(listeners, o.phaseListeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(p)
	}
}

func (o *Orchestrator) notifyAlert(a vigilance.Alert) {
	o.mu.Lock()
	listeners := make([]AlertListener, len(o.alertListeners))
	copy(listeners, o.alertListeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(a)
	}
}

func (o *Orchestrator) syncPendingGauge() {
	o.metrics.ApprovalsPending.Set(float64(len(o.approvals.Pending())))
}

// persist saves the full session snapshot. Persistence failures are logged,
// never fatal.
func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	phases := make(map[phase.Code]*phase.Phase, len(o.phases))
	for code, p := range o.phases {
		cp := *p
		phases[code] = &cp
	}
	o.mu.Unlock()

	snap := &state.Snapshot{
		Phases:        phases,
		Approvals:     o.approvals.ExportState(),
		Vigilance:     o.vig.ExportState(),
		AutonomyMode:  o.policy.Mode(),
		ApprovedRoles: o.policy.ApprovedRoles(),
		SavedAt:       time.Now().UTC(),
	}
	if err := o.store.Save(snap); err != nil {
		o.logger.Error("failed to save session snapshot: %v", err)
	}
}

// Restore loads the last saved snapshot, if any, into the orchestrator.
func (o *Orchestrator) Restore() error {
	if o.store == nil {
		return nil
	}
	snap, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load session snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	o.mu.Lock()
	for code, p := range snap.Phases {
		if _, ok := o.phases[code]; ok {
			cp := *p
			o.phases[code] = &cp
		}
	}
	o.mu.Unlock()

	o.approvals.ImportState(snap.Approvals)
	o.vig.ImportState(snap.Vigilance)
	if snap.AutonomyMode.Valid() {
		if _, err := o.policy.SetMode(snap.AutonomyMode); err != nil {
			return err
		}
	}
	o.policy.RestoreApprovedRoles(snap.ApprovedRoles)
	o.syncPendingGauge()
	o.logger.Info("session restored from snapshot saved at %s", snap.SavedAt.Format(time.RFC3339))
	return nil
}

func artifactPath(spec phase.Spec) string {
	name := strings.ToLower(strings.ReplaceAll(spec.Name, " ", "-"))
	return fmt.Sprintf("%sphase-%s-%s.md", spec.PathPrefix, spec.Code, name)
}

func alertText(alerts []vigilance.Alert) string {
	parts := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity == vigilance.SeverityHigh {
			parts = append(parts, a.Message)
		}
	}
	if len(parts) == 0 {
		return "blocked by structural vigilance"
	}
	return strings.Join(parts, "; ")
}

const summaryLimit = 200

func summarize(output string) string {
	s := strings.TrimSpace(output)
	if len(s) <= summaryLimit {
		return s
	}
	return s[:summaryLimit] + "..."
}
