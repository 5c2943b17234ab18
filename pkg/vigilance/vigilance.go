// Package vigilance tracks structural snapshots of phase outputs, detects
// upstream changes that invalidate downstream approvals, and enforces
// phase-specific structural contracts.
package vigilance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"conductor/pkg/logx"
	"conductor/pkg/phase"
	"conductor/pkg/utils"
)

// AlertType classifies a detected problem.
type AlertType string

const (
	AlertUpstreamChanged    AlertType = "UPSTREAM_CHANGED"
	AlertStructureMismatch  AlertType = "STRUCTURE_MISMATCH"
	AlertRoleDomainConflict AlertType = "ROLE_DOMAIN_CONFLICT"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
)

// Alert is an immutable record of a detected problem.
type Alert struct {
	ID            string       `json:"id"`
	Type          AlertType    `json:"type"`
	Severity      Severity     `json:"severity"`
	Phase         phase.Code   `json:"phase"`
	Message       string       `json:"message"`
	RelatedPhases []phase.Code `json:"related_phases,omitempty"`
	Resolved      bool         `json:"resolved"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Summary is the structural fingerprint of one phase output.
type Summary struct {
	Chars      int `json:"chars"`
	Lines      int `json:"lines"`
	CodeBlocks int `json:"code_blocks"`
	Headings   int `json:"headings"`
	ListItems  int `json:"list_items"`
	OpenCount  int `json:"open_count"`
	CloseCount int `json:"close_count"`
}

// Snapshot is the single live record per phase; overwritten on every new
// output, never appended.
type Snapshot struct {
	Hash      uint32    `json:"hash"`
	Summary   Summary   `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the aggregate owned exclusively by Vigilance. Exported for
// persistence; callers must treat it as read-only.
type State struct {
	Snapshots   map[phase.Code]Snapshot `json:"snapshots"`
	StalePhases []phase.Code            `json:"stale_phases"`
	Alerts      []Alert                 `json:"alerts"`
	LastUpdated time.Time               `json:"last_updated"`
}

// RecordResult is the outcome of recording one phase output.
type RecordResult struct {
	Changed     bool
	StalePhases []phase.Code
	Alerts      []Alert // alerts raised by this call only
	Blocked     bool    // true iff any alert from this call is HIGH
}

// Vigilance holds the global vigilance state.
type Vigilance struct {
	mu        sync.Mutex
	snapshots map[phase.Code]Snapshot
	stale     map[phase.Code]bool
	alerts    []Alert
	updatedAt time.Time
	logger    *logx.Logger
}

// New creates an empty vigilance tracker.
func New() *Vigilance {
	return &Vigilance{
		snapshots: make(map[phase.Code]Snapshot),
		stale:     make(map[phase.Code]bool),
		logger:    logx.NewLogger("vigilance"),
	}
}

const (
	minOutputChars     = 200
	minCodeOutputChars = 400
)

//nolint:gochecknoglobals // Structural contract patterns.
var (
	functionIDPattern = regexp.MustCompile(`\*\*F-\d{3}\*\*`)
	taskIDPattern     = regexp.MustCompile(`\bT-\d{3}\b`)
	headingPattern    = regexp.MustCompile(`^#{1,6}\s`)
	listItemPattern   = regexp.MustCompile(`^\s*([-*+]|\d+\.)\s`)
	openTokenPattern  = regexp.MustCompile(`(?i)\bOPEN\b`)
	closeTokenPattern = regexp.MustCompile(`(?i)\bCLOSE\b`)
)

// Summarize computes the structural summary of a phase output.
func Summarize(content string) Summary {
	lines := strings.Split(content, "\n")
	s := Summary{
		Chars: len(content),
		Lines: len(lines),
	}
	fences := 0
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fences++
			continue
		}
		if headingPattern.MatchString(line) {
			s.Headings++
		}
		if listItemPattern.MatchString(line) {
			s.ListItems++
		}
	}
	s.CodeBlocks = fences / 2
	s.OpenCount = len(openTokenPattern.FindAllString(content, -1))
	s.CloseCount = len(closeTokenPattern.FindAllString(content, -1))
	return s
}

// Hash computes a non-cryptographic FNV-1a hash over the UTF-16 code units
// of the content.
func Hash(content string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for _, r := range content {
		for _, unit := range utf16.Encode([]rune{r}) {
			h ^= uint32(unit)
			h *= prime32
		}
	}
	return h
}

// RecordPhaseOutput hashes and summarizes content, detects change against
// the stored snapshot, propagates staleness downstream, validates the
// phase's structural contract, and stores the new snapshot.
func (v *Vigilance) RecordPhaseOutput(code phase.Code, agentRole phase.Role, content string) (RecordResult, error) {
	spec, ok := phase.Lookup(code)
	if !ok {
		return RecordResult{}, fmt.Errorf("unknown phase code: %s", code)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	result := RecordResult{}
	newHash := Hash(content)

	if prev, exists := v.snapshots[code]; exists && prev.Hash != newHash {
		result.Changed = true
		downstream := phase.Downstream(code)
		for _, d := range downstream {
			v.stale[d] = true
		}
		if len(downstream) > 0 {
			msg := fmt.Sprintf("phase %s output changed, downstream phases invalidated: %s", code, joinCodes(downstream))
			if alert := v.appendAlert(AlertUpstreamChanged, SeverityMedium, code, msg, downstream); alert != nil {
				result.Alerts = append(result.Alerts, *alert)
			}
		}
	}

	for _, violation := range contractViolations(&spec, content) {
		severity := SeverityMedium
		if spec.Critical {
			severity = SeverityHigh
		}
		if alert := v.appendAlert(AlertStructureMismatch, severity, code, violation, nil); alert != nil {
			result.Alerts = append(result.Alerts, *alert)
		}
	}

	v.snapshots[code] = Snapshot{
		Hash:      newHash,
		Summary:   Summarize(content),
		Timestamp: time.Now().UTC(),
	}
	// Recording fresh output IS the regeneration; the phase itself is no
	// longer stale.
	delete(v.stale, code)
	v.updatedAt = time.Now().UTC()

	result.StalePhases = v.staleListLocked()
	for i := range result.Alerts {
		if result.Alerts[i].Severity == SeverityHigh {
			result.Blocked = true
			break
		}
	}

	if result.Blocked {
		v.logger.Warn("phase %s blocked by structural vigilance (%d alerts)", code, len(result.Alerts))
	} else {
		v.logger.Debug("recorded phase %s output (role=%s changed=%v)", code, agentRole, result.Changed)
	}

	return result, nil
}

// contractViolations checks the phase-specific structural contract.
func contractViolations(spec *phase.Spec, content string) []string {
	var violations []string

	minChars := minOutputChars
	if spec.CodeBearing {
		minChars = minCodeOutputChars
	}
	if len(content) < minChars {
		violations = append(violations, fmt.Sprintf("phase %s output is %d chars, minimum is %d", spec.Code, len(content), minChars))
	}

	switch {
	case spec.Code == "1A":
		if !functionIDPattern.MatchString(content) {
			violations = append(violations, fmt.Sprintf("phase %s output declares no **F-###** function IDs", spec.Code))
		}
		if !openTokenPattern.MatchString(content) || !closeTokenPattern.MatchString(content) {
			violations = append(violations, fmt.Sprintf("phase %s output is missing OPEN/CLOSE effect tokens", spec.Code))
		}
	case spec.Code == "1B" || spec.Code == "3B" || spec.CodeBearing:
		if Summarize(content).CodeBlocks < 1 {
			violations = append(violations, fmt.Sprintf("phase %s output contains no fenced code block", spec.Code))
		}
	case spec.Code == "8A":
		if !taskIDPattern.MatchString(content) {
			violations = append(violations, fmt.Sprintf("phase %s output declares no T-### task IDs", spec.Code))
		}
	}

	return violations
}

// ValidatePhaseFilePath checks a commit path against the phase's owned
// path-prefix. A path outside the prefix is rejected with a HIGH
// ROLE_DOMAIN_CONFLICT alert.
func (v *Vigilance) ValidatePhaseFilePath(code phase.Code, path string) (bool, *Alert) {
	spec, ok := phase.Lookup(code)
	if !ok {
		return false, nil
	}

	cleaned := strings.TrimPrefix(path, "./")
	if strings.HasPrefix(cleaned, spec.PathPrefix) {
		return true, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	msg := fmt.Sprintf("phase %s attempted to commit %s outside its domain %s", code, path, spec.PathPrefix)
	alert := v.appendAlert(AlertRoleDomainConflict, SeverityHigh, code, msg, nil)
	if alert == nil {
		// Duplicate of an unresolved alert; still rejected.
		return false, nil
	}
	return false, alert
}

// IsPhaseStale reports whether an upstream change invalidated this phase.
func (v *Vigilance) IsPhaseStale(code phase.Code) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stale[code]
}

// StalePhases returns the current stale set in chain order.
func (v *Vigilance) StalePhases() []phase.Code {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.staleListLocked()
}

// Alerts returns a copy of every recorded alert.
func (v *Vigilance) Alerts() []Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Alert, len(v.alerts))
	copy(out, v.alerts)
	return out
}

// ResolveAlert marks an alert resolved. Returns false for unknown IDs.
func (v *Vigilance) ResolveAlert(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.alerts {
		if v.alerts[i].ID == id && !v.alerts[i].Resolved {
			v.alerts[i].Resolved = true
			return true
		}
	}
	return false
}

// HasBlockingAlert reports whether an unresolved HIGH or UPSTREAM_CHANGED
// alert exists for the phase.
func (v *Vigilance) HasBlockingAlert(code phase.Code) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.alerts {
		a := &v.alerts[i]
		if a.Resolved || a.Phase != code {
			continue
		}
		if a.Severity == SeverityHigh || a.Type == AlertUpstreamChanged {
			return true
		}
	}
	return false
}

// ExportState returns a serializable copy of the aggregate state.
func (v *Vigilance) ExportState() *State {
	v.mu.Lock()
	defer v.mu.Unlock()

	snapshots := make(map[phase.Code]Snapshot, len(v.snapshots))
	for k, s := range v.snapshots {
		snapshots[k] = s
	}
	alerts := make([]Alert, len(v.alerts))
	copy(alerts, v.alerts)

	return &State{
		Snapshots:   snapshots,
		StalePhases: v.staleListLocked(),
		Alerts:      alerts,
		LastUpdated: v.updatedAt,
	}
}

// ImportState replaces the aggregate state, used when resuming a session.
func (v *Vigilance) ImportState(s *State) {
	if s == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.snapshots = make(map[phase.Code]Snapshot, len(s.Snapshots))
	for k, snap := range s.Snapshots {
		v.snapshots[k] = snap
	}
	v.stale = make(map[phase.Code]bool, len(s.StalePhases))
	for _, c := range s.StalePhases {
		v.stale[c] = true
	}
	v.alerts = make([]Alert, len(s.Alerts))
	copy(v.alerts, s.Alerts)
	v.updatedAt = s.LastUpdated
}

// appendAlert adds an alert unless an identical unresolved one
// (type+phase+message) already exists. Returns nil when suppressed.
func (v *Vigilance) appendAlert(t AlertType, severity Severity, code phase.Code, message string, related []phase.Code) *Alert {
	for i := range v.alerts {
		a := &v.alerts[i]
		if !a.Resolved && a.Type == t && a.Phase == code && a.Message == message {
			return nil
		}
	}
	alert := Alert{
		ID:            utils.AlertID(),
		Type:          t,
		Severity:      severity,
		Phase:         code,
		Message:       message,
		RelatedPhases: related,
		CreatedAt:     time.Now().UTC(),
	}
	v.alerts = append(v.alerts, alert)
	return &v.alerts[len(v.alerts)-1]
}

func (v *Vigilance) staleListLocked() []phase.Code {
	out := make([]phase.Code, 0, len(v.stale))
	for c := range v.stale {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return phase.Index(out[i]) < phase.Index(out[j])
	})
	return out
}

func joinCodes(codes []phase.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}
