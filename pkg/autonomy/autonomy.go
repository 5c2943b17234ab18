// Package autonomy implements the operator-selected policy deciding how much
// human approval each phase requires, and how a phase's output is split into
// independently-approvable units.
package autonomy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"conductor/pkg/phase"
)

// Mode is the numeric autonomy level, 1 (strict) through 5 (full autonomy).
type Mode int

const (
	ModeStrict       Mode = 1 // always requires approval, impl phases split per function
	ModePerAgentOnce Mode = 2 // approval only the first time a role produces output
	ModeSystemic     Mode = 3 // approval only on systemic change or staleness
	ModeDesignOnly   Mode = 4 // approval only for design-oriented output
	ModeFullAuto     Mode = 5 // never requires approval
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= ModeStrict && m <= ModeFullAuto
}

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModePerAgentOnce:
		return "per-agent-once"
	case ModeSystemic:
		return "systemic-only"
	case ModeDesignOnly:
		return "design-only"
	case ModeFullAuto:
		return "full-autonomy"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// maxApprovalUnits caps the per-function split in mode 1.
const maxApprovalUnits = 24

// Unit is one independently-approvable chunk of a phase's output.
type Unit struct {
	Key     string // distinguishes units within one phase, stable across retries
	Summary string // text shown to the approver
}

// VigilanceView is the slice of vigilance state Evaluate depends on.
type VigilanceView struct {
	Changed       bool // this call's output changed an existing snapshot
	AnyStale      bool // any phase in the chain is currently stale
	BlockingAlert bool // unresolved HIGH or UPSTREAM_CHANGED alert for this phase
}

// Evaluation is the policy decision for one phase output.
type Evaluation struct {
	RequiresApproval bool
	Reason           string
	Units            []Unit // empty when no approval is required
}

//nolint:gochecknoglobals // Shared decision patterns.
var (
	// Top-level function or arrow-function definitions, scanned line by line.
	functionSigPattern = regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)|^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?\(`)

	designVocabPattern = regexp.MustCompile(`(?i)\b(color|colour|palette|typography|font|logo|branding|wireframe|mockup|layout|icon|spacing)\b`)
)

// Policy holds the active mode and the per-agent approved-once memory
// required by mode 2. Everything else Evaluate uses is passed in, keeping
// the decision re-derivable from mode + phase + content.
type Policy struct {
	mu       sync.Mutex
	mode     Mode
	approved map[phase.Role]bool // roles approved once, mode 2 only
}

// New creates a policy in the given mode.
func New(mode Mode) (*Policy, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid autonomy mode: %d", mode)
	}
	return &Policy{mode: mode, approved: make(map[phase.Role]bool)}, nil
}

// Mode returns the active mode.
func (p *Policy) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode switches the active mode atomically and returns the previous one.
// Switching away from mode 2 clears the approved-once memory.
func (p *Policy) SetMode(mode Mode) (Mode, error) {
	if !mode.Valid() {
		return 0, fmt.Errorf("invalid autonomy mode: %d", mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.mode
	if prev == ModePerAgentOnce && mode != ModePerAgentOnce {
		p.approved = make(map[phase.Role]bool)
	}
	p.mode = mode
	return prev, nil
}

// MarkRoleApproved records that a role's output was approved once (mode 2).
func (p *Policy) MarkRoleApproved(role phase.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved[role] = true
}

// ApprovedRoles returns the current approved-once set, for persistence.
func (p *Policy) ApprovedRoles() []phase.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]phase.Role, 0, len(p.approved))
	for r := range p.approved {
		out = append(out, r)
	}
	return out
}

// RestoreApprovedRoles replaces the approved-once set, used on session resume.
func (p *Policy) RestoreApprovedRoles(roles []phase.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved = make(map[phase.Role]bool, len(roles))
	for _, r := range roles {
		p.approved[r] = true
	}
}

// Evaluate decides whether the phase's output requires approval and how it
// splits into approval units.
func (p *Policy) Evaluate(code phase.Code, role phase.Role, output string, vig VigilanceView) Evaluation {
	p.mu.Lock()
	mode := p.mode
	roleApproved := p.approved[role]
	p.mu.Unlock()

	spec, ok := phase.Lookup(code)
	if !ok {
		// Unknown phases always go to a human.
		return Evaluation{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("unknown phase %s requires manual review", code),
			Units:            []Unit{wholePhaseUnit(code, output)},
		}
	}

	switch mode {
	case ModeStrict:
		units := []Unit{wholePhaseUnit(code, output)}
		if spec.Impl {
			if fnUnits := splitFunctionUnits(output); len(fnUnits) > 0 {
				units = fnUnits
			}
		}
		return Evaluation{
			RequiresApproval: true,
			Reason:           "strict mode: every phase requires approval",
			Units:            units,
		}

	case ModePerAgentOnce:
		if roleApproved {
			return Evaluation{
				RequiresApproval: false,
				Reason:           fmt.Sprintf("agent role %s already approved once", role),
			}
		}
		return Evaluation{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("first output from agent role %s", role),
			Units:            []Unit{wholePhaseUnit(code, output)},
		}

	case ModeSystemic:
		switch {
		case vig.Changed:
			return Evaluation{
				RequiresApproval: true,
				Reason:           "output changed an existing snapshot",
				Units:            []Unit{wholePhaseUnit(code, output)},
			}
		case vig.AnyStale:
			return Evaluation{
				RequiresApproval: true,
				Reason:           "stale phases present in the chain",
				Units:            []Unit{wholePhaseUnit(code, output)},
			}
		case vig.BlockingAlert:
			return Evaluation{
				RequiresApproval: true,
				Reason:           "unresolved high-severity alert for this phase",
				Units:            []Unit{wholePhaseUnit(code, output)},
			}
		default:
			return Evaluation{RequiresApproval: false, Reason: "no systemic change detected"}
		}

	case ModeDesignOnly:
		if spec.Design || designVocabPattern.MatchString(output) {
			return Evaluation{
				RequiresApproval: true,
				Reason:           "design-oriented output requires approval",
				Units:            []Unit{wholePhaseUnit(code, output)},
			}
		}
		return Evaluation{RequiresApproval: false, Reason: "not design-oriented"}

	case ModeFullAuto:
		return Evaluation{RequiresApproval: false, Reason: "full autonomy: auto-approved"}

	default:
		// Unreachable for valid policies; fail safe toward human review.
		return Evaluation{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("unrecognized mode %d", mode),
			Units:            []Unit{wholePhaseUnit(code, output)},
		}
	}
}

func wholePhaseUnit(code phase.Code, output string) Unit {
	return Unit{Key: "whole-phase", Summary: fmt.Sprintf("Phase %s output (%d chars)", code, len(output))}
}

// splitFunctionUnits partitions implementation output into one unit per
// detected top-level function definition, capped at maxApprovalUnits.
// Returns nil when no function signature matches.
func splitFunctionUnits(output string) []Unit {
	lines := strings.Split(output, "\n")

	type boundary struct {
		name string
		line int
	}
	var boundaries []boundary
	for i, line := range lines {
		m := functionSigPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if name == "" {
			name = m[2]
		}
		boundaries = append(boundaries, boundary{name: name, line: i})
		if len(boundaries) == maxApprovalUnits {
			break
		}
	}
	if len(boundaries) == 0 {
		return nil
	}

	units := make([]Unit, 0, len(boundaries))
	for i, b := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line
		}
		segment := strings.TrimSpace(strings.Join(lines[b.line:end], "\n"))
		units = append(units, Unit{
			Key:     fmt.Sprintf("fn-%02d-%s", i+1, b.name),
			Summary: segment,
		})
	}
	return units
}
