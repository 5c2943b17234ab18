// Package phase defines the fixed SDLC phase chain and the per-phase state
// tracked by the orchestrator.
package phase

import (
	"fmt"
	"time"
)

// Code is the stable short identifier of a phase (e.g. "1A", "5A").
type Code string

// Status represents the lifecycle state of a phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Role identifies which agent role owns a phase.
type Role string

const (
	RoleArchitect Role = "architect"
	RoleDesigner  Role = "designer"
	RoleCoder     Role = "coder"
	RoleQA        Role = "qa"
	RoleDevops    Role = "devops"
	RoleWriter    Role = "writer"
)

// Spec is the static definition of one phase in the chain.
type Spec struct {
	Code        Code
	Name        string
	Role        Role
	PathPrefix  string // required prefix for any file this phase commits
	CodeBearing bool   // stricter structural contracts apply
	Design      bool   // design-oriented (autonomy mode 4 gates these)
	Impl        bool   // implementation phase (mode 1 splits into function units)
	Critical    bool   // structure mismatches are HIGH severity
}

// Chain is the fixed, ordered phase chain. Index order is execution order.
//
//nolint:gochecknoglobals // The chain is a compile-time fixed table.
var Chain = []Spec{
	{Code: "1A", Name: "Functional Architecture", Role: RoleArchitect, PathPrefix: "docs/", Critical: true},
	{Code: "1B", Name: "Technical Specification", Role: RoleArchitect, PathPrefix: "docs/", Critical: true},
	{Code: "2A", Name: "UX Design", Role: RoleDesigner, PathPrefix: "assets/", Design: true},
	{Code: "2B", Name: "Visual Design", Role: RoleDesigner, PathPrefix: "assets/", Design: true},
	{Code: "3A", Name: "Data Model", Role: RoleArchitect, PathPrefix: "docs/"},
	{Code: "3B", Name: "API Contract", Role: RoleArchitect, PathPrefix: "docs/", Critical: true},
	{Code: "4A", Name: "Project Scaffold", Role: RoleCoder, PathPrefix: "src/", CodeBearing: true},
	{Code: "5A", Name: "Backend Implementation", Role: RoleCoder, PathPrefix: "src/", CodeBearing: true, Impl: true, Critical: true},
	{Code: "6A", Name: "Frontend Implementation", Role: RoleCoder, PathPrefix: "src/", CodeBearing: true, Impl: true, Critical: true},
	{Code: "7A", Name: "Integration", Role: RoleCoder, PathPrefix: "src/", CodeBearing: true},
	{Code: "8A", Name: "Test Plan", Role: RoleQA, PathPrefix: "docs/"},
	{Code: "9A", Name: "QA Execution", Role: RoleQA, PathPrefix: "docs/"},
	{Code: "10A", Name: "Deployment Config", Role: RoleDevops, PathPrefix: "devops/", CodeBearing: true},
	{Code: "10B", Name: "Release Notes", Role: RoleWriter, PathPrefix: "docs/"},
}

// Lookup returns the spec for a phase code.
func Lookup(code Code) (Spec, bool) {
	for i := range Chain {
		if Chain[i].Code == code {
			return Chain[i], true
		}
	}
	return Spec{}, false
}

// Index returns the position of a phase in the chain, or -1 if unknown.
func Index(code Code) int {
	for i := range Chain {
		if Chain[i].Code == code {
			return i
		}
	}
	return -1
}

// Next returns the phase that follows code in the chain, or false at the end.
func Next(code Code) (Code, bool) {
	i := Index(code)
	if i < 0 || i+1 >= len(Chain) {
		return "", false
	}
	return Chain[i+1].Code, true
}

// Downstream returns every phase strictly after code, in chain order.
func Downstream(code Code) []Code {
	i := Index(code)
	if i < 0 {
		return nil
	}
	out := make([]Code, 0, len(Chain)-i-1)
	for _, spec := range Chain[i+1:] {
		out = append(out, spec.Code)
	}
	return out
}

// Validate reports whether code names a known phase.
func Validate(code Code) error {
	if Index(code) < 0 {
		return fmt.Errorf("unknown phase code: %s", code)
	}
	return nil
}

// Phase is the mutable runtime record for one chain entry. Created once at
// orchestrator init for every known code; mutated only by the orchestrator.
type Phase struct {
	Code        Code       `json:"code"`
	Status      Status     `json:"status"`
	LastOutput  string     `json:"last_output,omitempty"` // full text, never truncated
	BlockReason string     `json:"block_reason,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTable builds the initial phase table covering the whole chain.
func NewTable() map[Code]*Phase {
	table := make(map[Code]*Phase, len(Chain))
	for i := range Chain {
		table[Chain[i].Code] = &Phase{Code: Chain[i].Code, Status: StatusPending}
	}
	return table
}

// String returns the string representation of a phase code.
func (c Code) String() string {
	return string(c)
}

// String returns the string representation of a phase status.
func (s Status) String() string {
	return string(s)
}

// String returns the string representation of a role.
func (r Role) String() string {
	return string(r)
}
