package autonomy

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/phase"
)

func newPolicy(t *testing.T, mode Mode) *Policy {
	t.Helper()
	p, err := New(mode)
	require.NoError(t, err)
	return p
}

func TestNewRejectsInvalidMode(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(6)
	assert.Error(t, err)
}

func TestStrictModeAlwaysRequiresApproval(t *testing.T) {
	p := newPolicy(t, ModeStrict)
	eval := p.Evaluate("3A", phase.RoleArchitect, "data model text", VigilanceView{})
	require.True(t, eval.RequiresApproval)
	require.Len(t, eval.Units, 1)
	assert.Equal(t, "whole-phase", eval.Units[0].Key)
}

func TestStrictModeSplitsImplementationPhases(t *testing.T) {
	p := newPolicy(t, ModeStrict)
	output := `function createUser(req) {
  return db.insert(req)
}

const deleteUser = async (id) => {
  await db.remove(id)
}

export function listUsers() {
  return db.all()
}`

	eval := p.Evaluate("6A", phase.RoleCoder, output, VigilanceView{})
	require.True(t, eval.RequiresApproval)
	require.Len(t, eval.Units, 3)
	assert.Equal(t, "fn-01-createUser", eval.Units[0].Key)
	assert.Equal(t, "fn-02-deleteUser", eval.Units[1].Key)
	assert.Equal(t, "fn-03-listUsers", eval.Units[2].Key)
	assert.Contains(t, eval.Units[0].Summary, "db.insert")
}

func TestStrictModeFunctionSplitCap(t *testing.T) {
	p := newPolicy(t, ModeStrict)
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "function handler%d() {\n  return %d\n}\n", i, i)
	}

	eval := p.Evaluate("5A", phase.RoleCoder, b.String(), VigilanceView{})
	assert.Len(t, eval.Units, maxApprovalUnits)
}

func TestStrictModeFallsBackToWholePhase(t *testing.T) {
	p := newPolicy(t, ModeStrict)
	eval := p.Evaluate("5A", phase.RoleCoder, "prose output with no function definitions", VigilanceView{})
	require.Len(t, eval.Units, 1)
	assert.Equal(t, "whole-phase", eval.Units[0].Key)
}

func TestPerAgentOnceMode(t *testing.T) {
	p := newPolicy(t, ModePerAgentOnce)

	first := p.Evaluate("1A", phase.RoleArchitect, "output one", VigilanceView{})
	require.True(t, first.RequiresApproval)

	p.MarkRoleApproved(phase.RoleArchitect)

	second := p.Evaluate("1B", phase.RoleArchitect, "output two", VigilanceView{})
	assert.False(t, second.RequiresApproval)
	assert.Contains(t, second.Reason, "already approved once")

	// A different role still needs its first approval.
	designer := p.Evaluate("2A", phase.RoleDesigner, "output three", VigilanceView{})
	assert.True(t, designer.RequiresApproval)
}

func TestSwitchingModeClearsApprovedOnceMemory(t *testing.T) {
	p := newPolicy(t, ModePerAgentOnce)
	p.MarkRoleApproved(phase.RoleArchitect)

	prev, err := p.SetMode(ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, ModePerAgentOnce, prev)

	_, err = p.SetMode(ModePerAgentOnce)
	require.NoError(t, err)

	eval := p.Evaluate("1B", phase.RoleArchitect, "output", VigilanceView{})
	assert.True(t, eval.RequiresApproval, "approved-once memory must be cleared on mode switch")
}

func TestSystemicMode(t *testing.T) {
	p := newPolicy(t, ModeSystemic)

	assert.False(t, p.Evaluate("3A", phase.RoleArchitect, "unchanged", VigilanceView{}).RequiresApproval)
	assert.True(t, p.Evaluate("3A", phase.RoleArchitect, "changed", VigilanceView{Changed: true}).RequiresApproval)
	assert.True(t, p.Evaluate("3A", phase.RoleArchitect, "x", VigilanceView{AnyStale: true}).RequiresApproval)
	assert.True(t, p.Evaluate("3A", phase.RoleArchitect, "x", VigilanceView{BlockingAlert: true}).RequiresApproval)
}

func TestDesignOnlyMode(t *testing.T) {
	p := newPolicy(t, ModeDesignOnly)

	assert.True(t, p.Evaluate("2A", phase.RoleDesigner, "wire the screens", VigilanceView{}).RequiresApproval,
		"design phases always gate")
	assert.True(t, p.Evaluate("5A", phase.RoleCoder, "pick a Color palette for buttons", VigilanceView{}).RequiresApproval,
		"design vocabulary gates non-design phases")
	assert.False(t, p.Evaluate("5A", phase.RoleCoder, "implement the session handler", VigilanceView{}).RequiresApproval)
}

func TestFullAutonomyMode(t *testing.T) {
	p := newPolicy(t, ModeFullAuto)
	eval := p.Evaluate("1A", phase.RoleArchitect, "anything at all", VigilanceView{Changed: true, AnyStale: true})
	assert.False(t, eval.RequiresApproval)
	assert.Empty(t, eval.Units)
}

func TestApprovedRolesRoundTrip(t *testing.T) {
	p := newPolicy(t, ModePerAgentOnce)
	p.MarkRoleApproved(phase.RoleCoder)
	p.MarkRoleApproved(phase.RoleQA)

	roles := p.ApprovedRoles()
	assert.ElementsMatch(t, []phase.Role{phase.RoleCoder, phase.RoleQA}, roles)

	fresh := newPolicy(t, ModePerAgentOnce)
	fresh.RestoreApprovedRoles(roles)
	assert.False(t, fresh.Evaluate("8A", phase.RoleQA, "output", VigilanceView{}).RequiresApproval)
}
