package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinePrefixOnly(t *testing.T) {
	text := `Review of phase 5A.
CRITICAL: connection pool is never closed
HIGH: error path drops context
This line mentions CRITICAL: mid-sentence and must not count.
Neither does a trailing severity word CRITICAL
MEDIUM: naming is inconsistent
`
	r := Parse(text)

	// Only line-prefix matches count; severity words elsewhere in a line
	// are ignored.
	require.Len(t, r.Findings, 3)
	assert.Equal(t, SeverityCritical, r.Findings[0].Severity)
	assert.Equal(t, "connection pool is never closed", r.Findings[0].Text)
	assert.Equal(t, SeverityHigh, r.Findings[1].Severity)
	assert.Equal(t, SeverityMedium, r.Findings[2].Severity)
}

func TestBlocksApprovalOnlyOnCritical(t *testing.T) {
	assert.True(t, Parse("CRITICAL: leak").BlocksApproval())
	assert.False(t, Parse("HIGH: risky\nMEDIUM: untidy").BlocksApproval())
	assert.False(t, Parse("all good").BlocksApproval())
}

func TestCriticalFindings(t *testing.T) {
	r := Parse("CRITICAL: one\nHIGH: two\nCRITICAL: three")
	crits := r.CriticalFindings()
	require.Len(t, crits, 2)
	assert.Equal(t, "one", crits[0].Text)
	assert.Equal(t, "three", crits[1].Text)
}
