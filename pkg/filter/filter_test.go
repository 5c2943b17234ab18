package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allTriggers() Trigger {
	return Trigger{PhaseChanged: true}
}

func TestShouldEmitAcceptsNovelMessage(t *testing.T) {
	f := New()
	d := f.ShouldEmit("Phase 1A completed with 12 functions defined", allTriggers())
	require.True(t, d.Emit)
	assert.Equal(t, ReasonOK, d.Reason)
	assert.Equal(t, 1, f.HistoryLen())
}

func TestShouldEmitRejectsDuplicate(t *testing.T) {
	f := New()
	msg := "Phase 3A data model generated with 8 entities and 14 relations"
	require.True(t, f.ShouldEmit(msg, allTriggers()).Emit)

	// Identical message is a trigram-perfect duplicate.
	d := f.ShouldEmit(msg, allTriggers())
	assert.False(t, d.Emit)
	assert.Equal(t, ReasonDuplicate, d.Reason)

	// A near-identical variant should also be caught.
	d = f.ShouldEmit("Phase 3A data model generated with 8 entities and 14 relations.", allTriggers())
	assert.False(t, d.Emit)
	assert.Equal(t, ReasonDuplicate, d.Reason)
}

func TestShouldEmitRejectsNoise(t *testing.T) {
	f := New()

	d := f.ShouldEmit("Working on it", allTriggers())
	assert.False(t, d.Emit)
	assert.Equal(t, ReasonNoNewInfo, d.Reason)

	d = f.ShouldEmit("short", allTriggers())
	assert.False(t, d.Emit)
	assert.Equal(t, ReasonNoNewInfo, d.Reason)

	// Rejection must not record anything.
	assert.Equal(t, 0, f.HistoryLen())
}

func TestShouldEmitRequiresTrigger(t *testing.T) {
	f := New()
	d := f.ShouldEmit("Backend implementation produced 6 new endpoints", Trigger{})
	assert.False(t, d.Emit)
	assert.Equal(t, ReasonNoTrigger, d.Reason)
	assert.Equal(t, 0, f.HistoryLen())
}

func TestHistoryEvictsBeyondCapacity(t *testing.T) {
	f := New()
	for i := 0; i < historyCapacity+10; i++ {
		msg := fmt.Sprintf("Unique progress report number %d with distinct content %d%d", i, i*7, i*13)
		require.True(t, f.ShouldEmit(msg, allTriggers()).Emit, "message %d", i)
	}
	assert.Equal(t, historyCapacity, f.HistoryLen())
}

// No two emitted messages from the same instance may exceed the similarity
// threshold.
func TestEmittedMessagesPairwiseDistinct(t *testing.T) {
	f := New()
	candidates := []string{
		"Phase 1A completed: functional architecture defined",
		"Phase 1A completed: functional architecture defined!",
		"Phase 2A started: UX design exploration in progress",
		"QA execution finished with 42 passing checks",
	}

	var emitted []string
	for _, c := range candidates {
		if f.ShouldEmit(c, allTriggers()).Emit {
			emitted = append(emitted, c)
		}
	}

	for i := range emitted {
		for j := i + 1; j < len(emitted); j++ {
			sim := jaccard(trigramSet(emitted[i]), trigramSet(emitted[j]))
			assert.LessOrEqual(t, sim, duplicateThreshold,
				"messages %q and %q too similar", emitted[i], emitted[j])
		}
	}
}

func TestJaccardEdgeCases(t *testing.T) {
	assert.Equal(t, 1.0, jaccard(trigramSet(""), trigramSet("")))
	assert.Equal(t, 1.0, jaccard(trigramSet("abc"), trigramSet("ABC")))
	assert.Equal(t, 0.0, jaccard(trigramSet("abc"), trigramSet("xyz")))
}

func TestTrigramWhitespaceCollapse(t *testing.T) {
	a := trigramSet("phase  one\tdone")
	b := trigramSet("phase one done")
	assert.Equal(t, 1.0, jaccard(a, b))
}
