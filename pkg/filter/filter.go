// Package filter implements the anti-spam gate that decides whether a freshly
// generated agent message is novel enough to surface to a human.
package filter

import (
	"strings"
	"sync"
)

const (
	// historyCapacity bounds the ring buffer of previously emitted messages.
	historyCapacity = 50

	// duplicateThreshold is the trigram-Jaccard similarity above which a
	// candidate is considered a repeat of an earlier message.
	duplicateThreshold = 0.85

	// minMessageLength rejects messages too short to carry information.
	minMessageLength = 10
)

// Reason explains a filter decision.
type Reason string

const (
	ReasonOK        Reason = "OK"
	ReasonDuplicate Reason = "DUPLICATE"
	ReasonNoNewInfo Reason = "NO_NEW_INFO"
	ReasonNoTrigger Reason = "NO_TRIGGER"
)

// Trigger captures which events legitimize emitting a message. At least one
// must be set.
type Trigger struct {
	PhaseChanged     bool
	ErrorOccurred    bool
	UserWaiting      bool
	MilestoneReached bool
}

// Decision is the outcome of ShouldEmit.
type Decision struct {
	Emit   bool
	Reason Reason
}

//nolint:gochecknoglobals // Fixed denylist of known filler phrases.
var noisePhrases = map[string]bool{
	"working on it":          true,
	"processing...":          true,
	"one moment":             true,
	"let me check":           true,
	"still thinking":         true,
	"task in progress":       true,
	"i'm on it":              true,
	"acknowledged":           true,
	"understood":             true,
	"no significant changes": true,
	"nothing to report":      true,
	"continuing as planned":  true,
}

// OutputFilter is a per-agent gate. Each agent owns its own instance; there
// is no cross-agent state sharing. Access is serialized internally so an
// instance may be shared across goroutines.
type OutputFilter struct {
	mu      sync.Mutex
	history []string // emitted messages, oldest first, capped at historyCapacity
}

// New creates an empty per-agent output filter.
func New() *OutputFilter {
	return &OutputFilter{history: make([]string, 0, historyCapacity)}
}

// ShouldEmit decides whether message should reach a human. On acceptance the
// message is recorded in the history buffer; rejection has no side effects.
func (f *OutputFilter) ShouldEmit(message string, trigger Trigger) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	candidate := trigramSet(message)
	for _, prev := range f.history {
		if jaccard(candidate, trigramSet(prev)) > duplicateThreshold {
			return Decision{Emit: false, Reason: ReasonDuplicate}
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(message))
	if len(message) < minMessageLength || noisePhrases[normalized] {
		return Decision{Emit: false, Reason: ReasonNoNewInfo}
	}

	if !trigger.PhaseChanged && !trigger.ErrorOccurred && !trigger.UserWaiting && !trigger.MilestoneReached {
		return Decision{Emit: false, Reason: ReasonNoTrigger}
	}

	f.history = append(f.history, message)
	if len(f.history) > historyCapacity {
		f.history = f.history[len(f.history)-historyCapacity:]
	}
	return Decision{Emit: true, Reason: ReasonOK}
}

// HistoryLen reports how many emitted messages are currently buffered.
func (f *OutputFilter) HistoryLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

// trigramSet computes the character-trigram set of a message, lower-cased
// with runs of whitespace collapsed to single spaces.
func trigramSet(s string) map[string]bool {
	collapsed := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	runes := []rune(collapsed)
	set := make(map[string]bool)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

// jaccard computes |intersection| / |union| of two trigram sets. Two empty
// sets are considered identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
