// Package contradiction implements deterministic static analysis over a
// structured architecture proposal, flagging inconsistencies with a severity.
package contradiction

import "fmt"

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
)

// Type identifies the rule a finding came from.
type Type string

const (
	TypeMissingClose          Type = "MISSING_CLOSE"
	TypeGlobalCache           Type = "GLOBAL_CACHE"
	TypeBlindFeedbackLoop     Type = "BLIND_FEEDBACK_LOOP"
	TypeUncalibratedThreshold Type = "UNCALIBRATED_THRESHOLD"
)

// SystemEffect describes whether a function opens or closes a system resource.
type SystemEffect string

const (
	EffectOpen  SystemEffect = "OPEN"
	EffectClose SystemEffect = "CLOSE"
	EffectNone  SystemEffect = "NONE"
)

// Function is one declared function in the proposal.
type Function struct {
	ID          string
	Name        string
	Effect      SystemEffect
	ClosePairID string // required when Effect is OPEN
}

// Component is one declared component in the proposal.
type Component struct {
	ID             string
	Name           string
	UsesCache      bool
	CacheNamespace string // required when UsesCache
}

// FeedbackLoop is one declared feedback loop in the proposal.
type FeedbackLoop struct {
	ID           string
	Trigger      string
	Verification string
}

// Constant is one declared constant in the proposal.
type Constant struct {
	ID          string
	Name        string
	Threshold   bool
	Calibration string // required when Threshold
}

// Contradiction is one finding with a suggested fix.
type Contradiction struct {
	Severity     Severity
	Type         Type
	Subject      string // ID of the offending declaration
	Description  string
	SuggestedFix string
}

// Analyze evaluates every rule independently and concatenates the results.
// Pure function, no state, no retries.
func Analyze(functions []Function, components []Component, loops []FeedbackLoop, constants []Constant) []Contradiction {
	var findings []Contradiction

	// Rule 1: every OPEN function must resolve its close pair to a CLOSE function.
	closeByID := make(map[string]SystemEffect, len(functions))
	for i := range functions {
		closeByID[functions[i].ID] = functions[i].Effect
	}
	for i := range functions {
		fn := &functions[i]
		if fn.Effect != EffectOpen {
			continue
		}
		if fn.ClosePairID == "" {
			findings = append(findings, Contradiction{
				Severity:     SeverityCritical,
				Type:         TypeMissingClose,
				Subject:      fn.ID,
				Description:  fmt.Sprintf("function %s has system_effect OPEN but declares no close_pair", fn.ID),
				SuggestedFix: fmt.Sprintf("declare a close_pair on %s referencing a CLOSE function", fn.ID),
			})
			continue
		}
		if effect, ok := closeByID[fn.ClosePairID]; !ok || effect != EffectClose {
			findings = append(findings, Contradiction{
				Severity:     SeverityCritical,
				Type:         TypeMissingClose,
				Subject:      fn.ID,
				Description:  fmt.Sprintf("function %s declares close_pair %s which does not resolve to a CLOSE function", fn.ID, fn.ClosePairID),
				SuggestedFix: fmt.Sprintf("point close_pair of %s at a function with system_effect CLOSE", fn.ID),
			})
		}
	}

	// Rule 2: cache-using components must declare a namespace key.
	for i := range components {
		c := &components[i]
		if c.UsesCache && c.CacheNamespace == "" {
			findings = append(findings, Contradiction{
				Severity:     SeverityCritical,
				Type:         TypeGlobalCache,
				Subject:      c.ID,
				Description:  fmt.Sprintf("component %s uses a cache without a namespace key", c.ID),
				SuggestedFix: fmt.Sprintf("declare a non-empty cache namespace for %s", c.ID),
			})
		}
	}

	// Rule 3: feedback loops need both a trigger and a verification mechanism.
	for i := range loops {
		l := &loops[i]
		if l.Trigger == "" || l.Verification == "" {
			findings = append(findings, Contradiction{
				Severity:     SeverityHigh,
				Type:         TypeBlindFeedbackLoop,
				Subject:      l.ID,
				Description:  fmt.Sprintf("feedback loop %s is missing a trigger or verification mechanism", l.ID),
				SuggestedFix: fmt.Sprintf("declare both trigger and verification for loop %s", l.ID),
			})
		}
	}

	// Rule 4: threshold constants need a calibration basis.
	for i := range constants {
		k := &constants[i]
		if k.Threshold && k.Calibration == "" {
			findings = append(findings, Contradiction{
				Severity:     SeverityHigh,
				Type:         TypeUncalibratedThreshold,
				Subject:      k.ID,
				Description:  fmt.Sprintf("constant %s is flagged as a threshold without a calibration basis", k.ID),
				SuggestedFix: fmt.Sprintf("record how the value of %s was calibrated", k.ID),
			})
		}
	}

	return findings
}

// HasCritical reports whether any finding is CRITICAL.
func HasCritical(findings []Contradiction) bool {
	for i := range findings {
		if findings[i].Severity == SeverityCritical {
			return true
		}
	}
	return false
}
