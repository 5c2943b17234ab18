// Package review parses severity-tagged adversarial review text and decides
// whether its findings block approval.
package review

import (
	"bufio"
	"strings"
)

// Severity of one review finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Finding is one severity-tagged line from a review.
type Finding struct {
	Severity Severity
	Text     string
}

// Result is the parsed outcome of an adversarial review.
type Result struct {
	Findings []Finding
}

// Parse extracts findings from review text. Only lines beginning with an
// exact severity prefix (CRITICAL:, HIGH:, MEDIUM:) count; a severity word
// appearing elsewhere in a line never does.
func Parse(text string) Result {
	var r Result
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "CRITICAL:"):
			r.Findings = append(r.Findings, Finding{Severity: SeverityCritical, Text: strings.TrimSpace(strings.TrimPrefix(line, "CRITICAL:"))})
		case strings.HasPrefix(line, "HIGH:"):
			r.Findings = append(r.Findings, Finding{Severity: SeverityHigh, Text: strings.TrimSpace(strings.TrimPrefix(line, "HIGH:"))})
		case strings.HasPrefix(line, "MEDIUM:"):
			r.Findings = append(r.Findings, Finding{Severity: SeverityMedium, Text: strings.TrimSpace(strings.TrimPrefix(line, "MEDIUM:"))})
		}
	}
	return r
}

// BlocksApproval reports whether the review contains a CRITICAL finding.
// HIGH and MEDIUM findings are surfaced but never block on their own.
func (r Result) BlocksApproval() bool {
	for i := range r.Findings {
		if r.Findings[i].Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// CriticalFindings returns only the CRITICAL findings.
func (r Result) CriticalFindings() []Finding {
	var out []Finding
	for i := range r.Findings {
		if r.Findings[i].Severity == SeverityCritical {
			out = append(out, r.Findings[i])
		}
	}
	return out
}
