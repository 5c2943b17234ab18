package phase

import (
	"regexp"
	"strings"
)

// ResultKind tags the variant of a phase result.
type ResultKind string

const (
	ResultKindFAS      ResultKind = "fas"       // Functional Architecture (1A)
	ResultKindTechSpec ResultKind = "tech_spec" // Technical Specification (1B)
	ResultKindText     ResultKind = "text"      // everything else
)

// Result is the typed outcome of a completed phase. Each variant carries the
// full output text plus variant-specific parsed fields, and an Extra bag for
// genuinely unstructured metadata.
type Result interface {
	Kind() ResultKind
	Output() string
	ExtraFields() map[string]string
}

//nolint:gochecknoglobals // Shared parse patterns.
var (
	functionIDPattern = regexp.MustCompile(`\*\*(F-\d{3})\*\*`)
	fencePattern      = regexp.MustCompile("(?m)^```")
)

// FASResult is the parsed outcome of the Functional Architecture phase.
type FASResult struct {
	Text        string            `json:"text"`
	FunctionIDs []string          `json:"function_ids"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (r *FASResult) Kind() ResultKind               { return ResultKindFAS }
func (r *FASResult) Output() string                 { return r.Text }
func (r *FASResult) ExtraFields() map[string]string { return r.Extra }

// TechSpecResult is the parsed outcome of the Technical Specification phase.
type TechSpecResult struct {
	Text       string            `json:"text"`
	CodeBlocks int               `json:"code_blocks"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (r *TechSpecResult) Kind() ResultKind               { return ResultKindTechSpec }
func (r *TechSpecResult) Output() string                 { return r.Text }
func (r *TechSpecResult) ExtraFields() map[string]string { return r.Extra }

// TextResult wraps the raw output of phases without a richer variant.
type TextResult struct {
	Text  string            `json:"text"`
	Extra map[string]string `json:"extra,omitempty"`
}

func (r *TextResult) Kind() ResultKind               { return ResultKindText }
func (r *TextResult) Output() string                 { return r.Text }
func (r *TextResult) ExtraFields() map[string]string { return r.Extra }

// ParseResult builds the typed result for a phase's raw output.
func ParseResult(code Code, output string) Result {
	switch code {
	case "1A":
		ids := functionIDPattern.FindAllStringSubmatch(output, -1)
		seen := make(map[string]bool, len(ids))
		functionIDs := make([]string, 0, len(ids))
		for _, m := range ids {
			if !seen[m[1]] {
				seen[m[1]] = true
				functionIDs = append(functionIDs, m[1])
			}
		}
		return &FASResult{Text: output, FunctionIDs: functionIDs}
	case "1B":
		fences := len(fencePattern.FindAllString(output, -1))
		return &TechSpecResult{Text: output, CodeBlocks: fences / 2}
	default:
		return &TextResult{Text: output}
	}
}

// DeriveInput builds the next phase's input prompt from the completed
// phase's full output. Output is never truncated.
func DeriveInput(completed Code, next Code, output string) string {
	nextSpec, _ := Lookup(next)
	var b strings.Builder
	b.WriteString("Phase ")
	b.WriteString(next.String())
	b.WriteString(" (")
	b.WriteString(nextSpec.Name)
	b.WriteString(")\n\nApproved output of phase ")
	b.WriteString(completed.String())
	b.WriteString(" follows. Use it as the authoritative input for this phase.\n\n")
	b.WriteString(output)
	return b.String()
}
