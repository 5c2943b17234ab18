package contradiction

import (
	"bufio"
	"regexp"
	"strings"
)

// Proposal is the structured form of a Functional Architecture document.
type Proposal struct {
	Functions  []Function
	Components []Component
	Loops      []FeedbackLoop
	Constants  []Constant
}

//nolint:gochecknoglobals // Shared parse patterns for proposal documents.
var (
	declPattern  = regexp.MustCompile(`\*\*((F|C|L|K)-\d{3})\*\*\s*(.*)`)
	fieldPattern = regexp.MustCompile(`^\s*[-*]?\s*([a-z_]+)\s*:\s*(.+?)\s*$`)
)

// ParseProposal scans a Functional Architecture document for declaration
// blocks. A block starts at a bold ID marker (**F-001**, **C-002**, ...) and
// collects `key: value` lines until the next marker. Unknown keys are ignored.
func ParseProposal(content string) *Proposal {
	p := &Proposal{}

	var currentID, currentKind, currentName string
	fields := make(map[string]string)

	flush := func() {
		if currentID == "" {
			return
		}
		switch currentKind {
		case "F":
			effect := EffectNone
			switch strings.ToUpper(fields["system_effect"]) {
			case "OPEN":
				effect = EffectOpen
			case "CLOSE":
				effect = EffectClose
			}
			p.Functions = append(p.Functions, Function{
				ID:          currentID,
				Name:        currentName,
				Effect:      effect,
				ClosePairID: fields["close_pair"],
			})
		case "C":
			p.Components = append(p.Components, Component{
				ID:             currentID,
				Name:           currentName,
				UsesCache:      strings.EqualFold(fields["uses_cache"], "true") || strings.EqualFold(fields["uses_cache"], "yes"),
				CacheNamespace: fields["cache_namespace"],
			})
		case "L":
			p.Loops = append(p.Loops, FeedbackLoop{
				ID:           currentID,
				Trigger:      fields["trigger"],
				Verification: fields["verification"],
			})
		case "K":
			p.Constants = append(p.Constants, Constant{
				ID:          currentID,
				Name:        currentName,
				Threshold:   strings.EqualFold(fields["threshold"], "true") || strings.EqualFold(fields["threshold"], "yes"),
				Calibration: fields["calibration"],
			})
		}
		fields = make(map[string]string)
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := declPattern.FindStringSubmatch(line); m != nil {
			flush()
			currentID, currentKind, currentName = m[1], m[2], strings.TrimSpace(m[3])
			continue
		}
		if currentID == "" {
			continue
		}
		if m := fieldPattern.FindStringSubmatch(line); m != nil {
			fields[m[1]] = m[2]
		}
	}
	flush()

	return p
}

// AnalyzeProposal parses and analyzes a document in one step.
func AnalyzeProposal(content string) []Contradiction {
	p := ParseProposal(content)
	return Analyze(p.Functions, p.Components, p.Loops, p.Constants)
}
