package anonymize

import (
	"errors"
	"fmt"
	"regexp"
)

// Category classifies the kind of sensitive data a pattern detects.
type Category string

const (
	CategoryPersonal  Category = "personal"
	CategoryFinancial Category = "financial"
	CategoryMedical   Category = "medical"
	CategoryLegal     Category = "legal"
	CategoryCustom    Category = "custom"
)

// Severity is a coarse risk level attached to a pattern and its findings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern is one detection rule: a compiled regular expression with the
// placeholder that replaces its matches. Patterns are immutable once built;
// Source keeps the portable regex source so the rule can be serialized or
// recompiled independently of the engine.
type Pattern struct {
	ID          string
	Category    Category
	Source      string
	Regex       *regexp.Regexp
	Replacement string
	Severity    Severity
	Description string
}

// rawMatch is a single occurrence of one pattern in the original text.
// Offsets are rune offsets. order is the pattern's registration index and
// breaks ties during overlap resolution.
type rawMatch struct {
	order int
	start int
	end   int
}

// Finding is one detected span of sensitive text. Start/End are rune offsets
// into the original text and never change after detection; DisplayStart and
// DisplayEnd are rune offsets into the current display text and are
// recomputed on every projection. Revealed is the only mutable field.
type Finding struct {
	Start        int      `json:"start"`
	End          int      `json:"end"`
	DisplayStart int      `json:"displayStart"`
	DisplayEnd   int      `json:"displayEnd"`
	PatternID    string   `json:"patternId"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Original     string   `json:"original"`
	Replacement  string   `json:"replacement"`
	Revealed     bool     `json:"revealed"`
}

// Result is a complete anonymization of one text. DisplayText and the
// per-finding display spans are derived from Original and the findings'
// Revealed flags; they are recomputed by projection, never patched in place.
type Result struct {
	Original    string     `json:"original"`
	DisplayText string     `json:"displayText"`
	Findings    []Finding  `json:"findings"`
	Categories  []Category `json:"detectedCategories"`
	Confidence  int        `json:"confidenceScore"`
}

// ErrIndexOutOfRange is returned by ToggleFinding when the finding index
// does not exist in the result.
var ErrIndexOutOfRange = errors.New("finding index out of range")

// PatternError reports a custom pattern that could not be registered. One
// bad pattern never disables the rest of the registry; callers reject the
// offending entry and continue.
type PatternError struct {
	ID     string
	Reason string
	Err    error
}

func (e *PatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pattern %q: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("pattern %q: %s", e.ID, e.Reason)
}

func (e *PatternError) Unwrap() error { return e.Err }
