package anonymize

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternSpec is the portable, uncompiled form of a detection rule, as it
// appears in configuration files and API requests.
type PatternSpec struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Pattern     string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Category    string `json:"category,omitempty" yaml:"category" mapstructure:"category"`
	Replacement string `json:"replacement" yaml:"replacement" mapstructure:"replacement"`
	Severity    string `json:"severity,omitempty" yaml:"severity" mapstructure:"severity"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`
}

// builtinSpecs defines the detection rules shipped by default. Order matters:
// it is the registration order used to break ties between overlapping
// matches of equal length.
var builtinSpecs = []struct {
	id          string
	category    Category
	source      string
	replacement string
	severity    Severity
	description string
}{
	{
		id:          "ssn",
		category:    CategoryPersonal,
		source:      `\b\d{3}-\d{2}-\d{4}\b`,
		replacement: "[SSN]",
		severity:    SeverityCritical,
		description: "US Social Security number",
	},
	{
		id:          "email",
		category:    CategoryPersonal,
		source:      `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
		replacement: "[EMAIL]",
		severity:    SeverityMedium,
		description: "Email address",
	},
	{
		id:          "phone-number",
		category:    CategoryPersonal,
		source:      `\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`,
		replacement: "[PHONE]",
		severity:    SeverityMedium,
		description: "US phone number",
	},
	{
		id:          "credit-card-number",
		category:    CategoryFinancial,
		source:      `\b(?:\d{4}[-\s]?){3}\d{4}\b`,
		replacement: "[CREDIT_CARD]",
		severity:    SeverityCritical,
		description: "Payment card number",
	},
	{
		id:          "legal-case-number",
		category:    CategoryLegal,
		source:      `\b\d{1,2}:\d{2}-(?:cv|cr|md|mc|bk)-\d{3,6}\b`,
		replacement: "[CASE_NUMBER]",
		severity:    SeverityHigh,
		description: "Court docket number",
	},
	{
		id:       "titled-personal-name",
		category: CategoryPersonal,
		// Case-sensitive on purpose: capitalization is the only signal
		// separating "Dr. Smith" from prose.
		source:      `(?-i:\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`,
		replacement: "[NAME]",
		severity:    SeverityMedium,
		description: "Personal name preceded by a title",
	},
	{
		id:          "street-address",
		category:    CategoryPersonal,
		source:      `\b\d{1,5}\s+[A-Za-z0-9.\- ]+?\s(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Place|Pl|Way)\.?\b`,
		replacement: "[ADDRESS]",
		severity:    SeverityMedium,
		description: "Street address",
	},
	{
		id:          "date-of-birth",
		category:    CategoryPersonal,
		source:      `\b(?:dob|date of birth|born(?:\s+on)?)\s*[:\s]\s*\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`,
		replacement: "[DOB]",
		severity:    SeverityHigh,
		description: "Date of birth with a qualifying keyword",
	},
	{
		id:          "bank-account-number",
		category:    CategoryFinancial,
		source:      `\b(?:account|acct|iban|routing)\s*(?:no\.?|number|#)?\s*[:\s]\s*\d{6,17}\b`,
		replacement: "[ACCOUNT_NUMBER]",
		severity:    SeverityCritical,
		description: "Bank account or routing number with a qualifying keyword",
	},
}

var builtins = compileBuiltins()

func compileBuiltins() []Pattern {
	patterns := make([]Pattern, 0, len(builtinSpecs))
	for _, s := range builtinSpecs {
		patterns = append(patterns, Pattern{
			ID:          s.id,
			Category:    s.category,
			Source:      s.source,
			Regex:       regexp.MustCompile(applyDefaultFlags(s.source)),
			Replacement: s.replacement,
			Severity:    s.severity,
			Description: s.description,
		})
	}
	return patterns
}

// BuiltinPatterns returns a fresh copy of the built-in rule set. The
// underlying compiled expressions are shared; they are immutable and safe
// for concurrent use.
func BuiltinPatterns() []Pattern {
	return append([]Pattern(nil), builtins...)
}

// applyDefaultFlags makes matching case-insensitive unless the source opens
// with its own flag group, in which case it is compiled verbatim.
func applyDefaultFlags(source string) string {
	if strings.HasPrefix(source, "(?") {
		return source
	}
	return "(?i)" + source
}

// CompilePattern validates and compiles a custom pattern spec. It returns a
// *PatternError when the spec is incomplete, the expression does not
// compile, or the expression can match the empty string (which would make
// global scanning loop forever over zero-width matches).
func CompilePattern(spec PatternSpec) (Pattern, error) {
	id := spec.ID
	if id == "" {
		id = "custom"
	}
	if strings.TrimSpace(spec.Pattern) == "" {
		return Pattern{}, &PatternError{ID: id, Reason: "empty pattern"}
	}
	if spec.Replacement == "" {
		return Pattern{}, &PatternError{ID: id, Reason: "empty replacement"}
	}
	if spec.Description == "" {
		return Pattern{}, &PatternError{ID: id, Reason: "empty description"}
	}

	re, err := regexp.Compile(applyDefaultFlags(spec.Pattern))
	if err != nil {
		return Pattern{}, &PatternError{ID: id, Reason: "invalid regular expression", Err: err}
	}
	if re.MatchString("") {
		return Pattern{}, &PatternError{ID: id, Reason: "pattern matches the empty string"}
	}

	category, err := parseCategory(spec.Category)
	if err != nil {
		return Pattern{}, &PatternError{ID: id, Reason: err.Error()}
	}
	severity, err := parseSeverity(spec.Severity)
	if err != nil {
		return Pattern{}, &PatternError{ID: id, Reason: err.Error()}
	}

	return Pattern{
		ID:          id,
		Category:    category,
		Source:      spec.Pattern,
		Regex:       re,
		Replacement: spec.Replacement,
		Severity:    severity,
		Description: spec.Description,
	}, nil
}

func parseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(s)) {
	case "":
		return CategoryCustom, nil
	case CategoryPersonal, CategoryFinancial, CategoryMedical, CategoryLegal, CategoryCustom:
		return Category(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

func parseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(s)) {
	case "":
		return SeverityMedium, nil
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}
