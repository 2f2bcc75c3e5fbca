package anonymize

import (
	"errors"
	"testing"
)

// TestCompilePattern tests custom pattern validation and compilation
func TestCompilePattern(t *testing.T) {
	valid := PatternSpec{
		ID:          "employee-id",
		Pattern:     `EMP-\d{6}`,
		Replacement: "[EMPLOYEE_ID]",
		Description: "Internal employee identifier",
	}

	t.Run("ValidSpec", func(t *testing.T) {
		p, err := CompilePattern(valid)
		if err != nil {
			t.Fatalf("Failed to compile valid spec: %v", err)
		}
		if p.ID != "employee-id" {
			t.Errorf("Unexpected pattern ID: %s", p.ID)
		}
		if p.Category != CategoryCustom {
			t.Errorf("Default category should be custom, got %s", p.Category)
		}
		if p.Severity != SeverityMedium {
			t.Errorf("Default severity should be medium, got %s", p.Severity)
		}
		if !p.Regex.MatchString("EMP-123456") {
			t.Error("Compiled pattern does not match its own sample")
		}
	})

	t.Run("CaseInsensitiveByDefault", func(t *testing.T) {
		p, err := CompilePattern(PatternSpec{
			ID:          "project",
			Pattern:     `project-x`,
			Replacement: "[PROJECT]",
			Description: "Codename",
		})
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if !p.Regex.MatchString("PROJECT-X") {
			t.Error("Pattern without explicit flags should match case-insensitively")
		}
	})

	t.Run("ExplicitFlagsCompiledVerbatim", func(t *testing.T) {
		p, err := CompilePattern(PatternSpec{
			ID:          "codename",
			Pattern:     `(?-i:SECRET)`,
			Replacement: "[CODENAME]",
			Description: "Case-sensitive codename",
		})
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if p.Regex.MatchString("secret") {
			t.Error("Pattern with its own flag group should stay case-sensitive")
		}
		if !p.Regex.MatchString("SECRET") {
			t.Error("Pattern should match its exact-case sample")
		}
	})

	t.Run("EmptyPattern", func(t *testing.T) {
		spec := valid
		spec.Pattern = "  "
		assertPatternError(t, spec, "empty pattern")
	})

	t.Run("EmptyReplacement", func(t *testing.T) {
		spec := valid
		spec.Replacement = ""
		assertPatternError(t, spec, "empty replacement")
	})

	t.Run("EmptyDescription", func(t *testing.T) {
		spec := valid
		spec.Description = ""
		assertPatternError(t, spec, "empty description")
	})

	t.Run("InvalidRegex", func(t *testing.T) {
		spec := valid
		spec.Pattern = `EMP-(\d{6}`
		assertPatternError(t, spec, "invalid regular expression")
	})

	t.Run("EmptyMatchingRegexRejected", func(t *testing.T) {
		spec := valid
		spec.Pattern = `x*`
		assertPatternError(t, spec, "pattern matches the empty string")
	})

	t.Run("UnknownSeverity", func(t *testing.T) {
		spec := valid
		spec.Severity = "catastrophic"
		if _, err := CompilePattern(spec); err == nil {
			t.Fatal("Expected error for unknown severity")
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		spec := valid
		spec.Category = "astrological"
		if _, err := CompilePattern(spec); err == nil {
			t.Fatal("Expected error for unknown category")
		}
	})
}

func assertPatternError(t *testing.T, spec PatternSpec, reason string) {
	t.Helper()
	_, err := CompilePattern(spec)
	if err == nil {
		t.Fatalf("Expected pattern error (%s), got nil", reason)
	}
	var perr *PatternError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *PatternError, got %T", err)
	}
	if perr.Reason != reason {
		t.Errorf("Expected reason %q, got %q", reason, perr.Reason)
	}
}

// TestBuiltinPatterns tests that every shipped rule matches a canonical sample
func TestBuiltinPatterns(t *testing.T) {
	samples := map[string]string{
		"ssn":                  "123-45-6789",
		"email":                "jane.doe+work@example.co.uk",
		"phone-number":         "(555) 123-4567",
		"credit-card-number":   "4111 1111 1111 1111",
		"legal-case-number":    "1:21-cv-01234",
		"titled-personal-name": "Dr. Jane Smith",
		"street-address":       "123 Main Street",
		"date-of-birth":        "DOB: 01/02/1990",
		"bank-account-number":  "account number: 12345678",
	}

	patterns := BuiltinPatterns()
	if len(patterns) != len(samples) {
		t.Fatalf("Expected %d built-in patterns, got %d", len(samples), len(patterns))
	}

	for _, p := range patterns {
		sample, ok := samples[p.ID]
		if !ok {
			t.Errorf("No sample for built-in pattern %s", p.ID)
			continue
		}
		if !p.Regex.MatchString(sample) {
			t.Errorf("Pattern %s does not match sample %q", p.ID, sample)
		}
		if p.Regex.MatchString("") {
			t.Errorf("Pattern %s matches the empty string", p.ID)
		}
		if p.Replacement == "" || p.Description == "" {
			t.Errorf("Pattern %s has an empty replacement or description", p.ID)
		}
	}

	t.Run("CopyIsFresh", func(t *testing.T) {
		a := BuiltinPatterns()
		a[0] = Pattern{}
		b := BuiltinPatterns()
		if b[0].ID == "" {
			t.Error("Mutating a returned slice must not affect later calls")
		}
	})
}
