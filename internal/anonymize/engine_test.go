package anonymize

import (
	"errors"
	"testing"

	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(config.AnonymizerConfig{Enabled: true, Detectors: []string{"all"}}, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func mustCompile(t *testing.T, spec PatternSpec) Pattern {
	t.Helper()
	p, err := CompilePattern(spec)
	if err != nil {
		t.Fatalf("Failed to compile pattern %s: %v", spec.ID, err)
	}
	return p
}

// TestNew tests engine construction from configuration
func TestNew(t *testing.T) {
	t.Run("UnknownDetector", func(t *testing.T) {
		_, err := New(config.AnonymizerConfig{Enabled: true, Detectors: []string{"palm-reading"}}, logger.Nop())
		if err == nil {
			t.Fatal("Expected error for unknown detector")
		}
	})

	t.Run("DetectorSubset", func(t *testing.T) {
		e, err := New(config.AnonymizerConfig{Enabled: true, Detectors: []string{"email"}}, logger.Nop())
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		result := e.Detect("SSN 123-45-6789 and email a@b.com")
		if len(result.Findings) != 1 {
			t.Fatalf("Expected 1 finding with only the email detector, got %d", len(result.Findings))
		}
		if result.Findings[0].PatternID != "email" {
			t.Errorf("Unexpected pattern: %s", result.Findings[0].PatternID)
		}
	})

	t.Run("BadCustomPatternRejectedIndividually", func(t *testing.T) {
		e, err := New(config.AnonymizerConfig{
			Enabled:   true,
			Detectors: []string{"all"},
			CustomPatterns: []config.CustomPattern{
				{ID: "broken", Pattern: `([`, Replacement: "[X]", Description: "bad"},
				{ID: "badge", Pattern: `BADGE-\d{4}`, Replacement: "[BADGE]", Description: "badge number"},
			},
		}, logger.Nop())
		if err != nil {
			t.Fatalf("One bad custom pattern must not fail engine construction: %v", err)
		}
		result := e.Detect("visitor badge-1234 checked in")
		if len(result.Findings) != 1 || result.Findings[0].PatternID != "badge" {
			t.Fatalf("Valid custom pattern should survive a bad sibling: %+v", result.Findings)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		e, err := New(config.AnonymizerConfig{Enabled: false}, logger.Nop())
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		result := e.Detect("SSN 123-45-6789")
		if result.DisplayText != "SSN 123-45-6789" || len(result.Findings) != 0 {
			t.Error("Disabled engine should pass text through unchanged")
		}
	})
}

// TestDetect tests the full detect pipeline
func TestDetect(t *testing.T) {
	e := newTestEngine(t)

	t.Run("SingleEmail", func(t *testing.T) {
		result := e.Detect("Contact John at john@example.com")
		if len(result.Findings) != 1 {
			t.Fatalf("Expected 1 finding, got %d: %+v", len(result.Findings), result.Findings)
		}
		f := result.Findings[0]
		if f.Category != CategoryPersonal {
			t.Errorf("Expected personal category, got %s", f.Category)
		}
		if f.Original != "john@example.com" {
			t.Errorf("Unexpected original: %q", f.Original)
		}
		if f.Replacement != "[EMAIL]" {
			t.Errorf("Unexpected replacement: %q", f.Replacement)
		}
		if f.Revealed {
			t.Error("Findings must start redacted")
		}
		if result.DisplayText != "Contact John at [EMAIL]" {
			t.Errorf("Unexpected display text: %q", result.DisplayText)
		}
		if result.Confidence != 10 {
			t.Errorf("Expected confidence 10, got %d", result.Confidence)
		}
	})

	t.Run("SSNAndEmail", func(t *testing.T) {
		result := e.Detect("SSN 123-45-6789 and email a@b.com")
		if len(result.Findings) != 2 {
			t.Fatalf("Expected 2 findings, got %d: %+v", len(result.Findings), result.Findings)
		}
		if result.Findings[0].PatternID != "ssn" || result.Findings[1].PatternID != "email" {
			t.Errorf("Findings out of left-to-right order: %s, %s",
				result.Findings[0].PatternID, result.Findings[1].PatternID)
		}
		if result.Confidence != 20 {
			t.Errorf("Expected confidence 20, got %d", result.Confidence)
		}
		if result.DisplayText != "SSN [SSN] and email [EMAIL]" {
			t.Errorf("Unexpected display text: %q", result.DisplayText)
		}
	})

	t.Run("NoFindings", func(t *testing.T) {
		result := e.Detect("nothing sensitive here")
		if len(result.Findings) != 0 {
			t.Fatalf("Expected no findings, got %+v", result.Findings)
		}
		if result.DisplayText != result.Original {
			t.Error("Display text should equal original when nothing matches")
		}
		if result.Confidence != 0 {
			t.Errorf("Expected confidence 0, got %d", result.Confidence)
		}
	})

	t.Run("ConfidenceCapped", func(t *testing.T) {
		text := ""
		for i := 0; i < 12; i++ {
			text += "mail" + string(rune('a'+i)) + "@example.com "
		}
		result := e.Detect(text)
		if len(result.Findings) != 12 {
			t.Fatalf("Expected 12 findings, got %d", len(result.Findings))
		}
		if result.Confidence != 100 {
			t.Errorf("Confidence should cap at 100, got %d", result.Confidence)
		}
	})

	t.Run("CategoriesDeduplicated", func(t *testing.T) {
		result := e.Detect("card 4111 1111 1111 1111, ssn 123-45-6789, email a@b.com")
		want := []Category{CategoryFinancial, CategoryPersonal}
		if len(result.Categories) != len(want) {
			t.Fatalf("Expected categories %v, got %v", want, result.Categories)
		}
		for i, c := range want {
			if result.Categories[i] != c {
				t.Errorf("Expected category %s at %d, got %s", c, i, result.Categories[i])
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := e.Detect("SSN 123-45-6789 and email a@b.com")
		b := e.Detect("SSN 123-45-6789 and email a@b.com")
		if a.DisplayText != b.DisplayText || len(a.Findings) != len(b.Findings) {
			t.Error("Detect must be deterministic for identical input")
		}
	})
}

// TestOverlapResolution tests the tie-break rule for overlapping matches
func TestOverlapResolution(t *testing.T) {
	e := newTestEngine(t)

	t.Run("EqualLengthEarlierRegistrationWins", func(t *testing.T) {
		custom := mustCompile(t, PatternSpec{
			ID:          "exact-ssn",
			Pattern:     `123-45-6789`,
			Replacement: "[CUSTOM_SSN]",
			Description: "Exact SSN literal",
		})
		result := e.Detect("id 123-45-6789 end", custom)
		if len(result.Findings) != 1 {
			t.Fatalf("Overlapping matches must produce exactly 1 finding, got %d", len(result.Findings))
		}
		// Built-ins are registered before per-call customs; at equal span the
		// earlier registration wins.
		if result.Findings[0].PatternID != "ssn" {
			t.Errorf("Expected built-in ssn to win the tie, got %s", result.Findings[0].PatternID)
		}
	})

	t.Run("LongerMatchWinsAtSameStart", func(t *testing.T) {
		custom := mustCompile(t, PatternSpec{
			ID:          "ssn-with-suffix",
			Pattern:     `123-45-6789 \(primary\)`,
			Replacement: "[TAGGED_SSN]",
			Description: "SSN with a qualifier",
		})
		result := e.Detect("id 123-45-6789 (primary) end", custom)
		if len(result.Findings) != 1 {
			t.Fatalf("Expected exactly 1 finding, got %d: %+v", len(result.Findings), result.Findings)
		}
		if result.Findings[0].PatternID != "ssn-with-suffix" {
			t.Errorf("Longer match at the same start must win, got %s", result.Findings[0].PatternID)
		}
	})

	t.Run("NonOverlapInvariant", func(t *testing.T) {
		broad := mustCompile(t, PatternSpec{
			ID:          "digits",
			Pattern:     `\d{2,}`,
			Replacement: "[NUM]",
			Description: "Any digit run",
		})
		result := e.Detect("ssn 123-45-6789 phone 555-123-4567 card 4111 1111 1111 1111", broad)
		for i := 0; i+1 < len(result.Findings); i++ {
			if result.Findings[i].End > result.Findings[i+1].Start {
				t.Errorf("Findings %d and %d overlap: %+v", i, i+1, result.Findings)
			}
		}
	})

	t.Run("CustomDoesNotMutateEngine", func(t *testing.T) {
		custom := mustCompile(t, PatternSpec{
			ID:          "word",
			Pattern:     `transient`,
			Replacement: "[WORD]",
			Description: "Transient custom rule",
		})
		first := e.Detect("a transient rule", custom)
		if len(first.Findings) != 1 {
			t.Fatalf("Custom pattern did not match: %+v", first.Findings)
		}
		second := e.Detect("a transient rule")
		if len(second.Findings) != 0 {
			t.Error("Per-call custom patterns must not persist in the engine")
		}
	})
}

// TestToggleFinding tests reveal state transitions
func TestToggleFinding(t *testing.T) {
	e := newTestEngine(t)

	t.Run("IndexOutOfRange", func(t *testing.T) {
		result := e.Detect("email a@b.com")
		for _, idx := range []int{-1, 1, 99} {
			if _, err := ToggleFinding(result, idx); !errors.Is(err, ErrIndexOutOfRange) {
				t.Errorf("Index %d: expected ErrIndexOutOfRange, got %v", idx, err)
			}
		}
	})

	t.Run("RevealRoundTrip", func(t *testing.T) {
		initial := e.Detect("SSN 123-45-6789 and email a@b.com")
		revealed, err := ToggleFinding(initial, 0)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		if !revealed.Findings[0].Revealed {
			t.Error("Finding 0 should be revealed after toggle")
		}
		hidden, err := ToggleFinding(revealed, 0)
		if err != nil {
			t.Fatalf("Toggle back failed: %v", err)
		}
		if hidden.DisplayText != initial.DisplayText {
			t.Errorf("Round trip display text mismatch: %q vs %q", hidden.DisplayText, initial.DisplayText)
		}
	})

	t.Run("FullRevealRecoversOriginal", func(t *testing.T) {
		result := e.Detect("SSN 123-45-6789, card 4111 1111 1111 1111, email a@b.com")
		if len(result.Findings) < 2 {
			t.Fatalf("Expected multiple findings, got %d", len(result.Findings))
		}
		var err error
		for i := range result.Findings {
			result, err = ToggleFinding(result, i)
			if err != nil {
				t.Fatalf("Toggle %d failed: %v", i, err)
			}
		}
		if result.DisplayText != result.Original {
			t.Errorf("Full reveal should recover the original text, got %q", result.DisplayText)
		}
	})

	t.Run("ToggleDoesNotMutateInput", func(t *testing.T) {
		initial := e.Detect("email a@b.com")
		before := initial.DisplayText
		if _, err := ToggleFinding(initial, 0); err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		if initial.DisplayText != before || initial.Findings[0].Revealed {
			t.Error("ToggleFinding must not modify its input result")
		}
	})

	t.Run("ScoreAndCategoriesUnaffected", func(t *testing.T) {
		initial := e.Detect("SSN 123-45-6789 and email a@b.com")
		toggled, err := ToggleFinding(initial, 1)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		if toggled.Confidence != initial.Confidence {
			t.Error("Toggling must not change the confidence score")
		}
		if len(toggled.Categories) != len(initial.Categories) {
			t.Error("Toggling must not change detected categories")
		}
	})
}
