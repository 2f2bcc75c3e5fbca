package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/logger"
	"go.uber.org/zap"
)

// Engine holds an immutable registry of detection patterns and produces
// anonymization results. It keeps no per-text state; Detect and
// ToggleFinding are deterministic functions of their inputs and safe to call
// concurrently.
type Engine struct {
	patterns []Pattern
	logger   *logger.Logger
	enabled  bool
}

// New builds an engine from configuration: the enabled built-in detectors
// plus any custom patterns from config. Custom patterns that fail validation
// are rejected individually and logged; one bad rule never disables
// detection.
func New(cfg config.AnonymizerConfig, log *logger.Logger) (*Engine, error) {
	patterns, err := selectBuiltins(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	rejected := 0
	for _, spec := range cfg.CustomPatterns {
		p, err := CompilePattern(PatternSpec{
			ID:          spec.ID,
			Pattern:     spec.Pattern,
			Category:    spec.Category,
			Replacement: spec.Replacement,
			Severity:    spec.Severity,
			Description: spec.Description,
		})
		if err != nil {
			rejected++
			log.Warn("Custom pattern rejected", zap.String("pattern_id", spec.ID), zap.Error(err))
			continue
		}
		patterns = append(patterns, p)
	}

	log.Info("Anonymization engine initialized",
		zap.Int("patterns", len(patterns)),
		zap.Int("custom_rejected", rejected),
	)

	return &Engine{
		patterns: patterns,
		logger:   log,
		enabled:  cfg.Enabled,
	}, nil
}

// selectBuiltins returns the built-in patterns named by detectors, in
// registration order. "all" (and an empty list) enables everything; an
// unknown name is an error.
func selectBuiltins(detectors []string) ([]Pattern, error) {
	all := BuiltinPatterns()
	if len(detectors) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(detectors))
	for _, d := range detectors {
		if d == "all" {
			return all, nil
		}
		want[d] = true
	}

	selected := make([]Pattern, 0, len(want))
	for _, p := range all {
		if want[p.ID] {
			selected = append(selected, p)
			delete(want, p.ID)
		}
	}
	for d := range want {
		return nil, fmt.Errorf("unknown detector: %s", d)
	}
	return selected, nil
}

// Patterns returns a copy of the engine's registry.
func (e *Engine) Patterns() []Pattern {
	return append([]Pattern(nil), e.patterns...)
}

// Fingerprint returns a digest of the registry (pattern IDs and sources).
// Two engines with the same fingerprint produce identical results for the
// same text, which makes it a safe cache key component.
func (e *Engine) Fingerprint() string {
	h := sha256.New()
	for _, p := range e.patterns {
		h.Write([]byte(p.ID))
		h.Write([]byte{0})
		h.Write([]byte(p.Source))
		h.Write([]byte{0})
		h.Write([]byte(p.Replacement))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Detect scans text with the engine's registry plus any per-call custom
// patterns, resolves overlaps, and renders the fully redacted display text.
// Custom patterns are merged transiently after the built-ins; they never
// mutate the engine.
func (e *Engine) Detect(text string, custom ...Pattern) *Result {
	if !e.enabled {
		return &Result{Original: text, DisplayText: text, Findings: []Finding{}, Categories: []Category{}}
	}

	combined := e.patterns
	if len(custom) > 0 {
		combined = make([]Pattern, 0, len(e.patterns)+len(custom))
		combined = append(combined, e.patterns...)
		combined = append(combined, custom...)
	}

	findings := resolve(text, combined, scan(text, combined))
	display, findings := project(text, findings)

	if findings == nil {
		findings = []Finding{}
	}

	result := &Result{
		Original:    text,
		DisplayText: display,
		Findings:    findings,
		Categories:  detectedCategories(findings),
		Confidence:  score(findings),
	}

	if len(findings) > 0 {
		e.logger.Debug("Sensitive data detected",
			zap.Int("findings", len(findings)),
			zap.Int("confidence", result.Confidence),
		)
	}
	return result
}

// ToggleFinding flips the reveal state of one finding and re-renders the
// display text. The finding set, categories, and confidence are fixed once
// detected; only the projection changes. The input result is not modified.
func ToggleFinding(res *Result, index int) (*Result, error) {
	if res == nil || index < 0 || index >= len(res.Findings) {
		return nil, fmt.Errorf("toggle finding %d: %w", index, ErrIndexOutOfRange)
	}

	findings := append([]Finding(nil), res.Findings...)
	findings[index].Revealed = !findings[index].Revealed
	display, findings := project(res.Original, findings)

	return &Result{
		Original:    res.Original,
		DisplayText: display,
		Findings:    findings,
		Categories:  res.Categories,
		Confidence:  res.Confidence,
	}, nil
}

// score is a coarse monotonic signal: ten points per finding, capped at 100.
// It is not a calibrated probability.
func score(findings []Finding) int {
	n := 10 * len(findings)
	if n > 100 {
		return 100
	}
	return n
}

func detectedCategories(findings []Finding) []Category {
	seen := make(map[Category]bool, len(findings))
	categories := make([]Category, 0, len(findings))
	for _, f := range findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			categories = append(categories, f.Category)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}
