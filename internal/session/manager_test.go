package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promptveil/promptveil/internal/anonymize"
	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/logger"
)

func newTestManager(t *testing.T, cfg config.SessionConfig) *Manager {
	t.Helper()

	engine, err := anonymize.New(config.AnonymizerConfig{
		Enabled:   true,
		Detectors: []string{"all"},
	}, logger.Nop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = time.Hour
	}
	return NewManager(cfg, engine, nil, logger.Nop())
}

func TestCreate(t *testing.T) {
	t.Run("DetectsAndStoresSession", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		snap, err := m.Create(context.Background(), "Reach me at alice@example.com", nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if snap.ID == "" {
			t.Error("expected non-empty session ID")
		}
		if len(snap.Result.Findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(snap.Result.Findings))
		}
		if snap.Result.DisplayText != "Reach me at [EMAIL]" {
			t.Errorf("unexpected display text: %q", snap.Result.DisplayText)
		}
		if m.Count() != 1 {
			t.Errorf("expected 1 live session, got %d", m.Count())
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			snap, err := m.Create(context.Background(), "no sensitive data", nil)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if seen[snap.ID] {
				t.Fatalf("duplicate session ID: %s", snap.ID)
			}
			seen[snap.ID] = true
		}
	})

	t.Run("LimitReached", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{MaxSessions: 1})

		if _, err := m.Create(context.Background(), "first", nil); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_, err := m.Create(context.Background(), "second", nil)
		if !errors.Is(err, ErrLimitReached) {
			t.Errorf("expected ErrLimitReached, got %v", err)
		}
	})

	t.Run("LimitHoldsUnderConcurrentCreates", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{MaxSessions: 1})

		var (
			wg      sync.WaitGroup
			created atomic.Int64
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.Create(context.Background(), "text", nil); err == nil {
					created.Add(1)
				}
			}()
		}
		wg.Wait()

		if created.Load() != 1 {
			t.Errorf("expected exactly 1 successful create, got %d", created.Load())
		}
		if m.Count() != 1 {
			t.Errorf("expected 1 live session, got %d", m.Count())
		}
	})

	t.Run("BadCustomPatternReported", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		snap, err := m.Create(context.Background(), "text", []anonymize.PatternSpec{
			{ID: "broken", Pattern: `[unclosed`, Replacement: "[X]", Description: "broken rule"},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if len(snap.Rejected) != 1 {
			t.Fatalf("expected 1 rejected pattern, got %d", len(snap.Rejected))
		}
	})

	t.Run("CustomPatternApplied", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		snap, err := m.Create(context.Background(), "ticket JIRA-1234 is open", []anonymize.PatternSpec{
			{ID: "ticket", Pattern: `\bJIRA-\d+\b`, Replacement: "[TICKET]", Description: "issue tracker reference"},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if snap.Result.DisplayText != "ticket [TICKET] is open" {
			t.Errorf("unexpected display text: %q", snap.Result.DisplayText)
		}
	})
}

func TestGet(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{})

	snap, err := m.Create(context.Background(), "call 555-123-4567 now", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := m.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Result.DisplayText != snap.Result.DisplayText {
		t.Errorf("display text mismatch: %q vs %q", got.Result.DisplayText, snap.Result.DisplayText)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestToggle(t *testing.T) {
	t.Run("RevealAndHide", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		snap, err := m.Create(context.Background(), "my ssn is 123-45-6789", nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if snap.Result.DisplayText != "my ssn is [SSN]" {
			t.Fatalf("unexpected initial display: %q", snap.Result.DisplayText)
		}

		revealed, err := m.Toggle(snap.ID, 0)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		if revealed.Result.DisplayText != "my ssn is 123-45-6789" {
			t.Errorf("expected revealed text, got %q", revealed.Result.DisplayText)
		}

		hidden, err := m.Toggle(snap.ID, 0)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		if hidden.Result.DisplayText != "my ssn is [SSN]" {
			t.Errorf("expected redacted text, got %q", hidden.Result.DisplayText)
		}
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})

		snap, err := m.Create(context.Background(), "nothing here", nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := m.Toggle(snap.ID, 0); !errors.Is(err, anonymize.ErrIndexOutOfRange) {
			t.Errorf("expected ErrIndexOutOfRange, got %v", err)
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		m := newTestManager(t, config.SessionConfig{})
		if _, err := m.Toggle("missing", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateText(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{})

	snap, err := m.Create(context.Background(), "email alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Reveal, then replace the text. Reveal state must not survive the edit.
	if _, err := m.Toggle(snap.ID, 0); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	updated, err := m.UpdateText(context.Background(), snap.ID, "email bob@example.com instead")
	if err != nil {
		t.Fatalf("UpdateText failed: %v", err)
	}
	if updated.Result.DisplayText != "email [EMAIL] instead" {
		t.Errorf("unexpected display text after edit: %q", updated.Result.DisplayText)
	}
	if updated.Result.Findings[0].Revealed {
		t.Error("reveal state carried across a text edit")
	}
}

func TestSubmit(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{})

	snap, err := m.Create(context.Background(), "ssn 123-45-6789", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	final, err := m.Submit(snap.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !final.Submitted {
		t.Error("expected submitted snapshot")
	}

	if _, err := m.Submit(snap.ID); !errors.Is(err, ErrSubmitted) {
		t.Errorf("expected ErrSubmitted on double submit, got %v", err)
	}
	if _, err := m.Toggle(snap.ID, 0); !errors.Is(err, ErrSubmitted) {
		t.Errorf("expected ErrSubmitted on toggle after submit, got %v", err)
	}
	if _, err := m.UpdateText(context.Background(), snap.ID, "new text"); !errors.Is(err, ErrSubmitted) {
		t.Errorf("expected ErrSubmitted on edit after submit, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{})

	snap, err := m.Create(context.Background(), "text", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m.Delete(snap.ID)
	if _, err := m.Get(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEvictIdle(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{IdleTTL: time.Nanosecond})

	snap, err := m.Create(context.Background(), "text", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	time.Sleep(time.Millisecond)
	m.evictIdle()

	if _, err := m.Get(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected idle session to be evicted, got %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", m.Count())
	}
}

func TestDetectStateless(t *testing.T) {
	m := newTestManager(t, config.SessionConfig{})

	result, rejected := m.Detect(context.Background(), "card 4111-1111-1111-1111", nil)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejected patterns: %v", rejected)
	}
	if result.DisplayText != "card [CREDIT_CARD]" {
		t.Errorf("unexpected display text: %q", result.DisplayText)
	}
	if m.Count() != 0 {
		t.Errorf("stateless detect must not open sessions, got %d", m.Count())
	}
}
