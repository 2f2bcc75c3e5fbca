package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptveil/promptveil/internal/anonymize"
	"github.com/promptveil/promptveil/internal/cache"
	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/logger"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a session ID does not exist or expired.
	ErrNotFound = errors.New("session not found")
	// ErrSubmitted is returned for mutations on a submitted session.
	ErrSubmitted = errors.New("session already submitted")
	// ErrLimitReached is returned when the session table is full.
	ErrLimitReached = errors.New("session limit reached")
)

// Session is one user-visible composition. Its mutex serializes toggles and
// edits (single-writer discipline); the engine underneath stays pure.
type Session struct {
	mu        sync.Mutex
	id        string
	result    *anonymize.Result
	custom    []anonymize.Pattern
	createdAt time.Time
	updatedAt time.Time
	submitted bool
}

// Snapshot is an immutable view of a session handed to callers.
type Snapshot struct {
	ID        string
	Result    *anonymize.Result
	CreatedAt time.Time
	UpdatedAt time.Time
	Submitted bool
	// Rejected lists custom patterns that failed validation at create time.
	Rejected []string
}

// Manager owns all live composition sessions. It runs detection through the
// engine (optionally fronted by the result cache) and guarantees that
// concurrent toggles on the same session are serialized.
type Manager struct {
	cfg    config.SessionConfig
	engine *anonymize.Engine
	cache  *cache.ResultCache // nil when caching is disabled
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stop chan struct{}
	once sync.Once
}

// NewManager creates a session manager. resultCache may be nil.
func NewManager(cfg config.SessionConfig, engine *anonymize.Engine, resultCache *cache.ResultCache, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		engine:   engine,
		cache:    resultCache,
		logger:   log,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Create detects sensitive data in text and opens a new session around the
// result. Custom pattern specs that fail validation are rejected
// individually and reported in the snapshot; they never abort the call.
func (m *Manager) Create(ctx context.Context, text string, specs []anonymize.PatternSpec) (*Snapshot, error) {
	custom, rejected := m.compileSpecs(specs)
	result := m.detect(ctx, text, custom)

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	s := &Session{
		id:        id,
		result:    result,
		custom:    custom,
		createdAt: now,
		updatedAt: now,
	}

	// Limit check and insert share one critical section so concurrent
	// creates cannot all slip past the cap.
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrLimitReached
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("Session created",
		zap.String("session_id", id),
		zap.Int("findings", len(result.Findings)),
		zap.Int("custom_patterns", len(custom)),
		zap.Int("custom_rejected", len(rejected)),
	)

	return snapshot(s, rejected), nil
}

// Detect runs a stateless detection without opening a session.
func (m *Manager) Detect(ctx context.Context, text string, specs []anonymize.PatternSpec) (*anonymize.Result, []string) {
	custom, rejected := m.compileSpecs(specs)
	return m.detect(ctx, text, custom), rejected
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (*Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s, nil), nil
}

// Toggle flips one finding's reveal state and re-renders the display text.
// The finding set is fixed once detected; only the projection changes.
func (m *Manager) Toggle(id string, index int) (*Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSubmitted
	}

	next, err := anonymize.ToggleFinding(s.result, index)
	if err != nil {
		return nil, err
	}
	s.result = next
	s.updatedAt = time.Now()

	return snapshot(s, nil), nil
}

// UpdateText replaces the session's text and re-runs detection from
// scratch. Reveal state does not carry across an edit: the old spans are
// meaningless against the new text.
func (m *Manager) UpdateText(ctx context.Context, id, text string) (*Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSubmitted
	}

	s.result = m.detect(ctx, text, s.custom)
	s.updatedAt = time.Now()

	m.logger.Debug("Session text replaced",
		zap.String("session_id", id),
		zap.Int("findings", len(s.result.Findings)),
	)

	return snapshot(s, nil), nil
}

// Submit freezes the session and returns its final snapshot. The caller
// hands the result to the review store; toggles are refused afterwards.
func (m *Manager) Submit(id string) (*Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return nil, ErrSubmitted
	}
	s.submitted = true
	s.updatedAt = time.Now()

	return snapshot(s, nil), nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor launches the background loop that drops idle sessions.
func (m *Manager) StartJanitor() {
	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.evictIdle()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the janitor loop.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.updatedAt.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}

	if evicted > 0 {
		m.logger.Info("Idle sessions evicted",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(m.sessions)),
		)
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// detect runs the engine, consulting the result cache for texts scanned
// with an identical pattern registry.
func (m *Manager) detect(ctx context.Context, text string, custom []anonymize.Pattern) *anonymize.Result {
	fingerprint := m.engine.Fingerprint()
	for _, p := range custom {
		fingerprint += "|" + p.ID + ":" + p.Source + ">" + p.Replacement
	}

	if m.cache != nil {
		if cached, ok := m.cache.Get(ctx, fingerprint, text); ok {
			return cached
		}
	}

	result := m.engine.Detect(text, custom...)

	if m.cache != nil {
		m.cache.Store(ctx, fingerprint, text, result)
	}
	return result
}

func (m *Manager) compileSpecs(specs []anonymize.PatternSpec) ([]anonymize.Pattern, []string) {
	var (
		custom   []anonymize.Pattern
		rejected []string
	)
	for _, spec := range specs {
		p, err := anonymize.CompilePattern(spec)
		if err != nil {
			rejected = append(rejected, err.Error())
			m.logger.Warn("Custom pattern rejected", zap.String("pattern_id", spec.ID), zap.Error(err))
			continue
		}
		custom = append(custom, p)
	}
	return custom, rejected
}

func snapshot(s *Session, rejected []string) *Snapshot {
	return &Snapshot{
		ID:        s.id,
		Result:    s.result,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Submitted: s.submitted,
		Rejected:  rejected,
	}
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
