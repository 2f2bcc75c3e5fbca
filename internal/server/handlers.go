package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/promptveil/promptveil/internal/anonymize"
	"github.com/promptveil/promptveil/internal/review"
	"github.com/promptveil/promptveil/internal/session"
	"github.com/promptveil/promptveil/internal/websocket"
	"go.uber.org/zap"
)

type detectRequest struct {
	Text           string                  `json:"text"`
	CustomPatterns []anonymize.PatternSpec `json:"custom_patterns,omitempty"`
}

type detectResponse struct {
	Result           *anonymize.Result `json:"result"`
	RejectedPatterns []string          `json:"rejected_patterns,omitempty"`
}

type sessionResponse struct {
	SessionID        string            `json:"session_id"`
	Result           *anonymize.Result `json:"result"`
	Submitted        bool              `json:"submitted"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	RejectedPatterns []string          `json:"rejected_patterns,omitempty"`
}

type updateTextRequest struct {
	Text string `json:"text"`
}

type toggleRequest struct {
	Index int `json:"index"`
}

type updateStatusRequest struct {
	Status review.Status `json:"status"`
}

type submitResponse struct {
	Session    *sessionResponse   `json:"session"`
	Submission *review.Submission `json:"submission,omitempty"`
}

type patternInfo struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":               "promptveil",
		"version":            "0.1.0",
		"anonymizer_enabled": s.config.Anonymizer.Enabled,
		"patterns_count":     len(s.engine.Patterns()),
		"active_sessions":    s.sessions.Count(),
		"cache_enabled":      s.resultCache != nil,
		"review_enabled":     s.reviews != nil,
		"uptime":             time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleDetect runs a stateless scan: no session is created, nothing is
// stored server-side beyond the optional result cache.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	result, rejected := s.sessions.Detect(r.Context(), req.Text, req.CustomPatterns)
	s.broadcastDetection(r.Context(), "", result, time.Since(start))

	s.writeJSON(w, http.StatusOK, detectResponse{
		Result:           result,
		RejectedPatterns: rejected,
	})
}

// handleListPatterns lists the engine's active detection rules.
func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := s.engine.Patterns()
	infos := make([]patternInfo, 0, len(patterns))
	for _, p := range patterns {
		infos = append(infos, patternInfo{
			ID:          p.ID,
			Category:    string(p.Category),
			Pattern:     p.Source,
			Replacement: p.Replacement,
			Severity:    string(p.Severity),
			Description: p.Description,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": infos})
}

// handleCreateSession scans the text and opens a composition session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	snap, err := s.sessions.Create(r.Context(), req.Text, req.CustomPatterns)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.broadcastDetection(r.Context(), snap.ID, snap.Result, time.Since(start))

	s.writeJSON(w, http.StatusCreated, toSessionResponse(snap))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionResponse(snap))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateText replaces a session's text and re-runs detection.
func (s *Server) handleUpdateText(w http.ResponseWriter, r *http.Request) {
	var req updateTextRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	snap, err := s.sessions.UpdateText(r.Context(), mux.Vars(r)["id"], req.Text)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.broadcastDetection(r.Context(), snap.ID, snap.Result, time.Since(start))

	s.writeJSON(w, http.StatusOK, toSessionResponse(snap))
}

// handleToggle flips one finding between hidden and revealed.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}

	snap, err := s.sessions.Toggle(mux.Vars(r)["id"], req.Index)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionResponse(snap))
}

// handleSubmit freezes the session and, when the review store is enabled,
// records a submission for reviewers.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Submit(mux.Vars(r)["id"])
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	resp := submitResponse{Session: toSessionResponse(snap)}

	if s.reviews != nil {
		sub := &review.Submission{
			SessionID:   snap.ID,
			Original:    snap.Result.Original,
			DisplayText: snap.Result.DisplayText,
			Findings:    review.FindingList(snap.Result.Findings),
			Categories:  review.CategoryList(snap.Result.Categories),
			Confidence:  snap.Result.Confidence,
		}
		if err := s.reviews.Insert(r.Context(), sub); err != nil {
			s.logger.Error("Failed to record submission",
				zap.String("session_id", snap.ID),
				zap.Error(err),
			)
			s.writeError(w, http.StatusInternalServerError, "failed to record submission")
			return
		}
		resp.Submission = sub

		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeSubmission,
			Timestamp: time.Now(),
			RequestID: getRequestID(r.Context()),
			Data: websocket.SubmissionEvent{
				SubmissionID:  sub.ID,
				SessionID:     snap.ID,
				TotalFindings: len(snap.Result.Findings),
				Confidence:    snap.Result.Confidence,
				Status:        string(sub.Status),
			},
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleListSubmissions lists review submissions, filterable by status.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "review store disabled")
		return
	}

	opts := review.ListOptions{
		Status: review.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	subs, err := s.reviews.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if subs == nil {
		subs = []review.Submission{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "review store disabled")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid submission id")
		return
	}

	sub, err := s.reviews.Get(r.Context(), id)
	if errors.Is(err, review.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load submission")
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

// handleUpdateStatus records a reviewer decision on a submission.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "review store disabled")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid submission id")
		return
	}

	var req updateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", req.Status))
		return
	}

	sub, err := s.reviews.UpdateStatus(r.Context(), id, req.Status)
	if errors.Is(err, review.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update submission")
		return
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeReviewUpdate,
		Timestamp: time.Now(),
		RequestID: getRequestID(r.Context()),
		Data: websocket.ReviewUpdateEvent{
			SubmissionID: sub.ID,
			Status:       string(sub.Status),
		},
	})

	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.resultCache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}

	stats, err := s.resultCache.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.resultCache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}

	if err := s.resultCache.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// broadcastDetection pushes a detection summary to dashboard clients and
// bumps the detection counter. Payloads never include text.
func (s *Server) broadcastDetection(ctx context.Context, sessionID string, result *anonymize.Result, elapsed time.Duration) {
	if len(result.Findings) == 0 {
		return
	}
	atomic.AddInt64(&s.totalDetections, 1)

	patternIDs := make([]string, 0, len(result.Findings))
	seen := make(map[string]bool, len(result.Findings))
	for _, f := range result.Findings {
		if !seen[f.PatternID] {
			seen[f.PatternID] = true
			patternIDs = append(patternIDs, f.PatternID)
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDetection,
		Timestamp: time.Now(),
		RequestID: getRequestID(ctx),
		Data: websocket.DetectionEvent{
			SessionID:     sessionID,
			TotalFindings: len(result.Findings),
			Categories:    result.Categories,
			Confidence:    result.Confidence,
			PatternIDs:    patternIDs,
			ProcessingMS:  float64(elapsed.Nanoseconds()) / 1e6,
		},
	})
}

// decode reads a JSON request body, bounded by the configured text size
// limit. It writes the error response itself and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxTextBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", s.config.Server.MaxTextBytes))
			return false
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSubmitted):
		s.writeError(w, http.StatusConflict, "session already submitted")
	case errors.Is(err, session.ErrLimitReached):
		s.writeError(w, http.StatusServiceUnavailable, "session limit reached")
	case errors.Is(err, anonymize.ErrIndexOutOfRange):
		s.writeError(w, http.StatusBadRequest, "finding index out of range")
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func toSessionResponse(snap *session.Snapshot) *sessionResponse {
	return &sessionResponse{
		SessionID:        snap.ID,
		Result:           snap.Result,
		Submitted:        snap.Submitted,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
		RejectedPatterns: snap.Rejected,
	}
}
