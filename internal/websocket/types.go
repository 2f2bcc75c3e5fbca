package websocket

import (
	"time"

	"github.com/promptveil/promptveil/internal/anonymize"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection is emitted when a scan finds sensitive data.
	EventTypeDetection EventType = "detection"
	// EventTypeSubmission is emitted when a session is submitted for review.
	EventTypeSubmission EventType = "submission"
	// EventTypeReviewUpdate is emitted when a reviewer decides a submission.
	EventTypeReviewUpdate EventType = "review_update"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent summarizes a scan result. It deliberately carries no text,
// original or redacted; dashboards only see aggregate shape.
type DetectionEvent struct {
	SessionID     string              `json:"session_id,omitempty"`
	TotalFindings int                 `json:"total_findings"`
	Categories    []anonymize.Category `json:"categories"`
	Confidence    int                 `json:"confidence"`
	PatternIDs    []string            `json:"pattern_ids"`
	ProcessingMS  float64             `json:"processing_ms"`
}

// SubmissionEvent announces a session frozen for review.
type SubmissionEvent struct {
	SubmissionID  int64  `json:"submission_id"`
	SessionID     string `json:"session_id"`
	TotalFindings int    `json:"total_findings"`
	Confidence    int    `json:"confidence"`
	Status        string `json:"status"`
}

// ReviewUpdateEvent announces a reviewer decision.
type ReviewUpdateEvent struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveSessions   int    `json:"active_sessions"`
	ActivePatterns   int    `json:"active_patterns"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}
