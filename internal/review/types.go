package review

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptveil/promptveil/internal/anonymize"
)

// Status is the review lifecycle state assigned to a submission. The
// anonymization engine never sees these; they are owned by the review
// workflow.
type Status string

const (
	StatusPending  Status = "pending_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known review status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// FindingList stores a finding sequence as JSONB.
type FindingList []anonymize.Finding

// reviewFinding is the client-facing shape of a finding: span and rule
// metadata only. The matched text stays in the database.
type reviewFinding struct {
	Start        int                `json:"start"`
	End          int                `json:"end"`
	DisplayStart int                `json:"displayStart"`
	DisplayEnd   int                `json:"displayEnd"`
	PatternID    string             `json:"patternId"`
	Category     anonymize.Category `json:"category"`
	Severity     anonymize.Severity `json:"severity"`
	Replacement  string             `json:"replacement"`
	Revealed     bool               `json:"revealed"`
}

// MarshalJSON serializes findings without their original matched text, so
// API responses carrying a Submission never hand detected substrings to
// reviewer clients.
func (f FindingList) MarshalJSON() ([]byte, error) {
	out := make([]reviewFinding, len(f))
	for i, fd := range f {
		out[i] = reviewFinding{
			Start:        fd.Start,
			End:          fd.End,
			DisplayStart: fd.DisplayStart,
			DisplayEnd:   fd.DisplayEnd,
			PatternID:    fd.PatternID,
			Category:     fd.Category,
			Severity:     fd.Severity,
			Replacement:  fd.Replacement,
			Revealed:     fd.Revealed,
		}
	}
	return json.Marshal(out)
}

// Value implements driver.Valuer. Unlike MarshalJSON, the database row keeps
// the complete findings; only client serialization is stripped.
func (f FindingList) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]anonymize.Finding(f))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal findings: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (f *FindingList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FindingList", src)
	}
}

// CategoryList stores detected categories as JSONB.
type CategoryList []anonymize.Category

// Value implements driver.Valuer.
func (c CategoryList) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *CategoryList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into CategoryList", src)
	}
}

// Submission is the immutable record handed over when a user submits a
// composition: the final reveal choices frozen into a display text, plus
// the finding metadata reviewers need.
type Submission struct {
	ID          int64        `db:"id" json:"id"`
	SessionID   string       `db:"session_id" json:"session_id"`
	Original    string       `db:"original_text" json:"-"` // never serialized to clients
	DisplayText string       `db:"display_text" json:"display_text"`
	Findings    FindingList  `db:"findings" json:"findings"`
	Categories  CategoryList `db:"categories" json:"categories"`
	Confidence  int          `db:"confidence" json:"confidence"`
	Status      Status       `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ListOptions filters and pages List queries.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}
