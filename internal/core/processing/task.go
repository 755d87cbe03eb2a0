package processing

import (
	"strings"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

const DefaultMaxRetries = 3

// ParsePriority maps a request label onto a tier. Unknown labels are NORMAL.
func ParsePriority(label string) Priority {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// Task binds a session to its analysis request while it moves through the pool.
type Task struct {
	SessionID  string
	Request    domain.AnalysisRequest
	Priority   Priority
	CreatedAt  time.Time
	StartedAt  *time.Time
	WorkerID   string
	RetryCount int
	MaxRetries int

	enqueuedAt time.Time
	seq        uint64
}

func NewTask(sessionID string, req domain.AnalysisRequest, maxRetries int) *Task {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Task{
		SessionID:  sessionID,
		Request:    req,
		Priority:   ParsePriority(req.Priority),
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}
}

// Exhausted reports whether another failure must be terminal.
func (t *Task) Exhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// less orders higher priority first, then earlier creation, then enqueue order.
func less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}
