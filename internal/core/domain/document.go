package domain

import "time"

type SessionStatus string

const (
	StatusQueued     SessionStatus = "queued"
	StatusExtracting SessionStatus = "extracting"
	StatusAnalyzing  SessionStatus = "analyzing"
	StatusValidating SessionStatus = "validating"
	StatusGenerating SessionStatus = "generating"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further worker transitions are expected.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisRequest is what a client submits to start analysing a stored document.
type AnalysisRequest struct {
	DocumentID   string   `json:"document_id"`
	Filename     string   `json:"filename"`
	StorageKey   string   `json:"s3_key"`
	ProposalID   string   `json:"proposal_id,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
	AnalysisType string   `json:"analysis_type,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	CallbackURL  string   `json:"callback_url,omitempty"`
	Provider     string   `json:"provider,omitempty"`
}

// Normalize fills defaults the original API applied to omitted fields.
func (r *AnalysisRequest) Normalize() {
	if len(r.Frameworks) == 0 {
		r.Frameworks = []string{"FAR", "DFARS"}
	}
	if r.AnalysisType == "" {
		r.AnalysisType = "compliance"
	}
	if r.Priority == "" {
		r.Priority = "normal"
	}
}

type Session struct {
	ID                  string          `json:"session_id"`
	DocumentID          string          `json:"document_id"`
	Filename            string          `json:"filename"`
	StorageKey          string          `json:"s3_key"`
	AnalysisType        string          `json:"analysis_type"`
	Priority            string          `json:"priority"`
	CallbackURL         string          `json:"callback_url,omitempty"`
	Status              SessionStatus   `json:"status"`
	Progress            float64         `json:"progress"`
	CurrentStep         string          `json:"current_step"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	Request             AnalysisRequest `json:"-"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ProgressUpdate is one session state transition written to the session store.
type ProgressUpdate struct {
	SessionID    string
	Status       SessionStatus
	Progress     float64
	Step         string
	ErrorMessage string
}

// UploadedDocument describes an object accepted by the upload endpoint.
type UploadedDocument struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"fileSize"`
	MimeType    string    `json:"mimeType"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	StorageKey  string    `json:"s3Key"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// AnalysisInput is what the pipeline hands to a provider after extraction.
type AnalysisInput struct {
	SessionID    string
	DocumentID   string
	Filename     string
	Text         string
	Metadata     map[string]any
	Frameworks   []string
	AnalysisType string
}
