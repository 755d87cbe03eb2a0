package domain

type EventType string

const (
	EventAnalysisProgress EventType = "analysis_progress"
	EventAnalysisComplete EventType = "analysis_complete"
	EventError            EventType = "error"
)

type ProgressData struct {
	Status      SessionStatus `json:"status"`
	Progress    float64       `json:"progress"`
	CurrentStep string        `json:"currentStep"`
	ResultsID   string        `json:"resultsId,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ProgressEvent is pushed to subscribers. Delivery is at-most-once.
type ProgressEvent struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Data      ProgressData `json:"data"`
}

func NewProgressEvent(sessionID string, status SessionStatus, progress float64, step string) ProgressEvent {
	return ProgressEvent{
		Type:      EventAnalysisProgress,
		SessionID: sessionID,
		Data:      ProgressData{Status: status, Progress: progress, CurrentStep: step},
	}
}

func NewCompleteEvent(sessionID, resultsID string) ProgressEvent {
	return ProgressEvent{
		Type:      EventAnalysisComplete,
		SessionID: sessionID,
		Data: ProgressData{
			Status:      StatusCompleted,
			Progress:    100,
			CurrentStep: "Analysis complete",
			ResultsID:   resultsID,
		},
	}
}

func NewErrorEvent(sessionID, message string) ProgressEvent {
	return ProgressEvent{
		Type:      EventError,
		SessionID: sessionID,
		Data: ProgressData{
			Status:      StatusFailed,
			CurrentStep: "Analysis failed",
			Error:       message,
		},
	}
}

// Terminal reports whether the event closes the session's progress stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventAnalysisComplete || e.Type == EventError
}
