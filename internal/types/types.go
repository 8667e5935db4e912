package types

import "time"

// EvaluateRequest represents the request structure for the evaluate endpoint
type EvaluateRequest struct {
	ExperimentID string `json:"experiment_id" binding:"required"`
	URL          string `json:"url" binding:"required"`
	Automated    bool   `json:"automated"`
}

// EvaluateResponse is returned for every evaluation, skipped or assigned
type EvaluateResponse struct {
	ExperimentID string `json:"experiment_id"`
	Skipped      bool   `json:"skipped"`
	Variant      string `json:"variant,omitempty"`
	Source       string `json:"source,omitempty"`
}

// EventRequest represents a raw assignment event pushed by an external caller
type EventRequest struct {
	ExperimentID string `json:"experiment_id" binding:"required"`
	Variant      string `json:"variant" binding:"required"`
	Source       string `json:"source" binding:"required"`
}

// EventResponse acknowledges a stored event
type EventResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ExperimentResponse describes a configured experiment
type ExperimentResponse struct {
	ID       string            `json:"id"`
	Variants []VariantResponse `json:"variants"`
}

// VariantResponse describes one variant of an experiment
type VariantResponse struct {
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Weight   int    `json:"weight"`
}

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
