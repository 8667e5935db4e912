package store

import (
	"time"

	"github.com/google/uuid"
)

// Event is one recorded assignment: a page view that was bucketed into
// a variant
type Event struct {
	ID           string    `json:"id" db:"id"`
	ExperimentID string    `json:"experiment_id" db:"experiment_id"`
	Variant      string    `json:"variant" db:"variant"`
	Source       string    `json:"source" db:"source"`
	IPAddress    string    `json:"-" db:"ip_address"`
	UserAgent    string    `json:"-" db:"user_agent"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NewEvent creates an event with a generated ID and current timestamp
func NewEvent(experimentID, variant, source, ipAddress, userAgent string) *Event {
	return &Event{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Variant:      variant,
		Source:       source,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		CreatedAt:    time.Now().UTC(),
	}
}

// VariantCount is one row of an experiment's recorded distribution
type VariantCount struct {
	Variant string `json:"variant"`
	Source  string `json:"source"`
	Count   int64  `json:"count"`
}
