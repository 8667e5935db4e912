package store

import (
	"fmt"
	"time"
)

// Repository handles assignment event persistence
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveEvent appends one assignment event
func (r *Repository) SaveEvent(event *Event) error {
	stmt, err := r.db.GetPreparedStatement("insert_event")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		event.ID, event.ExperimentID, event.Variant, event.Source,
		event.IPAddress, event.UserAgent, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment event: %w", err)
	}

	return nil
}

// Distribution returns the recorded variant counts for one experiment,
// broken down by assignment source
func (r *Repository) Distribution(experimentID string) ([]VariantCount, error) {
	stmt, err := r.db.GetPreparedStatement("count_by_variant")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	defer rows.Close()

	var counts []VariantCount
	for rows.Next() {
		var vc VariantCount
		if err := rows.Scan(&vc.Variant, &vc.Source, &vc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		counts = append(counts, vc)
	}

	return counts, rows.Err()
}

// TotalEvents returns the total number of stored events
func (r *Repository) TotalEvents() (int64, error) {
	stmt, err := r.db.GetPreparedStatement("count_total")
	if err != nil {
		return 0, err
	}

	var total int64
	if err := stmt.QueryRow().Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return total, nil
}

// RecentEvents returns the newest events for one experiment
func (r *Repository) RecentEvents(experimentID string, limit int) ([]Event, error) {
	stmt, err := r.db.GetPreparedStatement("recent_events")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(experimentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.Variant, &e.Source,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// DeleteOlderThan removes events older than the retention window and
// returns how many were deleted
func (r *Repository) DeleteOlderThan(retentionDays int) (int64, error) {
	stmt, err := r.db.GetPreparedStatement("delete_older_than")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := stmt.Exec(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	return deleted, nil
}
