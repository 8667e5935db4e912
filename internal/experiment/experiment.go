package experiment

import (
	"fmt"
	"strings"

	"github.com/variantlab/trafficsplit/internal/errors"
)

// Source tells how an assignment was produced
type Source string

const (
	// SourceForced means the page URL already carried a variant selector
	SourceForced Source = "forced"
	// SourceRandom means the variant came from a weighted random draw
	SourceRandom Source = "random"
)

// AutomationMarker is the reserved query token that flags synthetic
// traffic. Automated page views are never bucketed or reported.
const AutomationMarker = "automation=true"

// Variant is one arm of an experiment. Selector is the query-string
// token that pins this variant; Name is the label reported to
// analytics; Weight is the variant's relative share of random traffic.
type Variant struct {
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Weight   int    `json:"weight"`
}

// Experiment is a named set of weighted variants. Variant order is
// significant: forced-selector matching and the weighted draw both walk
// variants in the order they were configured.
type Experiment struct {
	ID       string    `json:"id"`
	Variants []Variant `json:"variants"`
}

// NewExperiment builds a validated experiment. Weights need not sum to
// 100; they are relative shares.
func NewExperiment(id string, variants []Variant) (Experiment, error) {
	exp := Experiment{ID: id, Variants: variants}
	if err := exp.Validate(); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// Validate checks the construction invariants: non-empty id, at least
// one variant, positive weights, non-empty unique selectors. A failure
// here is a programming or configuration mistake, not a runtime
// condition.
func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.NewConfigurationError("experiment id must not be empty", nil)
	}
	if len(e.Variants) == 0 {
		return errors.NewConfigurationError(
			fmt.Sprintf("experiment %q has no variants", e.ID), nil)
	}

	seen := make(map[string]struct{}, len(e.Variants))
	for i, v := range e.Variants {
		if v.Selector == "" {
			return errors.NewConfigurationError(
				fmt.Sprintf("experiment %q: variant %d has an empty selector", e.ID, i), nil)
		}
		if v.Name == "" {
			return errors.NewConfigurationError(
				fmt.Sprintf("experiment %q: variant %q has an empty name", e.ID, v.Selector), nil)
		}
		if v.Weight <= 0 {
			return errors.NewConfigurationError(
				fmt.Sprintf("experiment %q: variant %q has non-positive weight %d", e.ID, v.Selector, v.Weight), nil)
		}
		if _, dup := seen[v.Selector]; dup {
			return errors.NewConfigurationError(
				fmt.Sprintf("experiment %q: duplicate selector %q", e.ID, v.Selector), nil)
		}
		seen[v.Selector] = struct{}{}
	}
	return nil
}

// TotalWeight sums the variant weights
func (e Experiment) TotalWeight() int {
	total := 0
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// Assignment is the result of evaluating an experiment for one page view
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	VariantName  string `json:"variant_name"`
	Source       Source `json:"source"`
}

// Outcome is what an evaluation yields: either an assignment, or the
// Skipped sentinel for automated traffic
type Outcome struct {
	Skipped    bool       `json:"skipped"`
	Assignment Assignment `json:"assignment,omitempty"`
}

// IsAutomated reports whether a raw query string carries the reserved
// automation marker. Substring matching, same as selector resolution.
func IsAutomated(rawQuery string) bool {
	return strings.Contains(rawQuery, AutomationMarker)
}
