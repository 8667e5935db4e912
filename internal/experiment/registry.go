package experiment

import (
	"fmt"

	"github.com/variantlab/trafficsplit/internal/errors"
)

// Registry is an immutable set of configured experiments keyed by ID.
// It is built once at boot (or rebuilt wholesale on an admin reload and
// swapped atomically by the caller); there is no mutation surface.
type Registry struct {
	byID  map[string]Experiment
	order []string
}

// NewRegistry validates every experiment and indexes it by ID
func NewRegistry(experiments []Experiment) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Experiment, len(experiments)),
		order: make([]string, 0, len(experiments)),
	}

	for _, exp := range experiments {
		if err := exp.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[exp.ID]; dup {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("duplicate experiment id %q", exp.ID), nil)
		}
		r.byID[exp.ID] = exp
		r.order = append(r.order, exp.ID)
	}

	return r, nil
}

// Get returns the experiment with the given ID
func (r *Registry) Get(id string) (Experiment, error) {
	exp, ok := r.byID[id]
	if !ok {
		return Experiment{}, errors.NewNotFoundError(fmt.Sprintf("experiment %q is not configured", id))
	}
	return exp, nil
}

// List returns the experiments in configured order
func (r *Registry) List() []Experiment {
	out := make([]Experiment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of configured experiments
func (r *Registry) Len() int {
	return len(r.order)
}
