package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/variantlab/trafficsplit/internal/experiment"
)

// experimentsFile is the on-disk shape of the experiment definitions
type experimentsFile struct {
	Experiments []experimentDef `json:"experiments"`
}

type experimentDef struct {
	ID       string       `json:"id"`
	Variants []variantDef `json:"variants"`
}

type variantDef struct {
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Weight   int    `json:"weight"`
}

// LoadExperiments reads experiment definitions from a JSON file and
// validates each one. Variant order in the file is the draw order.
func LoadExperiments(path string) ([]experiment.Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiments file: %w", err)
	}

	var file experimentsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse experiments file %s: %w", path, err)
	}

	experiments := make([]experiment.Experiment, 0, len(file.Experiments))
	for _, def := range file.Experiments {
		variants := make([]experiment.Variant, 0, len(def.Variants))
		for _, v := range def.Variants {
			variants = append(variants, experiment.Variant{
				Selector: v.Selector,
				Name:     v.Name,
				Weight:   v.Weight,
			})
		}

		exp, err := experiment.NewExperiment(def.ID, variants)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}

	return experiments, nil
}

// LoadRegistry reads the experiments file and builds the registry
func LoadRegistry(path string) (*experiment.Registry, error) {
	experiments, err := LoadExperiments(path)
	if err != nil {
		return nil, err
	}
	return experiment.NewRegistry(experiments)
}
