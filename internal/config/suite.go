package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/wangxin0716/robust-generative-classifier/internal/attack"
)

// #region suite-types
// Suite is a YAML-declared list of attacks to sweep in one session.
type Suite struct {
	Name    string       `yaml:"name"`
	Attacks []SuiteEntry `yaml:"attacks"`
}

// SuiteEntry declares one attack. A non-empty Eps list expands the entry
// into one attack per epsilon, each with "eps" merged into its params.
type SuiteEntry struct {
	Family   string             `yaml:"family"`
	Name     string             `yaml:"name"`
	Targeted bool               `yaml:"targeted"`
	Eps      []float64          `yaml:"eps"`
	Params   map[string]float64 `yaml:"params"`
}

// #endregion suite-types

// #region suite-load
// LoadSuite reads and expands a YAML attack suite.
func LoadSuite(path string) (Suite, []attack.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, nil, fmt.Errorf("read suite: %w", err)
	}

	var s Suite
	if err := yaml.UnmarshalStrict(raw, &s); err != nil {
		return Suite{}, nil, fmt.Errorf("parse suite: %w", err)
	}

	specs, err := s.Expand()
	if err != nil {
		return Suite{}, nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s, specs, nil
}

// Expand turns the suite into concrete attack specs, one per entry per
// epsilon. Entry order and epsilon order are preserved.
func (s Suite) Expand() ([]attack.Spec, error) {
	if len(s.Attacks) == 0 {
		return nil, fmt.Errorf("no attacks declared")
	}

	var specs []attack.Spec
	for i, e := range s.Attacks {
		if e.Family == "" || e.Name == "" {
			return nil, fmt.Errorf("attack %d: family and name are required", i)
		}
		if len(e.Eps) == 0 {
			specs = append(specs, attack.Spec{
				Family:   attack.Family(e.Family),
				Name:     e.Name,
				Params:   copyParams(e.Params),
				Targeted: e.Targeted,
			})
			continue
		}
		for _, eps := range e.Eps {
			params := copyParams(e.Params)
			params["eps"] = eps
			specs = append(specs, attack.Spec{
				Family:   attack.Family(e.Family),
				Name:     e.Name,
				Params:   params,
				Targeted: e.Targeted,
			})
		}
	}
	return specs, nil
}

func copyParams(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// #endregion suite-load
