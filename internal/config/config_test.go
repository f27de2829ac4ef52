package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangxin0716/robust-generative-classifier/internal/attack"
)

// #region run-config-tests

func TestDefaultRunValidates(t *testing.T) {
	require.NoError(t, DefaultRun().Validate())
}

func TestRunValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Run)
	}{
		{"unknown model kind", func(r *Run) { r.ModelKind = "vgg" }},
		{"zero layers", func(r *Run) { r.Layers = 0 }},
		{"empty dataset", func(r *Run) { r.Dataset = "" }},
		{"zero classes", func(r *Run) { r.NumClasses = 0 }},
		{"sdim without rep size", func(r *Run) { r.ModelKind = "sdim"; r.RepSize = 0 }},
		{"empty runner url", func(r *Run) { r.RunnerURL = "" }},
		{"zero batch size", func(r *Run) { r.BatchSize = 0 }},
		{"no percentiles", func(r *Run) { r.Percentiles = nil }},
		{"percentile at one", func(r *Run) { r.Percentiles = []float64{1.0} }},
		{"negative percentile", func(r *Run) { r.Percentiles = []float64{-0.01} }},
		{"zero attack timeout", func(r *Run) { r.AttackTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRun()
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

// #endregion run-config-tests

// #region suite-tests

func TestLoadSuite(t *testing.T) {
	raw := `
name: linf-sweep
attacks:
  - family: advertorch
    name: fgsm
    eps: [0.03, 0.1]
  - family: advertorch
    name: pgdinf
    eps: [0.03]
    params:
      nb_iter: 40
  - family: art
    name: boundary
    targeted: true
`
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	suite, specs, err := LoadSuite(path)
	require.NoError(t, err)
	assert.Equal(t, "linf-sweep", suite.Name)
	require.Len(t, specs, 4)

	assert.Equal(t, attack.FamilyAdvertorch, specs[0].Family)
	assert.Equal(t, "fgsm", specs[0].Name)
	assert.InDelta(t, 0.03, specs[0].Params["eps"], 1e-12)
	assert.InDelta(t, 0.1, specs[1].Params["eps"], 1e-12)

	assert.Equal(t, "pgdinf", specs[2].Name)
	assert.InDelta(t, 40, specs[2].Params["nb_iter"], 1e-12)
	assert.InDelta(t, 0.03, specs[2].Params["eps"], 1e-12)

	assert.Equal(t, attack.FamilyART, specs[3].Family)
	assert.True(t, specs[3].Targeted)
	assert.NotContains(t, specs[3].Params, "eps")
}

func TestLoadSuite_UnknownKeyRejected(t *testing.T) {
	raw := `
attacks:
  - family: advertorch
    name: fgsm
    epsilon: [0.1]
`
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	_, _, err := LoadSuite(path)
	require.Error(t, err)
}

func TestSuiteExpand_Errors(t *testing.T) {
	_, err := Suite{}.Expand()
	assert.Error(t, err)

	_, err = Suite{Attacks: []SuiteEntry{{Name: "fgsm"}}}.Expand()
	assert.Error(t, err)
}

// Expansion must not alias the entry's params map across epsilons.
func TestSuiteExpand_ParamsNotShared(t *testing.T) {
	s := Suite{Attacks: []SuiteEntry{{
		Family: "advertorch",
		Name:   "fgsm",
		Eps:    []float64{0.1, 0.2},
		Params: map[string]float64{"clip_max": 1},
	}}}

	specs, err := s.Expand()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	specs[0].Params["clip_max"] = 99
	assert.InDelta(t, 1, specs[1].Params["clip_max"], 1e-12)
}

// #endregion suite-tests
