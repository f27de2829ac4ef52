package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region fixture-tests

func TestLoadFixture_AttackSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "attack_session.json"))
	require.NoError(t, err)

	assert.Equal(t, 3, f.NumClasses)
	assert.Equal(t, 2, f.RowWidth)
	require.Len(t, f.Sets, 2)
	assert.Equal(t, "1st percentile", f.Sets[0].Name)
	require.Len(t, f.Batches, 2)
	require.NotNil(t, f.Expected)
	assert.Equal(t, 4, f.Expected.NCorrect)
}

func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	require.Error(t, err)
}

func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json}"), 0644))

	_, err := LoadFixture(path)
	require.Error(t, err)
}

func TestFixtureValidate(t *testing.T) {
	valid := func() Fixture {
		return Fixture{
			NumClasses: 2,
			RowWidth:   2,
			Sets: []FixtureThresholdSet{
				{Name: "1st percentile", Thresholds: []float64{0.1, 0.1}},
			},
			Batches: []FixtureBatch{
				{
					Inputs:      [][]float64{{0, 0}},
					Labels:      []int{0},
					CleanScores: [][]float64{{0.9, 0.1}},
					AdvInputs:   [][]float64{{0.1, 0}},
					AdvScores:   [][]float64{{0.4, 0.6}},
				},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Fixture)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Fixture) {}, wantErr: false},
		{name: "no classes", mutate: func(f *Fixture) { f.NumClasses = 0 }, wantErr: true},
		{name: "no sets", mutate: func(f *Fixture) { f.Sets = nil }, wantErr: true},
		{name: "threshold length mismatch", mutate: func(f *Fixture) {
			f.Sets[0].Thresholds = []float64{0.1}
		}, wantErr: true},
		{name: "labels length mismatch", mutate: func(f *Fixture) {
			f.Batches[0].Labels = []int{0, 1}
		}, wantErr: true},
		{name: "adv length mismatch", mutate: func(f *Fixture) {
			f.Batches[0].AdvScores = nil
		}, wantErr: true},
		{name: "clean score width mismatch", mutate: func(f *Fixture) {
			f.Batches[0].CleanScores[0] = []float64{0.9}
		}, wantErr: true},
		{name: "expected set count mismatch", mutate: func(f *Fixture) {
			f.Expected = &FixtureExpected{NRejected: []int{0, 0}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(&f)
			err := f.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// #endregion fixture-tests
