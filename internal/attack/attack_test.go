package attack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region timeout-tests

type slowAttack struct {
	delay time.Duration
}

func (a *slowAttack) Name() string {
	return "slow"
}

func (a *slowAttack) Perturb(ctx context.Context, inputs [][]float64, _ []int) ([][]float64, error) {
	select {
	case <-time.After(a.delay):
		return inputs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeout_Exceeded(t *testing.T) {
	adv := WithTimeout(&slowAttack{delay: time.Second}, 10*time.Millisecond)
	_, err := adv.Perturb(context.Background(), [][]float64{{1}}, []int{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttackTimeout)
}

func TestWithTimeout_WithinBudget(t *testing.T) {
	adv := WithTimeout(&slowAttack{delay: time.Millisecond}, time.Second)
	out, err := adv.Perturb(context.Background(), [][]float64{{1, 2}}, []int{0})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}}, out)
	assert.Equal(t, "slow", adv.Name())
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	inner := &slowAttack{delay: time.Millisecond}
	assert.Equal(t, Attack(inner), WithTimeout(inner, 0))
}

// #endregion timeout-tests

// #region advertorch-tests

func TestAdvertorch_Perturb(t *testing.T) {
	var got advertorchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attack/perturb", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(advertorchResponse{
			Perturbed: [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer server.Close()

	adv := NewAdvertorch(server.URL, "pgdinf", map[string]float64{"eps": 0.03, "nb_iter": 40}, false)
	out, err := adv.Perturb(context.Background(), [][]float64{{1, 1}, {2, 2}}, []int{3, 7})
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, out)
	assert.Equal(t, "pgdinf", got.Attack)
	assert.False(t, got.Targeted)
	assert.InDelta(t, 0.03, got.Params["eps"], 1e-12)
	assert.Equal(t, []int{3, 7}, got.Labels)
}

func TestAdvertorch_BridgeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(advertorchResponse{Error: "unknown adversary"})
	}))
	defer server.Close()

	adv := NewAdvertorch(server.URL, "fgsm", nil, false)
	_, err := adv.Perturb(context.Background(), [][]float64{{1}}, []int{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adversary")
}

func TestAdvertorch_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	adv := NewAdvertorch(server.URL, "fgsm", nil, false)
	_, err := adv.Perturb(context.Background(), [][]float64{{1}}, []int{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestAdvertorch_RowCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(advertorchResponse{Perturbed: [][]float64{{1}}})
	}))
	defer server.Close()

	adv := NewAdvertorch(server.URL, "fgsm", nil, false)
	_, err := adv.Perturb(context.Background(), [][]float64{{1}, {2}}, []int{0, 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perturbed rows")
}

// #endregion advertorch-tests

// #region art-tests

// The ART bridge speaks the library's generate(x, y) convention: "x"/"y"
// keys and float labels.
func TestART_Perturb(t *testing.T) {
	var raw map[string]json.RawMessage
	var got artRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attack/generate", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &raw))
		require.NoError(t, json.Unmarshal(body, &got))
		json.NewEncoder(w).Encode(artResponse{Adversarial: [][]float64{{9}}})
	}))
	defer server.Close()

	adv := NewART(server.URL, "boundary", map[string]float64{"max_iter": 50}, true)
	out, err := adv.Perturb(context.Background(), [][]float64{{1}}, []int{4})
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{9}}, out)
	assert.Contains(t, raw, "x")
	assert.Contains(t, raw, "y")
	assert.Equal(t, []float64{4}, got.Labels)
	assert.True(t, got.Targeted)
	assert.Equal(t, "boundary", got.Attack)
}

func TestART_BridgeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(artResponse{Error: "classifier not loaded"})
	}))
	defer server.Close()

	adv := NewART(server.URL, "deepfool", nil, false)
	_, err := adv.Perturb(context.Background(), [][]float64{{1}}, []int{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier not loaded")
}

// #endregion art-tests

// #region registry-tests

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "advertorch fgsm", spec: Spec{Family: FamilyAdvertorch, Name: "fgsm"}},
		{name: "advertorch cw", spec: Spec{Family: FamilyAdvertorch, Name: "cw"}},
		{name: "art boundary", spec: Spec{Family: FamilyART, Name: "boundary", Targeted: true}},
		{name: "art spatial", spec: Spec{Family: FamilyART, Name: "spatial"}},
		{name: "unknown family", spec: Spec{Family: "foolbox", Name: "fgsm"}, wantErr: true},
		{name: "unknown attack", spec: Spec{Family: FamilyAdvertorch, Name: "boundary"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv, err := Build(tt.spec, "http://localhost:1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec.Name, adv.Name())
		})
	}
}

// #endregion registry-tests
