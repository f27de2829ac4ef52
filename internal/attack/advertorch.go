package attack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// #region advertorch
// Advertorch adapts the advertorch bridge's call convention: one perturb
// endpoint taking integer labels, with the adversary constructed bridge-side
// from the params map. Labels mean the true class (untargeted) or the target
// class (targeted), matching adversary.perturb(x, y).
type Advertorch struct {
	baseURL    string
	httpClient *http.Client
	name       string
	params     map[string]float64
	targeted   bool
}

// NewAdvertorch creates an adapter for the named advertorch adversary.
// The params map is passed through opaquely (eps, nb_iter, clip_min, ...).
func NewAdvertorch(baseURL, name string, params map[string]float64, targeted bool) *Advertorch {
	return &Advertorch{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute, // iterative attacks can run long
		},
		name:     name,
		params:   params,
		targeted: targeted,
	}
}

// Name implements Attack.
func (a *Advertorch) Name() string {
	return a.name
}

// #endregion advertorch

// #region advertorch-wire

type advertorchRequest struct {
	Attack   string             `json:"attack"`
	Params   map[string]float64 `json:"params"`
	Targeted bool               `json:"targeted"`
	Inputs   [][]float64        `json:"inputs"`
	Labels   []int              `json:"labels"`
}

type advertorchResponse struct {
	Perturbed [][]float64 `json:"perturbed"`
	Error     string      `json:"error,omitempty"`
}

// #endregion advertorch-wire

// #region advertorch-perturb
// Perturb implements Attack via the bridge's /attack/perturb endpoint.
func (a *Advertorch) Perturb(ctx context.Context, inputs [][]float64, labels []int) ([][]float64, error) {
	payload, err := json.Marshal(advertorchRequest{
		Attack:   a.name,
		Params:   a.params,
		Targeted: a.targeted,
		Inputs:   inputs,
		Labels:   labels,
	})
	if err != nil {
		return nil, fmt.Errorf("advertorch %s: marshal: %w", a.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/attack/perturb", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("advertorch %s: build request: %w", a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advertorch %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advertorch %s: status %d: %s", a.name, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded advertorchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("advertorch %s: decode: %w", a.name, err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("advertorch %s: bridge: %s", a.name, decoded.Error)
	}
	if len(decoded.Perturbed) != len(inputs) {
		return nil, fmt.Errorf("advertorch %s: %d perturbed rows for %d inputs", a.name, len(decoded.Perturbed), len(inputs))
	}
	return decoded.Perturbed, nil
}

// #endregion advertorch-perturb
