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

// #region art
// ART adapts the IBM ART bridge's call convention: attack.generate(x, y)
// with labels sent as float32 values, mirroring the library's numpy
// interface. The bridge wraps the runner model in a PyTorchClassifier and
// constructs the attack from the params map.
type ART struct {
	baseURL    string
	httpClient *http.Client
	name       string
	params     map[string]float64
	targeted   bool
}

// NewART creates an adapter for the named ART attack.
func NewART(baseURL, name string, params map[string]float64, targeted bool) *ART {
	return &ART{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute, // boundary attack in particular is slow
		},
		name:     name,
		params:   params,
		targeted: targeted,
	}
}

// Name implements Attack.
func (a *ART) Name() string {
	return a.name
}

// #endregion art

// #region art-wire

type artRequest struct {
	Attack   string             `json:"attack"`
	Params   map[string]float64 `json:"params"`
	Targeted bool               `json:"targeted"`
	Inputs   [][]float64        `json:"x"`
	Labels   []float64          `json:"y"` // float labels, ART convention
}

type artResponse struct {
	Adversarial [][]float64 `json:"adversarial"`
	Error       string      `json:"error,omitempty"`
}

// #endregion art-wire

// #region art-perturb
// Perturb implements Attack via the bridge's /attack/generate endpoint.
func (a *ART) Perturb(ctx context.Context, inputs [][]float64, labels []int) ([][]float64, error) {
	floatLabels := make([]float64, len(labels))
	for i, y := range labels {
		floatLabels[i] = float64(y)
	}

	payload, err := json.Marshal(artRequest{
		Attack:   a.name,
		Params:   a.params,
		Targeted: a.targeted,
		Inputs:   inputs,
		Labels:   floatLabels,
	})
	if err != nil {
		return nil, fmt.Errorf("art %s: marshal: %w", a.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/attack/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("art %s: build request: %w", a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("art %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("art %s: status %d: %s", a.name, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded artResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("art %s: decode: %w", a.name, err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("art %s: bridge: %s", a.name, decoded.Error)
	}
	if len(decoded.Adversarial) != len(inputs) {
		return nil, fmt.Errorf("art %s: %d adversarial rows for %d inputs", a.name, len(decoded.Adversarial), len(inputs))
	}
	return decoded.Adversarial, nil
}

// #endregion art-perturb
