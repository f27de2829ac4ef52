package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// #region types
// LoadResult holds the response from a model load request.
type LoadResult struct {
	NumClasses int
	Checkpoint string
}

// BatchResult holds one dataset batch fetched from the runner.
type BatchResult struct {
	Inputs   [][]float64
	Labels   []int
	RowWidth int
	Done     bool
}

// #endregion types

// #region client-struct
// Client wraps the HTTP connection to the Python model-runner service.
// The runner hosts the pretrained classifier and the dataset loaders;
// this side only moves batches and score matrices across the wire.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// #endregion client-struct

// #region constructor
// NewClient creates a client for the model-runner service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NewClientWithHTTP creates a Client with an injected *http.Client.
// Used for testing against httptest servers with custom transports.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: hc}
}

// #endregion constructor

// #region wire-types

type loadRequest struct {
	ModelKind  string `json:"model_kind"`
	Checkpoint string `json:"checkpoint"`
	NumClasses int    `json:"num_classes"`
}

type loadResponse struct {
	NumClasses int    `json:"num_classes"`
	Checkpoint string `json:"checkpoint"`
	Error      string `json:"error,omitempty"`
}

type forwardRequest struct {
	Inputs [][]float64 `json:"inputs"`
}

type forwardResponse struct {
	Scores [][]float64 `json:"scores"`
	Error  string      `json:"error,omitempty"`
}

type batchRequest struct {
	Dataset   string `json:"dataset"`
	Train     bool   `json:"train"`
	LabelID   *int   `json:"label_id,omitempty"`
	Augment   bool   `json:"augment"`
	BatchSize int    `json:"batch_size"`
	Offset    int    `json:"offset"`
}

type batchResponse struct {
	Inputs   [][]float64 `json:"inputs"`
	Labels   []int       `json:"labels"`
	RowWidth int         `json:"row_width"`
	Done     bool        `json:"done"`
	Error    string      `json:"error,omitempty"`
}

// #endregion wire-types

// #region load
// LoadModel asks the runner to load a checkpoint into memory.
// kind is "resnet" or "sdim"; checkpoint is the runner-side file name.
func (c *Client) LoadModel(ctx context.Context, kind, checkpoint string, numClasses int) (LoadResult, error) {
	var resp loadResponse
	err := c.postJSON(ctx, "/model/load", loadRequest{
		ModelKind:  kind,
		Checkpoint: checkpoint,
		NumClasses: numClasses,
	}, &resp)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load model: %w", err)
	}
	if resp.Error != "" {
		return LoadResult{}, fmt.Errorf("load model: runner: %s", resp.Error)
	}
	return LoadResult{NumClasses: resp.NumClasses, Checkpoint: resp.Checkpoint}, nil
}

// #endregion load

// #region forward
// Forward runs pure inference on a batch and returns the N×C score matrix.
// No gradient tracking happens runner-side on this path.
func (c *Client) Forward(ctx context.Context, inputs [][]float64) ([][]float64, error) {
	var resp forwardResponse
	err := c.postJSON(ctx, "/model/forward", forwardRequest{Inputs: inputs}, &resp)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("forward: runner: %s", resp.Error)
	}
	if len(resp.Scores) != len(inputs) {
		return nil, fmt.Errorf("forward: runner returned %d score rows for %d inputs", len(resp.Scores), len(inputs))
	}
	return resp.Scores, nil
}

// #endregion forward

// #region fetch-batch
// FetchBatch retrieves one dataset batch starting at offset.
// labelID < 0 selects the full split; otherwise only samples of that class.
// Done is set on the response once offset runs past the split.
func (c *Client) FetchBatch(ctx context.Context, dataset string, train bool, labelID int, augment bool, batchSize, offset int) (BatchResult, error) {
	req := batchRequest{
		Dataset:   dataset,
		Train:     train,
		Augment:   augment,
		BatchSize: batchSize,
		Offset:    offset,
	}
	if labelID >= 0 {
		req.LabelID = &labelID
	}

	var resp batchResponse
	if err := c.postJSON(ctx, "/dataset/batch", req, &resp); err != nil {
		return BatchResult{}, fmt.Errorf("fetch batch: %w", err)
	}
	if resp.Error != "" {
		return BatchResult{}, fmt.Errorf("fetch batch: runner: %s", resp.Error)
	}
	if len(resp.Inputs) != len(resp.Labels) {
		return BatchResult{}, fmt.Errorf("fetch batch: %d inputs but %d labels", len(resp.Inputs), len(resp.Labels))
	}
	return BatchResult{
		Inputs:   resp.Inputs,
		Labels:   resp.Labels,
		RowWidth: resp.RowWidth,
		Done:     resp.Done,
	}, nil
}

// #endregion fetch-batch

// #region post-json
// postJSON posts a JSON body to path and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// #endregion post-json
