package data

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangxin0716/robust-generative-classifier/internal/bridge"
)

// #region slice-loader-tests

func TestSliceLoader_Batching(t *testing.T) {
	inputs := [][]float64{{1}, {2}, {3}, {4}, {5}}
	labels := []int{0, 1, 0, 1, 0}

	l, err := NewSliceLoader(inputs, labels, 2)
	require.NoError(t, err)
	l.SetRowWidth(1)

	ctx := context.Background()
	var sizes []int
	for {
		b, err := l.Next(ctx)
		if errors.Is(err, End) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 1, b.RowWidth)
		assert.Equal(t, len(b.Inputs), len(b.Labels))
		sizes = append(sizes, b.Len())
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	// Reset replays the identical stream.
	require.NoError(t, l.Reset())
	b, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, b.Inputs)
}

func TestSliceLoader_Invalid(t *testing.T) {
	_, err := NewSliceLoader([][]float64{{1}}, []int{0, 1}, 2)
	assert.Error(t, err)

	_, err = NewSliceLoader(nil, nil, 0)
	assert.Error(t, err)
}

func TestClassLoader_Filters(t *testing.T) {
	inputs := [][]float64{{1}, {2}, {3}, {4}}
	labels := []int{0, 1, 0, 1}

	l, err := NewClassLoader(inputs, labels, 8, 1)
	require.NoError(t, err)

	b, err := l.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}, {4}}, b.Inputs)
	assert.Equal(t, []int{1, 1}, b.Labels)

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, End)
}

// #endregion slice-loader-tests

// #region remote-loader-tests

// The stub runner serves a fixed split in batchSize chunks, honoring offset.
func remoteStub(t *testing.T, inputs [][]float64, labels []int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BatchSize int `json:"batch_size"`
			Offset    int `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		start := req.Offset
		if start > len(inputs) {
			start = len(inputs)
		}
		end := start + req.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"inputs":    inputs[start:end],
			"labels":    labels[start:end],
			"row_width": 1,
			"done":      end == len(inputs),
		})
	}))
}

func TestRemoteLoader_StreamsAndResets(t *testing.T) {
	inputs := [][]float64{{1}, {2}, {3}, {4}, {5}}
	labels := []int{0, 0, 1, 1, 0}
	server := remoteStub(t, inputs, labels)
	defer server.Close()

	l, err := NewRemoteLoader(bridge.NewClient(server.URL), RemoteSpec{
		Dataset:   "cifar10",
		Train:     false,
		LabelID:   -1,
		BatchSize: 2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	var seen [][]float64
	for {
		b, err := l.Next(ctx)
		if errors.Is(err, End) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 1, b.RowWidth)
		seen = append(seen, b.Inputs...)
	}
	assert.Equal(t, inputs, seen)

	// Two passes over the runner's fixed ordering must agree.
	require.NoError(t, l.Reset())
	b, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, b.Inputs)
}

func TestRemoteLoader_EmptySplit(t *testing.T) {
	server := remoteStub(t, nil, nil)
	defer server.Close()

	l, err := NewRemoteLoader(bridge.NewClient(server.URL), RemoteSpec{
		Dataset:   "cifar10",
		LabelID:   3,
		BatchSize: 4,
	})
	require.NoError(t, err)

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, End)
}

func TestRemoteLoader_Invalid(t *testing.T) {
	client := bridge.NewClient("http://localhost:1")

	_, err := NewRemoteLoader(client, RemoteSpec{Dataset: "cifar10"})
	assert.Error(t, err)

	_, err = NewRemoteLoader(client, RemoteSpec{BatchSize: 4})
	assert.Error(t, err)
}

// #endregion remote-loader-tests
