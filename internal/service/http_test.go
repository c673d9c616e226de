package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcriptformer/tfserve/internal/datasets"
	"github.com/transcriptformer/tfserve/internal/predictor"
)

func newTestService(t *testing.T, p Predictor, cfg HTTPServiceConfig) (*HTTPService, *httptest.Server) {
	t.Helper()
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 8
	}
	cfg.Logger = zerolog.Nop()
	svc, err := NewHTTPService(p, cfg)
	require.NoError(t, err)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(Chain(mux, RequestIDMiddleware, RecoveryMiddleware(zerolog.Nop())))
	t.Cleanup(func() {
		server.Close()
		_ = svc.Close()
	})
	return svc, server
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	_, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, predictor.VariantSapiens, body["variant"])
	assert.Equal(t, "transcriptformer-tf_sapiens", body["model"])

	resp, err = http.Post(server.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPredictEndpointSuccess(t *testing.T) {
	fake := &fakePredictor{}
	_, server := newTestService(t, fake, HTTPServiceConfig{})

	resp := postJSON(t, server.URL+"/predict", `{
		"request_id": "req-1",
		"input_path": "/data/cells.h5ad",
		"params": {"output_file": "/tmp/out.h5ad", "batch_size": 7, "precision": "32"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[PredictResponse](t, resp)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "/tmp/out.h5ad", body.OutputFile)
	assert.Equal(t, 7, body.Runtime.BatchSize)
	assert.Equal(t, predictor.VariantSapiens, body.Runtime.Variant)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/data/cells.h5ad", calls[0].InputPath)
	assert.Equal(t, predictor.Parameters{OutputFile: "/tmp/out.h5ad", BatchSize: 7, Precision: "32"}, calls[0].Params)
}

func TestPredictEndpointDefaultsBatchSizeAndRequestID(t *testing.T) {
	_, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{})

	req, err := http.NewRequest(
		http.MethodPost,
		server.URL+"/predict",
		strings.NewReader(`{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/out.h5ad"}}`),
	)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "trace-abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "trace-abc", resp.Header.Get(RequestIDHeader))

	body := decodeJSON[PredictResponse](t, resp)
	assert.Equal(t, "trace-abc", body.RequestID)
	assert.Equal(t, predictor.DefaultBatchSize(predictor.VariantSapiens), body.Runtime.BatchSize)
}

func TestPredictEndpointErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{
			name:   "malformed json",
			body:   `{"input_path":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   `{"input_path": "/data/cells.h5ad", "model": "x"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing output file",
			body:   `{"input_path": "/data/cells.h5ad", "params": {}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "per request embedding",
			body:   `{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/o", "pretrained_embedding": "/e.h5"}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "fractional batch size",
			body:   `{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/o", "batch_size": 2.5}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid input",
			err:    fmt.Errorf("%w: /data/cells.h5ad does not exist", predictor.ErrInvalidInput),
			body:   `{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/o"}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "inference failure",
			err:    &predictor.InferenceExecutionError{ExitCode: 1, Stderr: "boom"},
			body:   `{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/o"}}`,
			status: http.StatusBadGateway,
		},
		{
			name:   "unexpected",
			err:    errBoom,
			body:   `{"input_path": "/data/cells.h5ad", "params": {"output_file": "/tmp/o"}}`,
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newTestService(t, &fakePredictor{err: tt.err}, HTTPServiceConfig{})
			resp := postJSON(t, server.URL+"/predict", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decodeJSON[errorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestPredictEndpointQueueFull(t *testing.T) {
	fake := &fakePredictor{delay: 300 * time.Millisecond}
	svc, server := newTestService(t, fake, HTTPServiceConfig{MaxConcurrent: 1, QueueSize: 1})

	statuses := make(chan int, 4)
	for iter := 0; iter < 4; iter++ {
		go func() {
			resp, err := http.Post(
				server.URL+"/predict",
				"application/json",
				strings.NewReader(`{"input_path": "/d", "params": {"output_file": "/o"}}`),
			)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
		time.Sleep(30 * time.Millisecond)
	}
	counts := map[int]int{}
	for iter := 0; iter < 4; iter++ {
		counts[<-statuses]++
	}
	assert.Equal(t, map[int]int{http.StatusOK: 2, http.StatusServiceUnavailable: 2}, counts)
	assert.EqualValues(t, 2, svc.Metrics().RequestsRejected)
}

func TestPredictTimeout(t *testing.T) {
	fake := &fakePredictor{delay: 5 * time.Second}
	_, server := newTestService(t, fake, HTTPServiceConfig{PredictTimeout: 50 * time.Millisecond})

	resp := postJSON(t, server.URL+"/predict", `{"input_path": "/d", "params": {"output_file": "/o"}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{})
	resp := postJSON(t, server.URL+"/predict", `{"input_path": "/d", "params": {"output_file": "/o"}}`)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, want := range []string{"tfserve_requests_total 1\n", "tfserve_jobs_total 1\n", "tfserve_job_errors_total 0\n"} {
		assert.Contains(t, string(raw), want)
	}
}

func TestDatasetFetchEndpoint(t *testing.T) {
	fetcher := &fakeDatasets{}
	catalog := fakeCatalog{"heart_tabula_sapiens": {Name: "heart_tabula_sapiens", Format: datasets.FormatH5AD}}
	svc, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{Catalog: catalog, Datasets: fetcher})

	resp := postJSON(t, server.URL+"/datasets/fetch", `{"name": "heart_tabula_sapiens", "version": "v2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[DatasetFetchResponse](t, resp)
	assert.Equal(t, DatasetFetchResponse{
		Name:        "heart_tabula_sapiens",
		Version:     "v2",
		Path:        "/cache/heart_tabula_sapiens.h5ad",
		Rows:        2,
		Columns:     1,
		Downloaded:  true,
		DroppedRows: 1,
	}, body)
	assert.Equal(t, "v2", fetcher.opts.Version)
	snapshot := svc.Metrics()
	assert.EqualValues(t, 1, snapshot.DatasetFetches)
	assert.EqualValues(t, 1, snapshot.DatasetDownloads)

	resp, err := http.Get(server.URL + "/datasets")
	require.NoError(t, err)
	list := decodeJSON[map[string][]string](t, resp)
	assert.Len(t, list["datasets"], 1)
}

func TestDatasetFetchEndpointErrors(t *testing.T) {
	catalog := fakeCatalog{"heart_tabula_sapiens": {Name: "heart_tabula_sapiens"}}
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"unknown dataset", nil, `{"name": "spleen"}`, http.StatusNotFound},
		{"missing name", nil, `{}`, http.StatusBadRequest},
		{"invalid version", &datasets.InvalidVersionError{Version: "v3"}, `{"name": "heart_tabula_sapiens", "version": "v3"}`, http.StatusBadRequest},
		{"download failure", fmt.Errorf("%w: timeout", datasets.ErrDatasetUnavailable), `{"name": "heart_tabula_sapiens"}`, http.StatusBadGateway},
		{"shape mismatch", &datasets.DatasetShapeMismatchError{}, `{"name": "heart_tabula_sapiens"}`, http.StatusInternalServerError},
		{"invalid spec", fmt.Errorf("%w: bad op", datasets.ErrInvalidSpec), `{"name": "heart_tabula_sapiens"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{
				Catalog:  catalog,
				Datasets: &fakeDatasets{err: tt.err},
			})
			resp := postJSON(t, server.URL+"/datasets/fetch", tt.body)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestDatasetRoutesDisabled(t *testing.T) {
	_, server := newTestService(t, &fakePredictor{}, HTTPServiceConfig{})
	resp := postJSON(t, server.URL+"/datasets/fetch", `{"name": "heart_tabula_sapiens"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	tests := map[error]int{
		nil:                             http.StatusOK,
		ErrQueueFull:                    http.StatusServiceUnavailable,
		ErrDispatcherStopped:            http.StatusServiceUnavailable,
		predictor.ErrMissingParameter:   http.StatusBadRequest,
		predictor.ErrInvalidParameter:   http.StatusBadRequest,
		predictor.ErrInferenceExecution: http.StatusBadGateway,
		context.DeadlineExceeded:        http.StatusGatewayTimeout,
		errors.New("disk full"):         http.StatusInternalServerError,
	}
	for err, want := range tests {
		assert.Equal(t, want, statusForError(err), "error %v", err)
	}
	wrapped := fmt.Errorf("%w: %w", predictor.ErrInferenceExecution, context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(wrapped))
}
