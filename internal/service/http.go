package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transcriptformer/tfserve/internal/datasets"
	"github.com/transcriptformer/tfserve/internal/predictor"
)

const maxRequestBytes = 1 << 20

type HTTPServiceConfig struct {
	MaxConcurrent  int
	QueueSize      int
	PredictTimeout time.Duration
	// Catalog and Datasets enable the dataset routes when both are set.
	Catalog  DatasetCatalog
	Datasets DatasetFetcher
	Logger   zerolog.Logger
	Hooks    TelemetryHooks
}

type HTTPService struct {
	predictor  Predictor
	dispatcher *Dispatcher
	metrics    *Metrics
	catalog    DatasetCatalog
	datasets   DatasetFetcher

	predictTimeout time.Duration
	logger         zerolog.Logger
	hooks          TelemetryHooks
}

func NewHTTPService(p Predictor, cfg HTTPServiceConfig) (*HTTPService, error) {
	if cfg.PredictTimeout < 0 {
		return nil, fmt.Errorf("predict timeout must be >= 0")
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopTelemetryHooks{}
	}
	metrics := &Metrics{}
	dispatcher, err := NewDispatcher(p, DispatcherConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		QueueSize:     cfg.QueueSize,
		Logger:        cfg.Logger,
		Hooks:         hooks,
		OnJob: func(queueWait time.Duration, execute time.Duration, jobErr error) {
			metrics.RecordJob(queueWait, execute, jobErr == nil)
		},
	})
	if err != nil {
		return nil, err
	}
	dispatcher.Start()
	return &HTTPService{
		predictor:      p,
		dispatcher:     dispatcher,
		metrics:        metrics,
		catalog:        cfg.Catalog,
		datasets:       cfg.Datasets,
		predictTimeout: cfg.PredictTimeout,
		logger:         cfg.Logger,
		hooks:          hooks,
	}, nil
}

func (s *HTTPService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/datasets", s.handleDatasetList)
	mux.HandleFunc("/datasets/fetch", s.handleDatasetFetch)
}

func (s *HTTPService) Close() error {
	s.dispatcher.Stop()
	return nil
}

func (s *HTTPService) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *HTTPService) handleHealth(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := map[string]string{
		"status":  "ok",
		"model":   s.predictor.Name(),
		"variant": s.predictor.Profile().Variant,
	}
	writeJSON(writer, http.StatusOK, response)
}

func (s *HTTPService) handleMetrics(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writer.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = writer.Write([]byte(s.metrics.Snapshot().PrometheusText()))
}

func (s *HTTPService) handlePredict(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body PredictRequest
	if err := decodeBody(writer, request, &body); err != nil {
		writeError(writer, RequestIDFromContext(request.Context()), err)
		return
	}
	if strings.TrimSpace(body.RequestID) == "" {
		body.RequestID = RequestIDFromContext(request.Context())
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	}
	s.hooks.OnHTTPRequestStart(request.Context(), "/predict", body.RequestID)
	s.logger.Info().
		Str("request_id", body.RequestID).
		Str("input_path", body.InputPath).
		Msg("predict_request_received")

	response, err := s.Predict(request.Context(), body)
	status := statusForError(err)
	s.hooks.OnHTTPRequestDone(request.Context(), "/predict", body.RequestID, status, time.Since(start), err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("request_id", body.RequestID).
			Int("status", status).
			Msg("predict_request_failed")
		writeError(writer, body.RequestID, err)
		return
	}
	s.logger.Info().
		Str("request_id", response.RequestID).
		Str("output_file", response.OutputFile).
		Float64("total_ms", response.Runtime.LatencyMS.Total).
		Msg("predict_request_done")
	writeJSON(writer, http.StatusOK, response)
}

// Predict validates req and runs it through the dispatcher.
func (s *HTTPService) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	s.metrics.RecordRequestStart()
	start := time.Now()
	response, err := s.predict(ctx, req)
	s.metrics.RecordRequestDone(time.Since(start), err)
	if errors.Is(err, ErrQueueFull) {
		s.metrics.RecordRejected()
	}
	return response, err
}

func (s *HTTPService) predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	params, err := predictor.ParseParameters(req.Params)
	if err != nil {
		return PredictResponse{}, err
	}
	predReq, err := predictor.NewPredictionRequest(req.InputPath, params)
	if err != nil {
		return PredictResponse{}, err
	}
	if s.predictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.predictTimeout)
		defer cancel()
	}

	result, err := s.dispatcher.Submit(ctx, predReq)
	if err != nil {
		return PredictResponse{}, err
	}
	profile := s.predictor.Profile()
	batchSize := params.BatchSize
	if batchSize == 0 {
		batchSize = predictor.DefaultBatchSize(profile.Variant)
	}
	return PredictResponse{
		RequestID:  req.RequestID,
		OutputFile: result.Result.OutputFile,
		Runtime: RuntimeMetadata{
			Model:     s.predictor.Name(),
			Variant:   profile.Variant,
			BatchSize: batchSize,
			LatencyMS: RuntimeLatencyMillis{
				Total:   durationMillis(result.QueueWait + result.Execute),
				Queue:   durationMillis(result.QueueWait),
				Execute: durationMillis(result.Execute),
			},
		},
	}, nil
}

func (s *HTTPService) handleDatasetList(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		writeError(writer, RequestIDFromContext(request.Context()), ErrDatasetsDisabled)
		return
	}
	writeJSON(writer, http.StatusOK, map[string][]string{"datasets": s.catalog.Names()})
}

func (s *HTTPService) handleDatasetFetch(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID := RequestIDFromContext(request.Context())

	var body DatasetFetchRequest
	if err := decodeBody(writer, request, &body); err != nil {
		writeError(writer, requestID, err)
		return
	}
	s.hooks.OnHTTPRequestStart(request.Context(), "/datasets/fetch", requestID)
	response, err := s.FetchDataset(request.Context(), body)
	status := statusForError(err)
	s.hooks.OnHTTPRequestDone(request.Context(), "/datasets/fetch", requestID, status, time.Since(start), err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("request_id", requestID).
			Str("dataset", body.Name).
			Int("status", status).
			Msg("dataset_fetch_failed")
		writeError(writer, requestID, err)
		return
	}
	writeJSON(writer, http.StatusOK, response)
}

func (s *HTTPService) FetchDataset(ctx context.Context, req DatasetFetchRequest) (DatasetFetchResponse, error) {
	if s.catalog == nil || s.datasets == nil {
		return DatasetFetchResponse{}, ErrDatasetsDisabled
	}
	if strings.TrimSpace(req.Name) == "" {
		return DatasetFetchResponse{}, fmt.Errorf("%w: name is required", ErrInvalidRequestBody)
	}
	spec, err := s.catalog.Lookup(req.Name)
	if err != nil {
		return DatasetFetchResponse{}, err
	}

	start := time.Now()
	dataset, err := s.datasets.Fetch(ctx, spec, datasets.FetchOptions{
		Version:       req.Version,
		ForceDownload: req.ForceDownload,
	})
	downloaded := err == nil && dataset.Downloaded
	s.metrics.RecordDatasetFetch(downloaded, err)
	s.hooks.OnDatasetFetch(ctx, spec.Name, downloaded, time.Since(start), err)
	if err != nil {
		return DatasetFetchResponse{}, err
	}
	shape := dataset.Table.Shape()
	return DatasetFetchResponse{
		Name:           spec.Name,
		Version:        dataset.Version,
		Path:           dataset.Path,
		Rows:           shape.Rows,
		Columns:        shape.Columns,
		Downloaded:     dataset.Downloaded,
		DroppedRows:    dataset.DroppedRows,
		DroppedColumns: dataset.DroppedColumns,
	}, nil
}

// decodeBody keeps JSON numbers as json.Number so integral parameters are
// not silently rounded through float64.
func decodeBody(writer http.ResponseWriter, request *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequestBody, err)
	}
	return nil
}

func writeError(writer http.ResponseWriter, requestID string, err error) {
	writeJSON(writer, statusForError(err), errorResponse{RequestID: requestID, Error: err.Error()})
}

func writeJSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}
