package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transcriptformer/tfserve/internal/datasets"
	"github.com/transcriptformer/tfserve/internal/predictor"
)

type fakePredictor struct {
	delay   time.Duration
	err     error
	mu      sync.Mutex
	calls   []predictor.PredictionRequest
	running atomic.Int32
	peak    atomic.Int32
}

func (p *fakePredictor) Name() string { return "transcriptformer-tf_sapiens" }

func (p *fakePredictor) Profile() predictor.Profile {
	return predictor.Profile{Variant: predictor.VariantSapiens, CheckpointPath: "/models/tf_sapiens"}
}

func (p *fakePredictor) Predict(
	ctx context.Context,
	req predictor.PredictionRequest,
) (predictor.PredictionResult, error) {
	running := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		peak := p.peak.Load()
		if running <= peak || p.peak.CompareAndSwap(peak, running) {
			break
		}
	}
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return predictor.PredictionResult{}, ctx.Err()
		}
	}
	if p.err != nil {
		return predictor.PredictionResult{}, p.err
	}
	return predictor.PredictionResult{OutputFile: req.Params.OutputFile}, nil
}

func (p *fakePredictor) Calls() []predictor.PredictionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]predictor.PredictionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

type fakeCatalog map[string]datasets.DatasetSpec

func (c fakeCatalog) Lookup(name string) (datasets.DatasetSpec, error) {
	spec, ok := c[name]
	if !ok {
		return datasets.DatasetSpec{}, datasets.ErrUnknownDataset
	}
	return spec, nil
}

func (c fakeCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	return names
}

type fakeDatasets struct {
	err  error
	opts datasets.FetchOptions
}

func (f *fakeDatasets) Fetch(
	_ context.Context,
	spec datasets.DatasetSpec,
	opts datasets.FetchOptions,
) (*datasets.CachedDataset, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	table, err := datasets.NewTable(
		[]string{"donor_id"},
		map[string][]string{"donor_id": {"TSP20", "TSP30"}},
		[]string{"ENSG_A"},
		[][]float64{{10, 12}},
	)
	if err != nil {
		return nil, err
	}
	return &datasets.CachedDataset{
		Spec:        spec,
		Path:        "/cache/" + spec.Name + ".h5ad",
		Table:       table,
		Version:     "v2",
		Downloaded:  !opts.ForceDownload,
		LoadedShape: datasets.Shape{Rows: 3, Columns: 2},
		DroppedRows: 1,
	}, nil
}

var errBoom = errors.New("boom")
