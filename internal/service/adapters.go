package service

import (
	"context"

	"github.com/transcriptformer/tfserve/internal/datasets"
	"github.com/transcriptformer/tfserve/internal/predictor"
)

// Predictor is satisfied by *predictor.Adapter.
type Predictor interface {
	Name() string
	Profile() predictor.Profile
	Predict(ctx context.Context, req predictor.PredictionRequest) (predictor.PredictionResult, error)
}

// DatasetCatalog is satisfied by *datasets.Catalog.
type DatasetCatalog interface {
	Lookup(name string) (datasets.DatasetSpec, error)
	Names() []string
}

// DatasetFetcher is satisfied by *datasets.Provider.
type DatasetFetcher interface {
	Fetch(ctx context.Context, spec datasets.DatasetSpec, opts datasets.FetchOptions) (*datasets.CachedDataset, error)
}
