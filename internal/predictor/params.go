package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	ParamOutputFile          = "output_file"
	ParamBatchSize           = "batch_size"
	ParamGeneColName         = "gene_col_name"
	ParamPrecision           = "precision"
	ParamPretrainedEmbedding = "pretrained_embedding"

	DefaultGeneColName = "ensembl_id"
	DefaultPrecision   = "16-mixed"
)

// Parameters are the recognized prediction options. Zero values select the
// defaults: variant batch size, DefaultGeneColName and DefaultPrecision.
type Parameters struct {
	OutputFile  string `json:"output_file"`
	BatchSize   int    `json:"batch_size,omitempty"`
	GeneColName string `json:"gene_col_name,omitempty"`
	Precision   string `json:"precision,omitempty"`
}

// PredictionRequest is built once and treated as immutable.
type PredictionRequest struct {
	InputPath string
	Params    Parameters
}

// PredictionResult is produced only after the executable exits successfully.
type PredictionResult struct {
	OutputFile string `json:"output_file"`
}

func NewPredictionRequest(inputPath string, params Parameters) (PredictionRequest, error) {
	if strings.TrimSpace(params.OutputFile) == "" {
		return PredictionRequest{}, fmt.Errorf("%w: %s is required", ErrMissingParameter, ParamOutputFile)
	}
	return PredictionRequest{InputPath: inputPath, Params: params}, nil
}

// ParseParameters validates an untyped parameter mapping, as received from
// JSON bodies or registry-style callers, into Parameters.
func ParseParameters(raw map[string]any) (Parameters, error) {
	var params Parameters
	unknown := make([]string, 0)
	for key, value := range raw {
		switch key {
		case ParamOutputFile:
			text, err := stringParam(key, value)
			if err != nil {
				return Parameters{}, err
			}
			params.OutputFile = text
		case ParamBatchSize:
			if value == nil {
				continue
			}
			size, err := CoerceBatchSize(value)
			if err != nil {
				return Parameters{}, err
			}
			params.BatchSize = size
		case ParamGeneColName:
			text, err := stringParam(key, value)
			if err != nil {
				return Parameters{}, err
			}
			params.GeneColName = text
		case ParamPrecision:
			text, err := stringParam(key, value)
			if err != nil {
				return Parameters{}, err
			}
			params.Precision = text
		case ParamPretrainedEmbedding:
			return Parameters{}, fmt.Errorf(
				"%w: %s is bound when the model is loaded and cannot be set per request",
				ErrInvalidParameter,
				ParamPretrainedEmbedding,
			)
		default:
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Parameters{}, fmt.Errorf("%w: unrecognized keys %v", ErrInvalidParameter, unknown)
	}
	if strings.TrimSpace(params.OutputFile) == "" {
		return Parameters{}, fmt.Errorf("%w: %s is required", ErrMissingParameter, ParamOutputFile)
	}
	return params, nil
}

// CoerceBatchSize accepts any integer-like value: integer kinds, integral
// floats, json.Number and decimal strings.
func CoerceBatchSize(value any) (int, error) {
	var size int64
	switch typed := value.(type) {
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			size = parsed
			break
		}
		f, err := typed.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidParameter, ParamBatchSize, typed.String())
		}
		return CoerceBatchSize(f)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidParameter, ParamBatchSize, typed)
		}
		size = parsed
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			size = rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if rv.Uint() > math.MaxInt32 {
				return 0, fmt.Errorf("%w: %s %d is out of range", ErrInvalidParameter, ParamBatchSize, rv.Uint())
			}
			size = int64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
				return 0, fmt.Errorf("%w: %s %v is not an integer", ErrInvalidParameter, ParamBatchSize, f)
			}
			size = int64(f)
		default:
			return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParameter, ParamBatchSize, value)
		}
	}
	if size <= 0 || size > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be in [1, %d], got %d", ErrInvalidParameter, ParamBatchSize, math.MaxInt32, size)
	}
	return int(size), nil
}

func stringParam(key string, value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParameter, key, value)
	}
	return strings.TrimSpace(text), nil
}
