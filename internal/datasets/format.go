package datasets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

const (
	FormatArrow   = "arrow"
	FormatParquet = "parquet"
	FormatH5AD    = "h5ad"
)

var canonicalExtensions = map[string]string{
	FormatArrow:   ".arrow",
	FormatParquet: ".parquet",
	FormatH5AD:    ".h5ad",
}

func CanonicalExtension(format string) (string, error) {
	ext, ok := canonicalExtensions[format]
	if !ok {
		known := make([]string, 0, len(canonicalExtensions))
		for name := range canonicalExtensions {
			known = append(known, name)
		}
		sort.Strings(known)
		return "", fmt.Errorf("%w: unsupported format %q, must be one of %v", ErrDatasetFormat, format, known)
	}
	return ext, nil
}

// Loader reads a cached file into a Table.
type Loader interface {
	Load(ctx context.Context, path string) (*Table, error)
}

type LoaderFunc func(ctx context.Context, path string) (*Table, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (*Table, error) {
	return f(ctx, path)
}

// ArrowFileLoader reads Arrow IPC files. Utf8 and dictionary-encoded string
// columns become row metadata, numeric columns become features.
type ArrowFileLoader struct{}

func (ArrowFileLoader) Load(_ context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrDatasetFormat, path, err)
	}
	defer f.Close()

	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("%w: read arrow file %q: %w", ErrDatasetFormat, path, err)
	}
	defer reader.Close()

	builder := newTableBuilder()
	for idx := 0; idx < reader.NumRecords(); idx++ {
		record, err := reader.Record(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: record batch %d of %q: %w", ErrDatasetFormat, idx, path, err)
		}
		if err := builder.addRecord(record); err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
	}
	return builder.build(reader.Schema())
}

type ParquetLoader struct{}

func (ParquetLoader) Load(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrDatasetFormat, path, err)
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	table, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("%w: read parquet file %q: %w", ErrDatasetFormat, path, err)
	}
	defer table.Release()

	builder := newTableBuilder()
	for idx := 0; idx < int(table.NumCols()); idx++ {
		column := table.Column(idx)
		for _, chunk := range column.Data().Chunks() {
			if err := builder.addArray(column.Name(), chunk); err != nil {
				return nil, fmt.Errorf("%q: %w", path, err)
			}
		}
	}
	return builder.build(table.Schema())
}

// BridgeLoader converts formats Go cannot read natively by running an
// external command that prints an Arrow IPC stream on stdout. The file path
// is appended as the last argument.
type BridgeLoader struct {
	Format  string
	Command []string
}

func ParseBridgeCommand(raw string) []string {
	return strings.Fields(strings.TrimSpace(raw))
}

func (l BridgeLoader) Load(ctx context.Context, path string) (*Table, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf(
			"%w: no converter configured for %s files; set TFSERVE_H5AD_CONVERTER_CMD",
			ErrDatasetFormat,
			l.Format,
		)
	}
	args := append(append([]string(nil), l.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, l.Command[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			return nil, fmt.Errorf("%w: convert %q: %w", ErrDatasetFormat, path, err)
		}
		return nil, fmt.Errorf("%w: convert %q: %w: %s", ErrDatasetFormat, path, err, errText)
	}
	return readArrowStream(&stdout)
}

func readArrowStream(r io.Reader) (*Table, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("%w: read arrow stream: %w", ErrDatasetFormat, err)
	}
	defer reader.Release()

	builder := newTableBuilder()
	for reader.Next() {
		if err := builder.addRecord(reader.Record()); err != nil {
			return nil, err
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read arrow stream: %w", ErrDatasetFormat, err)
	}
	return builder.build(reader.Schema())
}

type tableBuilder struct {
	obs      map[string][]string
	features map[string][]float64
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{
		obs:      map[string][]string{},
		features: map[string][]float64{},
	}
}

func (b *tableBuilder) addRecord(record arrow.Record) error {
	for idx := 0; idx < int(record.NumCols()); idx++ {
		if err := b.addArray(record.ColumnName(idx), record.Column(idx)); err != nil {
			return err
		}
	}
	return nil
}

func (b *tableBuilder) addArray(name string, arr arrow.Array) error {
	if values, ok := stringsOf(arr); ok {
		b.obs[name] = append(b.obs[name], values...)
		return nil
	}
	if arr.NullN() > 0 {
		return fmt.Errorf("%w: feature column %q has %d null values", ErrDatasetFormat, name, arr.NullN())
	}
	values, ok := floatsOf(arr)
	if !ok {
		return fmt.Errorf("%w: column %q has unsupported type %s", ErrDatasetFormat, name, arr.DataType())
	}
	b.features[name] = append(b.features[name], values...)
	return nil
}

// build orders columns as declared by schema.
func (b *tableBuilder) build(schema *arrow.Schema) (*Table, error) {
	obsNames := make([]string, 0, len(b.obs))
	varNames := make([]string, 0, len(b.features))
	x := make([][]float64, 0, len(b.features))
	for _, field := range schema.Fields() {
		if _, ok := b.obs[field.Name]; ok {
			obsNames = append(obsNames, field.Name)
			continue
		}
		if values, ok := b.features[field.Name]; ok {
			varNames = append(varNames, field.Name)
			x = append(x, values)
		}
	}
	return NewTable(obsNames, b.obs, varNames, x)
}

func stringsOf(arr arrow.Array) ([]string, bool) {
	out := make([]string, arr.Len())
	switch typed := arr.(type) {
	case *array.String:
		for i := range out {
			if typed.IsValid(i) {
				out[i] = typed.Value(i)
			}
		}
	case *array.LargeString:
		for i := range out {
			if typed.IsValid(i) {
				out[i] = typed.Value(i)
			}
		}
	case *array.Dictionary:
		dict, ok := typed.Dictionary().(*array.String)
		if !ok {
			return nil, false
		}
		for i := range out {
			if typed.IsValid(i) {
				out[i] = dict.Value(typed.GetValueIndex(i))
			}
		}
	default:
		return nil, false
	}
	return out, true
}

func floatsOf(arr arrow.Array) ([]float64, bool) {
	out := make([]float64, arr.Len())
	switch typed := arr.(type) {
	case *array.Float64:
		for i := range out {
			out[i] = typed.Value(i)
		}
	case *array.Float32:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Int64:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Int32:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Int16:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Int8:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Uint64:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Uint32:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Uint16:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	case *array.Uint8:
		for i := range out {
			out[i] = float64(typed.Value(i))
		}
	default:
		return nil, false
	}
	return out, true
}
