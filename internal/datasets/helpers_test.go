package datasets

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	source string
	delay  time.Duration
	err    error
	calls  atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, _ string, dest string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	in, err := os.Open(f.source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (f *countingFetcher) Calls() int {
	return int(f.calls.Load())
}

// donorRecord builds a record with a donor_id column and one float64 column
// per gene; columns[j][i] is the count of gene j in cell i.
func donorRecord(t *testing.T, donors []string, genes []string, columns [][]float64) arrow.Record {
	t.Helper()
	require.Len(t, columns, len(genes))
	mem := memory.NewGoAllocator()

	fields := []arrow.Field{{Name: "donor_id", Type: arrow.BinaryTypes.String}}
	for _, gene := range genes {
		fields = append(fields, arrow.Field{Name: gene, Type: arrow.PrimitiveTypes.Float64})
	}
	schema := arrow.NewSchema(fields, nil)

	donorBuilder := array.NewStringBuilder(mem)
	defer donorBuilder.Release()
	donorBuilder.AppendValues(donors, nil)
	arrays := []arrow.Array{donorBuilder.NewArray()}
	for _, column := range columns {
		require.Len(t, column, len(donors))
		builder := array.NewFloat64Builder(mem)
		builder.AppendValues(column, nil)
		arrays = append(arrays, builder.NewArray())
		builder.Release()
	}
	record := array.NewRecord(schema, arrays, int64(len(donors)))
	for _, arr := range arrays {
		arr.Release()
	}
	return record
}

func writeArrowFile(t *testing.T, path string, record arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(record.Schema()))
	require.NoError(t, err)
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())
}

func writeArrowStream(t *testing.T, path string, record arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	writer := ipc.NewWriter(f, ipc.WithSchema(record.Schema()))
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())
}

// uniformDataset writes rows x genes of ones with donors TSP1..TSPn.
func uniformDataset(t *testing.T, path string, rows int, genes int) {
	t.Helper()
	donors := make([]string, rows)
	for i := range donors {
		donors[i] = fmt.Sprintf("TSP%d", i+1)
	}
	names := make([]string, genes)
	columns := make([][]float64, genes)
	for j := range names {
		names[j] = fmt.Sprintf("ENSG%011d", j)
		column := make([]float64, rows)
		for i := range column {
			column[i] = 1
		}
		columns[j] = column
	}
	record := donorRecord(t, donors, names, columns)
	defer record.Release()
	writeArrowFile(t, path, record)
}
