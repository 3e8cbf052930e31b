package parquet

import (
	"context"
	"io"
	"log/slog"

	pq "github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

const component = "parquet"

// ColumnChunk locates one column chunk of one row group.
type ColumnChunk struct {
	Column   string      `json:"column"`
	RowGroup int         `json:"row_group"`
	Range    types.Range `json:"range"`
}

// ColumnPlanner turns column names into the byte ranges that hold them.
type ColumnPlanner struct {
	logger *slog.Logger
}

// NewColumnPlanner creates a planner.
func NewColumnPlanner(logger *slog.Logger) *ColumnPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColumnPlanner{logger: logger.With("component", component)}
}

// Chunks parses the footer of the size-byte file behind r and returns every
// chunk whose leaf column name is in columns. A chunk starts at its
// dictionary page when it has one and at its first data page otherwise, and
// spans its total compressed size.
func (p *ColumnPlanner) Chunks(ctx context.Context, r io.ReaderAt, size int64, columns []string) ([]ColumnChunk, error) {
	if len(columns) == 0 {
		return nil, errors.InvalidInput("parquet.plan", "no columns requested").WithComponent(component)
	}
	if size <= 0 {
		return nil, errors.InvalidInput("parquet.plan", "file size %d is not positive", size).WithComponent(component)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err, "parquet.plan")
	}

	file, err := pq.OpenFile(r, size, pq.SkipPageIndex(true), pq.SkipBloomFilters(true))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "failed to read parquet footer").
			WithComponent(component).
			WithOperation("parquet.plan").
			WithCause(err)
	}

	wanted := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		wanted[c] = struct{}{}
	}

	chunks := selectChunks(file.Metadata(), wanted, size)
	p.logger.Debug("planned column chunks", "columns", len(columns), "chunks", len(chunks))
	return chunks, nil
}

// Plan returns the chunks of Chunks as one IO plan of block ranges.
func (p *ColumnPlanner) Plan(ctx context.Context, r io.ReaderAt, size int64, columns []string) (types.IOPlan, error) {
	chunks, err := p.Chunks(ctx, r, size, columns)
	if err != nil {
		return types.IOPlan{}, err
	}
	ranges := make([]types.Range, 0, len(chunks))
	for _, c := range chunks {
		ranges = append(ranges, c.Range)
	}
	return types.NewIOPlan(ranges...), nil
}

func selectChunks(md *format.FileMetaData, wanted map[string]struct{}, size int64) []ColumnChunk {
	var chunks []ColumnChunk
	for i, rg := range md.RowGroups {
		for _, cc := range rg.Columns {
			meta := cc.MetaData
			if len(meta.PathInSchema) == 0 || meta.TotalCompressedSize <= 0 {
				continue
			}
			name := meta.PathInSchema[len(meta.PathInSchema)-1]
			if _, ok := wanted[name]; !ok {
				continue
			}

			start := meta.DataPageOffset
			if meta.DictionaryPageOffset != 0 {
				start = meta.DictionaryPageOffset
			}
			rng, err := types.NewRange(start, min(start+meta.TotalCompressedSize-1, size-1))
			if err != nil {
				continue
			}
			chunks = append(chunks, ColumnChunk{Column: name, RowGroup: i, Range: rng})
		}
	}
	return chunks
}
