package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/objectfs/accelerator/internal/logical/parquet"
	"github.com/objectfs/accelerator/internal/prefetch"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
	"github.com/objectfs/accelerator/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CatCmd copies an object range to the output.
type CatCmd struct {
	URI        string `arg:"" help:"Object to read, s3://bucket/key."`
	Offset     int64  `help:"First byte to write." default:"0"`
	Length     int64  `help:"Bytes to write; negative writes to the end." default:"-1"`
	BufferSize int    `help:"Read buffer size in bytes." default:"1048576" name:"buffer-size"`
}

// Run executes the command.
func (c *CatCmd) Run(app *App) error {
	if c.Offset < 0 {
		return errors.InvalidInput("cat", "offset %d is negative", c.Offset)
	}
	s, err := app.open(c.URI)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.Seek(c.Offset, io.SeekStart); err != nil {
		return err
	}
	var src io.Reader = s
	if c.Length >= 0 {
		src = io.LimitReader(s, c.Length)
	}

	buf := app.buffers.Get(max(c.BufferSize, 1))
	defer app.buffers.Put(buf)

	n, err := io.CopyBuffer(app.out, onlyReader{src}, buf)
	app.logger.Debug("cat finished", "uri", c.URI, "bytes", n)
	return err
}

// onlyReader hides WriterTo so io.CopyBuffer uses the pooled buffer.
type onlyReader struct{ io.Reader }

// StatCmd prints what opening an object involves.
type StatCmd struct {
	URI string `arg:"" help:"Object to inspect, s3://bucket/key."`
}

type statOutput struct {
	URI           string        `json:"uri"`
	StreamID      string        `json:"stream_id"`
	ContentLength int64         `json:"content_length"`
	ETag          string        `json:"etag"`
	LastModified  time.Time     `json:"last_modified"`
	Parquet       bool          `json:"parquet"`
	TailRanges    []types.Range `json:"tail_ranges,omitempty"`
	Runtime       runtimeStats  `json:"runtime"`
}

// Run executes the command.
func (c *StatCmd) Run(app *App) error {
	s, err := app.open(c.URI)
	if err != nil {
		return err
	}
	defer s.Close()

	md := s.Metadata()
	out := statOutput{
		URI:           s.URI().String(),
		StreamID:      s.ID(),
		ContentLength: md.ContentLength,
		ETag:          md.ETag,
		LastModified:  md.LastModified,
		Parquet:       parquet.IsParquet(app.cfg.LogicalIO, s.URI().Key),
		TailRanges:    s.TailRanges(),
		Runtime:       app.runtime(),
	}
	return writeJSON(app.out, out)
}

// BenchCmd reads an object end to end, or at random offsets, and reports
// the throughput.
type BenchCmd struct {
	URI        string `arg:"" help:"Object to read, s3://bucket/key."`
	Passes     int    `help:"Number of passes over the object." default:"1"`
	BufferSize int    `help:"Read size in bytes." default:"1048576" name:"buffer-size"`
	Random     int    `help:"Issue this many reads at random offsets instead of reading sequentially." default:"0"`
}

type benchResult struct {
	Pass     int           `json:"pass"`
	Bytes    int64         `json:"bytes"`
	Reads    int           `json:"reads"`
	Duration time.Duration `json:"duration_ns"`
	Rate     string        `json:"rate"`
}

// Run executes the command.
func (c *BenchCmd) Run(app *App) error {
	if c.Passes <= 0 {
		return errors.InvalidInput("bench", "passes must be positive, got %d", c.Passes)
	}
	if c.BufferSize <= 0 {
		return errors.InvalidInput("bench", "buffer size must be positive, got %d", c.BufferSize)
	}

	buf := app.buffers.Get(c.BufferSize)
	defer app.buffers.Put(buf)

	results := make([]benchResult, 0, c.Passes)
	for pass := 1; pass <= c.Passes; pass++ {
		s, err := app.open(c.URI)
		if err != nil {
			return err
		}

		start := time.Now()
		var (
			total int64
			reads int
		)
		if c.Random > 0 {
			total, reads, err = randomReads(s, s.Size(), buf, c.Random)
		} else {
			total, reads, err = sequentialReads(s, buf)
		}
		elapsed := time.Since(start)
		_ = s.Close()
		if err != nil {
			return err
		}

		results = append(results, benchResult{
			Pass:     pass,
			Bytes:    total,
			Reads:    reads,
			Duration: elapsed,
			Rate:     utils.FormatRate(total, elapsed),
		})
		app.logger.Info("bench pass finished", "pass", pass, "bytes", utils.FormatBytes(total),
			"duration", elapsed, "rate", utils.FormatRate(total, elapsed))
	}

	return writeJSON(app.out, struct {
		Results []benchResult `json:"results"`
		Blocks  int64         `json:"blocks_created"`
		Runtime runtimeStats  `json:"runtime"`
	}{Results: results, Blocks: app.metrics.Snapshot().BlocksCreated, Runtime: app.runtime()})
}

func sequentialReads(r io.Reader, buf []byte) (int64, int, error) {
	var (
		total int64
		reads int
	)
	for {
		n, err := r.Read(buf)
		total += int64(n)
		reads++
		if err == io.EOF {
			return total, reads, nil
		}
		if err != nil {
			return total, reads, err
		}
	}
}

func randomReads(r io.ReaderAt, size int64, buf []byte, count int) (int64, int, error) {
	if size <= 0 {
		return 0, 0, nil
	}

	var total int64
	for i := 0; i < count; i++ {
		off := rand.Int64N(size)
		n, err := r.ReadAt(buf, off)
		total += int64(n)
		if err != nil && err != io.EOF {
			return total, i + 1, err
		}
	}
	return total, count, nil
}

// ColumnsCmd locates column chunks in a Parquet object and prefetches them.
type ColumnsCmd struct {
	URI     string   `arg:"" help:"Parquet object, s3://bucket/key."`
	Columns []string `help:"Leaf column names to prefetch." short:"c" required:"" sep:","`
	Wait    bool     `help:"Read the planned chunks before exiting instead of only scheduling them."`
	Remote  bool     `help:"Also ask the prefetch server to warm these columns for every file under the object's prefix."`
}

type columnsOutput struct {
	URI    string                `json:"uri"`
	Chunks []parquet.ColumnChunk `json:"chunks"`
	State  string                `json:"state"`
	Remote string                `json:"remote,omitempty"`
}

// Run executes the command.
func (c *ColumnsCmd) Run(app *App) error {
	s, err := app.open(c.URI)
	if err != nil {
		return err
	}
	defer s.Close()

	planner := parquet.NewColumnPlanner(app.logger)
	chunks, err := planner.Chunks(app.ctx, s, s.Size(), c.Columns)
	if err != nil {
		return err
	}

	ranges := make([]types.Range, len(chunks))
	for i, chunk := range chunks {
		ranges[i] = chunk.Range
	}
	result := s.Blob().Execute(app.ctx, types.NewIOPlan(ranges...))
	if result.State == types.IOPlanFailed {
		return result.Err
	}
	if c.Wait {
		buf := app.buffers.Get(64 << 10)
		err := readRanges(s, ranges, buf)
		app.buffers.Put(buf)
		if err != nil {
			return err
		}
	}

	out := columnsOutput{URI: s.URI().String(), Chunks: chunks, State: result.State.String()}
	if c.Remote {
		r, err := c.prefetchRemote(app, s.URI())
		if err != nil {
			return err
		}
		out.Remote = r.String()
	}
	return writeJSON(app.out, out)
}

func (c *ColumnsCmd) prefetchRemote(app *App, uri types.S3URI) (prefetch.Result, error) {
	client, err := prefetch.New(app.cfg.Prefetch, prefetch.WithLogger(app.logger))
	if err != nil {
		return 0, err
	}
	prefix := path.Dir(uri.Key)
	if prefix == "." || prefix == "/" {
		return 0, errors.InvalidInput("columns", "object %s has no prefix to prefetch", uri)
	}
	return client.PrefetchColumns(app.ctx, uri.Bucket, strings.TrimSuffix(prefix, "/")+"/", c.Columns)
}

func readRanges(r io.ReaderAt, ranges []types.Range, buf []byte) error {
	for _, rng := range ranges {
		for pos := rng.Start; pos <= rng.End; {
			want := min(int64(len(buf)), rng.End-pos+1)
			n, err := r.ReadAt(buf[:want], pos)
			if err != nil && err != io.EOF {
				return err
			}
			if n == 0 {
				break
			}
			pos += int64(n)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
