package physical

import (
	"context"
	"io"
	"log/slog"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// Blob is the read surface of one object version: synchronous reads backed
// by a BlockManager plus fire-and-forget prefetch plans.
type Blob struct {
	key      types.ObjectKey
	metadata types.ObjectMetadata
	manager  *BlockManager
	shared   *Shared
	logger   *slog.Logger
}

// NewBlob wraps manager.
func NewBlob(key types.ObjectKey, metadata types.ObjectMetadata, manager *BlockManager, shared *Shared) *Blob {
	return &Blob{
		key:      key,
		metadata: metadata,
		manager:  manager,
		shared:   shared,
		logger:   shared.logger().With("component", "blob", "uri", key.URI.String()),
	}
}

// Key returns the object version this blob reads.
func (b *Blob) Key() types.ObjectKey { return b.key }

// Metadata returns the object metadata.
func (b *Blob) Metadata() types.ObjectMetadata { return b.metadata }

// Size returns the content length.
func (b *Blob) Size() int64 { return b.metadata.ContentLength }

// ReadByte returns the byte at pos, or io.EOF at or past the end.
func (b *Blob) ReadByte(ctx context.Context, pos int64) (byte, error) {
	if pos < 0 {
		return 0, errors.InvalidInput("read", "position %d is negative", pos)
	}
	if pos >= b.metadata.ContentLength {
		return 0, io.EOF
	}
	if err := b.manager.MakePositionAvailable(pos, types.ReadModeSync); err != nil {
		return 0, err
	}
	block, ok := b.manager.GetBlock(pos)
	if !ok {
		return 0, b.missingBlock(pos)
	}
	return block.ReadByte(ctx, pos)
}

// Read copies up to length bytes starting at pos into buf[off:]. It returns
// fewer bytes when the object ends first and (0, io.EOF) when pos is at or
// past the end.
func (b *Blob) Read(ctx context.Context, buf []byte, off, length int, pos int64) (int, error) {
	switch {
	case pos < 0:
		return 0, errors.InvalidInput("read", "position %d is negative", pos)
	case off < 0:
		return 0, errors.InvalidInput("read", "buffer offset %d is negative", off)
	case length < 0:
		return 0, errors.InvalidInput("read", "length %d is negative", length)
	case off >= len(buf):
		return 0, errors.InvalidInput("read", "buffer offset %d is beyond buffer length %d", off, len(buf))
	}
	if pos >= b.metadata.ContentLength {
		return 0, io.EOF
	}
	length = min(length, len(buf)-off)
	if length == 0 {
		return 0, nil
	}

	if err := b.manager.MakeRangeAvailable(pos, int64(length), types.RangeTypeBlock, types.ReadModeSync); err != nil {
		return 0, err
	}

	copied := 0
	next := pos
	for copied < length && next < b.metadata.ContentLength {
		block, ok := b.manager.GetBlock(next)
		if !ok {
			return copied, b.missingBlock(next)
		}
		n, err := block.Read(ctx, buf, off+copied, length-copied, next)
		if err != nil {
			return copied, err
		}
		if n == 0 {
			break
		}
		copied += n
		next += int64(n)
	}
	return copied, nil
}

// ReadAt fills p from pos, following io.ReaderAt semantics.
func (b *Blob) ReadAt(ctx context.Context, p []byte, pos int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.Read(ctx, p, 0, len(p), pos)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Execute schedules every range of plan asynchronously and returns without
// waiting for the fetches.
func (b *Blob) Execute(ctx context.Context, plan types.IOPlan) types.IOPlanExecution {
	telemetry := b.shared.telemetry()
	if plan.Empty() {
		telemetry.PlanExecuted(types.IOPlanSkipped)
		return types.IOPlanExecution{State: types.IOPlanSkipped}
	}

	for _, r := range plan.Ranges {
		if err := ctx.Err(); err != nil {
			return b.failPlan(errors.FromContext(err, "execute"))
		}
		if err := b.manager.MakeRangeAvailable(r.Start, r.Length(), r.Type, types.ReadModeAsync); err != nil {
			return b.failPlan(err)
		}
	}

	telemetry.PlanExecuted(types.IOPlanSubmitted)
	b.logger.Debug("submitted io plan", "ranges", len(plan.Ranges))
	return types.IOPlanExecution{State: types.IOPlanSubmitted}
}

func (b *Blob) failPlan(err error) types.IOPlanExecution {
	b.shared.telemetry().PlanExecuted(types.IOPlanFailed)
	b.logger.Warn("io plan submission failed", "error", err)
	return types.IOPlanExecution{State: types.IOPlanFailed, Err: err}
}

func (b *Blob) missingBlock(pos int64) error {
	return errors.Newf(errors.ErrCodeInvalidState, "no block covers position %d after planning", pos).
		WithComponent("blob").WithOperation("read")
}

// Close closes the underlying manager and its blocks.
func (b *Blob) Close() error {
	return b.manager.Close()
}
