package types

import (
	"context"
	"io"
)

// ObjectClient is the network client for the object store.
type ObjectClient interface {
	HeadObject(ctx context.Context, req HeadRequest) (ObjectMetadata, error)
	// GetObject returns the body of the requested range. Callers close it.
	GetObject(ctx context.Context, req GetRequest) (io.ReadCloser, error)
	Close() error
}

// Cache is an external key/value store for immutable ranges. Get reports a
// miss with ok == false. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Flush removes every entry.
	Flush(ctx context.Context) error
	Close() error
}

// Executor runs an IOPlan against one object.
type Executor interface {
	Execute(ctx context.Context, plan IOPlan) IOPlanExecution
}
