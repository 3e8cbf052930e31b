package s3

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// RefererHeader carries the request correlation token.
const RefererHeader = "Referer"

// API is the subset of the S3 client used for reads. It is satisfied by
// *s3.Client and by test doubles.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client implements types.ObjectClient on top of the S3 API.
type Client struct {
	api            API
	requestTimeout time.Duration
	metrics        *RequestRecorder
	logger         *slog.Logger
	closed         atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds metadata requests. Range reads are bounded by
// the caller's context instead, since a deadline would also cut off the
// body stream.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder shares a request recorder between clients.
func WithRecorder(m *RequestRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New wraps api.
func New(api API, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.InvalidInput("new_client", "s3 api is required")
	}
	c := &Client{
		api:     api,
		metrics: NewRequestRecorder(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "s3")
	return c, nil
}

// HeadObject returns the metadata of the current object version.
func (c *Client) HeadObject(ctx context.Context, req types.HeadRequest) (types.ObjectMetadata, error) {
	if err := c.checkOpen("head_object"); err != nil {
		return types.ObjectMetadata{}, err
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(req.URI.Bucket),
		Key:    aws.String(req.URI.Key),
	})
	if err != nil {
		err = translateError(opHead, req.URI, err)
	}
	c.metrics.Observe(opHead, started, err)
	if err != nil {
		return types.ObjectMetadata{}, err
	}

	return types.ObjectMetadata{
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          aws.ToString(out.ETag),
		LastModified:  aws.ToTime(out.LastModified),
		ContentType:   aws.ToString(out.ContentType),
	}, nil
}

// GetObject streams one byte range. When the request names an ETag the read
// fails if the object has changed since.
func (c *Client) GetObject(ctx context.Context, req types.GetRequest) (io.ReadCloser, error) {
	if err := c.checkOpen("get_object"); err != nil {
		return nil, err
	}
	if req.Range.Start < 0 || req.Range.End < req.Range.Start {
		return nil, errors.InvalidInput("get_object", "invalid range %s", req.Range)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(req.URI.Bucket),
		Key:    aws.String(req.URI.Key),
		Range:  aws.String(req.Range.HTTPRange()),
	}
	if req.ETag != "" {
		input.IfMatch = aws.String(req.ETag)
	}

	referrer := req.Referrer.String()
	started := time.Now()
	out, err := c.api.GetObject(ctx, input, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, smithyhttp.AddHeaderValue(RefererHeader, referrer))
	})
	if err != nil {
		c.logger.Debug("range request failed", "uri", req.URI.String(), "range", req.Range.String(), "error", err)
		err = translateError(opGet, req.URI, err)
	}
	c.metrics.Observe(opGet, started, err)
	if err != nil {
		return nil, err
	}
	return &countingBody{ReadCloser: out.Body, metrics: c.metrics}, nil
}

// Stats returns request counters.
func (c *Client) Stats() RequestStats {
	return c.metrics.Snapshot()
}

// Close marks the client closed. The SDK client holds no resources that
// need releasing.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Client) checkOpen(op string) error {
	if c.closed.Load() {
		return errors.NewError(errors.ErrCodeComponentStopped, "s3 client is closed").
			WithComponent("s3").WithOperation(op)
	}
	return nil
}

type countingBody struct {
	io.ReadCloser
	metrics *RequestRecorder
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.metrics.AddBytes(int64(n))
	}
	return n, err
}

// translateError maps S3 failures onto error codes. Missing objects,
// denied access and changed versions are permanent; everything else is
// treated as a transient network failure.
func translateError(op string, uri types.S3URI, err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.FromContext(err, op).WithComponent("s3").WithDetail("uri", uri.String())
	}

	code := errors.ErrCodeNetworkError
	message := "s3 request failed"

	var nsk *s3types.NoSuchKey
	var notFound *s3types.NotFound
	var apiErr smithy.APIError
	switch {
	case stderrors.As(err, &nsk), stderrors.As(err, &notFound):
		code, message = errors.ErrCodeObjectNotFound, "object not found"
	case stderrors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
			code, message = errors.ErrCodeObjectNotFound, "object not found"
		case "AccessDenied", "Forbidden", "403":
			code, message = errors.ErrCodeAccessDenied, "access denied"
		case "PreconditionFailed", "412":
			code, message = errors.ErrCodeObjectNotFound, "object changed since it was opened"
		case "InvalidRange", "416":
			code, message = errors.ErrCodeValidationFailed, "requested range is not satisfiable"
		}
	}

	return errors.NewError(code, message).
		WithComponent("s3").
		WithOperation(op).
		WithDetail("uri", uri.String()).
		WithCause(err)
}
