// Package prefetch talks to the remote column prefetching server, which
// warms the external cache with whole Parquet columns for every file under
// a prefix.
package prefetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/retry"
)

const component = "prefetch"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is the body POSTed to <server>/prefetch.
type Request struct {
	Bucket  string   `json:"bucket"`
	Prefix  string   `json:"prefix"`
	Columns []string `json:"columns"`
}

// Result says what the server did with a request.
type Result int

const (
	// ResultUnchanged means every column was already prefetched (200).
	ResultUnchanged Result = iota
	// ResultAccepted means new columns are being fetched in the background (202).
	ResultAccepted
)

func (r Result) String() string {
	if r == ResultAccepted {
		return "accepted"
	}
	return "unchanged"
}

// Client posts column prefetch requests.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retryer    *retry.Retryer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retryer = retry.New(cfg) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for cfg.ServerURL.
func New(cfg config.PrefetchConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if base == "" {
		return nil, errors.InvalidInput("prefetch.new", "prefetch server url is empty").WithComponent(component)
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.InvalidInput("prefetch.new", "prefetch server url %q is not absolute", cfg.ServerURL).WithComponent(component)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		endpoint:   base + "/prefetch",
		httpClient: &http.Client{Timeout: timeout},
		retryer: retry.New(retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", component)
	return c, nil
}

// PrefetchColumns asks the server to warm columns for every Parquet file
// under bucket/prefix. Duplicate column names are sent once.
func (c *Client) PrefetchColumns(ctx context.Context, bucket, prefix string, columns []string) (Result, error) {
	req := Request{Bucket: bucket, Prefix: prefix, Columns: uniqueColumns(columns)}
	switch {
	case req.Bucket == "":
		return 0, errors.InvalidInput("prefetch.columns", "bucket is empty").WithComponent(component)
	case req.Prefix == "":
		return 0, errors.InvalidInput("prefetch.columns", "prefix is empty").WithComponent(component)
	case len(req.Columns) == 0:
		return 0, errors.InvalidInput("prefetch.columns", "no columns requested").WithComponent(component)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeInternalError, "failed to encode prefetch request").
			WithComponent(component).
			WithCause(err)
	}

	var result Result
	err = c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.post(ctx, body)
		return err
	})
	if err != nil {
		c.logger.Warn("column prefetch request failed", "bucket", bucket, "prefix", prefix, "error", err)
		return 0, err
	}

	c.logger.Debug("column prefetch request sent", "bucket", bucket, "prefix", prefix,
		"columns", len(req.Columns), "result", result.String())
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeInternalError, "failed to build prefetch request").
			WithComponent(component).
			WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, errors.FromContext(ctxErr, "prefetch.columns").WithComponent(component)
		}
		return 0, errors.NewError(errors.ErrCodeNetworkError, "prefetch server unreachable").
			WithComponent(component).
			WithCause(err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return ResultUnchanged, nil
	case resp.StatusCode == http.StatusAccepted:
		return ResultAccepted, nil
	case resp.StatusCode >= 500:
		return 0, errors.Newf(errors.ErrCodeNetworkError, "prefetch server returned %d", resp.StatusCode).
			WithComponent(component).
			WithDetail("body", strings.TrimSpace(string(msg)))
	default:
		return 0, errors.Newf(errors.ErrCodeValidationFailed, "prefetch server rejected request with %d", resp.StatusCode).
			WithComponent(component).
			WithDetail("body", strings.TrimSpace(string(msg)))
	}
}

func uniqueColumns(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
