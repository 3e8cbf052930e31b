package metrics

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// Collector records block layer events into a private Prometheus registry
// and keeps per-source totals for the debug endpoint and the CLI.
type Collector struct {
	mu       sync.RWMutex
	config   config.MetricsConfig
	registry *prometheus.Registry
	logger   *slog.Logger

	blocksCreated  *prometheus.CounterVec
	generation     prometheus.Histogram
	fetchCounter   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	fetchSize      *prometheus.HistogramVec
	retryCounter   *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec
	cacheWriteFail prometheus.Counter
	planCounter    *prometheus.CounterVec
	errorCounter   *prometheus.CounterVec

	sources   map[string]*SourceMetrics
	blocks    int64
	lastReset time.Time

	server *http.Server
}

// SourceMetrics tracks fetches served by one source (cache or s3).
type SourceMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalBytes    int64         `json:"total_bytes"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastFetch     time.Time     `json:"last_fetch"`
}

// Snapshot is a point-in-time copy of the collector's totals.
type Snapshot struct {
	BlocksCreated int64                    `json:"blocks_created"`
	Sources       map[string]SourceMetrics `json:"sources"`
	Uptime        time.Duration            `json:"uptime"`
}

// NewCollector creates a collector. A disabled collector accepts every call
// and records nothing.
func NewCollector(cfg config.MetricsConfig, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "accelerator"
	}

	c := &Collector{
		config:    cfg,
		logger:    logger,
		sources:   make(map[string]*SourceMetrics),
		lastReset: time.Now(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Registry exposes the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the registry on port until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context, port int) error {
	if !c.config.Enabled || port <= 0 {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.NewError(errors.ErrCodeInitializationFailed, "failed to listen for metrics").
			WithComponent("metrics").
			WithCause(err)
	}

	c.mu.Lock()
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	c.logger.Info("metrics server started", "addr", ln.Addr().String(), "path", c.config.Path)
	return nil
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the metrics, health and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/metrics", c.debugMetricsHandler)
	return mux
}

// BlockCreated records a new block and its sequential generation.
func (c *Collector) BlockCreated(rangeType types.RangeType, mode types.ReadMode, generation int64) {
	c.mu.Lock()
	c.blocks++
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	c.blocksCreated.With(prometheus.Labels{
		"range_type": rangeType.String(),
		"mode":       mode.String(),
	}).Inc()
	c.generation.Observe(float64(generation))
}

// BlockFetched records one completed block fetch.
func (c *Collector) BlockFetched(rangeType types.RangeType, source string, bytes int, elapsed time.Duration, err error) {
	c.mu.Lock()
	m, ok := c.sources[source]
	if !ok {
		m = &SourceMetrics{}
		c.sources[source] = m
	}
	m.Count++
	m.TotalDuration += elapsed
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastFetch = time.Now()
	if err != nil {
		m.Errors++
	} else {
		m.TotalBytes += int64(bytes)
	}
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.With(prometheus.Labels{
			"operation": "fetch",
			"code":      classifyError(err),
		}).Inc()
	}
	c.fetchCounter.With(prometheus.Labels{
		"range_type": rangeType.String(),
		"source":     source,
		"status":     status,
	}).Inc()
	c.fetchDuration.With(prometheus.Labels{"source": source}).Observe(elapsed.Seconds())
	if err == nil && bytes > 0 {
		c.fetchSize.With(prometheus.Labels{"source": source}).Observe(float64(bytes))
	}
}

// FetchRetried records a retried fetch attempt.
func (c *Collector) FetchRetried(rangeType types.RangeType) {
	if !c.config.Enabled {
		return
	}
	c.retryCounter.With(prometheus.Labels{"range_type": rangeType.String()}).Inc()
}

// CacheLookup records an external cache hit, miss or error.
func (c *Collector) CacheLookup(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// CacheWriteFailed records a failed cache population.
func (c *Collector) CacheWriteFailed() {
	if !c.config.Enabled {
		return
	}
	c.cacheWriteFail.Inc()
}

// PlanExecuted records the outcome of an IO plan.
func (c *Collector) PlanExecuted(state types.IOPlanState) {
	if !c.config.Enabled {
		return
	}
	c.planCounter.With(prometheus.Labels{"state": state.String()}).Inc()
}

// Snapshot returns current totals.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sources := make(map[string]SourceMetrics, len(c.sources))
	for k, v := range c.sources {
		sources[k] = *v
	}
	return Snapshot{
		BlocksCreated: c.blocks,
		Sources:       sources,
		Uptime:        time.Since(c.lastReset),
	}
}

// ResetMetrics clears the per-source totals. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources = make(map[string]*SourceMetrics)
	c.blocks = 0
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.blocksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "blocks_created_total",
			Help:      "Total number of blocks created",
		},
		[]string{"range_type", "mode"},
	)

	c.generation = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "block_generation",
			Help:      "Sequential generation of created blocks",
			Buckets:   prometheus.LinearBuckets(0, 1, 12),
		},
	)

	c.fetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "block_fetches_total",
			Help:      "Total number of block fetches",
		},
		[]string{"range_type", "source", "status"},
	)

	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "block_fetch_duration_seconds",
			Help:      "Duration of block fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"source"},
	)

	c.fetchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "block_fetch_size_bytes",
			Help:      "Size of fetched blocks in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
		},
		[]string{"source"},
	)

	c.retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "block_fetch_retries_total",
			Help:      "Total number of retried block fetch attempts",
		},
		[]string{"range_type"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_requests_total",
			Help:      "Total number of external cache lookups",
		},
		[]string{"outcome"},
	)

	c.cacheWriteFail = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_write_failures_total",
			Help:      "Total number of failed external cache writes",
		},
	)

	c.planCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "io_plans_total",
			Help:      "Total number of executed IO plans",
		},
		[]string{"state"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.blocksCreated,
		c.generation,
		c.fetchCounter,
		c.fetchDuration,
		c.fetchSize,
		c.retryCounter,
		c.cacheRequests,
		c.cacheWriteFail,
		c.planCounter,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	if code, ok := errors.CodeOf(err); ok {
		return string(code)
	}
	return "other"
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"accelerator-metrics"}`))
}

func (c *Collector) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.NewEncoder(w).Encode(c.Snapshot()); err != nil {
		c.logger.Debug("failed to write debug metrics", "error", err)
	}
}
