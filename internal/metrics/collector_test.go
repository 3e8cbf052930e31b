package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

func newEnabled(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(config.MetricsConfig{Enabled: true, Namespace: "test"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		c := newEnabled(t)
		assert.NotNil(t, c.Registry())
		assert.Equal(t, "/metrics", c.config.Path)
	})

	t.Run("disabled records nothing to prometheus", func(t *testing.T) {
		c, err := NewCollector(config.MetricsConfig{}, nil)
		require.NoError(t, err)
		assert.Nil(t, c.Registry())
		assert.Equal(t, "accelerator", c.config.Namespace)

		c.BlockCreated(types.RangeTypeBlock, types.ReadModeSync, 0)
		c.BlockFetched(types.RangeTypeBlock, "s3", 10, time.Millisecond, nil)
		c.FetchRetried(types.RangeTypeBlock)
		c.CacheLookup("hit")
		c.CacheWriteFailed()
		c.PlanExecuted(types.IOPlanSubmitted)

		assert.Equal(t, int64(1), c.Snapshot().BlocksCreated)
		require.NoError(t, c.Start(context.Background(), 9999))
		require.NoError(t, c.Stop(context.Background()))
	})
}

func TestCollector_BlockEvents(t *testing.T) {
	t.Parallel()

	c := newEnabled(t)
	c.BlockCreated(types.RangeTypeBlock, types.ReadModeSync, 0)
	c.BlockCreated(types.RangeTypeBlock, types.ReadModeSync, 2)
	c.BlockCreated(types.RangeTypeFooterMetadata, types.ReadModeAsync, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.blocksCreated.WithLabelValues("block", types.ReadModeSync.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.blocksCreated.WithLabelValues("footer_metadata", types.ReadModeAsync.String())))
	assert.Equal(t, 1, testutil.CollectAndCount(c.generation))
	assert.Equal(t, int64(3), c.Snapshot().BlocksCreated)
}

func TestCollector_BlockFetched(t *testing.T) {
	t.Parallel()

	c := newEnabled(t)
	c.BlockFetched(types.RangeTypeBlock, "s3", 100, 10*time.Millisecond, nil)
	c.BlockFetched(types.RangeTypeBlock, "s3", 0, 30*time.Millisecond,
		errors.NewError(errors.ErrCodeNetworkError, "reset"))
	c.BlockFetched(types.RangeTypeFooterMetadata, "cache", 50, time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchCounter.WithLabelValues("block", "s3", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchCounter.WithLabelValues("block", "s3", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("fetch", "NETWORK_ERROR")))

	snap := c.Snapshot()
	s3 := snap.Sources["s3"]
	assert.Equal(t, int64(2), s3.Count)
	assert.Equal(t, int64(1), s3.Errors)
	assert.Equal(t, int64(100), s3.TotalBytes)
	assert.Equal(t, 20*time.Millisecond, s3.AvgDuration)
	assert.Equal(t, int64(50), snap.Sources["cache"].TotalBytes)

	c.ResetMetrics()
	assert.Empty(t, c.Snapshot().Sources)
}

func TestCollector_CacheAndPlans(t *testing.T) {
	t.Parallel()

	c := newEnabled(t)
	for _, outcome := range []string{"hit", "hit", "miss", "error"} {
		c.CacheLookup(outcome)
	}
	c.CacheWriteFailed()
	c.FetchRetried(types.RangeTypeBlock)
	c.PlanExecuted(types.IOPlanSubmitted)
	c.PlanExecuted(types.IOPlanSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheWriteFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryCounter.WithLabelValues("block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.planCounter.WithLabelValues(types.IOPlanSkipped.String())))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OBJECT_NOT_FOUND", classifyError(errors.NewError(errors.ErrCodeObjectNotFound, "gone")))
	assert.Equal(t, "other", classifyError(fmt.Errorf("plain")))
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := newEnabled(t)
	c.BlockFetched(types.RangeTypeBlock, "s3", 64, time.Millisecond, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "test_block_fetches_total"), body)

	status, body = get("/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "healthy")

	status, body = get("/debug/metrics")
	assert.Equal(t, http.StatusOK, status)
	var snap Snapshot
	require.NoError(t, jsoniter.UnmarshalFromString(body, &snap))
	assert.Equal(t, int64(64), snap.Sources["s3"].TotalBytes)
}

func TestCollector_StartStop(t *testing.T) {
	t.Parallel()

	c := newEnabled(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Port zero is treated as "no server".
	require.NoError(t, c.Start(ctx, 0))
	require.NoError(t, c.Stop(context.Background()))
}
