package prommetrics

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tierstore"
	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/directory"
)

func TestCollector_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.RecordOpen(tierstore.OpenCache, time.Millisecond, nil)
	c.RecordOpen(tierstore.OpenBlock, time.Millisecond, nil)
	c.RecordOpen("", time.Millisecond, errors.New("boom"))
	c.RecordAfterUpload(3, time.Millisecond, nil)
	c.RecordFetch(4096, time.Millisecond, nil)
	c.RecordFetch(0, time.Millisecond, errors.New("boom"))
	c.RecordEviction(1000)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.opens.WithLabelValues("cache", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opens.WithLabelValues("block", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opens.WithLabelValues("none", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.uploadedFiles))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.fetchBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evictions))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.evictedBytes))

	n, err := testutil.GatherAndCount(reg, "tierstore_opens_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}

func TestCollector_WithDirectory(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	dir, err := tierstore.Open(ctx, t.TempDir(), blobstore.NewMemoryStore(),
		tierstore.WithMetricsCollector(c),
		tierstore.WithResidentSizeLimit(1),
	)
	require.NoError(t, err)
	defer dir.Close()

	out, err := dir.CreateOutput("_0.cfs", directory.IOContextFlush)
	require.NoError(t, err)
	_, err = out.Write(make([]byte, 20_000))
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.NoError(t, dir.Flush(ctx, []string{"_0.cfs"}))

	in, err := dir.OpenInput("_0.cfs", directory.IOContextDefault)
	require.NoError(t, err)
	_, err = io.ReadAll(in)
	require.NoError(t, err)
	require.NoError(t, in.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.opens.WithLabelValues("block", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.afterUploads.WithLabelValues("success")))
	assert.Equal(t, 20_000.0, testutil.ToFloat64(c.fetchBytes))
}
