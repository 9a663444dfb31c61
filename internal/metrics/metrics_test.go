package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordFetch("cache", "hit")
	m.RecordFetch("cache", "hit")
	m.RecordFetch("remote", "not_found")
	m.SetRateRemaining(42)
	m.RecordClassification("DEV")
	m.RecordItemFailure("rate_limited")
	m.ObserveBatch(2 * time.Second)
	m.RecordLearning("ok")
	m.AddCacheInvalidated(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("cache", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("remote", "not_found")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.RateRemaining))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheInvalidated))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetch("remote", "ok")
		m.SetRateRemaining(1)
		m.WorkerBusy(1)
		m.ObserveBatch(time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordClassification("WEB")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `classifyhub_classifications_total{class="WEB"} 1`)
}
