package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot healthauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() healthauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: healthauth.MetricsSnapshot{
			Counters: map[healthauth.MetricID]uint64{
				healthauth.MetricLoginSuccess:         7,
				healthauth.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[healthauth.MetricID][]uint64{
				healthauth.MetricCredentialVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[healthauth.MetricID]float64{
				healthauth.MetricCredentialVerifyLatency: 4.5,
			},
		},
		dropped: 2,
	}
}

func TestCollectorDisabledMetricsExportsOnlyAuditDrops(t *testing.T) {
	c, err := NewCollectorFromSource(fakeSource{snapshot: healthauth.MetricsSnapshot{}})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestCollectorCounters(t *testing.T) {
	c, err := NewCollectorFromSource(populated())
	require.NoError(t, err)

	expected := `
# HELP healthauth_login_success_total Successful password logins.
# TYPE healthauth_login_success_total counter
healthauth_login_success_total 7
# HELP healthauth_audit_dropped_total Audit events dropped under dispatcher backpressure.
# TYPE healthauth_audit_dropped_total counter
healthauth_audit_dropped_total 2
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"healthauth_login_success_total", "healthauth_audit_dropped_total")
	require.NoError(t, err)
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c, err := NewCollectorFromSource(populated())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "healthauth_credential_verify_latency_seconds" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(36), h.GetSampleCount())
		assert.InDelta(t, 4.5, h.GetSampleSum(), 1e-9)
		buckets := h.GetBucket()
		require.Len(t, buckets, len(healthauth.HistogramBounds))
		assert.Equal(t, 0.005, buckets[0].GetUpperBound())
		assert.Equal(t, uint64(1), buckets[0].GetCumulativeCount())
		assert.Equal(t, uint64(28), buckets[len(buckets)-1].GetCumulativeCount())
	}
	assert.True(t, found, "histogram family missing")
}

func TestHandlerServesTextFormat(t *testing.T) {
	c, err := NewCollectorFromSource(populated())
	require.NoError(t, err)
	h, err := Handler(c)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "healthauth_refresh_reuse_detected_total 1")
	assert.Contains(t, out, `healthauth_credential_verify_latency_seconds_bucket{le="+Inf"} 36`)
}

func TestNilSourceRejected(t *testing.T) {
	_, err := NewCollectorFromSource(nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewCollector(nil)
	assert.ErrorIs(t, err, ErrNilSource)
}
