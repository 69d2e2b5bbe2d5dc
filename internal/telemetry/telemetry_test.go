package telemetry_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/telemetry"
)

func TestMetrics_RecordAdmittedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordAdmitted()
	m.RecordAdmitted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.URLsAdmittedTotal))
}

func TestMetrics_RecordDroppedTracksPerReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordDropped("trap_blocked")
	m.RecordDropped("trap_blocked")
	m.RecordDropped("max_depth")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.URLsDroppedTotal.WithLabelValues("trap_blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.URLsDroppedTotal.WithLabelValues("max_depth")))
}

func TestMetrics_RecordDuplicateTracksPerTier(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordDuplicate("url")
	m.RecordDuplicate("exact")
	m.RecordDuplicate("exact")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesTotal.WithLabelValues("url")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DuplicatesTotal.WithLabelValues("exact")))
}

func TestMetrics_RecordTrapTracksPerKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordTrap("calendar_trap")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrapsTotal.WithLabelValues("calendar_trap")))
}

func TestMetrics_GaugesReflectLastSetValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.SetQueueDepth(42)
	m.SetInflight(7)
	m.SetHostsParked(2)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Inflight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HostsParked))
}

func TestMetrics_RecordFetchObservesDurationAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordFetch("200", "http", 0.25)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("200", "http")))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	m.RecordAdmitted()

	h := telemetry.Handler(reg)
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	h.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "crawler_urls_admitted_total")
	assert.True(t, strings.Contains(rec.Body.String(), "1"))
}
