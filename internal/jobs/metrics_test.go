package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerEnd(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("rbac:template_sync").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("rbac:template_sync").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rbac:template_sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rbac:template_sync", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rbac:template_sync")))
}

func TestAddGrants(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddGrants("role", 3)
	m.AddGrants("role", 2)
	m.AddGrants("domain", 0)
	m.AddGrants("", 1)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.grants.WithLabelValues("role")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.grants.WithLabelValues("domain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("unknown")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddGrants("role", 1)
	assert.NoError(t, m.Track("job").End(nil))
}
