package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.PhasesStarted.Inc()
	m.PhasesStarted.Inc()
	m.PhasesBlocked.Inc()
	m.ApprovalsPending.Set(3)
	m.AlertsRaised.WithLabelValues("UPSTREAM_CHANGED").Inc()
	m.MessagesFiltered.WithLabelValues("DUPLICATE").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PhasesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhasesBlocked))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ApprovalsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRaised.WithLabelValues("UPSTREAM_CHANGED")))
}

func TestSeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.PhasesCompleted.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PhasesCompleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PhasesCompleted))
}
