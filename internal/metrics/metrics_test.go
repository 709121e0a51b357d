package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BondingResult("success")
	m.BondingResult("success")
	m.SetupResponse("invalid-source")
	m.SessionAdded()
	m.SessionAdded()
	m.SessionRemoved()

	assert.InDelta(t, 2, testutil.ToFloat64(m.bonding.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.setup.WithLabelValues("invalid-source")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessions), 0)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.BondingResult("x")
	m.BrowseResult("x")
	m.AuthRequest("x")
	m.SetupResponse("x")
	m.SessionAdded()
	m.SessionRemoved()
}
