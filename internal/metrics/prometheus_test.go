package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSource(3)
	m.RecordPlan(10, 4)
	m.RecordConnect(nil)
	m.RecordConnect(errors.New("refused"))
	m.RecordConnect(errors.New("refused"))
	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("COMPLETE")
	m.RecordUnitSent("10.0.0.1:7000", 128, 0.01)
	m.RecordUnitOutcome("completed")
	m.RecordReroute()
	m.RecordRun(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SourceFilesTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.PartitionsRoutedTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PlanUnitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttemptsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("COMPLETE")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.BytesSentTotal.WithLabelValues("10.0.0.1:7000")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReroutesTotal))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two runs in one process must not collide on registration
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.RecordReroute()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ReroutesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ReroutesTotal))
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSource(1)
		m.RecordPlan(1, 1)
		m.RecordConnect(nil)
		m.SessionStarted()
		m.SessionFinished("FAILED")
		m.RecordUnitSent("x", 1, 1)
		m.RecordUnitOutcome("failed")
		m.RecordReroute()
		m.RecordRun(1)
	})
	assert.Nil(t, m.Registry())
}
