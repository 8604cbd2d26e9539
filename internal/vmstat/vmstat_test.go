package vmstat

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRecordFaultIncrementsRightCounter(t *testing.T) {
	s := New()
	s.RecordFault(FaultLazyAlloc)
	s.RecordFault(FaultLazyAlloc)
	s.RecordFault(FaultCowSplit)

	require.EqualValues(t, 2, s.FaultCount(FaultLazyAlloc))
	require.EqualValues(t, 1, s.FaultCount(FaultCowSplit))
	require.EqualValues(t, 0, s.FaultCount(FaultSwapIn))
}

func TestRecordEviction(t *testing.T) {
	s := New()
	s.RecordEviction()
	s.RecordEviction()
	require.EqualValues(t, 2, s.Evictions.Get())
}

func TestCollectorEmitsOneMetricPerFaultKindPlusGauges(t *testing.T) {
	s := New()
	s.RecordFault(FaultSwapIn)
	s.RecordEviction()

	c := NewCollector(s, func() int { return 7 }, func() (uint32, uint32) { return 2, 4 })

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	var nDescs int
	for range descs {
		nDescs++
	}
	require.Equal(t, 5, nDescs)

	metrics := make(chan prometheus.Metric, 16)
	c.Collect(metrics)
	close(metrics)
	var nMetrics int
	for range metrics {
		nMetrics++
	}
	// 3 fault kinds + evictions + frames_free + 2 slot gauges.
	require.Equal(t, 7, nMetrics)
}

func TestCollectorOmitsGaugesWhenCallbacksNil(t *testing.T) {
	s := New()
	c := NewCollector(s, nil, nil)

	metrics := make(chan prometheus.Metric, 16)
	c.Collect(metrics)
	close(metrics)
	var nMetrics int
	for range metrics {
		nMetrics++
	}
	require.Equal(t, 4, nMetrics) // 3 fault kinds + evictions only
}
