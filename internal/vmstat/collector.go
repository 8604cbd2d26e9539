package vmstat

import "github.com/prometheus/client_golang/prometheus"

const namespace = "vm"

// Collector adapts Stats, plus two live-sampling callbacks, into a
// prometheus.Collector, matching the pack's systemd_exporter
// collector pattern (one *prometheus.Desc per metric, built once in
// the constructor, emitted fresh on every scrape in Collect).
type Collector struct {
	stats *Stats

	// FramesFree and SlotOccupancy are sampled at scrape time rather
	// than accumulated, since they reflect current pool state, not an
	// event count.
	FramesFree    func() int
	SlotOccupancy func() (used, total uint32)

	faultsDesc    *prometheus.Desc
	evictionsDesc *prometheus.Desc
	framesDesc    *prometheus.Desc
	slotsUsedDesc *prometheus.Desc
	slotsDesc     *prometheus.Desc
}

// NewCollector builds a Collector over stats. framesFree and
// slotOccupancy may be nil, in which case those two gauges are
// omitted from every scrape.
func NewCollector(stats *Stats, framesFree func() int, slotOccupancy func() (used, total uint32)) *Collector {
	return &Collector{
		stats:         stats,
		FramesFree:    framesFree,
		SlotOccupancy: slotOccupancy,
		faultsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "faults_total"),
			"Page faults handled, by kind.", []string{"kind"}, nil,
		),
		evictionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "evictions_total"),
			"Frames evicted to the backing store.", nil, nil,
		),
		framesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_free"),
			"Physical frames currently on the free list.", nil, nil,
		),
		slotsUsedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slots_used"),
			"Backing-store swap slots currently occupied.", nil, nil,
		),
		slotsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slots_total"),
			"Total backing-store swap slots.", nil, nil,
		),
	}
}

// Describe gathers descriptions of metrics.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.faultsDesc
	ch <- c.evictionsDesc
	ch <- c.framesDesc
	ch <- c.slotsUsedDesc
	ch <- c.slotsDesc
}

// Collect samples every counter and gauge for one scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for k := FaultLazyAlloc; k < faultKindCount; k++ {
		ch <- prometheus.MustNewConstMetric(c.faultsDesc, prometheus.CounterValue, float64(c.stats.FaultCount(k)), k.String())
	}
	ch <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(c.stats.Evictions.Get()))

	if c.FramesFree != nil {
		ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.GaugeValue, float64(c.FramesFree()))
	}
	if c.SlotOccupancy != nil {
		used, total := c.SlotOccupancy()
		ch <- prometheus.MustNewConstMetric(c.slotsUsedDesc, prometheus.GaugeValue, float64(used))
		ch <- prometheus.MustNewConstMetric(c.slotsDesc, prometheus.GaugeValue, float64(total))
	}
}
