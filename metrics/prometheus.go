package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a CounterSet to a prometheus registry, so a process
// building many tables can aggregate build statistics without the builder
// knowing about the registry.
type Collector struct {
	set   *CounterSet
	descs [countEnumSize]*prometheus.Desc
}

func NewCollector(set *CounterSet, constLabels prometheus.Labels) *Collector {
	c := &Collector{set: set}
	for i := SstCounter(0); i < countEnumSize; i++ {
		c.descs[i] = prometheus.NewDesc(
			prometheus.BuildFQName("gosstable", "builder", counterNames[i]+"_total"),
			"sstable builder counter "+counterNames[i],
			nil,
			constLabels,
		)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i := SstCounter(0); i < countEnumSize; i++ {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.CounterValue, float64(c.set.Value(i)))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
