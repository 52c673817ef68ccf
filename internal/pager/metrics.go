package pager

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts buffer pool traffic.
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	WriteBacks prometheus.Counter
}

// NewMetrics builds the buffer pool counters and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heapdb",
			Subsystem: "buffer_pool",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Hits:       counter("hits_total", "Fetches served by a resident frame."),
		Misses:     counter("misses_total", "Fetches that had to read the page from the store."),
		Evictions:  counter("evictions_total", "Loaded frames reused for another page."),
		WriteBacks: counter("write_backs_total", "Dirty frames written back to the store."),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.Hits, m.Misses, m.Evictions, m.WriteBacks} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) wroteBack() {
	if m != nil {
		m.WriteBacks.Inc()
	}
}
