package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricAggregate summarizes samples recorded for one metric+tags series.
type MetricAggregate struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
}

type series struct {
	count int
	sum   float64
	min   float64
	max   float64
}

// Metrics collects counters, gauges, histograms, and timers. Samples carry
// optional tags; aggregates are exposed per metric+tag series. When a
// Prometheus registry is attached, counters and histograms are mirrored
// into it.
type Metrics struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*series

	promRegistry   *prometheus.Registry
	promCounters   map[string]prometheus.Counter
	promHistograms map[string]prometheus.Histogram
}

// NewMetrics creates a collector with no Prometheus mirroring.
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*series),
	}
}

// WithPrometheus attaches a registry; subsequent counters and histograms
// are mirrored into it. Returns the receiver for chaining.
func (m *Metrics) WithPrometheus(reg *prometheus.Registry) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promRegistry = reg
	m.promCounters = make(map[string]prometheus.Counter)
	m.promHistograms = make(map[string]prometheus.Histogram)
	return m
}

// seriesKey builds a stable key from name and sorted tags.
func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

// Count increments a counter by delta.
func (m *Metrics) Count(name string, delta float64, tags map[string]string) {
	if m == nil {
		return
	}
	key := seriesKey(name, tags)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += delta

	if m.promRegistry != nil {
		c, ok := m.promCounters[key]
		if !ok {
			c = prometheus.NewCounter(prometheus.CounterOpts{
				Name:        sanitizeMetricName(name),
				Help:        name,
				ConstLabels: prometheus.Labels(tags),
			})
			// Registration can only fail on duplicates; keep the local
			// counter either way.
			if err := m.promRegistry.Register(c); err == nil {
				m.promCounters[key] = c
			} else {
				c = nil
			}
		}
		if c != nil {
			c.Add(delta)
		}
	}
}

// Gauge sets a gauge to the given value.
func (m *Metrics) Gauge(name string, value float64, tags map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[seriesKey(name, tags)] = value
}

// Observe records one histogram sample.
func (m *Metrics) Observe(name string, value float64, tags map[string]string) {
	if m == nil {
		return
	}
	key := seriesKey(name, tags)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.histograms[key]
	if !ok {
		s = &series{min: value, max: value}
		m.histograms[key] = s
	}
	s.count++
	s.sum += value
	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}

	if m.promRegistry != nil {
		h, ok := m.promHistograms[key]
		if !ok {
			h = prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:        sanitizeMetricName(name),
				Help:        name,
				ConstLabels: prometheus.Labels(tags),
			})
			if err := m.promRegistry.Register(h); err == nil {
				m.promHistograms[key] = h
			} else {
				h = nil
			}
		}
		if h != nil {
			h.Observe(value)
		}
	}
}

// Time records a duration sample in seconds under name.
func (m *Metrics) Time(name string, d time.Duration, tags map[string]string) {
	m.Observe(name, d.Seconds(), tags)
}

// StartTimer returns a stop function that records the elapsed time.
func (m *Metrics) StartTimer(name string, tags map[string]string) func() {
	start := time.Now()
	return func() {
		m.Time(name, time.Since(start), tags)
	}
}

// CounterValue returns the current value of a counter series.
func (m *Metrics) CounterValue(name string, tags map[string]string) float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, tags)]
}

// GaugeValue returns the current value of a gauge series.
func (m *Metrics) GaugeValue(name string, tags map[string]string) float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[seriesKey(name, tags)]
}

// Aggregate returns the aggregate for a histogram series.
func (m *Metrics) Aggregate(name string, tags map[string]string) MetricAggregate {
	if m == nil {
		return MetricAggregate{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.histograms[seriesKey(name, tags)]
	if !ok || s.count == 0 {
		return MetricAggregate{}
	}
	return MetricAggregate{
		Count: s.count,
		Sum:   s.sum,
		Min:   s.min,
		Mean:  s.sum / float64(s.count),
		Max:   s.max,
	}
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
