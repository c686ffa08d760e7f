package cache

import (
	"sync"
	"time"
)

// TimingStats aggregates recorded samples for one named metric.
type TimingStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
	Total time.Duration `json:"total"`
}

// PerfMonitor records named timing samples and counters. It is safe for
// concurrent use.
type PerfMonitor struct {
	mu       sync.Mutex
	timings  map[string][]time.Duration
	counters map[string]int64
	now      func() time.Time
}

// NewPerfMonitor creates an empty monitor.
func NewPerfMonitor() *PerfMonitor {
	return &PerfMonitor{
		timings:  make(map[string][]time.Duration),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// RecordTiming adds one sample for the named metric.
func (p *PerfMonitor) RecordTiming(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timings[name] = append(p.timings[name], d)
}

// Incr adds delta to the named counter.
func (p *PerfMonitor) Incr(name string, delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[name] += delta
}

// Counter returns the current value of a named counter.
func (p *PerfMonitor) Counter(name string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

// Timing returns aggregate stats for a named metric.
func (p *PerfMonitor) Timing(name string) TimingStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := p.timings[name]
	if len(samples) == 0 {
		return TimingStats{}
	}

	stats := TimingStats{Count: len(samples), Min: samples[0], Max: samples[0]}
	for _, s := range samples {
		stats.Total += s
		if s < stats.Min {
			stats.Min = s
		}
		if s > stats.Max {
			stats.Max = s
		}
	}
	stats.Mean = stats.Total / time.Duration(len(samples))
	return stats
}

// StartTimer starts a scoped timer. The returned stop function records the
// elapsed time under name when called.
func (p *PerfMonitor) StartTimer(name string) func() {
	start := p.now()
	return func() {
		p.RecordTiming(name, p.now().Sub(start))
	}
}
