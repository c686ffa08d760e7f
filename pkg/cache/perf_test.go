package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerfMonitorTimingAggregates(t *testing.T) {
	p := NewPerfMonitor()
	p.RecordTiming("llm", 10*time.Millisecond)
	p.RecordTiming("llm", 30*time.Millisecond)
	p.RecordTiming("llm", 20*time.Millisecond)

	stats := p.Timing("llm")
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 10*time.Millisecond, stats.Min)
	assert.Equal(t, 30*time.Millisecond, stats.Max)
	assert.Equal(t, 20*time.Millisecond, stats.Mean)
	assert.Equal(t, 60*time.Millisecond, stats.Total)
}

func TestPerfMonitorCounters(t *testing.T) {
	p := NewPerfMonitor()
	p.Incr("requests", 1)
	p.Incr("requests", 2)
	assert.Equal(t, int64(3), p.Counter("requests"))
	assert.Equal(t, int64(0), p.Counter("absent"))
}

func TestPerfMonitorScopedTimer(t *testing.T) {
	p := NewPerfMonitor()
	current := time.Unix(0, 0)
	p.now = func() time.Time { return current }

	stop := p.StartTimer("step")
	current = current.Add(250 * time.Millisecond)
	stop()

	stats := p.Timing("step")
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 250*time.Millisecond, stats.Total)
}
