// Package rate tracks how fast documents are being indexed: a running count
// plus a one-minute exponentially weighted moving average, ticked every five
// seconds in the style of the classic Unix load average.
package rate

import (
	"math"
	"sync"
	"time"
)

const (
	tickInterval = 5 * time.Second
	window       = time.Minute
)

// Snapshot is a point-in-time reading of a Meter.
type Snapshot struct {
	Count    int64
	Rate1    float64
	MeanRate float64
}

// Meter is safe for concurrent use.
type Meter struct {
	mu          sync.Mutex
	count       int64
	uncounted   int64
	rate        float64
	initialized bool
	alpha       float64
	start       time.Time
	lastTick    time.Time
	now         func() time.Time
}

// NewMeter returns a Meter starting at zero.
func NewMeter() *Meter {
	return newMeter(time.Now)
}

func newMeter(now func() time.Time) *Meter {
	t := now()
	return &Meter{
		alpha:    1 - math.Exp(-tickInterval.Seconds()/window.Seconds()),
		start:    t,
		lastTick: t,
		now:      now,
	}
}

// Mark records n events and returns the new total.
func (m *Meter) Mark(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickIfDue()
	m.count += n
	m.uncounted += n
	return m.count
}

// Count returns the number of events recorded so far.
func (m *Meter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Rate1 returns the one-minute moving average in events per second.
func (m *Meter) Rate1() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickIfDue()
	return m.rate
}

// Snapshot reads count, moving average and lifetime mean together.
func (m *Meter) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickIfDue()
	s := Snapshot{Count: m.count, Rate1: m.rate}
	if elapsed := m.now().Sub(m.start).Seconds(); elapsed > 0 {
		s.MeanRate = float64(m.count) / elapsed
	}
	return s
}

// tickIfDue must be called with m.mu held.
func (m *Meter) tickIfDue() {
	elapsed := m.now().Sub(m.lastTick)
	for elapsed >= tickInterval {
		m.tick()
		elapsed -= tickInterval
		m.lastTick = m.lastTick.Add(tickInterval)
	}
}

func (m *Meter) tick() {
	instant := float64(m.uncounted) / tickInterval.Seconds()
	m.uncounted = 0
	if m.initialized {
		m.rate += m.alpha * (instant - m.rate)
		return
	}
	m.rate = instant
	m.initialized = true
}
