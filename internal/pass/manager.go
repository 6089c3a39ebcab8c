// Package pass holds the reporting surface shared by the optimizer
// passes: named metric counters that are safe to bump from parallel
// visitor callbacks. Passes only ever write metrics; nothing in the core
// reads them back into its decisions.
package pass

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Manager accumulates pass metrics for one run.
type Manager struct {
	counters *xsync.MapOf[string, *xsync.Counter]
}

func NewManager() *Manager {
	return &Manager{counters: xsync.NewMapOf[string, *xsync.Counter]()}
}

func (m *Manager) counter(name string) *xsync.Counter {
	c, _ := m.counters.LoadOrCompute(name, func() *xsync.Counter {
		return xsync.NewCounter()
	})
	return c
}

// IncrMetric adds delta to the named counter.
func (m *Manager) IncrMetric(name string, delta int64) {
	m.counter(name).Add(delta)
}

// SetMetric overwrites the named counter. Only sequential phases use
// this.
func (m *Manager) SetMetric(name string, v int64) {
	c := m.counter(name)
	c.Reset()
	c.Add(v)
}

// Metric reads one counter.
func (m *Manager) Metric(name string) int64 {
	c, ok := m.counters.Load(name)
	if !ok {
		return 0
	}
	return c.Value()
}

// Metrics drains the counters into an ordinary sorted map for reporting.
func (m *Manager) Metrics() map[string]int64 {
	out := map[string]int64{}
	m.counters.Range(func(name string, c *xsync.Counter) bool {
		out[name] = c.Value()
		return true
	})
	return out
}

// MetricNames lists the recorded metric names in sorted order.
func (m *Manager) MetricNames() []string {
	var names []string
	m.counters.Range(func(name string, _ *xsync.Counter) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
