package health

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/rtcbridge/component"
)

// Monitor tracks the health of the bridge's parts. Parts are either pushed
// with Update, for example from a connection callback, or tracked as
// component.Discoverable values that are polled when the aggregate is built.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	tracked  map[string]component.Discoverable
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		tracked:  make(map[string]component.Discoverable),
	}
}

// Update sets the health status for a named part
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	delete(m.tracked, name)
	m.statuses[name] = status
}

// Track polls c for its health whenever the monitor is read
func (m *Monitor) Track(name string, c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	m.tracked[name] = c
}

// Get returns the current status for a named part
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.tracked[name]; ok {
		return FromComponentHealth(name, c.Health()), true
	}
	status, exists := m.statuses[name]
	return status, exists
}

// Remove stops monitoring a named part
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.tracked, name)
}

// Clear removes every part
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[string]Status)
	m.tracked = make(map[string]component.Discoverable)
}

// Count returns the number of parts being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses) + len(m.tracked)
}

// AggregateHealth returns the aggregate status with sub-statuses sorted by name
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses)+len(m.tracked))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	for name, c := range m.tracked {
		subs = append(subs, FromComponentHealth(name, c.Health()))
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(systemName, subs)
}
