package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

type statCounter int

const (
	statWrites statCounter = iota
	statReads
	statOverflows
	statDrops
	statGrows
	numStatCounters
)

// Statistics tracks buffer activity. It is always collected, independent of
// whether the buffer exports Prometheus metrics.
type Statistics struct {
	counts [numStatCounters]atomic.Int64

	mu      sync.RWMutex
	started time.Time
	current int64
	peak    int64
}

// NewStatistics returns zeroed statistics whose uptime starts now.
func NewStatistics() *Statistics {
	return &Statistics{started: time.Now()}
}

func (s *Statistics) Write()    { s.counts[statWrites].Add(1) }
func (s *Statistics) Read()     { s.counts[statReads].Add(1) }
func (s *Statistics) Overflow() { s.counts[statOverflows].Add(1) }
func (s *Statistics) Drop()     { s.counts[statDrops].Add(1) }
func (s *Statistics) Grow()     { s.counts[statGrows].Add(1) }

func (s *Statistics) Writes() int64    { return s.counts[statWrites].Load() }
func (s *Statistics) Reads() int64     { return s.counts[statReads].Load() }
func (s *Statistics) Overflows() int64 { return s.counts[statOverflows].Load() }
func (s *Statistics) Drops() int64     { return s.counts[statDrops].Load() }
func (s *Statistics) Grows() int64     { return s.counts[statGrows].Load() }

// UpdateSize records the current item count and raises the peak if needed.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.current = size
	s.peak = max(s.peak, size)
	s.mu.Unlock()
}

func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// MaxSize is the most items the buffer has held at once.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peak
}

func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.started)
}

// Throughput is writes per second since start or the last Reset.
func (s *Statistics) Throughput() float64 {
	secs := s.Uptime().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Writes()) / secs
}

// DropRate is the fraction of writes that ended in a drop.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

func (s *Statistics) Reset() {
	for i := range s.counts {
		s.counts[i].Store(0)
	}
	s.mu.Lock()
	s.started = time.Now()
	s.current, s.peak = 0, 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Overflows   int64         `json:"overflows"`
	Drops       int64         `json:"drops"`
	Grows       int64         `json:"grows"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Throughput  float64       `json:"throughput"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}

func (s *Statistics) Summary() StatsSummary {
	sum := StatsSummary{
		Writes:     s.Writes(),
		Reads:      s.Reads(),
		Overflows:  s.Overflows(),
		Drops:      s.Drops(),
		Grows:      s.Grows(),
		Throughput: s.Throughput(),
		DropRate:   s.DropRate(),
		Uptime:     s.Uptime(),
	}
	s.mu.RLock()
	sum.CurrentSize, sum.MaxSize = s.current, s.peak
	s.mu.RUnlock()
	return sum
}
