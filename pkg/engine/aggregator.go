package engine

import "sync"

// Stats is a snapshot of the cumulative statistics of one direction.
type Stats struct {
	Count        int
	Avg          float64
	Max          float64
	Min          float64
	AvgLatencyMs float64

	// Plain means over every folded sample, independent of arrival order.
	ArrivalAvg       float64
	ArrivalLatencyMs float64
}

type series struct {
	mu     sync.Mutex
	stats  Stats
	bwSum  float64
	latSum float64
}

// Aggregator keeps running bandwidth and latency statistics per direction.
// It is the only writer of those statistics; each direction has its own lock
// so reads and writes never contend.
type Aggregator struct {
	base   uint32
	series [2]series
}

// NewAggregator returns an aggregator for a run whose first sample is base.
func NewAggregator(base uint32) *Aggregator {
	return &Aggregator{base: base}
}

// Update folds s into its direction's statistics and stamps s with the result.
//
// The Avg and AvgLatencyMs recurrence is indexed by the sample's 1-based
// position in the run (Seq-base+1), not by arrival order, so those values are
// exact only when samples arrive in sequence order. With more than one worker
// samples complete out of order and the running values drift from the true
// mean; ArrivalAvg and ArrivalLatencyMs hold the exact means.
func (a *Aggregator) Update(s *Sample) {
	sr := &a.series[s.Direction&1]
	sr.mu.Lock()
	defer sr.mu.Unlock()

	st := &sr.stats
	st.Count++
	sr.bwSum += s.BandwidthMBps
	sr.latSum += s.LatencyMs
	st.ArrivalAvg = sr.bwSum / float64(st.Count)
	st.ArrivalLatencyMs = sr.latSum / float64(st.Count)
	if st.Count == 1 {
		st.Avg = s.BandwidthMBps
		st.Max = s.BandwidthMBps
		st.Min = s.BandwidthMBps
		st.AvgLatencyMs = s.LatencyMs
	} else {
		n := float64(a.position(s.Seq, st.Count))
		st.Avg = ((n-1)*st.Avg + s.BandwidthMBps) / n
		st.AvgLatencyMs = ((n-1)*st.AvgLatencyMs + s.LatencyMs) / n
		st.Max = max(st.Max, s.BandwidthMBps)
		st.Min = min(st.Min, s.BandwidthMBps)
	}

	s.CumAvg = st.Avg
	s.CumMax = st.Max
	s.CumMin = st.Min
	s.CumLatencyMs = st.AvgLatencyMs
}

func (a *Aggregator) position(seq uint32, count int) int {
	if seq < a.base {
		return count
	}
	return int(seq-a.base) + 1
}

// Snapshot returns the current statistics of d.
func (a *Aggregator) Snapshot(d Direction) Stats {
	sr := &a.series[d&1]
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.stats
}
