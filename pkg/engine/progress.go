package engine

import (
	"sync/atomic"
	"time"
)

// UpdateInterval is the minimum spacing between unforced progress emissions.
const UpdateInterval = 25 * time.Millisecond

// Progress is the completion state delivered to a Listener.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
	Percent   int   `json:"percent"`
}

// Reporter counts completed block units per direction and throttles progress
// callbacks. Any worker may call Tick and Emit concurrently.
type Reporter struct {
	read  atomic.Int64
	write atomic.Int64
	total int64
	last  atomic.Int64
	now   func() time.Time
	emit  func(Progress)
}

// NewReporter returns a reporter for total units that calls emit at most once
// per UpdateInterval unless forced.
func NewReporter(total int64, emit func(Progress)) *Reporter {
	return &Reporter{total: total, now: time.Now, emit: emit}
}

// Tick records one completed unit in direction d.
func (r *Reporter) Tick(d Direction) {
	if d == Write {
		r.write.Add(1)
	} else {
		r.read.Add(1)
	}
}

// Completed returns the units recorded for direction d.
func (r *Reporter) Completed(d Direction) int64 {
	if d == Write {
		return r.write.Load()
	}
	return r.read.Load()
}

// Progress returns the current completion state.
func (r *Reporter) Progress() Progress {
	done := r.read.Load() + r.write.Load()
	return Progress{Completed: done, Total: r.total, Percent: percent(done, r.total)}
}

// Emit delivers the current progress if the interval has elapsed or forced is
// set. Only the caller that wins the timestamp swap emits; it reports whether
// it did.
func (r *Reporter) Emit(forced bool) bool {
	now := r.now().UnixNano()
	if forced {
		r.last.Store(now)
	} else {
		prev := r.last.Load()
		if prev != 0 && now-prev < int64(UpdateInterval) {
			return false
		}
		if !r.last.CompareAndSwap(prev, now) {
			return false
		}
	}
	if r.emit != nil {
		r.emit(r.Progress())
	}
	return true
}

func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}
