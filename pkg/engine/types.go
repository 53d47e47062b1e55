package engine

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Direction is the I/O direction of a sample or operation.
type Direction int

const (
	Read Direction = iota
	Write
)

// BlockOrder selects how block offsets are placed within a sample.
type BlockOrder int

const (
	Sequential BlockOrder = iota
	Random
)

// Workload is the direction mix of a run.
type Workload int

const (
	WorkloadWrite Workload = iota
	WorkloadRead
	WorkloadReadWrite
)

func (w Workload) HasWrite() bool { return w == WorkloadWrite || w == WorkloadReadWrite }
func (w Workload) HasRead() bool { return w == WorkloadRead || w == WorkloadReadWrite }

// EngineType selects the Strategy used for every sample of a run.
type EngineType int

const (
	EngineBuffered EngineType = iota
	EngineDirect
	EngineUring
)

// ErrInvalidParams is wrapped by every Params validation failure.
var ErrInvalidParams = errors.New("invalid params")

const (
	dataFileName   = "diskmark.dat"
	dataFilePrefix = "diskmark"

	// Uncached transfers must cover whole logical sectors.
	directSector = 512
)

// Params is the immutable workload description shared by every worker of a run.
type Params struct {
	Dir          string     `json:"dir"`           // Directory holding the test files
	Workload     Workload   `json:"workload"`      // Directions to execute
	Order        BlockOrder `json:"order"`         // Sequential or random block placement
	NumBlocks    int        `json:"num_blocks"`    // Blocks per sample
	BlockSize    int        `json:"block_size"`    // Bytes per block
	NumSamples   int        `json:"num_samples"`   // Samples per direction
	Workers      int        `json:"workers"`       // Worker goroutines per phase
	Engine       EngineType `json:"engine"`        // I/O strategy
	Direct       bool       `json:"direct"`        // Request uncached access
	WriteSync    bool       `json:"write_sync"`    // Synchronous writes
	SectorAlign  int        `json:"sector_align"`  // Buffer alignment in bytes, 0 = natural
	MultiFile    bool       `json:"multi_file"`    // One file per sample instead of one shared file
	SequenceBase uint32     `json:"sequence_base"` // First sample number of the run
}

// Validate reports the first inconsistency in p.
func (p Params) Validate() error {
	switch {
	case p.Dir == "":
		return fmt.Errorf("%w: empty data directory", ErrInvalidParams)
	case p.NumBlocks <= 0:
		return fmt.Errorf("%w: num blocks %d", ErrInvalidParams, p.NumBlocks)
	case p.BlockSize <= 0:
		return fmt.Errorf("%w: block size %d", ErrInvalidParams, p.BlockSize)
	case p.NumSamples <= 0:
		return fmt.Errorf("%w: num samples %d", ErrInvalidParams, p.NumSamples)
	case p.Workers <= 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidParams, p.Workers)
	case p.SectorAlign < 0 || (p.SectorAlign > 0 && p.SectorAlign&(p.SectorAlign-1) != 0):
		return fmt.Errorf("%w: sector alignment %d is not a power of two", ErrInvalidParams, p.SectorAlign)
	case p.SectorAlign > 0 && p.BlockSize%p.SectorAlign != 0:
		return fmt.Errorf("%w: block size %d is not a multiple of alignment %d", ErrInvalidParams, p.BlockSize, p.SectorAlign)
	case p.uncached() && p.SectorAlign > 0 && p.SectorAlign < directSector:
		return fmt.Errorf("%w: alignment %d is below the %d byte direct I/O sector", ErrInvalidParams, p.SectorAlign, directSector)
	case p.uncached() && p.BlockSize%directSector != 0:
		return fmt.Errorf("%w: direct I/O block size %d is not a multiple of %d", ErrInvalidParams, p.BlockSize, directSector)
	case uint64(p.SequenceBase)+uint64(p.NumSamples) > 1<<32-1:
		return fmt.Errorf("%w: sequence %d+%d overflows", ErrInvalidParams, p.SequenceBase, p.NumSamples)
	}
	if _, ok := engineNames[p.Engine]; !ok {
		return fmt.Errorf("%w: unknown engine %d", ErrInvalidParams, p.Engine)
	}
	return nil
}

// uncached reports whether p asks an aligned engine to bypass the page cache.
// The buffered engine ignores Direct.
func (p Params) uncached() bool {
	return p.Direct && p.Engine != EngineBuffered
}

// FileSize is the number of bytes a sample spans in its test file.
func (p Params) FileSize() int64 {
	return int64(p.NumBlocks) * int64(p.BlockSize)
}

// TestFile returns the file a sample reads or writes.
func (p Params) TestFile(seq uint32) string {
	if p.MultiFile {
		return filepath.Join(p.Dir, fmt.Sprintf("%s%d.dat", dataFilePrefix, seq))
	}
	return filepath.Join(p.Dir, dataFileName)
}

// TotalUnits is the number of blocks a complete run executes.
func (p Params) TotalUnits() int64 {
	perDir := int64(p.NumBlocks) * int64(p.NumSamples)
	var total int64
	if p.Workload.HasWrite() {
		total += perDir
	}
	if p.Workload.HasRead() {
		total += perDir
	}
	return total
}

// Sample is one measured pass of NumBlocks block operations.
type Sample struct {
	Direction     Direction `json:"direction"`
	Seq           uint32    `json:"seq"`
	BandwidthMBps float64   `json:"bw_mbps"`
	LatencyMs     float64   `json:"latency_ms"`
	Bytes         int64     `json:"bytes"`
	Blocks        int       `json:"blocks"`
	FailedBlocks  int       `json:"failed_blocks,omitempty"`

	// Cumulative statistics of the direction at the time this sample was recorded.
	CumAvg       float64 `json:"cum_avg"`
	CumMax       float64 `json:"cum_max"`
	CumMin       float64 `json:"cum_min"`
	CumLatencyMs float64 `json:"cum_latency_ms"`
}

// Operation holds every sample and the summary of one direction of a run.
type Operation struct {
	Direction  Direction  `json:"direction"`
	Order      BlockOrder `json:"order"`
	NumBlocks  int        `json:"num_blocks"`
	BlockSize  int        `json:"block_size"`
	NumSamples int        `json:"num_samples"`
	Workers    int        `json:"workers"`
	WriteSync  *bool      `json:"write_sync,omitempty"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Samples    []Sample   `json:"samples"`

	BwAvg        float64       `json:"bw_avg"`
	BwMean       float64       `json:"bw_mean"` // Exact mean of sample bandwidths
	BwMax        float64       `json:"bw_max"`
	BwMin        float64       `json:"bw_min"`
	LatencyAvgMs float64       `json:"latency_avg_ms"`
	LatencyP50   time.Duration `json:"latency_p50"`
	LatencyP99   time.Duration `json:"latency_p99"`
	LatencyMax   time.Duration `json:"latency_max"`
	TotalOps     int64         `json:"total_ops"`
	IOPS         int64         `json:"iops"`

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// Per-block latencies are tracked in microseconds up to one hour.
const (
	histMin     = 1
	histMax     = 3_600_000_000
	histSigFigs = 3
)

func newLatencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMin, histMax, histSigFigs)
}

// NewOperation creates an empty operation for dir shaped by p.
func NewOperation(dir Direction, p Params, start time.Time) *Operation {
	op := &Operation{
		Direction:  dir,
		Order:      p.Order,
		NumBlocks:  p.NumBlocks,
		BlockSize:  p.BlockSize,
		NumSamples: p.NumSamples,
		Workers:    p.Workers,
		Start:      start,
		Samples:    make([]Sample, 0, p.NumSamples),
		hist:       newLatencyHistogram(),
	}
	if dir == Write {
		ws := p.WriteSync
		op.WriteSync = &ws
	}
	return op
}

// Record stamps s with the cumulative statistics of agg and appends it.
// Stamping and appending share one critical section so the last appended
// sample always carries the latest cumulative values.
func (o *Operation) Record(s Sample, agg *Aggregator, latencies *hdrhistogram.Histogram) Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	if agg != nil {
		agg.Update(&s)
	}
	o.Samples = append(o.Samples, s)
	if latencies != nil {
		if o.hist == nil {
			o.hist = newLatencyHistogram()
		}
		o.hist.Merge(latencies)
	}
	return s
}

// Len is the number of recorded samples.
func (o *Operation) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Samples)
}

// Finalize sets the end time, IOPS and summary fields. It copies the
// cumulative fields of the last recorded sample; BwMean is recomputed over
// every sample since the cumulative average assumes sequence order.
func (o *Operation) Finalize(totalOps int64, end time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.End = end
	o.TotalOps = totalOps
	o.IOPS = IOPS(totalOps, end.Sub(o.Start))
	if n := len(o.Samples); n > 0 {
		last := o.Samples[n-1]
		o.BwAvg = last.CumAvg
		o.BwMax = last.CumMax
		o.BwMin = last.CumMin
		o.LatencyAvgMs = last.CumLatencyMs
		var sum float64
		for _, s := range o.Samples {
			sum += s.BandwidthMBps
		}
		o.BwMean = sum / float64(n)
	}
	if o.hist != nil && o.hist.TotalCount() > 0 {
		o.LatencyP50 = time.Duration(o.hist.ValueAtQuantile(50)) * time.Microsecond
		o.LatencyP99 = time.Duration(o.hist.ValueAtQuantile(99)) * time.Microsecond
		o.LatencyMax = time.Duration(o.hist.Max()) * time.Microsecond
	}
}

// Duration is the wall-clock span of the operation, zero until finalized.
func (o *Operation) Duration() time.Duration {
	if o.End.IsZero() {
		return 0
	}
	return o.End.Sub(o.Start)
}

// IOPS converts completed block operations over elapsed wall-clock time into
// operations per second, rounded. Zero elapsed milliseconds yields zero.
func IOPS(totalOps int64, elapsed time.Duration) int64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int64(math.Round(float64(totalOps) * 1000 / float64(ms)))
}

// Run is the result of one orchestrated benchmark.
type Run struct {
	ID         string       `json:"id"`
	Params     Params       `json:"params"`
	Operations []*Operation `json:"operations"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Cancelled  bool         `json:"cancelled,omitempty"`
}

// Operation returns the first operation of direction d, or nil.
func (r *Run) Operation(d Direction) *Operation {
	for _, op := range r.Operations {
		if op.Direction == d {
			return op
		}
	}
	return nil
}

// Duration is the wall-clock span of the run.
func (r *Run) Duration() time.Duration {
	if r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}
