package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStrategy completes every block instantly with a bandwidth derived from
// the sample number.
type fakeStrategy struct {
	failDir Direction
	failSeq uint32
	calls   atomic.Int64
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Execute(ctx context.Context, job *Job) (Measurement, error) {
	f.calls.Add(1)
	if f.failSeq != 0 && job.Direction == f.failDir && job.Seq == f.failSeq {
		return Measurement{}, io.ErrUnexpectedEOF
	}
	var m Measurement
	for i := 0; i < job.NumBlocks; i++ {
		if job.cancelled(ctx) {
			m.Interrupted = true
			return m, nil
		}
		job.observe(time.Duration(job.Seq) * time.Microsecond)
		job.tick()
		m.Blocks++
		m.Bytes += int64(job.BlockSize)
	}
	m.Elapsed = time.Duration(job.Seq) * time.Millisecond
	return m, nil
}

type recorder struct {
	mu         sync.Mutex
	samples    []Sample
	progress   []Progress
	cacheDrops int
	cancelAt   int
}

func (r *recorder) OnSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) OnProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAt > 0 && len(r.samples) >= r.cancelAt
}

func (r *recorder) RequestCacheDrop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheDrops++
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, p Params, l Listener, s Strategy) *Runner {
	t.Helper()
	r, err := NewRunner(p, l, WithStrategy(s), WithLogger(quietLogger()))
	require.NoError(t, err)
	return r
}

func seqs(samples []Sample, d Direction) []uint32 {
	var out []uint32
	for _, s := range samples {
		if s.Direction == d {
			out = append(out, s.Seq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestRunFiftySamplesFiveWorkers(t *testing.T) {
	p := validParams(t.TempDir())
	p.Workload = WorkloadWrite
	p.NumSamples = 50
	p.Workers = 5
	rec := &recorder{}
	r := newTestRunner(t, p, rec, &fakeStrategy{})

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, run.Cancelled)
	assert.Equal(t, PhaseComplete, r.Phase())
	require.Len(t, run.Operations, 1)

	op := run.Operations[0]
	assert.Equal(t, 50, op.Len())
	assert.EqualValues(t, 50*p.NumBlocks, op.TotalOps)

	got := seqs(op.Samples, Write)
	require.Len(t, got, 50)
	for i, s := range got {
		assert.Equal(t, p.SequenceBase+uint32(i), s)
	}
	perRange := map[int]int{}
	for _, s := range got {
		perRange[int(s-p.SequenceBase)/10]++
	}
	for w := 0; w < 5; w++ {
		assert.Equal(t, 10, perRange[w], "range %d", w)
	}

	assert.Equal(t, op.Samples[len(op.Samples)-1].CumAvg, op.BwAvg)
	assert.Zero(t, rec.cacheDrops)
	assert.Equal(t, 100, rec.progress[len(rec.progress)-1].Percent)
}

func TestRunSingleWorkerCumulativeExact(t *testing.T) {
	p := validParams(t.TempDir())
	p.Workload = WorkloadWrite
	p.NumSamples = 3
	p.Workers = 1
	p.NumBlocks = 1
	p.BlockSize = mebibyte
	r := newTestRunner(t, p, nil, &fakeStrategy{})

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	op := run.Operation(Write)
	require.NotNil(t, op)
	// Seq n takes n ms for 1 MiB, so bandwidths are 1000, 500 and 333.3 MB/s.
	assert.InDelta(t, (1000+500+1000.0/3)/3, op.BwAvg, 1e-6)
	assert.InDelta(t, 1000, op.BwMax, 1e-6)
	assert.InDelta(t, 1000.0/3, op.BwMin, 1e-6)
	assert.InDelta(t, 2.0, op.LatencyAvgMs, 1e-9)
	assert.InDelta(t, op.BwAvg, op.BwMean, 1e-6)
}

func TestRunLogsCompletedUnitsPerPhase(t *testing.T) {
	p := validParams(t.TempDir())
	p.NumSamples = 6
	p.Workers = 3
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r, err := NewRunner(p, nil, WithStrategy(&fakeStrategy{}), WithLogger(logger))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	var phases int
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, `msg="phase complete"`) {
			continue
		}
		phases++
		assert.Contains(t, line, fmt.Sprintf("units=%d", p.NumSamples*p.NumBlocks))
	}
	assert.Equal(t, 2, phases)
}

func TestRunReadWriteDropsCacheBetweenPhases(t *testing.T) {
	p := validParams(t.TempDir())
	rec := &recorder{}
	r := newTestRunner(t, p, rec, &fakeStrategy{})

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Operations, 2)
	assert.Equal(t, Write, run.Operations[0].Direction)
	assert.Equal(t, Read, run.Operations[1].Direction)
	assert.Equal(t, 1, rec.cacheDrops)

	for _, pr := range rec.progress {
		assert.GreaterOrEqual(t, pr.Percent, 0)
		assert.LessOrEqual(t, pr.Percent, 100)
	}
	final := rec.progress[len(rec.progress)-1]
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, p.TotalUnits(), final.Completed)

	assert.Equal(t, seqs(rec.samples, Write), seqs(rec.samples, Read))
	for _, op := range run.Operations {
		assert.Equal(t, p.NumSamples, op.Len())
		for _, s := range op.Samples {
			assert.Equal(t, op.Direction, s.Direction)
		}
	}
	assert.Equal(t, run.Operations[0].BwMax, run.Operations[1].BwMax)
	assert.Equal(t, run.Operations[0].BwMin, run.Operations[1].BwMin)
}

func TestRunCancelled(t *testing.T) {
	p := validParams(t.TempDir())
	p.NumSamples = 40
	p.Workers = 4
	rec := &recorder{cancelAt: 9}
	r := newTestRunner(t, p, rec, &fakeStrategy{})

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	require.Len(t, run.Operations, 1, "read phase is skipped")
	assert.Zero(t, rec.cacheDrops)

	op := run.Operations[0]
	assert.LessOrEqual(t, op.Len(), p.NumSamples)
	assert.GreaterOrEqual(t, op.Len(), 9)

	// Every worker completed a gap-free prefix of its range.
	done := map[uint32]bool{}
	for _, s := range op.Samples {
		done[s.Seq] = true
	}
	for _, rg := range DivideIntoRanges(p.SequenceBase, p.SequenceBase+uint32(p.NumSamples), p.Workers) {
		seen := true
		for seq := rg.Start; seq < rg.End; seq++ {
			if !done[seq] {
				seen = false
			} else {
				assert.True(t, seen, "gap before sample %d", seq)
			}
		}
	}
}

func TestRunContextCancelled(t *testing.T) {
	p := validParams(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeStrategy{}
	r := newTestRunner(t, p, nil, fake)

	run, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.Zero(t, fake.calls.Load())
	require.Len(t, run.Operations, 1)
	assert.Zero(t, run.Operations[0].Len())
	assert.Zero(t, run.Operations[0].IOPS)
}

func TestRunWorkerFailureAbortsRemainingPhases(t *testing.T) {
	p := validParams(t.TempDir())
	p.NumSamples = 20
	p.Workers = 4
	rec := &recorder{}
	r := newTestRunner(t, p, rec, &fakeStrategy{failDir: Read, failSeq: 7})

	run, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "read phase: sample 7")
	require.NotNil(t, run)
	require.Len(t, run.Operations, 1)
	assert.Equal(t, Write, run.Operations[0].Direction)
	assert.Equal(t, 20, run.Operations[0].Len())
}

func TestRunFailureInFirstPhase(t *testing.T) {
	p := validParams(t.TempDir())
	r := newTestRunner(t, p, nil, &fakeStrategy{failDir: Write, failSeq: 1})

	run, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write phase")
	assert.Empty(t, run.Operations)
	assert.False(t, run.End.IsZero())
}

func TestNewRunnerRejectsInvalidParams(t *testing.T) {
	p := validParams("")
	_, err := NewRunner(p, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestRunLatencyPercentiles(t *testing.T) {
	p := validParams(t.TempDir())
	p.Workload = WorkloadWrite
	p.NumSamples = 100
	p.Workers = 1
	r := newTestRunner(t, p, nil, &fakeStrategy{})

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	op := run.Operations[0]
	// Block latency equals the sample number in microseconds.
	assert.Equal(t, 100*time.Microsecond, op.LatencyMax)
	assert.InDelta(t, 50, op.LatencyP50.Microseconds(), 1)
	assert.InDelta(t, 99, op.LatencyP99.Microseconds(), 1)
}
