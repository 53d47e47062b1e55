package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saturatingStrategy gets faster with larger blocks up to 16 KB.
type saturatingStrategy struct{}

func (saturatingStrategy) Name() string { return "saturating" }

func (saturatingStrategy) Execute(ctx context.Context, job *engine.Job) (engine.Measurement, error) {
	for i := 0; i < job.NumBlocks; i++ {
		if job.Tick != nil {
			job.Tick()
		}
	}
	kb := max(job.BlockSize/1024, 16)
	return engine.Measurement{
		Bytes:   int64(job.NumBlocks * job.BlockSize),
		Blocks:  job.NumBlocks,
		Elapsed: time.Duration(kb) * time.Millisecond,
	}, nil
}

func baseParams(t *testing.T) engine.Params {
	return engine.Params{
		Dir: t.TempDir(), Workload: engine.WorkloadWrite, NumBlocks: 4, BlockSize: 4096,
		NumSamples: 3, Workers: 1, SequenceBase: 10,
	}
}

func engineOpts() Option {
	return WithEngineOptions(
		engine.WithStrategy(saturatingStrategy{}),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestSweepFindsBlockSizeKnee(t *testing.T) {
	var seen []int
	s, err := New(baseParams(t), BlockSizeKB, []int{4, 8, 16, 32, 64},
		WithMetric(MetricBandwidth), engineOpts(),
		OnStep(func(st Step) { seen = append(seen, st.Value) }))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, engine.Write, res.Direction)
	assert.Equal(t, []int{4, 8, 16, 32, 64}, seen)
	require.Len(t, res.Steps, 5)
	assert.Equal(t, 16, res.Knee)

	for i, st := range res.Steps {
		assert.Equal(t, uint32(10+i*3), st.Run.Params.SequenceBase)
		assert.Equal(t, st.Value*1024, st.Run.Params.BlockSize)
	}
	assert.InDelta(t, res.Steps[2].Metric, res.Steps[4].Metric, 1e-9)
	assert.Less(t, res.Steps[0].Metric, res.Steps[1].Metric)
}

func TestSweepThreads(t *testing.T) {
	p := baseParams(t)
	p.Workload = engine.WorkloadReadWrite
	s, err := New(p, Threads, Steps(1, 3, 1), engineOpts())
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.Read, res.Direction)
	require.Len(t, res.Steps, 3)
	for i, st := range res.Steps {
		assert.Equal(t, i+1, st.Run.Params.Workers)
	}
	assert.Contains(t, []int{1, 2, 3}, res.Knee)
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	var steps atomic.Int32
	listener := engine.Funcs{Cancel: func() bool { return steps.Load() >= 1 }}
	s, err := New(baseParams(t), Threads, []int{1, 2, 4},
		WithListener(listener), engineOpts(),
		OnStep(func(Step) { steps.Add(1) }))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 1, res.Knee)
}

func TestNewRejectsBadInput(t *testing.T) {
	p := baseParams(t)
	_, err := New(p, "queue_depth", []int{1})
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
	_, err = New(p, Threads, nil)
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
	_, err = New(p, Threads, []int{1, 0})
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
	_, err = New(p, Threads, []int{1}, WithMetric("latency"))
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
}

func TestSteps(t *testing.T) {
	assert.Equal(t, []int{1, 3, 5}, Steps(1, 5, 2))
	assert.Equal(t, []int{2, 3}, Steps(2, 3, 0))
	assert.Empty(t, Steps(5, 1, 1))
}
