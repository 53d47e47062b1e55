package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/runningwild/diskmark/pkg/agent"
	"github.com/runningwild/diskmark/pkg/config"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/history"
	"github.com/runningwild/diskmark/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantStrategy struct{}

func (instantStrategy) Name() string { return "instant" }

func (instantStrategy) Execute(ctx context.Context, job *engine.Job) (engine.Measurement, error) {
	return engine.Measurement{
		Bytes:   int64(job.NumBlocks * job.BlockSize),
		Elapsed: time.Millisecond,
		Blocks:  job.NumBlocks,
	}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startAgent(t *testing.T) string {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	s := agent.NewServer(t.TempDir(), store,
		agent.WithLogger(quiet()),
		agent.WithEngineOptions(engine.WithStrategy(instantStrategy{})))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func request() agent.RunRequest {
	return agent.RunRequest{Settings: config.Settings{Blocks: 2, BlockSizeKB: 4, Threads: 2}}
}

func TestRunSplitsSequenceAcrossNodes(t *testing.T) {
	nodes := []string{startAgent(t), startAgent(t), startAgent(t)}
	c := New(nodes, WithLogger(quiet()))

	results, err := c.Run(context.Background(), request(), 10, 21)
	require.NoError(t, err)
	require.Len(t, results, 3)

	want := []engine.Range{{Start: 21, End: 25}, {Start: 25, End: 28}, {Start: 28, End: 31}}
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, want[i], r.Range)
		assert.Equal(t, want[i].Start, r.Doc.Run.Params.SequenceBase)
		op := r.Doc.Run.Operation(engine.Write)
		require.NotNil(t, op)
		assert.Equal(t, want[i].Len(), op.Len())
	}

	totals := Aggregate(results)
	require.Len(t, totals, 2)
	assert.Equal(t, engine.Write, totals[0].Direction)
	assert.Equal(t, 3, totals[0].Nodes)
	assert.Equal(t, 10, totals[0].Samples)
}

func TestRunSkipsNodesWithoutWork(t *testing.T) {
	nodes := []string{startAgent(t), startAgent(t), startAgent(t)}
	c := New(nodes, WithLogger(quiet()))

	results, err := c.Run(context.Background(), request(), 2, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, nodes[0], results[0].Node)
	assert.Equal(t, nodes[1], results[1].Node)
}

func TestRunReportsFailedNode(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk on fire", http.StatusInternalServerError)
	}))
	defer broken.Close()
	good := startAgent(t)

	c := New([]string{good, broken.URL}, WithLogger(quiet()))
	results, err := c.Run(context.Background(), request(), 4, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	totals := Aggregate(results)
	require.NotEmpty(t, totals)
	assert.Equal(t, 1, totals[0].Nodes)
}

func TestRunValidates(t *testing.T) {
	_, err := New(nil).Run(context.Background(), request(), 5, 1)
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
	_, err = New([]string{"x:1"}).Run(context.Background(), request(), 0, 1)
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
}

func TestAggregateWeightsLatency(t *testing.T) {
	mk := func(samples int, bw, lat float64, iops int64) NodeResult {
		p := engine.Params{NumSamples: samples}
		op := engine.NewOperation(engine.Read, p, time.Now())
		for i := 0; i < samples; i++ {
			op.Samples = append(op.Samples, engine.Sample{Direction: engine.Read})
		}
		op.BwAvg, op.LatencyAvgMs, op.IOPS = bw, lat, iops
		return NodeResult{Doc: &report.Document{Run: &engine.Run{Operations: []*engine.Operation{op}}}}
	}
	totals := Aggregate([]NodeResult{mk(1, 100, 1, 10), mk(3, 50, 3, 20)})
	require.Len(t, totals, 1)
	assert.Equal(t, engine.Read, totals[0].Direction)
	assert.Equal(t, 150.0, totals[0].BwAvg)
	assert.EqualValues(t, 30, totals[0].IOPS)
	assert.InDelta(t, 2.5, totals[0].LatencyAvgMs, 1e-9)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://host:8080", baseURL("host:8080"))
	assert.Equal(t, "https://host", baseURL("https://host/"))
}
