package engine

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams(dir string) Params {
	return Params{
		Dir:          dir,
		Workload:     WorkloadReadWrite,
		Order:        Sequential,
		NumBlocks:    8,
		BlockSize:    4096,
		NumSamples:   10,
		Workers:      2,
		Engine:       EngineBuffered,
		SequenceBase: 1,
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"empty dir", func(p *Params) { p.Dir = "" }},
		{"zero blocks", func(p *Params) { p.NumBlocks = 0 }},
		{"zero block size", func(p *Params) { p.BlockSize = 0 }},
		{"zero samples", func(p *Params) { p.NumSamples = 0 }},
		{"zero workers", func(p *Params) { p.Workers = 0 }},
		{"alignment not power of two", func(p *Params) { p.SectorAlign = 3000 }},
		{"block size not aligned", func(p *Params) { p.BlockSize = 1000; p.SectorAlign = 512 }},
		{"direct block size off sector", func(p *Params) { p.Engine = EngineDirect; p.Direct = true; p.BlockSize = 1000 }},
		{"direct alignment below sector", func(p *Params) { p.Engine = EngineDirect; p.Direct = true; p.SectorAlign = 256 }},
		{"uring block size off sector", func(p *Params) { p.Engine = EngineUring; p.Direct = true; p.BlockSize = 4100 }},
		{"sequence overflow", func(p *Params) { p.SequenceBase = 1<<32 - 5 }},
		{"unknown engine", func(p *Params) { p.Engine = EngineType(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams("/tmp/x")
			tt.modify(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))
		})
	}
	assert.NoError(t, validParams("/tmp/x").Validate())
}

func TestParamsValidateDirectSectors(t *testing.T) {
	p := validParams("/tmp/x")
	p.BlockSize = 16
	p.Direct = true
	assert.NoError(t, p.Validate(), "buffered engine ignores direct")

	p.Engine = EngineDirect
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	p.Direct = false
	assert.NoError(t, p.Validate(), "cached aligned access takes any block size")

	p.Direct = true
	p.BlockSize = 8192
	p.SectorAlign = 4096
	assert.NoError(t, p.Validate())
	p.SectorAlign = 512
	assert.NoError(t, p.Validate())
}

func TestParamsTestFile(t *testing.T) {
	p := validParams("/data")
	assert.Equal(t, filepath.Join("/data", "diskmark.dat"), p.TestFile(7))
	p.MultiFile = true
	assert.Equal(t, filepath.Join("/data", "diskmark7.dat"), p.TestFile(7))
}

func TestParamsTotalUnits(t *testing.T) {
	p := validParams("/data")
	assert.EqualValues(t, 160, p.TotalUnits())
	p.Workload = WorkloadRead
	assert.EqualValues(t, 80, p.TotalUnits())
	assert.EqualValues(t, 8*4096, p.FileSize())
}

func TestIOPS(t *testing.T) {
	assert.EqualValues(t, 100, IOPS(100, time.Second))
	assert.EqualValues(t, 0, IOPS(12345, 0))
	assert.EqualValues(t, 0, IOPS(12345, 500*time.Microsecond))
	assert.EqualValues(t, 667, IOPS(2, 3*time.Millisecond))
}

func TestOperationRoundTrip(t *testing.T) {
	p := validParams("/data")
	p.NumSamples = 50
	start := time.Now()
	op := NewOperation(Write, p, start)
	agg := NewAggregator(p.SequenceBase)

	var last Sample
	for i := 0; i < 50; i++ {
		h := hdrhistogram.New(histMin, histMax, histSigFigs)
		require.NoError(t, h.RecordValue(int64(100+i)))
		last = op.Record(Sample{Direction: Write, Seq: p.SequenceBase + uint32(i), BandwidthMBps: float64(i + 1)}, agg, h)
	}
	op.Finalize(400, start.Add(2*time.Second))

	assert.Equal(t, 50, op.Len())
	assert.Equal(t, last.CumAvg, op.BwAvg)
	assert.InDelta(t, 25.5, op.BwAvg, 1e-9)
	assert.InDelta(t, op.BwAvg, op.BwMean, 1e-9)
	assert.Equal(t, 50.0, op.BwMax)
	assert.Equal(t, 1.0, op.BwMin)
	assert.EqualValues(t, 200, op.IOPS)
	assert.Equal(t, 2*time.Second, op.Duration())
	assert.Equal(t, 149*time.Microsecond, op.LatencyMax)
	assert.True(t, op.LatencyP50 >= 120*time.Microsecond && op.LatencyP50 <= 130*time.Microsecond, "p50 %v", op.LatencyP50)
	require.NotNil(t, op.WriteSync)
	assert.False(t, *op.WriteSync)
}

func TestReadOperationHasNoWriteSync(t *testing.T) {
	op := NewOperation(Read, validParams("/data"), time.Now())
	assert.Nil(t, op.WriteSync)
}

func TestRunJSONNames(t *testing.T) {
	run := &Run{ID: "abc", Params: validParams("/data")}
	run.Operations = append(run.Operations, NewOperation(Read, run.Params, time.Now()))
	b, err := json.Marshal(run)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"workload":"read_write"`)
	assert.Contains(t, string(b), `"direction":"read"`)
	assert.Contains(t, string(b), `"engine":"buffered"`)

	var back Run
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, WorkloadReadWrite, back.Params.Workload)
	require.Len(t, back.Operations, 1)
	assert.Equal(t, Read, back.Operations[0].Direction)
	assert.NotNil(t, back.Operation(Read))
	assert.Nil(t, back.Operation(Write))
}

func TestParseNames(t *testing.T) {
	w, err := ParseWorkload("Read-Write")
	require.NoError(t, err)
	assert.Equal(t, WorkloadReadWrite, w)

	o, err := ParseOrder(" RANDOM ")
	require.NoError(t, err)
	assert.Equal(t, Random, o)

	_, err = ParseEngine("libaio")
	assert.Error(t, err)
	assert.Equal(t, "unknown(7)", DirectionName(Direction(7)))
}
