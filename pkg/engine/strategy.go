package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"syscall"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Job is the work of one sample handed to a Strategy.
type Job struct {
	Direction Direction
	Seq       uint32
	Path      string
	Order     BlockOrder
	NumBlocks int
	BlockSize int
	WriteSync bool

	// Tick is called after every attempted block.
	Tick func()
	// Cancelled is polled before every block.
	Cancelled func() bool
	// Latencies receives per-block latency in microseconds. May be nil.
	Latencies *hdrhistogram.Histogram
	Rand      *rand.Rand
	Logger    *slog.Logger
	// Warn receives non-fatal warnings. May be nil.
	Warn func(string)
}

// Measurement is the raw outcome of one sample.
type Measurement struct {
	Bytes       int64
	Elapsed     time.Duration
	Blocks      int
	Failed      int
	Interrupted bool
}

// Strategy executes the block sequence of one sample.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, job *Job) (Measurement, error)
}

// NewStrategy returns the strategy selected by p.Engine.
func NewStrategy(p Params, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch p.Engine {
	case EngineBuffered:
		return NewBuffered(p.BlockSize), nil
	case EngineDirect:
		return NewDirect(p.Direct, p.SectorAlign, logger), nil
	case EngineUring:
		return NewUring(p.Direct, p.SectorAlign, logger)
	}
	return nil, fmt.Errorf("%w: unknown engine %d", ErrInvalidParams, p.Engine)
}

func (j *Job) offset(i int) int64 {
	if j.Order == Random && j.Rand != nil {
		return int64(j.Rand.Intn(j.NumBlocks)) * int64(j.BlockSize)
	}
	return int64(i) * int64(j.BlockSize)
}

func (j *Job) tick() {
	if j.Tick != nil {
		j.Tick()
	}
}

func (j *Job) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return j.Cancelled != nil && j.Cancelled()
}

func (j *Job) observe(d time.Duration) {
	if j.Latencies == nil {
		return
	}
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	_ = j.Latencies.RecordValue(us)
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// blockFailed records a failed block. It returns the error when the failure
// must abort the phase.
func (j *Job) blockFailed(m *Measurement, block int, off int64, err error) error {
	if fatalIOError(err) {
		return fmt.Errorf("%s %s block %d at offset %d: %w", DirectionName(j.Direction), j.Path, block, off, err)
	}
	m.Failed++
	j.logger().Warn("block failed",
		"direction", DirectionName(j.Direction),
		"seq", j.Seq,
		"block", block,
		"offset", off,
		"error", err)
	return nil
}

// fatalIOError reports errors no later block can recover from.
func fatalIOError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EROFS)
}

// fillPattern writes the alternating write payload into buf.
func fillPattern(buf []byte) {
	for i := range buf {
		if i%2 == 0 {
			buf[i] = 0xFF
		} else {
			buf[i] = 0
		}
	}
}
