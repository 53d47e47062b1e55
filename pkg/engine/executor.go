package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"
)

const mebibyte = 1 << 20

type phaseState struct {
	dir Direction
	op  *Operation
	agg *Aggregator
	rep *Reporter

	ops     atomic.Int64
	stopped atomic.Bool
}

// runRange executes the samples of rg in sequence order on one worker.
func (r *Runner) runRange(ctx context.Context, worker int, rg Range, ph *phaseState) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
	hist := newLatencyHistogram()
	tick := func() {
		ph.rep.Tick(ph.dir)
		ph.rep.Emit(false)
	}
	cancelled := func() bool { return r.listener.Cancelled() }

	for seq := rg.Start; seq < rg.End; seq++ {
		if r.cancelled(ctx) {
			ph.stopped.Store(true)
			return nil
		}
		hist.Reset()
		job := &Job{
			Direction: ph.dir,
			Seq:       seq,
			Path:      r.params.TestFile(seq),
			Order:     r.params.Order,
			NumBlocks: r.params.NumBlocks,
			BlockSize: r.params.BlockSize,
			WriteSync: r.params.WriteSync,
			Tick:      tick,
			Cancelled: cancelled,
			Latencies: hist,
			Rand:      rng,
			Logger:    r.logger,
			Warn:      r.warn,
		}
		m, err := r.strategy.Execute(ctx, job)
		if err != nil {
			return fmt.Errorf("sample %d: %w", seq, err)
		}
		if m.Interrupted {
			ph.stopped.Store(true)
			return nil
		}

		s := Sample{
			Direction:    ph.dir,
			Seq:          seq,
			Bytes:        m.Bytes,
			Blocks:       m.Blocks,
			FailedBlocks: m.Failed,
		}
		s.BandwidthMBps, s.LatencyMs = rates(m)
		s = ph.op.Record(s, ph.agg, hist)
		ph.ops.Add(int64(m.Blocks))

		r.listener.OnSample(s)
		ph.rep.Emit(false)
	}
	return nil
}

// rates derives MB/s and average per-block latency in milliseconds.
func rates(m Measurement) (bw, latencyMs float64) {
	if m.Blocks > 0 {
		latencyMs = float64(m.Elapsed.Nanoseconds()) / 1e6 / float64(m.Blocks)
	}
	if sec := m.Elapsed.Seconds(); sec > 0 {
		bw = float64(m.Bytes) / mebibyte / sec
	}
	return bw, latencyMs
}

// files lists every test file the samples of ranges touch.
func (r *Runner) files(ranges []Range) []string {
	p := r.params
	if !p.MultiFile {
		return []string{p.TestFile(p.SequenceBase)}
	}
	var paths []string
	for _, rg := range ranges {
		for seq := rg.Start; seq < rg.End; seq++ {
			paths = append(paths, p.TestFile(seq))
		}
	}
	return paths
}

// prepare makes sure every file a read-only run touches holds FileSize bytes
// of data.
func (r *Runner) prepare(ctx context.Context, ranges []Range) error {
	buf := make([]byte, r.params.BlockSize)
	fillPattern(buf)
	for _, path := range r.files(ranges) {
		if r.cancelled(ctx) {
			return nil
		}
		if err := fillFile(path, r.params.FileSize(), buf); err != nil {
			return err
		}
	}
	return nil
}

// extend sizes every test file to FileSize so random reads after a random
// write phase never run past the end of a file.
func (r *Runner) extend(ranges []Range) error {
	size := r.params.FileSize()
	for _, path := range r.files(ranges) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		st, err := f.Stat()
		if err == nil && st.Size() < size {
			err = f.Truncate(size)
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extend %s: %w", path, err)
		}
	}
	return nil
}

func fillFile(path string, size int64, buf []byte) error {
	if st, err := os.Stat(path); err == nil && st.Size() >= size {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for off := int64(0); off < size; off += int64(len(buf)) {
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("fill %s: %w", path, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}
