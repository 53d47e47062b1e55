//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/godzie44/go-uring/uring"
)

// Uring submits one io_uring SQE per block and waits for its completion.
// Files are opened and buffers aligned the same way as Direct.
type Uring struct {
	dio *Direct
}

// NewUring probes io_uring support and returns the strategy.
func NewUring(direct bool, align int, logger *slog.Logger) (Strategy, error) {
	ring, err := uring.New(1)
	if err != nil {
		return nil, fmt.Errorf("io_uring unavailable: %w", err)
	}
	_ = ring.Close()
	return &Uring{dio: NewDirect(direct, align, logger)}, nil
}

func (u *Uring) Name() string { return EngineName(EngineUring) }

func (u *Uring) Execute(ctx context.Context, job *Job) (Measurement, error) {
	var m Measurement

	buf, release, err := alignedBuffer(job.BlockSize, u.dio.align)
	if err != nil {
		return m, fmt.Errorf("allocate %d byte buffer: %w", job.BlockSize, err)
	}
	defer release()
	if job.Direction == Write {
		fillPattern(buf)
	}

	f, uncached, err := u.dio.open(job)
	if err != nil {
		return m, err
	}
	defer func() { f.Close() }()

	ring, err := uring.New(1)
	if err != nil {
		return m, fmt.Errorf("failed to setup io_uring: %w", err)
	}
	defer ring.Close()

	start := time.Now()
	for i := 0; i < job.NumBlocks; i++ {
		if job.cancelled(ctx) {
			m.Interrupted = true
			break
		}
		off := job.offset(i)
		t0 := time.Now()
		n, err := u.block(ring, f, job.Direction, buf, off)
		if uncached && errors.Is(err, syscall.EINVAL) {
			cf, rerr := u.dio.reopenCached(job, f, err)
			if rerr != nil {
				return m, rerr
			}
			f, uncached = cf, false
			n, err = u.block(ring, f, job.Direction, buf, off)
		}
		job.observe(time.Since(t0))
		job.tick()
		if err == nil && n < len(buf) {
			err = fmt.Errorf("short %s: %d of %d bytes", DirectionName(job.Direction), n, len(buf))
		}
		if err != nil {
			if ferr := job.blockFailed(&m, i, off, err); ferr != nil {
				return m, ferr
			}
			continue
		}
		m.Bytes += int64(n)
		m.Blocks++
	}
	m.Elapsed = time.Since(start)
	return m, nil
}

func (u *Uring) block(ring *uring.Ring, f blockFile, d Direction, buf []byte, off int64) (int, error) {
	var op uring.Operation
	if d == Write {
		op = uring.Write(f.Fd(), buf, uint64(off))
	} else {
		op = uring.Read(f.Fd(), buf, uint64(off))
	}
	if err := ring.QueueSQE(op, 0, uint64(off)); err != nil {
		return 0, err
	}
	for {
		_, err := ring.Submit()
		if err == nil {
			break
		}
		if !isEINTR(err) {
			return 0, err
		}
	}

	var cqe *uring.CQEvent
	var err error
	for {
		cqe, err = ring.WaitCQEvents(1)
		if err == nil || !isEINTR(err) {
			break
		}
	}
	if err != nil {
		return 0, err
	}
	defer ring.SeenCQE(cqe)
	if cqe.Res < 0 {
		return 0, syscall.Errno(-cqe.Res)
	}
	return int(cqe.Res), nil
}

func isEINTR(err error) bool {
	if errors.Is(err, syscall.EINTR) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Err == syscall.EINTR
	}
	return false
}
