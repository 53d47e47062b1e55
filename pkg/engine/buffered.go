package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Buffered performs cached seek-then-read/write I/O through os.File.
type Buffered struct {
	payload []byte
	bufs    sync.Pool
}

// NewBuffered returns a buffered strategy for blocks of blockSize bytes.
func NewBuffered(blockSize int) *Buffered {
	b := &Buffered{payload: make([]byte, blockSize)}
	fillPattern(b.payload)
	b.bufs.New = func() any {
		buf := make([]byte, blockSize)
		return &buf
	}
	return b
}

func (b *Buffered) Name() string { return EngineName(EngineBuffered) }

func (b *Buffered) Execute(ctx context.Context, job *Job) (Measurement, error) {
	if job.BlockSize != len(b.payload) {
		return Measurement{}, fmt.Errorf("%w: block size %d, strategy built for %d", ErrInvalidParams, job.BlockSize, len(b.payload))
	}

	flags := os.O_RDONLY
	if job.Direction == Write {
		flags = os.O_RDWR | os.O_CREATE
		if job.WriteSync {
			flags |= os.O_SYNC
		}
	}

	var m Measurement
	f, err := os.OpenFile(job.Path, flags, 0o644)
	if err != nil {
		return m, fmt.Errorf("open %s: %w", job.Path, err)
	}
	defer f.Close()

	buf := b.payload
	if job.Direction == Read {
		p := b.bufs.Get().(*[]byte)
		defer b.bufs.Put(p)
		buf = *p
	}

	start := time.Now()
	for i := 0; i < job.NumBlocks; i++ {
		if job.cancelled(ctx) {
			m.Interrupted = true
			break
		}
		off := job.offset(i)
		t0 := time.Now()
		n, err := b.block(f, job.Direction, buf, off)
		job.observe(time.Since(t0))
		job.tick()
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

func (b *Buffered) block(f *os.File, d Direction, buf []byte, off int64) (int, error) {
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	if d == Write {
		return f.Write(buf)
	}
	return io.ReadFull(f, buf)
}
