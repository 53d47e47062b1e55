package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/ncw/directio"
)

// blockFile is the subset of *os.File the aligned strategies drive.
type blockFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Fd() uintptr
}

type openFunc func(name string, flag int, perm os.FileMode) (blockFile, error)

func openUncached(name string, flag int, perm os.FileMode) (blockFile, error) {
	f, err := directio.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Direct performs positioned I/O from a per-sample aligned buffer, requesting
// uncached access when enabled. A platform that rejects uncached access, at
// open or on the first transfer, gets cached access instead, with one warning
// per strategy.
type Direct struct {
	direct bool
	align  int
	logger *slog.Logger

	openDirect openFunc
	cached     atomic.Bool
	fallback   sync.Once
}

// NewDirect returns an aligned strategy. align 0 selects natural alignment.
func NewDirect(direct bool, align int, logger *slog.Logger) *Direct {
	if logger == nil {
		logger = slog.Default()
	}
	return &Direct{direct: direct, align: align, logger: logger, openDirect: openUncached}
}

func (d *Direct) Name() string { return EngineName(EngineDirect) }

func (d *Direct) Execute(ctx context.Context, job *Job) (Measurement, error) {
	var m Measurement

	buf, release, err := alignedBuffer(job.BlockSize, d.align)
	if err != nil {
		return m, fmt.Errorf("allocate %d byte buffer: %w", job.BlockSize, err)
	}
	defer release()
	if job.Direction == Write {
		fillPattern(buf)
	}

	f, uncached, err := d.open(job)
	if err != nil {
		return m, err
	}
	defer func() { f.Close() }()

	// Elapsed covers block transfers only, as in Buffered.
	start := time.Now()
	for i := 0; i < job.NumBlocks; i++ {
		if job.cancelled(ctx) {
			m.Interrupted = true
			break
		}
		off := job.offset(i)
		t0 := time.Now()
		n, err := transfer(f, job.Direction, buf, off)
		if uncached && errors.Is(err, syscall.EINVAL) {
			cf, rerr := d.reopenCached(job, f, err)
			if rerr != nil {
				return m, rerr
			}
			f, uncached = cf, false
			n, err = transfer(f, job.Direction, buf, off)
		}
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

// transfer moves one whole block, reporting a short transfer as an error.
func transfer(f blockFile, dir Direction, buf []byte, off int64) (int, error) {
	var n int
	var err error
	if dir == Write {
		n, err = f.WriteAt(buf, off)
	} else {
		n, err = f.ReadAt(buf, off)
		if err == io.EOF && n == len(buf) {
			err = nil
		}
	}
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
		if dir == Read {
			err = io.ErrUnexpectedEOF
		}
	}
	return n, err
}

func openFlags(job *Job) int {
	if job.Direction == Read {
		return os.O_RDONLY
	}
	flags := os.O_WRONLY | os.O_CREATE
	if job.WriteSync {
		flags |= os.O_SYNC
	}
	return flags
}

// open reports whether the returned file bypasses the page cache.
func (d *Direct) open(job *Job) (blockFile, bool, error) {
	if d.direct && !d.cached.Load() {
		f, err := d.openDirect(job.Path, openFlags(job), 0o644)
		if err == nil {
			return f, true, nil
		}
		if !errors.Is(err, syscall.EINVAL) {
			return nil, false, fmt.Errorf("open %s: %w", job.Path, err)
		}
		d.disableDirect(job, err)
	}
	f, err := d.openCached(job)
	return f, false, err
}

func (d *Direct) openCached(job *Job) (blockFile, error) {
	f, err := os.OpenFile(job.Path, openFlags(job), 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", job.Path, err)
	}
	return f, nil
}

// reopenCached swaps an uncached file whose transfers were rejected for a
// cached one.
func (d *Direct) reopenCached(job *Job, f blockFile, cause error) (blockFile, error) {
	_ = f.Close()
	d.disableDirect(job, cause)
	return d.openCached(job)
}

// disableDirect makes later opens go straight to cached access.
func (d *Direct) disableDirect(job *Job, cause error) {
	d.cached.Store(true)
	d.fallback.Do(func() {
		msg := fmt.Sprintf("direct I/O not supported on %s, using cached access", job.Path)
		d.logger.Warn(msg, "error", cause)
		if job.Warn != nil {
			job.Warn(msg)
		}
	})
}

// alignTo returns a size byte slice of a larger allocation whose first byte
// sits on an align boundary. align must be a power of two.
func alignTo(size, align int) []byte {
	raw := make([]byte, size+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}
