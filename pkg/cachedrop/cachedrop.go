// Package cachedrop invalidates cached test file data between the write and
// read phases of a benchmark.
package cachedrop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrUnsupported is returned when the platform offers no automatic way to
// drop the page cache and no prompt is configured.
var ErrUnsupported = errors.New("automatic cache drop unsupported")

// Dropper drops cached data of the test files in one directory.
type Dropper struct {
	dir    string
	prompt io.Reader
	out    io.Writer
	logger *slog.Logger

	dropCaches string
	isRoot     func() bool
}

type Option func(*Dropper)

// WithPrompt makes a Dropper that cannot drop automatically print
// instructions to out and wait for a line on in.
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(d *Dropper) {
		d.prompt = in
		d.out = out
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dropper) { d.logger = l }
}

// New returns a Dropper for the test files in dir.
func New(dir string, opts ...Option) *Dropper {
	d := &Dropper{
		dir:        dir,
		logger:     slog.Default(),
		dropCaches: "/proc/sys/vm/drop_caches",
		isRoot:     func() bool { return os.Geteuid() == 0 },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Files lists the test files in the directory.
func (d *Dropper) Files() ([]string, error) {
	return filepath.Glob(filepath.Join(d.dir, "diskmark*.dat"))
}

// Drop flushes and invalidates cached test file data.
func (d *Dropper) Drop() error {
	files, err := d.Files()
	if err != nil {
		return fmt.Errorf("list test files: %w", err)
	}
	return d.drop(files)
}

func (d *Dropper) ask(msg string) error {
	fmt.Fprintln(d.out, msg)
	fmt.Fprint(d.out, "Press Enter to continue when the disk cache has been cleared.")
	_, err := bufio.NewReader(d.prompt).ReadString('\n')
	fmt.Fprintln(d.out)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read prompt: %w", err)
	}
	return nil
}
