//go:build linux

package cachedrop

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func (d *Dropper) drop(files []string) error {
	unix.Sync()
	if d.isRoot() {
		err := os.WriteFile(d.dropCaches, []byte("1"), 0o644)
		if err == nil {
			d.logger.Debug("page cache dropped", "path", d.dropCaches)
			return nil
		}
		d.logger.Warn("drop_caches failed, falling back to fadvise", "error", err)
	}

	var errs []error
	for _, name := range files {
		if err := fadvise(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Debug("test files evicted from page cache", "files", len(files))
	return nil
}

func fadvise(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return fmt.Errorf("fdatasync %s: %w", name, err)
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED); err != nil {
		return fmt.Errorf("fadvise %s: %w", name, err)
	}
	return nil
}
