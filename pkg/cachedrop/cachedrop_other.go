//go:build !linux

package cachedrop

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

func (d *Dropper) drop(files []string) error {
	var errs []error
	for _, name := range files {
		if err := flush(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if d.prompt == nil {
		return fmt.Errorf("%w on %s", ErrUnsupported, runtime.GOOS)
	}
	return d.ask("For a valid read benchmark clear the disk cache now. " +
		"Removable drives can be disconnected and reconnected.")
}

func flush(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	return nil
}
