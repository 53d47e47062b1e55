//go:build unix

package engine

import "golang.org/x/sys/unix"

// alignedBuffer returns a size byte buffer aligned to align, or page aligned
// anonymous memory when align is 0.
func alignedBuffer(size, align int) ([]byte, func(), error) {
	if align > 0 {
		return alignTo(size, align), func() {}, nil
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return buf, func() { _ = unix.Munmap(buf) }, nil
}
