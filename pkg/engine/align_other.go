//go:build !unix

package engine

import "github.com/ncw/directio"

func alignedBuffer(size, align int) ([]byte, func(), error) {
	if align > 0 {
		return alignTo(size, align), func() {}, nil
	}
	return directio.AlignedBlock(size), func() {}, nil
}
