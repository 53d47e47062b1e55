// Package fio translates benchmark parameters into an equivalent fio job file
// so results can be cross-checked with fio.
package fio

import (
	"fmt"
	"strings"

	"github.com/runningwild/diskmark/pkg/engine"
)

// GenerateJob creates fio job file content for p. Each enabled direction
// becomes one job; the read job waits for the write job.
func GenerateJob(p engine.Params) string {
	var sb strings.Builder

	sb.WriteString("[global]\n")
	switch p.Engine {
	case engine.EngineUring:
		sb.WriteString("ioengine=io_uring\n")
	default:
		sb.WriteString("ioengine=psync\n")
	}
	if p.MultiFile {
		fmt.Fprintf(&sb, "directory=%s\n", p.Dir)
		fmt.Fprintf(&sb, "filename_format=diskmark$filenum.dat\n")
		fmt.Fprintf(&sb, "nrfiles=%d\n", p.NumSamples)
		fmt.Fprintf(&sb, "file_service_type=sequential\n")
	} else {
		fmt.Fprintf(&sb, "filename=%s\n", p.TestFile(p.SequenceBase))
	}
	fmt.Fprintf(&sb, "bs=%d\n", p.BlockSize)
	fmt.Fprintf(&sb, "size=%d\n", p.FileSize())

	// Buffered runs ignore the direct flag.
	if p.Direct && p.Engine != engine.EngineBuffered {
		sb.WriteString("direct=1\n")
	} else {
		sb.WriteString("direct=0\n")
	}
	if p.WriteSync {
		sb.WriteString("sync=1\n")
	}
	if p.SectorAlign > 0 {
		fmt.Fprintf(&sb, "iomem_align=%d\n", p.SectorAlign)
	}

	// Every sample covers the file once per worker share.
	fmt.Fprintf(&sb, "numjobs=%d\n", p.Workers)
	if !p.MultiFile {
		loops := (p.NumSamples + p.Workers - 1) / p.Workers
		fmt.Fprintf(&sb, "loops=%d\n", loops)
	}
	if p.Workers > 1 {
		sb.WriteString("group_reporting\n")
	}

	random := p.Order == engine.Random
	if p.Workload.HasWrite() {
		sb.WriteString("\n[diskmark_write]\n")
		sb.WriteString(rw(engine.Write, random))
	}
	if p.Workload.HasRead() {
		sb.WriteString("\n[diskmark_read]\n")
		if p.Workload.HasWrite() {
			sb.WriteString("stonewall\n")
		}
		sb.WriteString(rw(engine.Read, random))
	}
	return sb.String()
}

func rw(d engine.Direction, random bool) string {
	name := engine.DirectionName(d)
	if random {
		// diskmark samples offsets with replacement.
		return "rw=rand" + name + "\nnorandommap\n"
	}
	return "rw=" + name + "\n"
}
