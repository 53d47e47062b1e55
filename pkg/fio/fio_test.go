package fio

import (
	"strings"
	"testing"

	"github.com/runningwild/diskmark/pkg/engine"
)

func TestGenerateJobSequentialReadWrite(t *testing.T) {
	p := engine.Params{
		Dir: "/mnt/ssd/diskmark-data", Workload: engine.WorkloadReadWrite, Order: engine.Sequential,
		NumBlocks: 25, BlockSize: 1 << 20, NumSamples: 50, Workers: 4,
		Engine: engine.EngineDirect, Direct: true, SequenceBase: 1,
	}
	job := GenerateJob(p)

	for _, want := range []string{
		"ioengine=psync\n",
		"filename=/mnt/ssd/diskmark-data/diskmark.dat\n",
		"bs=1048576\n",
		"size=26214400\n",
		"direct=1\n",
		"numjobs=4\n",
		"loops=13\n",
		"group_reporting\n",
		"[diskmark_write]\nrw=write\n",
		"[diskmark_read]\nstonewall\nrw=read\n",
	} {
		if !strings.Contains(job, want) {
			t.Errorf("job missing %q:\n%s", want, job)
		}
	}
	if strings.Index(job, "[diskmark_write]") > strings.Index(job, "[diskmark_read]") {
		t.Error("write job must precede read job")
	}
}

func TestGenerateJobRandomMultiFile(t *testing.T) {
	p := engine.Params{
		Dir: "/data", Workload: engine.WorkloadRead, Order: engine.Random,
		NumBlocks: 50, BlockSize: 4096, NumSamples: 10, Workers: 1,
		Engine: engine.EngineUring, MultiFile: true, WriteSync: true, SectorAlign: 4096,
	}
	job := GenerateJob(p)

	for _, want := range []string{
		"ioengine=io_uring\n",
		"directory=/data\n",
		"nrfiles=10\n",
		"direct=0\n",
		"sync=1\n",
		"iomem_align=4096\n",
		"rw=randread\nnorandommap\n",
	} {
		if !strings.Contains(job, want) {
			t.Errorf("job missing %q:\n%s", want, job)
		}
	}
	for _, unwanted := range []string{"[diskmark_write]", "stonewall", "loops=", "group_reporting"} {
		if strings.Contains(job, unwanted) {
			t.Errorf("job unexpectedly contains %q", unwanted)
		}
	}
}

func TestGenerateJobBufferedIgnoresDirect(t *testing.T) {
	p := engine.Params{
		Dir: "/data", Workload: engine.WorkloadWrite, NumBlocks: 1, BlockSize: 512,
		NumSamples: 1, Workers: 1, Engine: engine.EngineBuffered, Direct: true,
	}
	if job := GenerateJob(p); !strings.Contains(job, "direct=0\n") {
		t.Errorf("buffered job requested direct I/O:\n%s", job)
	}
}
