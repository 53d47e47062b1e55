package analyze

import (
	"slices"

	"github.com/runningwild/diskmark/pkg/engine"
)

// DefaultDropThreshold is the relative bandwidth loss reported as a cliff.
const DefaultDropThreshold = 0.25

// minCliffSamples is the shortest history analysed.
const minCliffSamples = 6

// Cliff describes a sustained bandwidth drop inside one operation, typically
// a drive exhausting its write cache.
type Cliff struct {
	Detected      bool    `json:"detected"`
	Seq           uint32  `json:"seq"`            // Last sample before the drop
	Position      int     `json:"position"`       // 1-based position of Seq in the operation
	BurstMBps     float64 `json:"burst_mbps"`     // Average bandwidth up to and including Seq
	SustainedMBps float64 `json:"sustained_mbps"` // Average bandwidth after Seq
	Drop          float64 `json:"drop"`           // 1 - Sustained/Burst
	SlopeMBps     float64 `json:"slope_mbps"`     // Bandwidth change per sample after Seq
}

// FindCliff locates the knee of the cumulative-bandwidth curve of op and
// reports it when the bandwidth after the knee is at least threshold lower
// than before. Samples are ordered by sequence number, not completion.
func FindCliff(op *engine.Operation, threshold float64) Cliff {
	if op == nil || len(op.Samples) < minCliffSamples {
		return Cliff{}
	}
	samples := slices.Clone(op.Samples)
	slices.SortFunc(samples, func(a, b engine.Sample) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	points := make([]Point, len(samples))
	var cum float64
	for i, s := range samples {
		cum += s.BandwidthMBps
		points[i] = Point{X: float64(i + 1), Y: cum}
	}
	knee := FindKnee(points)
	k := int(knee.X)
	if k < 2 || k > len(samples)-2 {
		return Cliff{}
	}

	burst := mean(samples[:k])
	tail := samples[k:]
	sustained := mean(tail)
	c := Cliff{
		Seq:           samples[k-1].Seq,
		Position:      k,
		BurstMBps:     burst,
		SustainedMBps: sustained,
	}
	if burst > 0 {
		c.Drop = 1 - sustained/burst
	}
	tailPoints := make([]Point, len(tail))
	for i, s := range tail {
		tailPoints[i] = Point{X: float64(k + i + 1), Y: s.BandwidthMBps}
	}
	c.SlopeMBps, _ = leastSquares(tailPoints)
	c.Detected = c.Drop >= threshold
	return c
}

func mean(samples []engine.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.BandwidthMBps
	}
	return sum / float64(len(samples))
}
