// Package sweep repeats a benchmark while varying one setting and finds the
// knee of the resulting throughput curve.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runningwild/diskmark/pkg/analyze"
	"github.com/runningwild/diskmark/pkg/engine"
)

// Variables that can be swept.
const (
	Threads     = "threads"
	BlockSizeKB = "block_size_kb"
)

// Metrics a sweep can maximise.
const (
	MetricIOPS      = "iops"
	MetricBandwidth = "bw"
)

// Step is one benchmark of the sweep.
type Step struct {
	Value  int         `json:"value"`
	Metric float64     `json:"metric"`
	Run    *engine.Run `json:"run"`
}

// Result holds every completed step and the knee among them.
type Result struct {
	Variable  string           `json:"variable"`
	Metric    string           `json:"metric"`
	Direction engine.Direction `json:"direction"`
	Steps     []Step           `json:"steps"`
	Knee      int              `json:"knee"` // Value at the knee
	Cancelled bool             `json:"cancelled,omitempty"`
}

type Sweeper struct {
	base     engine.Params
	variable string
	values   []int
	metric   string
	dir      engine.Direction
	listener engine.Listener
	opts     []engine.Option
	logger   *slog.Logger
	onStep   func(Step)
}

type Option func(*Sweeper)

// WithMetric selects MetricIOPS (default) or MetricBandwidth.
func WithMetric(m string) Option {
	return func(s *Sweeper) { s.metric = m }
}

func WithListener(l engine.Listener) Option {
	return func(s *Sweeper) { s.listener = l }
}

func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Sweeper) { s.opts = append(s.opts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// OnStep is called after every completed step.
func OnStep(fn func(Step)) Option {
	return func(s *Sweeper) { s.onStep = fn }
}

// New prepares a sweep of variable over values starting from base. Each step
// numbers its samples after the previous one, so a sweep consumes
// len(values)*base.NumSamples sequence numbers from base.SequenceBase.
func New(base engine.Params, variable string, values []int, opts ...Option) (*Sweeper, error) {
	if variable != Threads && variable != BlockSizeKB {
		return nil, fmt.Errorf("%w: cannot sweep %q", engine.ErrInvalidParams, variable)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values to sweep", engine.ErrInvalidParams)
	}
	s := &Sweeper{base: base, variable: variable, values: values, metric: MetricIOPS, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.metric != MetricIOPS && s.metric != MetricBandwidth {
		return nil, fmt.Errorf("%w: unknown metric %q", engine.ErrInvalidParams, s.metric)
	}
	// Reads dominate the result when both directions run.
	s.dir = engine.Write
	if base.Workload.HasRead() {
		s.dir = engine.Read
	}
	for i := range values {
		if _, err := s.params(i); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Steps expands an inclusive range.
func Steps(lo, hi, step int) []int {
	if step <= 0 {
		step = 1
	}
	var steps []int
	for i := lo; i <= hi; i += step {
		steps = append(steps, i)
	}
	return steps
}

func (s *Sweeper) params(i int) (engine.Params, error) {
	p := s.base
	switch s.variable {
	case Threads:
		p.Workers = s.values[i]
	case BlockSizeKB:
		p.BlockSize = s.values[i] * 1024
	}
	p.SequenceBase = s.base.SequenceBase + uint32(i*s.base.NumSamples)
	return p, p.Validate()
}

func (s *Sweeper) measure(run *engine.Run) float64 {
	op := run.Operation(s.dir)
	if op == nil {
		return 0
	}
	if s.metric == MetricBandwidth {
		return op.BwAvg
	}
	return float64(op.IOPS)
}

// Run executes every step in order. A cancelled step ends the sweep; the
// result then holds only the completed steps.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	res := &Result{Variable: s.variable, Metric: s.metric, Direction: s.dir}
	var points []analyze.Point

	for i, val := range s.values {
		p, err := s.params(i)
		if err != nil {
			return res, err
		}
		runner, err := engine.NewRunner(p, s.listener, s.opts...)
		if err != nil {
			return res, err
		}
		run, err := runner.Run(ctx)
		if err != nil {
			return res, fmt.Errorf("%s=%d: %w", s.variable, val, err)
		}
		if run.Cancelled {
			res.Cancelled = true
			break
		}

		step := Step{Value: val, Metric: s.measure(run), Run: run}
		s.logger.Info("sweep step complete", "variable", s.variable, "value", val, "metric", s.metric, "result", step.Metric)
		res.Steps = append(res.Steps, step)
		points = append(points, analyze.Point{X: float64(val), Y: step.Metric})
		if s.onStep != nil {
			s.onStep(step)
		}
	}

	if len(points) > 0 {
		res.Knee = int(analyze.FindKnee(points).X)
	}
	return res, nil
}
