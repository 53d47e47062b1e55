package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Phase is the orchestration state of a Runner.
type Phase int32

const (
	PhaseNotStarted Phase = iota
	PhaseWrite
	PhaseCacheDrop
	PhaseRead
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseWrite:
		return "write"
	case PhaseCacheDrop:
		return "cache_drop"
	case PhaseRead:
		return "read"
	case PhaseComplete:
		return "complete"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Runner orchestrates one benchmark run: the write phase, the cache drop
// between phases and the read phase.
type Runner struct {
	params   Params
	listener Listener
	strategy Strategy
	logger   *slog.Logger
	tracer   trace.Tracer
	phase    atomic.Int32
}

// Option configures a Runner.
type Option func(*Runner)

// WithStrategy replaces the strategy selected by Params.Engine.
func WithStrategy(s Strategy) Option {
	return func(r *Runner) { r.strategy = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner validates p and prepares a run. A nil listener discards events.
func NewRunner(p Params, l Listener, opts ...Option) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = Funcs{}
	}
	r := &Runner{params: p, listener: l}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/runningwild/diskmark/pkg/engine")
	}
	if r.strategy == nil {
		s, err := NewStrategy(p, r.logger)
		if err != nil {
			return nil, err
		}
		r.strategy = s
	}
	return r, nil
}

// Phase returns the current orchestration state.
func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
}

func (r *Runner) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || r.listener.Cancelled()
}

func (r *Runner) warn(msg string) {
	if w, ok := r.listener.(Warner); ok {
		w.OnWarning(msg)
	}
}

// Run executes the configured workload. A cancelled run returns the partial
// result with Cancelled set and a nil error. A worker failure aborts the
// remaining phases; the returned run keeps every operation finalized before
// the failing phase.
func (r *Runner) Run(ctx context.Context) (*Run, error) {
	p := r.params
	ctx, span := r.tracer.Start(ctx, "diskmark.run", trace.WithAttributes(
		attribute.String("workload", WorkloadName(p.Workload)),
		attribute.String("order", OrderName(p.Order)),
		attribute.String("engine", r.strategy.Name()),
		attribute.Int("blocks", p.NumBlocks),
		attribute.Int("block_size", p.BlockSize),
		attribute.Int("samples", p.NumSamples),
		attribute.Int("workers", p.Workers),
	))
	defer span.End()

	run := &Run{ID: uuid.NewString(), Params: p, Start: time.Now()}
	defer func() {
		run.End = time.Now()
		r.setPhase(PhaseComplete)
	}()

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return run, r.fail(span, fmt.Errorf("create data dir: %w", err))
	}

	agg := NewAggregator(p.SequenceBase)
	rep := NewReporter(p.TotalUnits(), r.listener.OnProgress)
	ranges := DivideIntoRanges(p.SequenceBase, p.SequenceBase+uint32(p.NumSamples), p.Workers)

	r.logger.Info("benchmark starting",
		"id", run.ID,
		"dir", p.Dir,
		"workload", WorkloadName(p.Workload),
		"order", OrderName(p.Order),
		"engine", r.strategy.Name(),
		"blocks", p.NumBlocks,
		"block_size", p.BlockSize,
		"samples", p.NumSamples,
		"workers", p.Workers)

	if p.Workload.HasWrite() {
		if p.Order == Random {
			if err := r.extend(ranges); err != nil {
				return run, r.fail(span, fmt.Errorf("write phase: %w", err))
			}
		}
		r.setPhase(PhaseWrite)
		op, stopped, err := r.runPhase(ctx, Write, ranges, agg, rep)
		if err != nil {
			return run, r.fail(span, fmt.Errorf("write phase: %w", err))
		}
		run.Operations = append(run.Operations, op)
		if stopped {
			return r.cancel(run, span), nil
		}
	}

	if p.Workload.HasRead() {
		if p.Workload.HasWrite() {
			r.setPhase(PhaseCacheDrop)
			rep.Emit(true)
			r.dropCache(ctx)
		} else if err := r.prepare(ctx, ranges); err != nil {
			return run, r.fail(span, fmt.Errorf("prepare read files: %w", err))
		}
		if r.cancelled(ctx) {
			return r.cancel(run, span), nil
		}

		r.setPhase(PhaseRead)
		op, stopped, err := r.runPhase(ctx, Read, ranges, agg, rep)
		if err != nil {
			return run, r.fail(span, fmt.Errorf("read phase: %w", err))
		}
		run.Operations = append(run.Operations, op)
		if stopped {
			return r.cancel(run, span), nil
		}
	}

	rep.Emit(true)
	r.logger.Info("benchmark complete", "id", run.ID, "elapsed", time.Since(run.Start))
	return run, nil
}

func (r *Runner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error("benchmark failed", "error", err)
	return err
}

func (r *Runner) cancel(run *Run, span trace.Span) *Run {
	run.Cancelled = true
	span.SetAttributes(attribute.Bool("cancelled", true))
	r.logger.Warn("benchmark cancelled", "id", run.ID, "phase", r.Phase().String())
	return run
}

func (r *Runner) dropCache(ctx context.Context) {
	_, span := r.tracer.Start(ctx, "diskmark.cache_drop")
	defer span.End()
	start := time.Now()
	if err := r.listener.RequestCacheDrop(); err != nil {
		span.RecordError(err)
		r.logger.Warn("cache drop failed, read results may be served from cache", "error", err)
		r.warn(fmt.Sprintf("cache drop failed: %v", err))
		return
	}
	r.logger.Debug("cache dropped", "elapsed", time.Since(start))
}

// runPhase executes every range of one direction on a pool of Workers
// goroutines. stopped reports that cancellation cut the phase short.
func (r *Runner) runPhase(ctx context.Context, d Direction, ranges []Range, agg *Aggregator, rep *Reporter) (op *Operation, stopped bool, err error) {
	name := DirectionName(d)
	ctx, span := r.tracer.Start(ctx, "diskmark.phase."+name)
	defer span.End()

	ph := &phaseState{
		dir: d,
		op:  NewOperation(d, r.params, time.Now()),
		agg: agg,
		rep: rep,
	}
	r.logger.Info("phase starting", "direction", name, "ranges", len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.params.Workers)
	for i, rg := range ranges {
		i, rg := i, rg
		g.Go(func() error {
			return r.runRange(gctx, i, rg, ph)
		})
	}
	err = g.Wait()

	ph.op.Finalize(ph.ops.Load(), time.Now())
	rep.Emit(true)

	span.SetAttributes(
		attribute.Int("samples", ph.op.Len()),
		attribute.Int64("units", rep.Completed(d)),
		attribute.Int64("iops", ph.op.IOPS),
		attribute.Float64("bw_avg_mbps", ph.op.BwAvg),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ph.op, false, err
	}
	r.logger.Info("phase complete",
		"direction", name,
		"samples", ph.op.Len(),
		"units", rep.Completed(d),
		"bw_avg_mbps", ph.op.BwAvg,
		"bw_mean_mbps", ph.op.BwMean,
		"iops", ph.op.IOPS,
		"elapsed", ph.op.Duration())
	return ph.op, ph.stopped.Load(), nil
}
