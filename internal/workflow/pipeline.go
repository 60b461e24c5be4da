package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/newsposter/internal/apperr"
)

// Step is one unit of work. Run receives a snapshot of the state and returns
// a patch; fields not listed in Writes are ignored when the patch is merged.
type Step[S any] struct {
	Name   string
	Reads  []string
	Writes []string
	Run    func(ctx context.Context, in S) (S, error)
}

// Stage is a group of steps. A stage with more than one step runs its steps
// concurrently and merges their patches in declaration order.
type Stage[S any] []Step[S]

// Serial wraps a single step as a stage.
func Serial[S any](step Step[S]) Stage[S] { return Stage[S]{step} }

// Parallel groups steps that run concurrently on the same snapshot.
func Parallel[S any](steps ...Step[S]) Stage[S] { return Stage[S](steps) }

// Step statuses recorded in the step log.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// StepRecord is one entry of a run's step log.
type StepRecord struct {
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"durationMs"`
	At         time.Time `json:"at"`
}

// Failure is returned when a step fails. State holds the last state that was
// fully merged before the failing stage started.
type Failure[S any] struct {
	Pipeline string
	Step     string
	Err      error
	State    S
}

func (f *Failure[S]) Error() string {
	return fmt.Sprintf("%s: step %s: %v", f.Pipeline, f.Step, f.Err)
}

func (f *Failure[S]) Unwrap() error { return f.Err }

// Observer is called after every step with its duration and result.
type Observer func(pipeline, step string, d time.Duration, err error)

// Option configures a Pipeline.
type Option[S any] func(*Pipeline[S])

// WithStepLog appends a StepRecord per completed step to the field get
// points at. The field must be declared with Concat.
func WithStepLog[S any](get func(*S) *[]StepRecord) Option[S] {
	return func(p *Pipeline[S]) { p.stepLog = get }
}

// WithObserver registers a per-step callback.
func WithObserver[S any](fn Observer) Option[S] {
	return func(p *Pipeline[S]) { p.observe = fn }
}

// WithLogger sets the logger used for step diagnostics.
func WithLogger[S any](l *slog.Logger) Option[S] {
	return func(p *Pipeline[S]) { p.logger = l }
}

// WithClock overrides the time source used for step records.
func WithClock[S any](now func() time.Time) Option[S] {
	return func(p *Pipeline[S]) { p.now = now }
}

// Pipeline is a validated sequence of stages over state type S.
type Pipeline[S any] struct {
	name    string
	schema  *Schema[S]
	stages  []Stage[S]
	stepLog func(*S) *[]StepRecord
	observe Observer
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline checks every step against the schema: names must be unique,
// Reads and Writes must name declared fields, and no step may write a
// KeepFirst field.
func NewPipeline[S any](name string, schema *Schema[S], stages []Stage[S], opts ...Option[S]) (*Pipeline[S], error) {
	if schema == nil {
		return nil, fmt.Errorf("workflow %s: nil schema", name)
	}
	p := &Pipeline[S]{
		name:   name,
		schema: schema,
		stages: stages,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool)
	for i, stage := range stages {
		if len(stage) == 0 {
			return nil, fmt.Errorf("workflow %s: stage %d is empty", name, i)
		}
		for _, step := range stage {
			if step.Name == "" {
				return nil, fmt.Errorf("workflow %s: step with empty name in stage %d", name, i)
			}
			if seen[step.Name] {
				return nil, fmt.Errorf("workflow %s: duplicate step %q", name, step.Name)
			}
			seen[step.Name] = true
			if step.Run == nil {
				return nil, fmt.Errorf("workflow %s: step %q has no Run func", name, step.Name)
			}
			for _, f := range step.Reads {
				if _, ok := schema.fields[f]; !ok {
					return nil, fmt.Errorf("workflow %s: step %q reads undeclared field %q", name, step.Name, f)
				}
			}
			for _, f := range step.Writes {
				decl, ok := schema.fields[f]
				if !ok {
					return nil, fmt.Errorf("workflow %s: step %q writes undeclared field %q", name, step.Name, f)
				}
				if decl.policy == KeepFirst {
					return nil, fmt.Errorf("workflow %s: step %q writes immutable field %q", name, step.Name, f)
				}
			}
		}
	}

	if p.stepLog != nil {
		get := p.stepLog
		f, ok := schema.fieldOf(func(s *S) uintptr {
			return reflect.ValueOf(get(s)).Pointer()
		}, reflect.TypeFor[[]StepRecord]())
		if !ok {
			return nil, fmt.Errorf("workflow %s: step log getter does not point at a declared field", name)
		}
		if f.policy != Concat {
			return nil, fmt.Errorf("workflow %s: step log field %q must use %s", name, f.name, Concat)
		}
	}

	return p, nil
}

func (p *Pipeline[S]) Name() string { return p.name }

// Run executes the stages in order. Required fields are checked before the
// first stage and each step's Reads are checked before it runs. On failure the
// returned error is a *Failure carrying the last fully merged state.
func (p *Pipeline[S]) Run(ctx context.Context, initial S) (S, error) {
	state := p.schema.snapshot(initial)

	if missing := p.schema.missing(&state, p.schema.required); len(missing) > 0 {
		err := apperr.StateAccess("start", missing, p.schema.available(&state))
		return state, &Failure[S]{Pipeline: p.name, Step: "start", Err: err, State: state}
	}

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return state, &Failure[S]{Pipeline: p.name, Step: stage[0].Name, Err: apperr.Timeout(err), State: state}
		}

		patches, records, failed, err := p.runStage(ctx, stage, state)
		if err != nil {
			lastGood := state
			if p.stepLog != nil {
				log := p.stepLog(&lastGood)
				*log = append(slices.Clone(*log), records...)
			}
			return lastGood, &Failure[S]{Pipeline: p.name, Step: failed, Err: err, State: lastGood}
		}

		for i, step := range stage {
			for _, name := range step.Writes {
				p.schema.fields[name].merge(&state, &patches[i])
			}
		}
		if p.stepLog != nil {
			log := p.stepLog(&state)
			*log = append(*log, records...)
		}
	}

	return state, nil
}

// runStage runs every step of the stage against the same snapshot. records
// holds one entry per step that finished, in declaration order.
func (p *Pipeline[S]) runStage(ctx context.Context, stage Stage[S], state S) ([]S, []StepRecord, string, error) {
	patches := make([]S, len(stage))
	results := make([]*StepRecord, len(stage))

	exec := func(ctx context.Context, i int) error {
		step := stage[i]
		if missing := p.schema.missing(&state, step.Reads); len(missing) > 0 {
			return &stepError{step: step.Name, err: apperr.StateAccess(step.Name, missing, p.schema.available(&state))}
		}

		at := p.now()
		start := time.Now()
		patch, err := step.Run(ctx, p.schema.snapshot(state))
		elapsed := time.Since(start)
		err = classify(ctx, err)

		rec := &StepRecord{Step: step.Name, Status: StatusOK, DurationMs: elapsed.Milliseconds(), At: at}
		if err != nil {
			rec.Status = StatusFailed
			rec.Message = err.Error()
		}
		results[i] = rec

		if p.observe != nil {
			p.observe(p.name, step.Name, elapsed, err)
		}
		if err != nil {
			p.logger.Warn("workflow step failed", "pipeline", p.name, "step", step.Name, "error", err)
			return &stepError{step: step.Name, err: err}
		}
		p.logger.Debug("workflow step done", "pipeline", p.name, "step", step.Name, "duration_ms", elapsed.Milliseconds())
		patches[i] = patch
		return nil
	}

	var err error
	if len(stage) == 1 {
		err = exec(ctx, 0)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i := range stage {
			g.Go(func() error { return exec(gctx, i) })
		}
		err = g.Wait()
	}

	var records []StepRecord
	for _, r := range results {
		if r != nil {
			records = append(records, *r)
		}
	}

	if err != nil {
		var se *stepError
		if errors.As(err, &se) {
			return nil, records, se.step, se.err
		}
		return nil, records, stage[0].Name, err
	}
	return patches, records, "", nil
}

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// classify turns a bare deadline error into a timeout. Classified errors are
// returned unchanged.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.From(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout(err)
	}
	return err
}
