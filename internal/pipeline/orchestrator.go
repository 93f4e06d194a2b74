// Package pipeline sequences Bronze, Silver, Gold and validation as an
// explicit state machine and records every run in the run log.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/bronze"
	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/silver"
	"github.com/sells-group/pumpcast/internal/source"
	"github.com/sells-group/pumpcast/internal/store"
	"github.com/sells-group/pumpcast/internal/validate"
)

// ErrBusy is returned when another run holds the orchestrator.
var ErrBusy = errors.New("pipeline: a run is already in progress")

// BronzeRunner ingests sources into the Bronze store.
type BronzeRunner interface {
	Run(ctx context.Context, sources []source.Source, opts bronze.RunOpts) ([]bronze.SourceResult, error)
}

// SilverRunner rebuilds Silver tables.
type SilverRunner interface {
	Run(ctx context.Context, opts silver.RunOpts) (*silver.RunReport, error)
}

// SilverReader reads committed Silver tables.
type SilverReader interface {
	LoadAll(ctx context.Context, names []string) (map[string]*model.SilverTable, error)
}

// GoldBuilder joins Silver tables into Gold.
type GoldBuilder interface {
	Build(ctx context.Context, tables map[string]*model.SilverTable, asOf time.Time) (*gold.Result, error)
}

// GoldPublisher copies a promoted Gold table elsewhere.
type GoldPublisher interface {
	Publish(ctx context.Context, t *model.GoldTable) (int64, error)
}

// Observer receives stage and run outcomes, e.g. for metrics.
type Observer interface {
	StageDone(stage model.Stage, status model.PhaseStatus, d time.Duration)
	RunDone(run *model.Run)
}

// Deps wires the orchestrator. Publisher and Observer are optional.
type Deps struct {
	Runs store.Store

	Bronze  BronzeRunner
	Sources []source.Source

	Silver           SilverRunner
	SilverTables     SilverReader
	Catalog          *silver.Catalog
	DisabledDatasets []string

	Gold      GoldBuilder
	Artifacts *gold.Artifacts
	GoldRules validate.GoldRules

	Publisher GoldPublisher
	Observer  Observer
}

// Orchestrator runs the pipeline. At most one run executes at a time.
type Orchestrator struct {
	deps Deps
	mu   sync.Mutex
	now  func() time.Time
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, now: time.Now}
}

// RunOpts configures a run.
type RunOpts struct {
	// AsOf builds Gold from data published on or before this date. Zero
	// uses everything available.
	AsOf time.Time
	// Force ignores source schedules.
	Force bool
}

// RunFull ingests every source, rebuilds Silver, builds and validates Gold.
func (o *Orchestrator) RunFull(ctx context.Context, opts RunOpts) (*model.Run, error) {
	return o.execute(ctx, model.RunModeFull, opts)
}

// RunGoldOnly rebuilds Gold from the committed Silver tables.
func (o *Orchestrator) RunGoldOnly(ctx context.Context, opts RunOpts) (*model.Run, error) {
	return o.execute(ctx, model.RunModeGold, opts)
}

// RunValidateOnly validates the committed Silver tables and promoted Gold.
func (o *Orchestrator) RunValidateOnly(ctx context.Context) (*model.Run, error) {
	return o.execute(ctx, model.RunModeValidate, RunOpts{})
}

// execute records a run and drives it to a terminal state. Stage failures
// are reported on the returned run; the error is non-nil only when the run
// could not start or its result could not be recorded.
func (o *Orchestrator) execute(ctx context.Context, mode model.RunMode, opts RunOpts) (*model.Run, error) {
	if !o.mu.TryLock() {
		return nil, ErrBusy
	}
	defer o.mu.Unlock()

	run, err := o.deps.Runs.CreateRun(ctx, mode)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", run.ID),
		zap.String("mode", string(mode)),
	)
	log.Info("pipeline: run started")

	r := &runner{
		o:      o,
		run:    run,
		fsm:    newMachine(o.deps.Runs, run, log),
		result: &model.RunResult{},
		log:    log,
		start:  o.now(),
	}

	var fatal error
	switch mode {
	case model.RunModeFull:
		fatal = r.full(ctx, opts)
	case model.RunModeGold:
		fatal = r.goldOnly(ctx, opts)
	case model.RunModeValidate:
		fatal = r.validateOnly(ctx)
	default:
		fatal = eris.Errorf("pipeline: unknown mode %q", mode)
	}
	return r.finish(ctx, fatal)
}

// runner holds the state of one run.
type runner struct {
	o      *Orchestrator
	run    *model.Run
	fsm    *machine
	result *model.RunResult
	log    *zap.Logger
	start  time.Time

	stage model.Stage
	codes []int
}

func (r *runner) full(ctx context.Context, opts RunOpts) error {
	if err := r.bronze(ctx, opts); err != nil {
		return err
	}
	if err := r.silver(ctx); err != nil {
		return err
	}
	return r.goldOnly(ctx, opts)
}

func (r *runner) goldOnly(ctx context.Context, opts RunOpts) error {
	built, staged, err := r.gold(ctx, opts)
	if err != nil {
		return err
	}
	return r.validateStaged(ctx, built, staged)
}

// degrade records a condition that lowers the exit status without halting.
func (r *runner) degrade(code int, err error) {
	r.codes = append(r.codes, code)
	r.result.Warnings = append(r.result.Warnings, err.Error())
	r.log.Warn("pipeline: stage degraded", zap.String("stage", string(r.stage)), zap.Error(err))
}

// phase runs fn as one recorded stage.
func (r *runner) phase(ctx context.Context, stage model.Stage, fn func() (*model.PhaseResult, error)) error {
	r.stage = stage
	ph, err := r.o.deps.Runs.CreatePhase(ctx, r.run.ID, stage)
	if err != nil {
		r.log.Warn("pipeline: failed to create phase", zap.String("stage", string(stage)), zap.Error(err))
	}

	start := r.o.now()
	res, fnErr := fn()
	elapsed := r.o.now().Sub(start)

	if res == nil {
		res = &model.PhaseResult{}
	}
	res.DurationMs = elapsed.Milliseconds()
	if fnErr != nil {
		res.Status = model.PhaseStatusFailed
		res.Error = fnErr.Error()
		r.log.Error("pipeline: stage failed",
			zap.String("stage", string(stage)),
			zap.Int64("duration_ms", res.DurationMs),
			zap.Error(fnErr),
		)
	} else {
		if res.Status == "" {
			res.Status = model.PhaseStatusDone
		}
		r.log.Info("pipeline: stage complete",
			zap.String("stage", string(stage)),
			zap.Int64("duration_ms", res.DurationMs),
			zap.Int("records", res.Records),
		)
	}

	if ph != nil {
		if err := r.o.deps.Runs.CompletePhase(context.WithoutCancel(ctx), ph.ID, res); err != nil {
			r.log.Warn("pipeline: failed to complete phase", zap.String("stage", string(stage)), zap.Error(err))
		}
	}
	if obs := r.o.deps.Observer; obs != nil {
		obs.StageDone(stage, res.Status, elapsed)
	}
	return fnErr
}

func (r *runner) bronze(ctx context.Context, opts RunOpts) error {
	if err := r.fsm.advance(ctx, model.RunStatusBronzeRunning); err != nil {
		return err
	}
	return r.phase(ctx, model.StageBronze, func() (*model.PhaseResult, error) {
		results, err := r.o.deps.Bronze.Run(ctx, r.o.deps.Sources, bronze.RunOpts{RunID: r.run.ID, Force: opts.Force})
		var created, failed, skipped int
		for _, sr := range results {
			if sr.Source == "" {
				continue
			}
			r.result.Sources = append(r.result.Sources, sr.Outcome())
			created += sr.New
			if sr.Skipped {
				skipped++
			}
			if sr.Err != nil {
				failed++
			}
		}
		if err != nil {
			return nil, err
		}
		for _, sr := range results {
			if sr.Err != nil {
				r.degrade(ExitBronze, sr.Err)
			}
		}
		return &model.PhaseResult{
			Records: created,
			Metadata: map[string]any{
				"sources": len(results),
				"skipped": skipped,
				"failed":  failed,
			},
		}, nil
	})
}

func (r *runner) silver(ctx context.Context) error {
	if err := r.fsm.advance(ctx, model.RunStatusSilverRunning); err != nil {
		return err
	}
	return r.phase(ctx, model.StageSilver, func() (*model.PhaseResult, error) {
		rep, err := r.o.deps.Silver.Run(ctx, silver.RunOpts{DisabledDatasets: r.o.deps.DisabledDatasets})
		if rep != nil {
			r.result.SilverRows = rep.RowCounts()
			r.result.Reports = append(r.result.Reports, rep.Validations()...)
		}
		if err != nil {
			return nil, err
		}

		var rows, committed, skipped int
		var failed []string
		for _, t := range rep.Tables {
			switch {
			case t.Skipped:
				skipped++
			case t.Committed:
				committed++
				rows += t.Rows
			case t.Err != nil:
				failed = append(failed, t.Table)
				r.degrade(ExitSilver, t.Err)
			}
		}
		meta := map[string]any{"committed": committed, "skipped": skipped}
		if len(failed) > 0 {
			meta["failed"] = strings.Join(failed, ",")
		}
		return &model.PhaseResult{Records: rows, Metadata: meta}, nil
	})
}

// gold builds Gold from committed Silver and stages it. Nothing becomes
// visible until validateStaged promotes it.
func (r *runner) gold(ctx context.Context, opts RunOpts) (*gold.Result, *gold.Staged, error) {
	if err := r.fsm.advance(ctx, model.RunStatusGoldRunning); err != nil {
		return nil, nil, err
	}
	var built *gold.Result
	var staged *gold.Staged
	err := r.phase(ctx, model.StageGold, func() (*model.PhaseResult, error) {
		tables, err := r.o.deps.SilverTables.LoadAll(ctx, r.o.deps.Catalog.Names())
		if err != nil {
			return nil, err
		}
		built, err = r.o.deps.Gold.Build(ctx, tables, opts.AsOf)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		staged, err = r.o.deps.Artifacts.Stage(built, r.run.ID)
		if err != nil {
			return nil, err
		}
		r.result.GoldRows = built.RowCounts()
		return &model.PhaseResult{
			Records: len(built.Daily.Rows),
			Metadata: map[string]any{
				"model_ready":    len(built.ModelReady.Rows),
				"trimmed":        built.Trimmed,
				"no_source_days": built.NoSourceDays,
			},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return built, staged, nil
}

// validateStaged validates the built tables and promotes the staged
// artifacts only when every report passes.
func (r *runner) validateStaged(ctx context.Context, built *gold.Result, staged *gold.Staged) error {
	discard := func() {
		if err := staged.Discard(); err != nil {
			r.log.Warn("pipeline: failed to discard staged gold", zap.Error(err))
		}
	}
	if err := r.fsm.advance(ctx, model.RunStatusValidating); err != nil {
		discard()
		return err
	}
	return r.phase(ctx, model.StageValidation, func() (*model.PhaseResult, error) {
		reports := validate.Gold(built.Daily, built.ModelReady, r.o.deps.GoldRules)
		r.result.Reports = append(r.result.Reports, reports...)
		res := &model.PhaseResult{Records: len(reports)}

		if err := failedReport(reports); err != nil {
			discard()
			return res, err
		}
		if err := ctx.Err(); err != nil {
			discard()
			return res, err
		}
		if err := staged.Promote(); err != nil {
			discard()
			return res, err
		}
		res.Metadata = map[string]any{"promoted": staged.Manifest().RunID}

		if pub := r.o.deps.Publisher; pub != nil {
			n, err := pub.Publish(ctx, built.Daily)
			if err != nil {
				r.result.Warnings = append(r.result.Warnings, err.Error())
				r.log.Warn("pipeline: publish failed", zap.Error(err))
			} else {
				res.Metadata["published"] = n
			}
		}
		return res, nil
	})
}

func (r *runner) validateOnly(ctx context.Context) error {
	if err := r.fsm.advance(ctx, model.RunStatusValidating); err != nil {
		return err
	}
	return r.phase(ctx, model.StageValidation, func() (*model.PhaseResult, error) {
		var reports []model.ValidationReport

		tables, err := r.o.deps.SilverTables.LoadAll(ctx, r.o.deps.Catalog.Names())
		if err != nil {
			return nil, err
		}
		for _, spec := range r.o.deps.Catalog.Tables {
			t, ok := tables[spec.Name]
			if !ok {
				r.log.Info("pipeline: silver table never built", zap.String("table", spec.Name))
				continue
			}
			reports = append(reports, validate.Silver(t, spec.Rules()))
		}

		m, err := r.o.deps.Artifacts.Manifest()
		if err != nil {
			return nil, err
		}
		if m == nil {
			r.result.Reports = reports
			return nil, model.NewError(model.KindEmptyInput, model.StageValidation, "gold",
				eris.New("no promoted gold tables"))
		}
		daily, err := r.o.deps.Artifacts.Load(ctx, gold.TableDaily)
		if err != nil {
			return nil, err
		}
		ready, err := r.o.deps.Artifacts.Load(ctx, gold.TableModelReady)
		if err != nil {
			return nil, err
		}
		r.result.GoldRows = map[string]int{daily.Name: len(daily.Rows), ready.Name: len(ready.Rows)}
		reports = append(reports, validate.Gold(daily, ready, r.o.deps.GoldRules)...)
		r.result.Reports = reports

		res := &model.PhaseResult{
			Records:  len(reports),
			Metadata: map[string]any{"gold_run_id": m.RunID},
		}
		return res, failedReport(reports)
	})
}

// failedReport returns a validation error for the first failing report.
func failedReport(reports []model.ValidationReport) error {
	for _, rep := range reports {
		if rep.Passed() {
			continue
		}
		failures := rep.Failures(model.SeverityError)
		names := make([]string, len(failures))
		for i, c := range failures {
			names[i] = c.Name
		}
		return model.NewError(kindForCheck(failures[0].Name), model.StageValidation, rep.Subject,
			eris.Errorf("failed checks: %s", strings.Join(names, ", ")))
	}
	return nil
}

func kindForCheck(name string) model.ErrorKind {
	switch name {
	case validate.CheckNonEmpty, validate.CheckModelReadyRows:
		return model.KindEmptyInput
	case validate.CheckValueRange, validate.CheckFillRun:
		return model.KindRangeViolation
	case validate.CheckRequired, validate.CheckTarget:
		return model.KindJoinGap
	default:
		return model.KindSchemaViolation
	}
}

// finish moves the run to its terminal state, computes the exit code and
// records the result. A run halted by cancellation of ctx exits with
// ExitOther whatever its stages degraded to. Recording ignores cancellation.
func (r *runner) finish(ctx context.Context, fatal error) (*model.Run, error) {
	res := r.result
	res.TotalSeconds = r.o.now().Sub(r.start).Seconds()

	status := model.RunStatusDone
	if fatal != nil {
		status = model.RunStatusFailed
		stage := r.stage
		if s, ok := model.StageOf(fatal); ok {
			stage = s
		}
		res.FailedStage = stage
		res.Error = fatal.Error()
		code := ExitCodeFor(fatal)
		if code == ExitOther && ctx.Err() == nil {
			code = exitCodeForStage(stage)
		}
		r.codes = append(r.codes, code)
		res.Cancelled = ctx.Err() != nil
	}
	res.ExitCode = worst(r.codes...)
	if res.Cancelled {
		res.ExitCode = ExitOther
	}

	if err := r.fsm.advance(ctx, status); err != nil {
		r.log.Warn("pipeline: forcing terminal state", zap.Error(err))
		r.run.Status = status
	}
	r.run.Result = res

	if obs := r.o.deps.Observer; obs != nil {
		obs.RunDone(r.run)
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Float64("total_seconds", res.TotalSeconds),
	}
	if fatal != nil {
		fields = append(fields, zap.String("failed_stage", string(res.FailedStage)), zap.Bool("cancelled", res.Cancelled))
		r.log.Error("pipeline: run failed", append(fields, zap.Error(fatal))...)
	} else {
		r.log.Info("pipeline: run complete", fields...)
	}

	if err := r.o.deps.Runs.UpdateRunResult(context.WithoutCancel(ctx), r.run.ID, status, res); err != nil {
		return r.run, eris.Wrap(err, "pipeline: record result")
	}
	return r.run, nil
}
