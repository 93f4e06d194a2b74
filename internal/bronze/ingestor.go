package bronze

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/source"
)

// Ingestor runs source connectors and appends their payloads to the store.
type Ingestor struct {
	store   *Store
	fetcher fetcher.Fetcher
	workers int
	now     func() time.Time
}

// NewIngestor creates an ingestor that runs up to workers sources at once.
func NewIngestor(st *Store, f fetcher.Fetcher, workers int) *Ingestor {
	if workers <= 0 {
		workers = 1
	}
	return &Ingestor{store: st, fetcher: f, workers: workers, now: time.Now}
}

// RunOpts configures an ingest.
type RunOpts struct {
	RunID string
	Force bool // ignore ShouldRun() scheduling
}

// SourceResult is the outcome of one source.
type SourceResult struct {
	Source    string
	Skipped   bool
	Snapshots []model.RawRecord
	New       int
	Err       error
}

// Outcome converts the result for the run log.
func (r SourceResult) Outcome() model.SourceOutcome {
	o := model.SourceOutcome{Source: r.Source, Skipped: r.Skipped, New: r.New}
	for _, s := range r.Snapshots {
		o.Snapshots = append(o.Snapshots, s.ID)
	}
	if r.Err != nil {
		o.Error = r.Err.Error()
	}
	return o
}

// Run fetches every due source in parallel. A failing source does not stop
// the others; its error is carried in its SourceResult as a
// SourceUnavailable PipelineError. Run itself only fails when ctx is done
// or the store is unusable.
func (in *Ingestor) Run(ctx context.Context, sources []source.Source, opts RunOpts) ([]SourceResult, error) {
	log := zap.L().With(zap.String("component", "bronze.ingestor"), zap.String("run_id", opts.RunID))
	now := in.now().UTC()

	results := make([]SourceResult, len(sources))
	var storeErr error
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)

	for i, src := range sources {
		g.Go(func() error {
			res, err := in.runSource(gctx, src, now, opts, log)
			results[i] = res
			if err != nil {
				mu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if storeErr != nil {
		return results, storeErr
	}

	var created, failed, skipped int
	for _, r := range results {
		created += r.New
		if r.Err != nil {
			failed++
		}
		if r.Skipped {
			skipped++
		}
	}
	log.Info("bronze ingest complete",
		zap.Int("sources", len(sources)),
		zap.Int("new_snapshots", created),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return results, nil
}

func (in *Ingestor) runSource(ctx context.Context, src source.Source, now time.Time, opts RunOpts, log *zap.Logger) (SourceResult, error) {
	res := SourceResult{Source: src.Name()}
	srcLog := log.With(zap.String("source", src.Name()))

	if !opts.Force {
		last, err := in.store.LastSuccess(ctx, src.Name())
		if err != nil {
			return res, err
		}
		if !src.ShouldRun(now, last) {
			srcLog.Debug("skipping (not due)")
			res.Skipped = true
			return res, nil
		}
	}

	ingestID, err := in.store.StartIngest(ctx, opts.RunID, src.Name())
	if err != nil {
		return res, err
	}

	start := time.Now()
	records, fetchErr := src.Fetch(ctx, in.fetcher)

	for _, rec := range records {
		rec.RunID = opts.RunID
		stored, created, err := in.store.Append(ctx, rec)
		if err != nil {
			return res, eris.Wrapf(err, "bronze: store %s", src.Name())
		}
		res.Snapshots = append(res.Snapshots, stored)
		if created {
			res.New++
		}
	}

	if fetchErr != nil {
		res.Err = model.NewError(model.KindSourceUnavailable, model.StageBronze, src.Name(), fetchErr)
		srcLog.Error("source failed",
			zap.Error(fetchErr),
			zap.Int("partial_snapshots", len(res.Snapshots)),
			zap.Duration("elapsed", time.Since(start)),
		)
		if err := in.store.FailIngest(context.WithoutCancel(ctx), ingestID, len(res.Snapshots), res.New, fetchErr.Error()); err != nil {
			srcLog.Error("failed to record ingest failure", zap.Error(err))
		}
		return res, nil
	}

	if err := in.store.CompleteIngest(ctx, ingestID, len(res.Snapshots), res.New); err != nil {
		return res, err
	}
	srcLog.Info("source ingested",
		zap.Int("snapshots", len(res.Snapshots)),
		zap.Int("new", res.New),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
