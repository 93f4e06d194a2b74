package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/pumpcast/internal/bronze"
	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/silver"
	"github.com/sells-group/pumpcast/internal/source"
	"github.com/sells-group/pumpcast/internal/store"
)

// --- Run log mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, mode model.RunMode) (*model.Run, error) {
	args := m.Called(ctx, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	return m.Called(ctx, runID, status, result).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) LastRun(ctx context.Context, status model.RunStatus) (*model.Run, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) CreatePhase(ctx context.Context, runID string, stage model.Stage) (*model.RunPhase, error) {
	args := m.Called(ctx, runID, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunPhase), args.Error(1)
}

func (m *mockStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	return m.Called(ctx, phaseID, result).Error(0)
}

func (m *mockStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).([]model.RunPhase), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// --- Stage fakes ---

type fakeBronze struct {
	results []bronze.SourceResult
	err     error
	calls   int
	opts    bronze.RunOpts
}

func (f *fakeBronze) Run(_ context.Context, _ []source.Source, opts bronze.RunOpts) ([]bronze.SourceResult, error) {
	f.calls++
	f.opts = opts
	return f.results, f.err
}

type fakeSilver struct {
	report *silver.RunReport
	err    error
	calls  int
	opts   silver.RunOpts
}

func (f *fakeSilver) Run(_ context.Context, opts silver.RunOpts) (*silver.RunReport, error) {
	f.calls++
	f.opts = opts
	if f.report == nil {
		return &silver.RunReport{}, f.err
	}
	return f.report, f.err
}

type fakeTables map[string]*model.SilverTable

func (f fakeTables) LoadAll(_ context.Context, names []string) (map[string]*model.SilverTable, error) {
	out := make(map[string]*model.SilverTable)
	for _, n := range names {
		if t, ok := f[n]; ok {
			out[n] = t
		}
	}
	return out, nil
}

type fakeGold struct {
	res   *gold.Result
	err   error
	asOf  time.Time
	calls int
	// hook runs inside Build before returning.
	hook func(ctx context.Context)
}

func (f *fakeGold) Build(ctx context.Context, _ map[string]*model.SilverTable, asOf time.Time) (*gold.Result, error) {
	f.calls++
	f.asOf = asOf
	if f.hook != nil {
		f.hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.res, f.err
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, t *model.GoldTable) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.published = append(f.published, t.Name)
	return int64(len(t.Rows)), nil
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []model.Stage
	runs   []model.RunStatus
}

func (o *recordingObserver) StageDone(stage model.Stage, _ model.PhaseStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) RunDone(run *model.Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run.Status)
}
