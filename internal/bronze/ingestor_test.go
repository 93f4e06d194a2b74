package bronze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/source"
)

type fakeSource struct {
	name    string
	due     bool
	records []model.RawRecord
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeSource) Name() string                         { return f.name }
func (f *fakeSource) Datasets() []string                   { return []string{f.name + "_ds"} }
func (f *fakeSource) Cadence() source.Cadence              { return source.Daily }
func (f *fakeSource) ShouldRun(time.Time, *time.Time) bool { return f.due }

func (f *fakeSource) Fetch(ctx context.Context, _ fetcher.Fetcher) ([]model.RawRecord, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

func payloadRecord(dataset, body string) model.RawRecord {
	return model.RawRecord{
		Dataset:       dataset,
		SchemaVersion: model.SchemaEIAv2,
		ContentType:   "application/json",
		Payload:       []byte(body),
		RetrievedAt:   time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC),
	}
}

func TestIngestor_IsolatesFailingSource(t *testing.T) {
	st := newTestStore(t)
	ok := &fakeSource{name: "futures", due: true, records: []model.RawRecord{
		payloadRecord("rbob_futures", `{"r":1}`),
		payloadRecord("wti_futures", `{"w":1}`),
	}}
	bad := &fakeSource{name: "eia", due: true,
		records: []model.RawRecord{payloadRecord("eia_retail", `{"e":1}`)},
		err:     fmt.Errorf("gave up after 4 attempts: http 503"),
	}

	in := NewIngestor(st, nil, 2)
	results, err := in.Run(context.Background(), []source.Source{ok, bad}, RunOpts{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].New)

	require.Error(t, results[1].Err)
	kind, found := model.KindOf(results[1].Err)
	require.True(t, found)
	assert.Equal(t, model.KindSourceUnavailable, kind)
	assert.Equal(t, 1, results[1].New, "partial payloads are kept")

	out := results[1].Outcome()
	assert.Equal(t, "eia", out.Source)
	assert.Len(t, out.Snapshots, 1)
	assert.Contains(t, out.Error, "http 503")

	stored, err := st.Load(context.Background(), "eia_retail")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "run-1", stored[0].RunID)

	last, err := st.LastSuccess(context.Background(), "eia")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestIngestor_IdempotentRerun(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "futures", due: true, records: []model.RawRecord{
		payloadRecord("rbob_futures", `{"r":1}`),
	}}
	in := NewIngestor(st, nil, 1)

	first, err := in.Run(context.Background(), []source.Source{src}, RunOpts{RunID: "a", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first[0].New)

	second, err := in.Run(context.Background(), []source.Source{src}, RunOpts{RunID: "b", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second[0].New)
	assert.Equal(t, first[0].Snapshots[0].ID, second[0].Snapshots[0].ID)

	list, err := st.List(context.Background(), "rbob_futures")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIngestor_SkipsWhenNotDue(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "hurdat", due: false}
	in := NewIngestor(st, nil, 1)

	results, err := in.Run(context.Background(), []source.Source{src}, RunOpts{RunID: "a"})
	require.NoError(t, err)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, int32(0), src.calls.Load())

	results, err = in.Run(context.Background(), []source.Source{src}, RunOpts{RunID: "b", Force: true})
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestIngestor_SlowSourceTimesOutAlone(t *testing.T) {
	st := newTestStore(t)
	fast := &fakeSource{name: "futures", due: true, records: []model.RawRecord{payloadRecord("rbob_futures", "x")}}
	slow := &fakeSource{name: "noaa", due: true, err: context.DeadlineExceeded}

	in := NewIngestor(st, nil, 2)
	results, err := in.Run(context.Background(), []source.Source{fast, slow}, RunOpts{RunID: "r"})
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.True(t, errors.Is(results[1].Err, context.DeadlineExceeded))
}

func TestIngestor_ContextCancelled(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "futures", due: true, delay: time.Second}
	in := NewIngestor(st, nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := in.Run(ctx, []source.Source{src}, RunOpts{RunID: "r", Force: true})
	require.Error(t, err)
}

var _ fetcher.Fetcher = (*nopFetcher)(nil)

type nopFetcher struct{}

func (nopFetcher) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (nopFetcher) Get(context.Context, string, http.Header) ([]byte, error) {
	return nil, nil
}
