package forecast

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Forecast {
	return &Forecast{
		GeneratedAt: time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC),
		Model:       "quantile_gbm",
		HorizonDays: 21,
		GoldRunID:   "run-1",
		Predictions: []Prediction{
			{TargetDate: "2024-03-25", P10: 3.21, P50: 3.34, P90: 3.49, Point: 3.33},
			{TargetDate: "2024-03-26", P10: 3.20, P50: 3.35, P90: 3.52},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Forecast)
		errMsg string
	}{
		{"valid", func(*Forecast) {}, ""},
		{"quantiles out of order", func(f *Forecast) { f.Predictions[0].P10 = 3.40 }, "P10"},
		{"p50 above p90", func(f *Forecast) { f.Predictions[1].P50 = 3.60 }, "P50"},
		{"equal quantiles", func(f *Forecast) {
			f.Predictions[0] = Prediction{TargetDate: "2024-03-25", P10: 3.3, P50: 3.3, P90: 3.3}
		}, ""},
		{"bad date", func(f *Forecast) { f.Predictions[0].TargetDate = "03/25/2024" }, "TargetDate"},
		{"dates not increasing", func(f *Forecast) { f.Predictions[1].TargetDate = "2024-03-25" }, "not increasing"},
		{"no predictions", func(f *Forecast) { f.Predictions = nil }, "Predictions"},
		{"no model", func(f *Forecast) { f.Model = "" }, "Model"},
		{"zero horizon", func(f *Forecast) { f.HorizonDays = 0 }, "HorizonDays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sample()
			tt.mutate(f)
			err := f.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast", "latest.json")
	require.NoError(t, Write(path, sample()))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWrite_InvalidKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.json")
	require.NoError(t, Write(path, sample()))

	bad := sample()
	bad.Predictions[0].P90 = 1.0
	require.Error(t, Write(path, bad))

	got, err := Read(path)
	require.NoError(t, err)
	assert.InDelta(t, 3.49, got.Predictions[0].P90, 1e-9)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRead_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": 5`), 0o644))
	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forecast: decode")
}

func TestAge(t *testing.T) {
	f := sample()
	assert.Equal(t, 5*time.Hour, f.Age(f.GeneratedAt.Add(5*time.Hour)))
}

func TestPublisher_Publish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "pumpcast"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "pumpcast"."forecasts"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_pumpcast_forecasts"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_pumpcast_forecasts"}, publishColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "pumpcast"."forecasts"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	p := NewPublisher(mock, "pumpcast.forecasts")
	require.NoError(t, p.EnsureTable(context.Background()))
	n, err := p.Publish(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisher_RejectsInvalid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	bad := sample()
	bad.Predictions[0].P10 = 9
	_, err = NewPublisher(mock, "forecasts").Publish(context.Background(), bad)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
