package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var forecastCols = []string{"model", "target_date", "p50"}

func TestUpsert_EmptyRows(t *testing.T) {
	n, err := Upsert(context.Background(), nil, "pumpcast.forecasts", forecastCols, []string{"model"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsert_BadKeys(t *testing.T) {
	rows := [][]any{{"gbm", "2024-03-27", 3.3}}
	tests := []struct {
		name string
		cols []string
		keys []string
		want string
	}{
		{"no keys", forecastCols, nil, "no key columns"},
		{"key not a column", forecastCols, []string{"horizon"}, "key horizon is not a column"},
		{"key only", []string{"model"}, []string{"model"}, "nothing to update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Upsert(context.Background(), nil, "pumpcast.forecasts", tt.cols, tt.keys, rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_stage_pumpcast_forecasts" (LIKE "pumpcast"."forecasts" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_pumpcast_forecasts"}, forecastCols).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "pumpcast"."forecasts" ("model", "target_date", "p50") SELECT "model", "target_date", "p50" FROM "_stage_pumpcast_forecasts" ON CONFLICT ("model", "target_date") DO UPDATE SET "p50" = EXCLUDED."p50"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := Upsert(context.Background(), mock, "pumpcast.forecasts", forecastCols, []string{"model", "target_date"},
		[][]any{{"gbm", "2024-03-27", 3.3}, {"gbm", "2024-03-28", 3.31}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_forecasts"}, forecastCols).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = Upsert(context.Background(), mock, "forecasts", forecastCols, []string{"model", "target_date"},
		[][]any{{"gbm", "2024-03-27", 3.3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO stage for forecasts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumnList(t *testing.T) {
	assert.Equal(t, `"model", "target_date"`, columnList([]string{"model", "target_date"}))
}
