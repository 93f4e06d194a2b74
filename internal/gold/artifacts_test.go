package gold

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pumpcast/internal/model"
)

func buildFixture(t *testing.T) *Result {
	t.Helper()
	res, err := testBuilder(t).Build(context.Background(), fixtureTables(), time.Time{})
	require.NoError(t, err)
	return res
}

func TestParquet_RoundTrip(t *testing.T) {
	res := buildFixture(t)

	for _, tbl := range res.Tables() {
		data, err := EncodeParquet(tbl)
		require.NoError(t, err)

		back, err := DecodeParquet(context.Background(), data)
		require.NoError(t, err)
		assert.Equal(t, tbl.Name, back.Name)
		assert.Equal(t, tbl.Columns, back.Columns)
		assert.Equal(t, tbl.FillFields, back.FillFields)
		assert.Equal(t, tbl.Rows, back.Rows)
		assert.Equal(t, Checksum(tbl), Checksum(back))
	}
}

func TestParquet_EmptyTable(t *testing.T) {
	tbl := model.NewGoldTable(TableModelReady, model.GoldColumns(), FillFields)
	data, err := EncodeParquet(tbl)
	require.NoError(t, err)

	back, err := DecodeParquet(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, TableModelReady, back.Name)
	assert.Empty(t, back.Rows)
	assert.Equal(t, tbl.Columns, back.Columns)
}

func TestDecodeParquet_Garbage(t *testing.T) {
	_, err := DecodeParquet(context.Background(), []byte("not parquet"))
	require.Error(t, err)
}

func dirsWithPrefix(t *testing.T, dir, prefix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	return out
}

func stagingDirs(t *testing.T, dir string) []string { return dirsWithPrefix(t, dir, stagingPrefix) }

func buildDirs(t *testing.T, dir string) []string { return dirsWithPrefix(t, dir, buildPrefix) }

func TestArtifacts_StagePromote(t *testing.T) {
	res := buildFixture(t)
	dir := filepath.Join(t.TempDir(), "gold")
	a := NewArtifacts(dir)
	a.now = func() time.Time { return time.Date(2024, 1, 3, 19, 0, 0, 0, time.UTC) }

	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)

	staged, err := a.Stage(res, "run-1")
	require.NoError(t, err)

	// Nothing visible before promotion.
	_, err = os.Stat(filepath.Join(dir, "master_daily.parquet"))
	assert.True(t, os.IsNotExist(err))
	m, err = a.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, staged.Promote())
	assert.Empty(t, stagingDirs(t, dir))

	m, err = a.Manifest()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "run-1", m.RunID)
	assert.Nil(t, m.AsOf)
	require.Len(t, m.Tables, 3)
	assert.Equal(t, len(res.ModelReady.Rows), m.Tables[TableModelReady].Rows)
	assert.Equal(t, res.Daily.LastDate(), m.Tables[TableDaily].LastDate)

	loaded, err := a.Load(context.Background(), TableModelReady)
	require.NoError(t, err)
	assert.Equal(t, m.Tables[TableModelReady].Checksum, Checksum(loaded))
	assert.Equal(t, res.ModelReady.Rows, loaded.Rows)
}

func TestArtifacts_DiscardKeepsPrevious(t *testing.T) {
	res := buildFixture(t)
	dir := filepath.Join(t.TempDir(), "gold")
	a := NewArtifacts(dir)

	first, err := a.Stage(res, "run-1")
	require.NoError(t, err)
	require.NoError(t, first.Promote())

	second, err := a.Stage(res, "run-2")
	require.NoError(t, err)
	require.NoError(t, second.Discard())
	assert.Empty(t, stagingDirs(t, dir))

	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
}

func TestArtifacts_FailedSwitchKeepsPrevious(t *testing.T) {
	res := buildFixture(t)
	dir := filepath.Join(t.TempDir(), "gold")
	a := NewArtifacts(dir)

	first, err := a.Stage(res, "run-1")
	require.NoError(t, err)
	require.NoError(t, first.Promote())

	a.rename = func(oldpath, newpath string) error {
		if filepath.Base(newpath) == ManifestFile {
			return assert.AnError
		}
		return os.Rename(oldpath, newpath)
	}
	second, err := a.Stage(res, "run-2")
	require.NoError(t, err)
	require.Error(t, second.Promote())
	require.NoError(t, second.Discard())

	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, first.Manifest().Dir, m.Dir)
	assert.Equal(t, []string{m.Dir}, buildDirs(t, dir))
	assert.Empty(t, stagingDirs(t, dir))

	loaded, err := a.Load(context.Background(), TableDaily)
	require.NoError(t, err)
	assert.Equal(t, TableDaily, loaded.Name)
	assert.Equal(t, m.Tables[TableDaily].Checksum, Checksum(loaded))
}

func TestArtifacts_PrunesOlderBuilds(t *testing.T) {
	res := buildFixture(t)
	dir := filepath.Join(t.TempDir(), "gold")
	a := NewArtifacts(dir)

	var promoted []string
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		staged, err := a.Stage(res, id)
		require.NoError(t, err)
		require.NoError(t, staged.Promote())
		promoted = append(promoted, staged.Manifest().Dir)
	}

	assert.ElementsMatch(t, promoted[1:], buildDirs(t, dir))
	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "run-3", m.RunID)
	_, err = a.Load(context.Background(), TableOctober)
	require.NoError(t, err)
}

func TestArtifacts_LoadBeforePromote(t *testing.T) {
	_, err := NewArtifacts(t.TempDir()).Load(context.Background(), TableDaily)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArtifacts_AsOfRecorded(t *testing.T) {
	asOf := model.Date(2023, 11, 15)
	res, err := testBuilder(t).Build(context.Background(), fixtureTables(), asOf)
	require.NoError(t, err)

	a := NewArtifacts(t.TempDir())
	staged, err := a.Stage(res, "backfill")
	require.NoError(t, err)
	require.NotNil(t, staged.Manifest().AsOf)
	assert.Equal(t, asOf, *staged.Manifest().AsOf)
	require.NoError(t, staged.Discard())
}

func smallTable() *model.GoldTable {
	tbl := model.NewGoldTable(TableDaily, []model.Column{"retail_price", "crack_spread"}, []model.Field{model.FieldRetailPrice})
	tbl.Rows = []model.GoldRow{
		{Date: model.Date(2024, 1, 1), Target: model.Some(3.3), Values: []model.Opt{model.Some(3.1), model.None}, Filled: []bool{false}},
		{Date: model.Date(2024, 1, 2), Values: []model.Opt{model.Some(3.1), model.Some(0.4)}, Filled: []bool{true}, NoSources: false},
	}
	return tbl
}

func TestPublisher_Publish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := smallTable()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "pumpcast"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "pumpcast"."master_daily"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "pumpcast"."master_daily"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"pumpcast", "master_daily"},
		[]string{"date", "target", "retail_price", "crack_spread", "retail_price_filled", "no_sources"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	n, err := NewPublisher(mock, "pumpcast.master_daily").Publish(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisher_CreateFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "master_daily"`).WillReturnError(assert.AnError)

	_, err = NewPublisher(mock, "master_daily").Publish(context.Background(), smallTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gold: create table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestXLSX_RoundTrip(t *testing.T) {
	tbl := smallTable()
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, tbl))

	path := filepath.Join(t.TempDir(), "model_ready.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	rows, err := ReadXLSX(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"date", "target", "retail_price", "crack_spread", "no_sources"}, rows[0])
	assert.Equal(t, "2024-01-01", rows[1][0])
	assert.Equal(t, "2024-01-02", rows[2][0])
	assert.Equal(t, "", rows[2][1])
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "master_daily", sheetName("master_daily"))
	assert.Len(t, sheetName(strings.Repeat("x", 40)), 31)
}
