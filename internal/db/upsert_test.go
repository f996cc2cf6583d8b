package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regionCols = []string{"id", "name", "level", "parent_id", "geom"}

func regionUpsert(batch int) UpsertConfig {
	return UpsertConfig{
		Table:        "mgci.regions",
		Columns:      regionCols,
		ConflictKeys: []string{"id"},
		BatchSize:    batch,
	}
}

func expectBatch(m pgxmock.PgxPoolIface, n int64) {
	m.ExpectBegin()
	m.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectCopyFrom(pgx.Identifier{"_stage_mgci_regions"}, regionCols).WillReturnResult(n)
	m.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", n))
	m.ExpectCommit()
}

func testRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("r%d", i), "Region", 1, "SAU", []byte{1}}
	}
	return rows
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, regionUpsert(0), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: regionCols, ConflictKeys: []string{"id"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "mgci.regions", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no keys", UpsertConfig{Table: "mgci.regions", Columns: regionCols}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.cfg, testRows(1))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_Batches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectBatch(mock, 2)
	expectBatch(mock, 2)
	expectBatch(mock, 1)

	n, err := BulkUpsert(context.Background(), mock, regionUpsert(2), testRows(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureKeepsEarlierBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectBatch(mock, 2)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_mgci_regions"}, regionCols).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, regionUpsert(2), testRows(3))
	require.Error(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, err.Error(), "rows 2-2 of mgci.regions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfig_InsertSQL(t *testing.T) {
	cfg := regionUpsert(0)
	assert.Equal(t,
		`INSERT INTO "mgci"."regions" ("id", "name", "level", "parent_id", "geom") SELECT "id", "name", "level", "parent_id", "geom" FROM "_stage_mgci_regions" ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "level" = EXCLUDED."level", "parent_id" = EXCLUDED."parent_id", "geom" = EXCLUDED."geom"`,
		cfg.insertSQL())

	keysOnly := UpsertConfig{Table: "seen", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Contains(t, keysOnly.insertSQL(), "ON CONFLICT (\"id\") DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"mgci"."regions"`, sanitizeTable("mgci.regions"))
}
