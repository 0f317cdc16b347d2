package transfer

import (
	"context"
	"os"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
	"github.com/stretchr/testify/require"
)

func mockConn(t *testing.T, id dbconn.ID) (dbconn.Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return dbconn.WrapMySQL(id, db, "appdb"), mock
}

func payloadColumns() *sqlmock.Rows {
	return sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("note").OfType("VARCHAR", ""),
		sqlmock.NewColumn("payload").OfType("BLOB", []byte(nil)),
	)
}

// Exports a table with a binary column and loads it back, asserting the
// hex encoding round-trips byte for byte and NULLs survive.
func TestFlatFileCopyDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcMock := mockConn(t, "source")
	dst, dstMock := mockConn(t, "target")

	blob := []byte{0x00, 0x01, 0xfe, 0xff, '\n', '"'}
	srcMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events` LIMIT 0")).
		WillReturnRows(payloadColumns())
	srcMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events`")).
		WillReturnRows(
			payloadColumns().
				AddRow(int64(1), "first", blob).
				AddRow(int64(2), nil, nil),
		)

	dstMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events` LIMIT 0")).
		WillReturnRows(payloadColumns())
	dstMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `events` (`id`, `note`, `payload`) VALUES (?, ?, ?), (?, ?, ?)")).
		WithArgs("1", "first", blob, "2", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	dir := t.TempDir()
	strategy := NewFlatFile(dir, FileFormat{}, false)
	rows, err := strategy.CopyData(ctx, src, dst, relation.Descriptor{
		Name: "events", Kind: relation.KindTable,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, rows)
	require.NoError(t, srcMock.ExpectationsWereMet())
	require.NoError(t, dstMock.ExpectationsWereMet())

	// The data artifact is retained for audit unless cleanup is on.
	_, err = os.Stat(ArtifactsFor(dir, "events").Data)
	require.NoError(t, err)
}

func TestFlatFileCopyDataCleanup(t *testing.T) {
	ctx := context.Background()
	src, srcMock := mockConn(t, "source")
	dst, dstMock := mockConn(t, "target")

	srcMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events` LIMIT 0")).
		WillReturnRows(payloadColumns())
	srcMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events`")).
		WillReturnRows(payloadColumns().AddRow(int64(1), "only", nil))
	dstMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events` LIMIT 0")).
		WillReturnRows(payloadColumns())
	dstMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `events`")).
		WithArgs("1", "only", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	dir := t.TempDir()
	strategy := NewFlatFile(dir, FileFormat{}, true)
	rows, err := strategy.CopyData(ctx, src, dst, relation.Descriptor{
		Name: "events", Kind: relation.KindTable,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	_, err = os.Stat(ArtifactsFor(dir, "events").Data)
	require.True(t, os.IsNotExist(err))
}

func TestFlatFileCopyDataViewIsNoop(t *testing.T) {
	ctx := context.Background()
	src, srcMock := mockConn(t, "source")
	dst, dstMock := mockConn(t, "target")

	strategy := NewFlatFile(t.TempDir(), FileFormat{}, false)
	rows, err := strategy.CopyData(ctx, src, dst, relation.Descriptor{
		Name: "v_totals", Kind: relation.KindView,
	})
	require.NoError(t, err)
	require.Zero(t, rows)
	require.NoError(t, srcMock.ExpectationsWereMet())
	require.NoError(t, dstMock.ExpectationsWereMet())
}

func TestFlatFileCopyStructure(t *testing.T) {
	ctx := context.Background()
	src, srcMock := mockConn(t, "source")
	dst, dstMock := mockConn(t, "target")

	ddl := "CREATE TABLE `events` (\n  `id` bigint NOT NULL\n)"
	srcMock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `events`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("events", ddl))
	dstMock.ExpectExec(regexp.QuoteMeta(ddl)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	dir := t.TempDir()
	strategy := NewFlatFile(dir, FileFormat{}, false)
	require.NoError(t, strategy.CopyStructure(ctx, src, dst, relation.Descriptor{
		Name: "events", Kind: relation.KindTable,
	}))
	require.NoError(t, srcMock.ExpectationsWereMet())
	require.NoError(t, dstMock.ExpectationsWereMet())

	written, err := os.ReadFile(ArtifactsFor(dir, "events").Structure)
	require.NoError(t, err)
	require.Equal(t, ddl+"\n", string(written))
}

func TestFlatFileCopyStructureRewritesView(t *testing.T) {
	ctx := context.Background()
	src, srcMock := mockConn(t, "source")
	dst, dstMock := mockConn(t, "target")

	captured := "CREATE ALGORITHM=UNDEFINED DEFINER=`admin`@`%` SQL SECURITY DEFINER VIEW `v` AS select 1"
	rewritten := "CREATE ALGORITHM=UNDEFINED SQL SECURITY INVOKER VIEW `v` AS select 1"
	srcMock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE VIEW `v`")).
		WillReturnRows(
			sqlmock.NewRows([]string{"View", "Create View", "character_set_client", "collation_connection"}).
				AddRow("v", captured, "utf8mb4", "utf8mb4_general_ci"),
		)
	dstMock.ExpectExec(regexp.QuoteMeta(rewritten)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	strategy := NewFlatFile(t.TempDir(), FileFormat{}, false)
	require.NoError(t, strategy.CopyStructure(ctx, src, dst, relation.Descriptor{
		Name: "v", Kind: relation.KindView,
	}))
	require.NoError(t, srcMock.ExpectationsWereMet())
	require.NoError(t, dstMock.ExpectationsWereMet())
}
