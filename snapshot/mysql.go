package snapshot

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

const mysqlTablesQuery = `SELECT table_name, table_type, IFNULL(engine, ''), table_rows, update_time
FROM information_schema.tables
WHERE table_schema = ?
ORDER BY table_name`

func readMySQL(
	ctx context.Context, conn *dbconn.MySQLConn, opts Options,
) (relation.Snapshot, error) {
	rows, err := conn.DB().QueryContext(ctx, mysqlTablesQuery, conn.Database())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := relation.Snapshot{}
	for rows.Next() {
		var (
			name      string
			tableType string
			engine    string
			tableRows sql.NullInt64
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&name, &tableType, &engine, &tableRows, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "error decoding tables metadata")
		}
		d := relation.Descriptor{
			Name:   name,
			Kind:   relation.KindTable,
			Engine: engine,
		}
		if tableType == "VIEW" {
			d.Kind = relation.KindView
		}
		if d.Kind == relation.KindTable && tableRows.Valid {
			d.RowCount = &tableRows.Int64
		}
		if updatedAt.Valid {
			t := updatedAt.Time
			d.LastModified = &t
		}
		snap[name] = d
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error collecting tables metadata")
	}

	for _, name := range snap.Names() {
		d := snap[name]
		if d.Kind != relation.KindTable {
			continue
		}
		// MyISAM keeps an exact row count in its header; everything
		// else (notably InnoDB) reports an estimate.
		if d.Engine != "MyISAM" {
			count, err := exactCount(ctx, conn, name)
			if err != nil {
				return nil, errors.Wrapf(err, "counting rows of %s", name)
			}
			d.RowCount = &count
			snap[name] = d
		}
		if opts.Checksums {
			sum, err := mysqlChecksum(ctx, conn, name)
			if err != nil {
				return nil, errors.Wrapf(err, "checksumming %s", name)
			}
			d.Checksum = sum
			snap[name] = d
		}
	}
	return snap, nil
}

func mysqlChecksum(
	ctx context.Context, conn *dbconn.MySQLConn, name string,
) (*string, error) {
	var table string
	var sum sql.NullString
	if err := conn.DB().QueryRowContext(
		ctx, "CHECKSUM TABLE "+dbconn.QuoteIdent(conn, name),
	).Scan(&table, &sum); err != nil {
		return nil, err
	}
	if !sum.Valid {
		return nil, nil
	}
	return &sum.String, nil
}
