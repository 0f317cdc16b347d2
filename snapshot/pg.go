package snapshot

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

const pgRelationsQuery = `SELECT c.relname, c.relkind, COALESCE(am.amname, '')
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_am am ON am.oid = c.relam
WHERE n.nspname = 'public' AND c.relkind IN ('r', 'v')
ORDER BY c.relname`

func readPG(ctx context.Context, conn *dbconn.PGConn, opts Options) (relation.Snapshot, error) {
	rows, err := conn.DB().QueryContext(ctx, pgRelationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := relation.Snapshot{}
	for rows.Next() {
		var name, relkind, am string
		if err := rows.Scan(&name, &relkind, &am); err != nil {
			return nil, errors.Wrap(err, "error decoding relations metadata")
		}
		d := relation.Descriptor{
			Name:   name,
			Kind:   relation.KindTable,
			Engine: am,
		}
		if relkind == "v" {
			d.Kind = relation.KindView
		}
		snap[name] = d
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error collecting relations metadata")
	}

	// Postgres tracks neither an exact row count (reltuples is an
	// estimate) nor a last-modified time, so counts are always taken
	// authoritatively and LastModified stays nil.
	for _, name := range snap.Names() {
		d := snap[name]
		if d.Kind != relation.KindTable {
			continue
		}
		count, err := exactCount(ctx, conn, name)
		if err != nil {
			return nil, errors.Wrapf(err, "counting rows of %s", name)
		}
		d.RowCount = &count
		if opts.Checksums {
			sum, err := pgChecksum(ctx, conn, name)
			if err != nil {
				return nil, errors.Wrapf(err, "checksumming %s", name)
			}
			d.Checksum = sum
		}
		snap[name] = d
	}
	return snap, nil
}

func pgChecksum(ctx context.Context, conn *dbconn.PGConn, name string) (*string, error) {
	var sum sql.NullString
	if err := conn.DB().QueryRowContext(
		ctx,
		"SELECT SUM(hashtext(t::text))::text FROM "+dbconn.QuoteIdent(conn, name)+" AS t",
	).Scan(&sum); err != nil {
		return nil, err
	}
	if !sum.Valid {
		empty := "0"
		return &empty, nil
	}
	return &sum.String, nil
}
