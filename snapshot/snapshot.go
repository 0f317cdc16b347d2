// Package snapshot reads a schema's relations and their metadata from a
// database catalog into an immutable relation.Snapshot.
package snapshot

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

// ErrCatalogUnavailable wraps any failure to query the catalog.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

type Options struct {
	// Checksums requests a whole-table checksum per table. One extra
	// query per table; only the checksum comparison strategy needs it.
	Checksums bool
}

// Read captures a snapshot of the database the connection is scoped to.
func Read(ctx context.Context, conn dbconn.Conn, opts Options) (relation.Snapshot, error) {
	var snap relation.Snapshot
	var err error
	switch conn := conn.(type) {
	case *dbconn.MySQLConn:
		snap, err = readMySQL(ctx, conn, opts)
	case *dbconn.PGConn:
		snap, err = readPG(ctx, conn, opts)
	default:
		return nil, errors.AssertionFailedf("snapshot not supported for %T", conn)
	}
	if err != nil {
		return nil, errors.Mark(err, ErrCatalogUnavailable)
	}
	return snap, nil
}

// exactCount replaces the catalog's estimated row count with an
// authoritative COUNT(*). Transactional engines report estimates only,
// which would make count-based change detection meaningless.
func exactCount(ctx context.Context, conn dbconn.Conn, name string) (int64, error) {
	var count int64
	err := conn.DB().QueryRowContext(
		ctx, "SELECT COUNT(*) FROM "+dbconn.QuoteIdent(conn, name),
	).Scan(&count)
	return count, err
}
