package transfer

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
)

type columnInfo struct {
	Name   string
	Binary bool
}

// relationColumns reports the relation's columns and which of them carry
// binary values, from the driver's own type metadata.
func relationColumns(ctx context.Context, conn dbconn.Conn, name string) ([]columnInfo, error) {
	rows, err := conn.DB().QueryContext(
		ctx, "SELECT * FROM "+dbconn.QuoteIdent(conn, name)+" LIMIT 0",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "reading columns of %s", name)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]columnInfo, len(types))
	for i, t := range types {
		cols[i] = columnInfo{
			Name:   t.Name(),
			Binary: isBinaryType(t.DatabaseTypeName()),
		}
	}
	return cols, rows.Err()
}

func isBinaryType(dbType string) bool {
	dbType = strings.ToUpper(dbType)
	return strings.Contains(dbType, "BLOB") ||
		strings.Contains(dbType, "BINARY") ||
		dbType == "BYTEA"
}
