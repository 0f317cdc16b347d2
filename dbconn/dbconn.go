// Package dbconn abstracts the two database connections a mirror run
// owns. Both sides run through database/sql; each pool is pinned to a
// single underlying connection so session state (foreign key toggles,
// table locks) behaves like one session.
package dbconn

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
)

type ID string

// Config carries the connection strings for the two sides of a run.
type Config struct {
	Source string
	Target string
}

// OrderedConns is the (source, target) connection pair.
type OrderedConns [2]Conn

func (c OrderedConns) Source() Conn { return c[0] }
func (c OrderedConns) Target() Conn { return c[1] }

type Conn interface {
	ID() ID
	// Close closes the connection.
	Close(ctx context.Context) error
	// Clone creates a new Conn from the same connection arguments.
	Clone(ctx context.Context) (Conn, error)
	// DB exposes the underlying pool. The pool is limited to one
	// connection.
	DB() *sql.DB
	// Database is the database (schema) the connection is scoped to.
	Database() string

	ConnStr() string
	Dialect() string
}

func Connect(ctx context.Context, preferredID ID, connStr string) (Conn, error) {
	if len(connStr) == 0 {
		return nil, errors.Newf("empty connection string")
	}
	before := strings.SplitN(connStr, "://", 2)
	switch {
	case strings.Contains(before[0], "postgres"):
		return ConnectPG(ctx, preferredID, connStr)
	case strings.Contains(before[0], "mysql"):
		return ConnectMySQL(ctx, preferredID, connStr)
	}
	return nil, errors.Newf("unrecognised scheme %s from %s", before[0], connStr)
}

// ValidatePair checks both connections speak the same dialect. Mirroring
// rewrites nothing between dialects, so mixed pairs are rejected up front.
func ValidatePair(conns OrderedConns) error {
	if conns[0].Dialect() != conns[1].Dialect() {
		return errors.Newf(
			"source (%s) and target (%s) must be the same dialect",
			conns[0].Dialect(), conns[1].Dialect(),
		)
	}
	return nil
}

// singleConn pins a pool to one connection.
func singleConn(db *sql.DB) *sql.DB {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db
}
